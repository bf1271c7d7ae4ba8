package scheduler

import (
	"errors"
	"fmt"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateError
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateError:
		return "ERROR"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Health refines StateConnected.
type Health int

const (
	Healthy Health = iota
	Degraded
)

func (h Health) String() string {
	if h == Degraded {
		return "DEGRADED"
	}
	return "HEALTHY"
}

func (h Health) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

var ErrInvalidTransition = errors.New("invalid state transition")

func ValidateTransition(from, to State) error {
	validTransitions := map[State][]State{
		StateIdle:       {StateConnecting},
		StateConnecting: {StateConnected, StateError, StateStopped},
		StateConnected:  {StateError, StateStopped},
		StateError:      {StateConnecting, StateStopped},
		StateStopped:    {StateConnecting},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid current state: %s", from)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
