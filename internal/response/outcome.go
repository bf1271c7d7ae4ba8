package response

import (
	"fmt"
	"strings"
)

// Outcome classifies one adapter reply.
type Outcome int

const (
	HexData Outcome = iota
	BusBusy
	BusError
	BusInitError
	UnableToConnect
	CanError
	DataError
	DataError2
	NoData
	BufferFull
	UnknownCommand
	BusStopped
	Rubbish
	SerialTimeout

	outcomeCount
)

// OutcomeCount is the number of distinct outcomes.
const OutcomeCount = int(outcomeCount)

var outcomeNames = [...]string{
	HexData:         "HEX_DATA",
	BusBusy:         "BUS_BUSY",
	BusError:        "BUS_ERROR",
	BusInitError:    "BUS_INIT_ERROR",
	UnableToConnect: "UNABLE_TO_CONNECT",
	CanError:        "CAN_ERROR",
	DataError:       "DATA_ERROR",
	DataError2:      "DATA_ERROR2",
	NoData:          "NO_DATA",
	BufferFull:      "BUFFER_FULL",
	UnknownCommand:  "UNKNOWN_CMD",
	BusStopped:      "BUS_STOPPED",
	Rubbish:         "RUBBISH",
	SerialTimeout:   "SERIAL_TIMEOUT",
}

func (o Outcome) String() string {
	if o < 0 || o >= outcomeCount {
		return "UNKNOWN"
	}
	return outcomeNames[o]
}

// IsError reports whether the outcome counts against bus health.
func (o Outcome) IsError() bool {
	return o != HexData
}

func ParseOutcome(s string) (Outcome, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range outcomeNames {
		if name == s {
			return Outcome(i), nil
		}
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	parsed, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Outcomes lists every outcome in declaration order.
func Outcomes() []Outcome {
	out := make([]Outcome, 0, OutcomeCount)
	for o := HexData; o < outcomeCount; o++ {
		out = append(out, o)
	}
	return out
}
