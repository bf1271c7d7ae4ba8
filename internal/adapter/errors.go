package adapter

import (
	"errors"
	"fmt"
)

var (
	ErrPortOpen        = errors.New("failed to open port")
	ErrNotOpen         = errors.New("adapter session not open")
	ErrReplyTimeout    = errors.New("no prompt before read timeout")
	ErrUnexpectedReply = errors.New("reply does not contain expected text")
	ErrNotReady        = errors.New("adapter did not become ready")
)

// PortError reports a device that could not be opened or configured.
type PortError struct {
	Device string
	Err    error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("%s %s: %v", ErrPortOpen, e.Device, e.Err)
}

func (e *PortError) Unwrap() []error {
	return []error{ErrPortOpen, e.Err}
}
