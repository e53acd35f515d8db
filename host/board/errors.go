package board

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection means the transport could not be opened or the handshake failed
	ErrConnection = errors.New("connection failed")

	// ErrNotConnected is returned by every operation once the session is closed or the device is gone
	ErrNotConnected = errors.New("not connected to board")

	// ErrIO wraps transport read/write failures
	ErrIO = errors.New("transport i/o error")

	// ErrValidation is the category of all ValidationError values
	ErrValidation = errors.New("invalid argument")

	// ErrTimeout is returned when the device does not answer a query in time
	ErrTimeout = errors.New("timed out waiting for board")
)

// ValidationError reports a caller-supplied value outside its domain.
// It is returned before any device interaction.
type ValidationError struct {
	Op     string
	Pin    int // -1 when the error is not about a pin
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Pin < 0 {
		return fmt.Sprintf("%s: invalid value %v: %s", e.Op, e.Value, e.Reason)
	}
	return fmt.Sprintf("%s pin %d: invalid value %v: %s", e.Op, e.Pin, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// PinConfigurationError reports that a single pin failed to switch mode or be written.
// Batch operations collect these instead of aborting.
type PinConfigurationError struct {
	Pin PinID
	Op  string
	Err error
}

func (e *PinConfigurationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Pin, e.Err)
}

func (e *PinConfigurationError) Unwrap() error {
	return e.Err
}

func invalidPin(op string, pin int, reason string) error {
	return &ValidationError{Op: op, Pin: pin, Value: pin, Reason: reason}
}
