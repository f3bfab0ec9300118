package door

import (
	"errors"
	"fmt"
)

var (
	// ErrAdapterUnavailable means no control path could be invoked at all.
	ErrAdapterUnavailable = errors.New("actuation adapter unavailable")
	// ErrActuationFailed means a control path ran but reported a failure.
	ErrActuationFailed = errors.New("actuation failed")
	// ErrBusy means another actuation is in flight and the fail-fast policy is active.
	ErrBusy = errors.New("another actuation is in flight")
)

// ActuationError is returned when a command could not be applied to the relay.
// It wraps ErrAdapterUnavailable or ErrActuationFailed together with the
// failure of every control path that was attempted.
type ActuationError struct {
	// Command is the write that failed.
	Command Command
	// Err carries the failure kind and the per-path details.
	Err error
}

// Error implements the error interface.
func (e *ActuationError) Error() string {
	return fmt.Sprintf("set pin %d to %s: %v", e.Command.Pin, e.Command.Value, e.Err)
}

// Unwrap exposes the failure kind to errors.Is.
func (e *ActuationError) Unwrap() error {
	return e.Err
}
