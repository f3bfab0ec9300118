package hardware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/engfidow/server-door-lock/internal/config"
	domain "github.com/engfidow/server-door-lock/internal/domain/door"
	"github.com/engfidow/server-door-lock/internal/logger"
)

// Adapter applies commands to the relay through a fallback chain of drivers.
// It is safe for concurrent use; it keeps no state besides its configuration.
type Adapter struct {
	// drivers are attempted in order until one succeeds.
	drivers []Driver
	// simulated skips the drivers entirely.
	simulated bool
	// timeout bounds one Apply call across all drivers.
	timeout time.Duration
}

// Option configures the adapter.
type Option func(*Adapter)

// WithSimulated switches the adapter to simulated mode.
func WithSimulated(simulated bool) Option {
	return func(a *Adapter) {
		a.simulated = simulated
	}
}

// WithTimeout bounds a single Apply call.
func WithTimeout(timeout time.Duration) Option {
	return func(a *Adapter) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

// NewAdapter creates an adapter over the given drivers.
func NewAdapter(drivers []Driver, opts ...Option) *Adapter {
	a := &Adapter{
		drivers: drivers,
		timeout: config.DefaultActuationTimeout,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// NewDrivers builds the driver chain named by the settings.
func NewDrivers(hw config.Hardware, runner Runner) ([]Driver, error) {
	drivers := make([]Driver, 0, len(hw.Backends))

	for _, backend := range hw.Backends {
		switch backend {
		case config.BackendGPIO:
			drivers = append(drivers, NewGPIOToolDriver(hw.GPIOBinary, runner))
		case config.BackendPeriph:
			drivers = append(drivers, NewPeriphDriver())
		case config.BackendScript:
			drivers = append(drivers, NewScriptDriver(hw.Shell, hw.Script, runner))
		default:
			return nil, fmt.Errorf("unknown hardware backend %q", backend)
		}
	}

	return drivers, nil
}

// Simulated reports whether the adapter only logs writes.
func (a *Adapter) Simulated() bool {
	return a.simulated
}

// Apply drives the relay pin to the commanded level.
//
// The call is detached from the caller's cancellation so that a departing
// client never interrupts a write half way; the adapter timeout still applies.
// Failures are returned as *domain.ActuationError.
func (a *Adapter) Apply(ctx context.Context, cmd domain.Command) error {
	if a.simulated {
		logger.InfoKV(ctx, "Simulated relay write", "pin", cmd.Pin, "value", cmd.Value)

		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	var (
		failures    = make([]error, 0, len(a.drivers))
		unavailable = true
	)

	for _, driver := range a.drivers {
		err := driver.Write(ctx, cmd)
		if err == nil {
			logger.InfoKV(ctx, "Relay written", "driver", driver.Name(), "pin", cmd.Pin, "value", cmd.Value)

			return nil
		}

		logger.WarnKV(ctx, "Relay driver failed", "driver", driver.Name(), "error", err)

		if !errors.Is(err, domain.ErrAdapterUnavailable) {
			unavailable = false
		}

		failures = append(failures, errors.New(driver.Name()+": "+detail(err)))

		if ctx.Err() != nil {
			break
		}
	}

	timedOut := ctx.Err() != nil

	// A timeout is a failed actuation even if the drivers tried so far were missing.
	kind := domain.ErrActuationFailed
	if unavailable && !timedOut {
		kind = domain.ErrAdapterUnavailable
	}

	if timedOut {
		failures = append(failures, fmt.Errorf("timed out after %s", a.timeout))
	}

	return &domain.ActuationError{
		Command: cmd,
		Err:     fmt.Errorf("%w: %w", kind, errors.Join(failures...)),
	}
}

// detail strips the failure kind from a driver error so that only the
// combined ActuationError carries it.
func detail(err error) string {
	msg := err.Error()
	for _, kind := range []error{domain.ErrAdapterUnavailable, domain.ErrActuationFailed} {
		msg = strings.TrimPrefix(msg, kind.Error()+": ")
	}

	return msg
}
