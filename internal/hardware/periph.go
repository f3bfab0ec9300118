package hardware

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	domain "github.com/engfidow/server-door-lock/internal/domain/door"
)

// hostInit loads periph host drivers once per process.
//
//nolint:gochecknoglobals // periph keeps a process-wide driver registry anyway.
var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()

	return err
})

// pinName returns the periph registry name of a BCM pin.
func pinName(pin int) string {
	return fmt.Sprintf("GPIO%d", pin)
}

// PeriphDriver drives the relay in-process through periph.io.
type PeriphDriver struct{}

// NewPeriphDriver returns the in-process GPIO driver.
func NewPeriphDriver() *PeriphDriver {
	return new(PeriphDriver)
}

// Name implements Driver.
func (*PeriphDriver) Name() string {
	return "periph"
}

// Write implements Driver.
func (*PeriphDriver) Write(_ context.Context, cmd domain.Command) error {
	if err := hostInit(); err != nil {
		return fmt.Errorf("%w: periph host init: %w", domain.ErrAdapterUnavailable, err)
	}

	p := gpioreg.ByName(pinName(cmd.Pin))
	if p == nil {
		return fmt.Errorf("%w: periph: pin %s not found", domain.ErrAdapterUnavailable, pinName(cmd.Pin))
	}

	level := gpio.Low
	if cmd.Value == domain.High {
		level = gpio.High
	}

	if err := p.Out(level); err != nil {
		return fmt.Errorf("%w: periph: %w", domain.ErrActuationFailed, err)
	}

	return nil
}
