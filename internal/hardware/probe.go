package hardware

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/engfidow/server-door-lock/internal/config"
	"github.com/engfidow/server-door-lock/internal/logger"
)

// Detector reports whether the relay pin is backed by real GPIO hardware.
type Detector func(pin int) bool

// DetectGPIO asks periph whether the host exposes the pin.
func DetectGPIO(pin int) bool {
	if err := hostInit(); err != nil {
		return false
	}

	return gpioreg.ByName(pinName(pin)) != nil
}

// Probe resolves the presence setting into a hardware flag. It runs once at
// startup; the result is kept for the process lifetime.
func Probe(ctx context.Context, presence string, pin int, detect Detector) (bool, error) {
	switch presence {
	case config.PresencePresent:
		return true, nil
	case config.PresenceAbsent:
		return false, nil
	case config.PresenceAuto, "":
		present := detect(pin)
		logger.InfoKV(ctx, "GPIO hardware probed", "pin", pin, "present", present)

		return present, nil
	default:
		return false, fmt.Errorf("unknown hardware presence %q", presence)
	}
}
