package door

import "strconv"

// Level is the binary output level written to the relay pin.
type Level uint8

const (
	// Low de-energises the relay.
	Low Level = 0
	// High energises the relay.
	High Level = 1
)

// String returns the level as the digit GPIO tools expect.
func (l Level) String() string {
	return strconv.Itoa(int(l))
}

// Command describes a single hardware write. It is built per transition attempt.
type Command struct {
	// Pin is the BCM number of the relay pin.
	Pin int
	// Value is the level to drive the pin to.
	Value Level
}

// CommandFor returns the relay write that moves the door to target:
// the relay is energised to unlock and released to lock.
func CommandFor(pin int, target Target) Command {
	value := Low
	if target == TargetUnlocked {
		value = High
	}

	return Command{
		Pin:   pin,
		Value: value,
	}
}
