package hardware

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strconv"
	"strings"

	domain "github.com/engfidow/server-door-lock/internal/domain/door"
)

// Driver applies a single relay write through one control path.
type Driver interface {
	// Name identifies the control path in logs and errors.
	Name() string
	// Write drives the pin. Errors wrap domain.ErrAdapterUnavailable when the
	// control path cannot be invoked and domain.ErrActuationFailed otherwise.
	Write(ctx context.Context, cmd domain.Command) error
}

// Runner executes an external program and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// Run executes name with args, killing it when ctx is done.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// sysfsScript drives a pin through the legacy sysfs interface.
// It is invoked as `sh -c <script> door-lock <pin> <value>`.
const sysfsScript = `pin="$1"; value="$2"; dir="/sys/class/gpio/gpio$pin"
[ -d "$dir" ] || echo "$pin" > /sys/class/gpio/export
echo out > "$dir/direction"
echo "$value" > "$dir/value"`

// ToolDriver drives the relay by running external programs, one per step.
type ToolDriver struct {
	// name identifies the driver.
	name string
	// runner executes the steps.
	runner Runner
	// steps builds the program invocations for a command.
	steps func(cmd domain.Command) [][]string
}

// NewGPIOToolDriver returns a driver for the WiringPi gpio utility using BCM numbering:
// `gpio -g mode <pin> out` followed by `gpio -g write <pin> <value>`.
func NewGPIOToolDriver(binary string, runner Runner) *ToolDriver {
	return &ToolDriver{
		name:   "gpio",
		runner: runner,
		steps: func(cmd domain.Command) [][]string {
			pin := strconv.Itoa(cmd.Pin)

			return [][]string{
				{binary, "-g", "mode", pin, "out"},
				{binary, "-g", "write", pin, cmd.Value.String()},
			}
		},
	}
}

// NewScriptDriver returns a driver that runs a shell script with the pin and value
// as arguments. An empty script selects the built-in sysfs script.
func NewScriptDriver(shell, script string, runner Runner) *ToolDriver {
	return &ToolDriver{
		name:   "script",
		runner: runner,
		steps: func(cmd domain.Command) [][]string {
			pin := strconv.Itoa(cmd.Pin)

			if script == "" {
				return [][]string{{shell, "-c", sysfsScript, "door-lock", pin, cmd.Value.String()}}
			}

			return [][]string{{shell, script, pin, cmd.Value.String()}}
		},
	}
}

// Name implements Driver.
func (d *ToolDriver) Name() string {
	return d.name
}

// Write runs every step in order and stops at the first failure.
func (d *ToolDriver) Write(ctx context.Context, cmd domain.Command) error {
	for _, step := range d.steps(cmd) {
		output, err := d.runner.Run(ctx, step[0], step[1:]...)
		if err != nil {
			return classify(step[0], output, err)
		}
	}

	return nil
}

// classify maps a program failure onto the actuation error taxonomy.
func classify(program string, output []byte, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %s: %w", domain.ErrAdapterUnavailable, program, err)
	}

	if detail := strings.TrimSpace(string(output)); detail != "" {
		return fmt.Errorf("%w: %s: %w: %s", domain.ErrActuationFailed, program, err, detail)
	}

	return fmt.Errorf("%w: %s: %w", domain.ErrActuationFailed, program, err)
}
