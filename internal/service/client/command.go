package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/engfidow/server-door-lock/internal/config"
	domain "github.com/engfidow/server-door-lock/internal/domain/door"
	"github.com/engfidow/server-door-lock/internal/logger"
	"github.com/engfidow/server-door-lock/internal/service/common"
)

// Action selects what door-ctl asks the server to do.
type Action string

const (
	// ActionOpen unlocks the door.
	ActionOpen Action = "open"
	// ActionLock locks the door.
	ActionLock Action = "lock"
	// ActionStatus prints the current state.
	ActionStatus Action = "status"
	// ActionWatch follows status events until interrupted.
	ActionWatch Action = "watch"
)

// Options configures a door-ctl invocation.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string

	// ServerAddress overrides server address from config when specified.
	ServerAddress string

	// Action is the operation to perform.
	Action Action
}

// errUnknownAction is returned for unsupported actions.
var errUnknownAction = errors.New("unknown action")

// Door is the subset of the gRPC client door-ctl uses.
type Door interface {
	Unlock(ctx context.Context, actor string) (*domain.State, error)
	Lock(ctx context.Context, actor string) (*domain.State, error)
	Status(ctx context.Context) (*domain.State, error)
	Watch(ctx context.Context, actor string, handle func(domain.StatusEvent) error) error
}

// Run connects to the door server and performs the requested action.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "door-ctl")

	// Load settings from configuration file.
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	_ = logger.SetLevelString(cfg.LogLevel)

	// Use server address from options if provided, otherwise use config.
	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	// Identify current user and hostname for the server's audit trail.
	actor, err := common.DetectActor()
	if err != nil {
		return err
	}

	client, err := common.Dial(ctx, serverAddress, common.WithCallTimeout(cfg.Timeout))
	if err != nil {
		return err
	}

	// Close connection on function exit.
	defer func() {
		_ = client.Close()
	}()

	logger.DebugKV(ctx, "Connected to door server", "server_address", serverAddress, "action", opts.Action)

	return Perform(ctx, client, opts.Action, actor)
}

// Perform runs action against door on behalf of actor.
func Perform(ctx context.Context, door Door, action Action, actor string) error {
	var (
		state *domain.State
		err   error
	)

	switch action {
	case ActionOpen:
		state, err = door.Unlock(ctx, actor)
	case ActionLock:
		state, err = door.Lock(ctx, actor)
	case ActionStatus:
		state, err = door.Status(ctx)
	case ActionWatch:
		return watch(ctx, door, actor)
	default:
		return fmt.Errorf("%w: %q", errUnknownAction, action)
	}

	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}

	logger.Infof(ctx, "Door %s", FormatState(state))

	return nil
}

// watch logs status events until ctx is canceled.
func watch(ctx context.Context, door Door, actor string) error {
	err := door.Watch(ctx, actor, func(event domain.StatusEvent) error {
		logger.InfoKV(ctx, "door_status", "locked", event.Locked, "source", event.Source)

		return nil
	})

	if ctx.Err() != nil {
		return nil
	}

	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	return nil
}

// FormatState converts a door state to a readable log message.
func FormatState(state *domain.State) string {
	if state == nil {
		return "<nil state>"
	}

	// Extract timestamp with fallback for missing data.
	timestamp := "<unknown>"
	if !state.Timestamp.IsZero() {
		timestamp = state.Timestamp.Format(time.RFC3339)
	}

	changedBy := state.ChangedBy
	if changedBy == "" {
		changedBy = "<unknown>"
	}

	// Convert boolean state to readable string.
	status := "unlocked"
	if state.Locked {
		status = "locked"
	}

	return fmt.Sprintf("%s by %s (%s)", status, changedBy, timestamp)
}
