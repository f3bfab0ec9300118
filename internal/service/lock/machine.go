package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/engfidow/server-door-lock/internal/config"
	domain "github.com/engfidow/server-door-lock/internal/domain/door"
	"github.com/engfidow/server-door-lock/internal/logger"
	"github.com/engfidow/server-door-lock/internal/service/broadcast"
)

// SourceAutoRelock tags transitions issued by the auto-relock timer.
const SourceAutoRelock = "auto-relock"

// Actuator applies a command to the relay.
type Actuator interface {
	Apply(ctx context.Context, cmd domain.Command) error
}

// Notifier delivers status events to observers.
type Notifier interface {
	Register(ctx context.Context, observer broadcast.Observer, initial domain.StatusEvent)
	Unregister(ctx context.Context, id string)
	Publish(ctx context.Context, event domain.StatusEvent)
}

// Options tunes the machine.
type Options struct {
	// Pin is the relay pin every command targets.
	Pin int
	// Policy is config.PolicyQueue or config.PolicyReject.
	Policy string
	// AutoRelock locks the door again this long after an unlock. Zero disables it.
	AutoRelock time.Duration
}

// Machine holds the lock state and serializes actuation against it.
type Machine struct {
	// ctx carries the logger for timer-driven transitions.
	ctx context.Context
	// actuator writes to the relay.
	actuator Actuator
	// notifier fans status events out.
	notifier Notifier
	// opts holds the tuning.
	opts Options
	// slot is the actuation critical section: holding its only token
	// means owning the relay.
	slot chan struct{}
	// mu protects state, relock and closed. Publishing happens under mu as
	// well, so an observer connecting concurrently sees either the old state
	// followed by the event or the new state alone.
	mu sync.RWMutex
	// state is the authoritative lock state.
	state *domain.State
	// relock is the armed auto-relock timer, if any.
	relock *time.Timer
	// closed stops timer-driven transitions.
	closed bool
	// actuating is set while the slot holder is writing to the relay.
	actuating bool
}

// New creates a machine in the locked state.
func New(ctx context.Context, actuator Actuator, notifier Notifier, opts Options) *Machine {
	if opts.Policy == "" {
		opts.Policy = config.PolicyQueue
	}

	return &Machine{
		ctx:      logger.WithName(ctx, "lock"),
		actuator: actuator,
		notifier: notifier,
		opts:     opts,
		slot:     make(chan struct{}, 1),
		state:    domain.NewState(),
	}
}

// State returns a copy of the current lock state.
func (m *Machine) State() *domain.State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state.Clone()
}

// Unlock moves the door to the unlocked state on behalf of requestedBy.
func (m *Machine) Unlock(ctx context.Context, requestedBy string) (*domain.State, error) {
	return m.Transition(ctx, domain.TargetUnlocked, requestedBy)
}

// Lock moves the door to the locked state on behalf of requestedBy.
func (m *Machine) Lock(ctx context.Context, requestedBy string) (*domain.State, error) {
	return m.Transition(ctx, domain.TargetLocked, requestedBy)
}

// Transition moves the door to target.
//
// Requests are ordered by the actuation slot, so a request arriving while a
// write is in flight is judged against the state that write leaves behind.
// If the door is already at target the current state is returned without
// touching the relay or notifying anyone. Otherwise exactly one relay write is
// attempted; on success the new state is committed and broadcast tagged with
// requestedBy, on failure the state is left as it was and the error is returned.
//
// Under the reject policy a request finding the slot taken still succeeds when
// the door is at target and no relay write is in flight.
func (m *Machine) Transition(ctx context.Context, target domain.Target, requestedBy string) (*domain.State, error) {
	return m.transition(ctx, target, requestedBy, m.opts.Policy == config.PolicyReject)
}

// transition implements Transition. failFast selects the reject policy.
func (m *Machine) transition(
	ctx context.Context,
	target domain.Target,
	requestedBy string,
	failFast bool,
) (*domain.State, error) {
	if err := m.acquire(ctx, failFast); err != nil {
		if errors.Is(err, domain.ErrBusy) {
			if current, ok := m.settled(target); ok {
				return current, nil
			}
		}

		return nil, err
	}
	defer m.release()

	if current := m.State(); current.Satisfies(target) {
		logger.DebugKV(ctx, "Door already in requested state", "target", target, "requested_by", requestedBy)

		return current, nil
	}

	cmd := domain.CommandFor(m.opts.Pin, target)

	logger.InfoKV(ctx, "Actuating door", "target", target, "requested_by", requestedBy, "pin", cmd.Pin, "value", cmd.Value)

	m.setActuating(true)

	if err := m.actuator.Apply(ctx, cmd); err != nil {
		m.setActuating(false)
		logger.ErrorKV(ctx, "Door actuation failed", "target", target, "requested_by", requestedBy, "error", err)

		return nil, fmt.Errorf("%s door: %w", target.Operation(), err)
	}

	return m.commit(ctx, target, requestedBy), nil
}

// settled reports whether a busy request is already satisfied: the door is at
// target and the slot holder is not writing to the relay.
func (m *Machine) settled(target domain.Target) (*domain.State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.actuating || !m.state.Satisfies(target) {
		return nil, false
	}

	return m.state.Clone(), true
}

// setActuating records whether a relay write is in flight.
func (m *Machine) setActuating(actuating bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.actuating = actuating
}

// Connect registers the observer and sends it the current state.
func (m *Machine) Connect(ctx context.Context, observer broadcast.Observer) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.notifier.Register(ctx, observer, domain.StatusOf(m.state, domain.SourceServer))
}

// Disconnect removes the observer with the given id.
func (m *Machine) Disconnect(ctx context.Context, id string) {
	m.notifier.Unregister(ctx, id)
}

// Close disarms the auto-relock timer. Transitions requested afterwards still work.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.disarmLocked()
}

// commit records the new state, broadcasts it and re-arms the relock timer.
// Publishing happens under mu and before the slot is released, which keeps
// events in commit order; it relies on Observer.Send never blocking.
func (m *Machine) commit(ctx context.Context, target domain.Target, requestedBy string) *domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.actuating = false
	m.state = &domain.State{
		Timestamp: time.Now(),
		ChangedBy: requestedBy,
		Locked:    target == domain.TargetLocked,
	}

	logger.InfoKV(ctx, "Door state updated", "locked", m.state.Locked, "changed_by", requestedBy)

	m.notifier.Publish(ctx, domain.StatusOf(m.state, requestedBy))

	m.disarmLocked()

	if target == domain.TargetUnlocked && m.opts.AutoRelock > 0 && !m.closed {
		m.relock = time.AfterFunc(m.opts.AutoRelock, m.autoRelock)
	}

	return m.state.Clone()
}

// autoRelock runs when the relock timer fires.
func (m *Machine) autoRelock() {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return
	}

	// The timer waits for the slot whatever the policy: giving up would leave
	// the door unlocked with nothing left to lock it.
	if _, err := m.transition(m.ctx, domain.TargetLocked, SourceAutoRelock, false); err != nil {
		logger.ErrorKV(m.ctx, "Auto relock failed", "error", err)

		return
	}

	logger.InfoKV(m.ctx, "Door automatically locked", "after", m.opts.AutoRelock)
}

// disarmLocked stops a pending relock. The caller must hold mu.
func (m *Machine) disarmLocked() {
	if m.relock != nil {
		m.relock.Stop()
		m.relock = nil
	}
}

// acquire takes the actuation slot, failing with ErrBusy when failFast is set
// and the slot is taken, or waiting for it otherwise.
func (m *Machine) acquire(ctx context.Context, failFast bool) error {
	if failFast {
		select {
		case m.slot <- struct{}{}:
			return nil
		default:
			return domain.ErrBusy
		}
	}

	select {
	case m.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight actuation: %w", ctx.Err())
	}
}

// release frees the actuation slot.
func (m *Machine) release() {
	<-m.slot
}
