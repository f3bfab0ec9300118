package broadcast

import (
	"context"
	"sync"

	domain "github.com/engfidow/server-door-lock/internal/domain/door"
	"github.com/engfidow/server-door-lock/internal/logger"
)

// Observer is a connected client able to receive status events.
//
// Send must not block: transports queue the event and deliver it from their
// own goroutine, returning an error when the client cannot take it. Publish
// runs while the lock machine holds its state lock and actuation slot, so a
// blocking Send would stall every transition and every new connection.
type Observer interface {
	ID() string
	Send(event domain.StatusEvent) error
}

// Broadcaster is the registry of connected observers.
// Delivery is best-effort: a failing observer is logged and skipped.
type Broadcaster struct {
	// mu protects observers.
	mu sync.RWMutex
	// observers maps observer ids to handles.
	observers map[string]Observer
}

// New creates an empty broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		observers: make(map[string]Observer),
	}
}

// Register adds the observer and delivers initial to it alone.
// Registering an id twice replaces the previous handle.
func (b *Broadcaster) Register(ctx context.Context, observer Observer, initial domain.StatusEvent) {
	b.mu.Lock()
	b.observers[observer.ID()] = observer
	count := len(b.observers)
	b.mu.Unlock()

	logger.DebugKV(ctx, "Observer connected", "observer", observer.ID(), "observers", count)

	deliver(ctx, observer, initial)
}

// Unregister removes the observer with the given id, if present.
func (b *Broadcaster) Unregister(ctx context.Context, id string) {
	b.mu.Lock()
	delete(b.observers, id)
	count := len(b.observers)
	b.mu.Unlock()

	logger.DebugKV(ctx, "Observer disconnected", "observer", id, "observers", count)
}

// Publish delivers the event to every registered observer.
// The registry is snapshotted first so observers may connect or disconnect meanwhile.
func (b *Broadcaster) Publish(ctx context.Context, event domain.StatusEvent) {
	b.mu.RLock()
	observers := make([]Observer, 0, len(b.observers))

	for _, observer := range b.observers {
		observers = append(observers, observer)
	}
	b.mu.RUnlock()

	for _, observer := range observers {
		deliver(ctx, observer, event)
	}

	logger.DebugKV(ctx, "Door status broadcast", "locked", event.Locked, "source", event.Source, "recipients", len(observers))
}

// Count returns the number of registered observers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.observers)
}

// deliver sends one event and logs, rather than propagates, a failure.
func deliver(ctx context.Context, observer Observer, event domain.StatusEvent) {
	if err := observer.Send(event); err != nil {
		logger.WarnKV(ctx, "Status delivery failed", "observer", observer.ID(), "error", err)
	}
}
