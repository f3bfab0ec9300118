package door

import "time"

// SourceServer tags status events the server emits on its own, such as the
// snapshot a freshly connected observer receives.
const SourceServer = "server"

// Target is the lock state a caller asks for.
type Target int

const (
	// TargetLocked secures the door.
	TargetLocked Target = iota
	// TargetUnlocked releases the door.
	TargetUnlocked
)

// String returns a human-readable name of the target state.
func (t Target) String() string {
	if t == TargetUnlocked {
		return "unlocked"
	}

	return "locked"
}

// Operation returns the verb used by transports to name the transition.
func (t Target) Operation() string {
	if t == TargetUnlocked {
		return "unlock"
	}

	return "lock"
}

// State represents the lock status at a specific point in time.
type State struct {
	// Timestamp is when the lock state was last changed.
	Timestamp time.Time
	// ChangedBy identifies the observer or channel that caused the last transition.
	// It is empty until the first transition.
	ChangedBy string
	// Locked indicates whether the door is currently secured.
	Locked bool
}

// NewState returns the state every process starts with: locked, untouched.
func NewState() *State {
	return &State{
		Timestamp: time.Now(),
		Locked:    true,
	}
}

// Clone returns a copy of the state to avoid leaking internal references.
func (s *State) Clone() *State {
	cloned := *s

	return &cloned
}

// Satisfies reports whether the state already matches the target.
func (s *State) Satisfies(target Target) bool {
	return s.Locked == (target == TargetLocked)
}

// StatusEvent is the door_status notification delivered to observers.
type StatusEvent struct {
	// Source identifies who caused the state the event describes.
	Source string
	// Locked mirrors State.Locked.
	Locked bool
}

// StatusOf builds the status event describing the state on behalf of source.
func StatusOf(s *State, source string) StatusEvent {
	return StatusEvent{
		Source: source,
		Locked: s.Locked,
	}
}
