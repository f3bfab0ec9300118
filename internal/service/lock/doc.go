// Package lock implements the door lock state machine.
//
// Machine owns the single authoritative lock state. Transitions are idempotent
// and serialized: at most one relay write is in flight at any time, and a
// successful write is committed and broadcast before the next one starts.
package lock
