// Package door contains core domain types for the door lock business logic.
//
// It defines State (the authoritative lock status), Target (the state a
// caller asks for), Command (a single relay write) and StatusEvent (what
// observers receive), plus the actuation error taxonomy shared by the
// hardware adapter, the state machine and the transports.
package door
