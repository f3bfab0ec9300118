// Package broadcast fans door_status events out to every connected observer.
package broadcast
