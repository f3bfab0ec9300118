// Package door implements the WebSocket event channel for the door lock.
//
// Every frame is a JSON envelope {"event": ..., "data": ...}. The server
// sends door_status on connect and after every transition, and
// operation_error to the one connection whose request failed. Clients send
// unlock_door and lock_door.
package door
