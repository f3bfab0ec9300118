// Package door implements the HTTP request gateway for the door lock.
//
// It exposes GET /open and GET /lock (the historic endpoints), GET /status and
// GET /healthz, and mounts the event-channel handler under GET /ws.
package door
