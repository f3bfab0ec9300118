// Package client implements the door-ctl commands.
//
// Each command connects to the door server over gRPC, identifies the local
// user and opens, locks, reports or watches the door.
package client
