// Package common holds helpers shared by the door binaries.
//
// It provides a gRPC client for door.v1.DoorService with call timeouts and
// a helper identifying the local user for the server's audit trail.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
