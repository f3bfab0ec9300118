// Package server runs the door-server process.
//
// Run loads the settings, probes for relay hardware and serves the HTTP
// gateway, the WebSocket event channel, the gRPC door service and the
// optional MQTT bridge over one lock state machine until the context ends.
package server
