// Package hardware translates door commands into relay writes.
//
// The Adapter walks an ordered chain of Drivers (the WiringPi gpio tool, the
// in-process periph.io GPIO driver and a shell script fallback) and stops at
// the first one that succeeds. When the startup probe finds no GPIO hardware
// the Adapter runs in simulated mode: writes are logged and always succeed.
package hardware
