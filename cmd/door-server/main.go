// Command door-server drives the door lock relay.
package main

import "github.com/engfidow/server-door-lock/cmd/door-server/cmd"

func main() {
	cmd.Execute()
}
