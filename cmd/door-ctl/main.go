// Command door-ctl controls a door-server over gRPC.
package main

import "github.com/engfidow/server-door-lock/cmd/door-ctl/cmd"

func main() {
	cmd.Execute()
}
