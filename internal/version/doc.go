// Package version carries the build metadata of door-server and door-ctl.
//
// Version, Commit and BuildTime are set through -ldflags "-X ..." at release
// time. The server logs them at startup and reports the release on /healthz.
package version
