// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a plain console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// Every component of the door server accepts a context and extracts the
// logger from it, so transport-level fields such as the connection id follow
// a request down into the state machine and the hardware adapter.
package logger
