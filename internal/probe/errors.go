package probe

import (
	"errors"
	"fmt"
)

var (
	// ErrNotTerminal is returned when a summary is requested for a session
	// that is still idle or gathering.
	ErrNotTerminal = errors.New("probe session is not terminal")

	// ErrTimeout is the terminal cause of a timed-out session. It is not a failure:
	// candidates gathered before the deadline are still reported.
	ErrTimeout = errors.New("ice gathering deadline exceeded")

	errSuperseded = errors.New("superseded by a new probe")
	errReset      = errors.New("probe reset")
)

// ConfigError is returned synchronously from Controller.Start; no session is created.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// TransportError is recorded on a session when the handshake or offer step fails.
type TransportError struct {
	Op  string // dial|prime
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
