package session

import "errors"

var (
	// ErrSessionNotFound means the session id is unknown or was removed.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionTerminal means the session has exited or crashed and
	// accepts no further commands.
	ErrSessionTerminal = errors.New("session is terminal")
	// ErrSpawn wraps failures to start the debugger process.
	ErrSpawn = errors.New("failed to spawn debugger")
	// ErrCommandTimeout means no frame boundary arrived within the
	// deadline. Recoverable: the session stays usable once the interrupt
	// reclaims the prompt.
	ErrCommandTimeout = errors.New("command timed out")
	// ErrProcessCrashed means the debugger process ended unexpectedly.
	// Terminal for the session.
	ErrProcessCrashed = errors.New("debugger process crashed")
	// ErrConcurrentAccess means the single-flight invariant was violated.
	// This is a bug in the caller, not an expected runtime condition.
	ErrConcurrentAccess = errors.New("concurrent access to session")
	// ErrNotSupported means the backend lacks a capability the request needs.
	ErrNotSupported = errors.New("operation not supported by backend")
)
