package jules

import (
	"errors"
	"fmt"

	v1 "github.com/julesfleet/julesfleet/pkg/api/v1"
)

var (
	// ErrSessionNotFound is returned when a session does not exist remotely.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionEnded is returned when a session terminates before replying
	// to an ask.
	ErrSessionEnded = errors.New("session ended before reply")

	// ErrResultTimeout is returned when waiting for a terminal state exceeds
	// the caller's deadline.
	ErrResultTimeout = errors.New("timed out waiting for session result")
)

// InvalidStateError is returned when an operation requires a session state
// the session is not in.
type InvalidStateError struct {
	Current  v1.SessionState
	Required v1.SessionState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid session state %q, requires %q", e.Current, e.Required)
}

// SessionFailedError wraps the terminal resource of a failed automated
// session.
type SessionFailedError struct {
	Session *v1.Session
}

func (e *SessionFailedError) Error() string {
	return fmt.Sprintf("automated session %s failed", e.Session.ID)
}
