package websocket

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials    = errors.New("exactly one of key pair or oauth token must be configured")
	ErrOAuthUnsupported      = errors.New("stream does not accept oauth credentials")
	ErrAuthRejected          = errors.New("authentication rejected")
	ErrAuthTimeout           = errors.New("timed out waiting for authorization")
	ErrReconnectExhausted    = errors.New("reconnect attempts exhausted")
	ErrConnectionLost        = errors.New("connection lost")
	ErrNotConnected          = errors.New("websocket not connected")
	ErrUnknownMessage        = errors.New("unknown message type")
	ErrMalformedFrame        = errors.New("malformed frame")
	ErrNilListener           = errors.New("listener is nil")
	ErrListenerNotComparable = errors.New("listener type is not comparable")
)

// SessionError is delivered on Session.Errors. Terminal errors mean the
// session has returned to Disconnected and will not retry on its own.
type SessionError struct {
	Err      error
	Terminal bool
}

func (e *SessionError) Error() string {
	if e.Terminal {
		return fmt.Sprintf("terminal session error: %v", e.Err)
	}
	return fmt.Sprintf("session error: %v", e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether err is a SessionError that ended the session.
func IsTerminal(err error) bool {
	var sessionErr *SessionError
	return errors.As(err, &sessionErr) && sessionErr.Terminal
}
