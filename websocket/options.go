package websocket

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 2 * time.Second
	DefaultAuthTimeout          = 10 * time.Second
	DefaultErrorBuffer          = 16
)

type Option func(*Session)

func WithURL(url string) Option {
	return func(s *Session) {
		s.url = url
	}
}

func WithDialer(dialer Dialer) Option {
	return func(s *Session) {
		s.dialer = dialer
	}
}

func WithAutomaticReconnect(enabled bool) Option {
	return func(s *Session) {
		s.automaticallyReconnect = enabled
	}
}

func WithMaxReconnectAttempts(attempts int) Option {
	return func(s *Session) {
		s.maxAttempts = attempts
	}
}

// WithReconnectDelay waits a fixed delay between reconnect attempts.
func WithReconnectDelay(delay time.Duration) Option {
	return func(s *Session) {
		s.backoff = backoff.NewConstantBackOff(delay)
	}
}

// WithBackOff installs any backoff policy. Returning backoff.Stop ends
// reconnection early, in addition to the attempt bound.
func WithBackOff(policy backoff.BackOff) Option {
	return func(s *Session) {
		s.backoff = policy
	}
}

// WithAuthTimeout bounds the wait for the authorization reply. Zero disables it.
func WithAuthTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		s.authTimeout = timeout
	}
}

// WithReconnectOnAuthFailure sends rejected handshakes through the reconnect
// path instead of ending the session. At most the max reconnect attempts of
// consecutive rejections are retried.
func WithReconnectOnAuthFailure(enabled bool) Option {
	return func(s *Session) {
		s.reconnectOnAuthFailure = enabled
	}
}

// WithConnectOnDemand connects on the first listener and disconnects after the last.
func WithConnectOnDemand(enabled bool) Option {
	return func(s *Session) {
		s.connectOnDemand = enabled
	}
}

func WithErrorBuffer(size int) Option {
	return func(s *Session) {
		s.errBuffer = size
	}
}
