package websocket

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradingiq/alpaca-client/interfaces"
)

var _ interfaces.StreamingClient = (*Session)(nil)

// Session keeps one authenticated stream alive: it dials, authenticates,
// keeps the server's subscriptions in line with the registered listeners,
// and reconnects after unintentional drops.
//
// Transport events are tagged with a connection generation; events from a
// connection that has since been replaced or torn down are ignored.
type Session struct {
	mu                     sync.Mutex
	state                  ConnectionState
	authenticated          bool
	intentionalClose       bool
	automaticallyReconnect bool
	maxAttempts            int
	reconnectAttempts      int
	authFailures           int
	backoff                backoff.BackOff
	transport              Transport
	gen                    uint64
	reconnectTimer         *time.Timer
	authTimer              *time.Timer
	connectAfterClose      bool
	dispatcher             *dispatcher

	// flushMu serializes subscription flushes so frames go out in order.
	flushMu   sync.Mutex
	subs      *subscriptionManager
	listeners *listenerRegistry

	errs      chan error
	errBuffer int

	id                     string
	url                    string
	protocol               Protocol
	authFrame              []byte
	dialer                 Dialer
	logger                 *zap.Logger
	authTimeout            time.Duration
	reconnectOnAuthFailure bool
	connectOnDemand        bool
}

// NewSession validates creds against the protocol eagerly; a session that
// could never authenticate is not constructed.
func NewSession(logger *zap.Logger, url string, protocol Protocol, creds Credentials, opts ...Option) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if protocol == nil {
		return nil, errors.New("protocol is required")
	}

	authFrame, err := protocol.AuthFrame(creds)
	if err != nil {
		return nil, fmt.Errorf("invalid credentials for %s stream: %w", protocol.Name(), err)
	}

	s := &Session{
		state:                  StateDisconnected,
		automaticallyReconnect: true,
		maxAttempts:            DefaultMaxReconnectAttempts,
		backoff:                backoff.NewConstantBackOff(DefaultReconnectDelay),
		subs:                   newSubscriptionManager(),
		errBuffer:              DefaultErrorBuffer,
		id:                     uuid.NewString(),
		url:                    url,
		protocol:               protocol,
		authFrame:              authFrame,
		authTimeout:            DefaultAuthTimeout,
		connectOnDemand:        true,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.url == "" {
		return nil, errors.New("url is required")
	}
	if s.errBuffer < 1 {
		s.errBuffer = 1
	}

	s.logger = logger.With(zap.String("session", s.id), zap.String("stream", protocol.Name()))
	s.listeners = newListenerRegistry(s.logger)
	s.errs = make(chan error, s.errBuffer)
	if s.dialer == nil {
		s.dialer = &CoderDialer{Logger: s.logger}
	}

	return s, nil
}

// sessionEvents binds transport callbacks to the generation they were dialed for.
type sessionEvents struct {
	session *Session
	gen     uint64
}

func (e *sessionEvents) OnOpen() {
	e.session.handleOpen(e.gen)
}

func (e *sessionEvents) OnTextMessage(data []byte) {
	e.session.enqueue(frame{gen: e.gen, data: data})
}

func (e *sessionEvents) OnBinaryMessage(data []byte) {
	e.session.enqueue(frame{gen: e.gen, data: data, binary: true})
}

func (e *sessionEvents) OnClose(code int, reason string) {
	e.session.handleClose(e.gen, code, reason, nil)
}

func (e *sessionEvents) OnFailure(err error) {
	e.session.handleClose(e.gen, CloseAbnormalClosure, "", err)
}

// Connect opens the stream. It is a no-op unless the session is disconnected.
func (s *Session) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectLocked()
}

func (s *Session) connectLocked() {
	switch s.state {
	case StateDisconnected:
		s.intentionalClose = false
		s.openLocked()
	case StateClosing:
		s.connectAfterClose = true
	}
}

func (s *Session) openLocked() {
	s.gen++
	s.state = StateConnecting
	if s.dispatcher == nil {
		s.dispatcher = newDispatcher(s)
	}

	s.logger.Info("Connecting", zap.String("url", s.url), zap.Int("attempt", s.reconnectAttempts))
	s.transport = s.dialer.Dial(s.url, &sessionEvents{session: s, gen: s.gen})
}

// Disconnect closes the stream without reconnecting. The session reaches
// Disconnected once the transport confirms the close.
func (s *Session) Disconnect() {
	s.mu.Lock()

	switch s.state {
	case StateDisconnected:
		s.mu.Unlock()
		return
	case StateClosing:
		s.connectAfterClose = false
		s.mu.Unlock()
		return
	case StateReconnecting:
		s.intentionalClose = true
		s.teardownLocked()
		s.mu.Unlock()
		s.logger.Info("Disconnected while waiting to reconnect")
		return
	}

	from := s.state
	s.intentionalClose = true
	s.state = StateClosing
	s.authenticated = false
	stopTimer(&s.authTimer)
	s.stopDispatcherLocked()
	transport := s.transport
	s.mu.Unlock()

	s.logger.Info("Disconnecting", zap.Stringer("from", from))
	if transport != nil {
		transport.Close(CloseNormalClosure, "client disconnect")
	}
}

func (s *Session) handleOpen(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateConnecting {
		s.mu.Unlock()
		return
	}

	reconnected := s.reconnectAttempts > 0
	s.reconnectAttempts = 0
	s.backoff.Reset()
	s.state = StateConnected
	s.subs.reset(gen)

	s.state = StateAuthenticating
	if s.authTimeout > 0 {
		s.authTimer = time.AfterFunc(s.authTimeout, func() {
			s.handleAuthTimeout(gen)
		})
	}
	transport := s.transport
	s.mu.Unlock()

	if reconnected {
		s.logger.Info("Reconnected", zap.String("url", s.url))
	} else {
		s.logger.Info("Connected", zap.String("url", s.url))
	}

	if err := transport.Send(s.authFrame); err != nil {
		s.logger.Error("Failed to send authentication request", zap.Error(err))
		transport.Close(CloseInternalError, "authentication send failed")
		return
	}
	s.logger.Info("Sent authentication request")
}

func (s *Session) handleAuthTimeout(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateAuthenticating {
		s.mu.Unlock()
		return
	}
	s.authTimer = nil

	retry := s.automaticallyReconnect && s.authFailures < s.maxAttempts
	if retry {
		s.logger.Warn("Timed out waiting for authorization, reconnecting", zap.Duration("timeout", s.authTimeout))
	} else {
		s.logger.Error("Timed out waiting for authorization", zap.Duration("timeout", s.authTimeout))
	}
	s.failAuthLocked(ErrAuthTimeout, retry, "authorization timeout")
}

// handleAuthResult runs on the dispatch worker for every message the
// protocol recognizes as an authorization reply.
func (s *Session) handleAuthResult(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	if s.state != StateAuthenticating {
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("Received error from server", zap.Error(err))
			s.report(&SessionError{Err: err})
		}
		return
	}

	stopTimer(&s.authTimer)

	if err != nil && !errors.Is(err, ErrAuthRejected) {
		err = fmt.Errorf("%w: %w", ErrAuthRejected, err)
	}

	if err == nil {
		s.state = StateAuthenticated
		s.authenticated = true
		s.authFailures = 0
		s.mu.Unlock()

		s.logger.Info("Authenticated")
		s.flush()
		return
	}

	retry := s.reconnectOnAuthFailure && s.automaticallyReconnect && s.authFailures < s.maxAttempts
	if retry {
		s.logger.Warn("Authentication rejected, reconnecting", zap.Error(err))
	} else {
		s.logger.Error("Authentication rejected", zap.Error(err))
	}
	s.failAuthLocked(err, retry, "authentication rejected")
}

// failAuthLocked closes a connection that did not authenticate and releases
// s.mu. Each such connection opened fine, which reset the reconnect counter,
// so failed handshakes are bounded by their own count. Without retry the
// failure is terminal.
func (s *Session) failAuthLocked(err error, retry bool, reason string) {
	transport := s.transport
	if retry {
		s.authFailures++
	} else {
		s.intentionalClose = true
		s.state = StateClosing
		s.stopDispatcherLocked()
	}
	s.mu.Unlock()

	s.report(&SessionError{Err: err, Terminal: !retry})
	transport.Close(ClosePolicyViolation, reason)
}

func (s *Session) handleClose(gen uint64, code int, reason string, cause error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	s.transport = nil
	s.authenticated = false
	stopTimer(&s.authTimer)

	if s.intentionalClose {
		s.teardownLocked()
		reopen := s.connectAfterClose
		s.connectAfterClose = false
		if reopen {
			s.intentionalClose = false
			s.openLocked()
		}
		s.mu.Unlock()

		s.logger.Info("Disconnected", zap.Int("code", code), zap.String("reason", reason))
		return
	}

	if s.automaticallyReconnect && s.reconnectAttempts < s.maxAttempts {
		if delay := s.backoff.NextBackOff(); delay != backoff.Stop {
			s.reconnectAttempts++
			attempt := s.reconnectAttempts
			s.state = StateReconnecting
			s.subs.reset(gen)
			s.reconnectTimer = time.AfterFunc(delay, func() {
				s.reconnect(gen)
			})
			s.mu.Unlock()

			s.logger.Warn("Connection lost, scheduling reconnect",
				zap.Int("code", code),
				zap.String("reason", reason),
				zap.Error(cause),
				zap.Int("attempt", attempt),
				zap.Int("maxAttempts", s.maxAttempts),
				zap.Duration("delay", delay))
			return
		}
	}

	lost := ErrConnectionLost
	if s.automaticallyReconnect {
		lost = ErrReconnectExhausted
	}
	var err error
	if cause != nil {
		err = fmt.Errorf("%w: %w", lost, cause)
	} else {
		err = fmt.Errorf("%w: close code %d %q", lost, code, reason)
	}

	s.teardownLocked()
	s.mu.Unlock()

	s.logger.Error("Connection closed", zap.Error(err))
	s.report(&SessionError{Err: err, Terminal: true})
}

func (s *Session) reconnect(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state != StateReconnecting || s.intentionalClose {
		return
	}
	s.reconnectTimer = nil
	s.openLocked()
}

// teardownLocked returns the session to Disconnected and invalidates every
// callback still in flight for the old connection.
func (s *Session) teardownLocked() {
	s.gen++
	s.state = StateDisconnected
	s.authenticated = false
	s.reconnectAttempts = 0
	s.authFailures = 0
	s.backoff.Reset()
	s.transport = nil
	stopTimer(&s.authTimer)
	stopTimer(&s.reconnectTimer)
	s.stopDispatcherLocked()
	s.subs.reset(s.gen)
}

func (s *Session) stopDispatcherLocked() {
	if s.dispatcher != nil {
		s.dispatcher.stop()
		s.dispatcher = nil
	}
}

func (s *Session) enqueue(f frame) {
	s.mu.Lock()
	d := s.dispatcher
	current := f.gen == s.gen
	s.mu.Unlock()

	if current && d != nil {
		d.enqueue(f)
	}
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

// flush recomputes the desired subscriptions and, once authenticated, sends
// whatever the protocol needs to reach them. Active is only updated when
// every frame was sent.
func (s *Session) flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	desired := s.protocol.Desired(s.listeners.interests())
	s.subs.setDesired(desired)

	s.mu.Lock()
	if s.state != StateAuthenticated {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	transport := s.transport
	s.mu.Unlock()

	active, ok := s.subs.activeFor(gen)
	if !ok {
		return
	}

	frames, err := s.protocol.Plan(active, desired)
	if err != nil {
		s.logger.Error("Failed to plan subscription update", zap.Error(err))
		return
	}
	if len(frames) == 0 {
		return
	}

	for _, data := range frames {
		if err := transport.Send(data); err != nil {
			s.logger.Warn("Failed to send subscription update", zap.Error(err))
			return
		}
	}

	if s.subs.commit(gen, desired) {
		s.logger.Info("Sent subscription update", zap.Int("frames", len(frames)), zap.Any("types", desired.Types()))
	}
}

// AddListener registers a listener. With connect-on-demand the first
// listener opens the stream.
func (s *Session) AddListener(listener interfaces.Listener) error {
	first, err := s.listeners.add(listener)
	if err != nil {
		return err
	}

	if first && s.connectOnDemand {
		s.mu.Lock()
		s.connectLocked()
		s.mu.Unlock()
	}

	s.flush()
	return nil
}

// RemoveListener unregisters a listener; unknown listeners are ignored.
// With connect-on-demand removing the last listener closes the stream.
func (s *Session) RemoveListener(listener interfaces.Listener) {
	last, found := s.listeners.remove(listener)
	if !found {
		return
	}

	if last && s.connectOnDemand {
		s.Disconnect()
	}
	s.flush()
}

func (s *Session) report(err error) {
	select {
	case s.errs <- err:
	default:
		s.logger.Warn("Dropped session error, buffer full", zap.Error(err))
	}
}

// Errors delivers session failures. Terminal errors are sent once per
// connect cycle; the channel is never closed.
func (s *Session) Errors() <-chan error {
	return s.errs
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) URL() string {
	return s.url
}

func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.open()
}

func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *Session) SetAutomaticallyReconnect(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.automaticallyReconnect = enabled
}

func (s *Session) SetMaxReconnectAttempts(attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxAttempts = attempts
}

func (s *Session) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectAttempts
}

func (s *Session) ListenerCount() int {
	return s.listeners.len()
}

func (s *Session) DesiredSubscriptions() SubscriptionSet {
	desired, _ := s.subs.snapshot()
	return desired
}

func (s *Session) ActiveSubscriptions() SubscriptionSet {
	_, active := s.subs.snapshot()
	return active
}

// Converged reports whether the server has everything the listeners want.
func (s *Session) Converged() bool {
	return s.subs.converged()
}

func stopTimer(timer **time.Timer) {
	if *timer != nil {
		(*timer).Stop()
		*timer = nil
	}
}
