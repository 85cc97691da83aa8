package websocket

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradingiq/alpaca-client/interfaces"
	"github.com/tradingiq/alpaca-client/types"
)

const (
	authorizedFrame   = `{"stream":"authorization","data":{"status":"authorized","action":"authenticate"}}`
	unauthorizedFrame = `{"stream":"authorization","data":{"status":"unauthorized","action":"authenticate"}}`
	tradeUpdateFrame  = `{"stream":"trade_updates","data":{"event":"fill","order":{"id":"o-1","symbol":"AAPL","qty":"1"},"price":"187.5"}}`
)

// fakeDialer hands out scripted transports. The test drives server-side
// events itself; Close from the session is answered asynchronously.
type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	failDial   bool
}

func (d *fakeDialer) Dial(url string, events TransportEvents) Transport {
	t := &fakeTransport{url: url, events: events}

	d.mu.Lock()
	d.transports = append(d.transports, t)
	fail := d.failDial
	d.mu.Unlock()

	if fail {
		go t.fail(errors.New("connection refused"))
	}
	return t
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func (d *fakeDialer) waitFor(t *testing.T, n int) *fakeTransport {
	t.Helper()
	require.Eventually(t, func() bool { return d.count() >= n }, time.Second, 2*time.Millisecond)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[n-1]
}

type fakeTransport struct {
	url    string
	events TransportEvents

	// eventMu keeps events on one logical delivery context.
	eventMu sync.Mutex

	mu        sync.Mutex
	sent      []string
	closed    bool
	closeCode int
	sendErr   error
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrNotConnected
	}
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, string(data))
	return nil
}

func (t *fakeTransport) Close(code int, reason string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.closeCode = code
	t.mu.Unlock()

	go func() {
		t.eventMu.Lock()
		defer t.eventMu.Unlock()
		t.events.OnClose(code, reason)
	}()
}

func (t *fakeTransport) open() {
	t.eventMu.Lock()
	defer t.eventMu.Unlock()
	t.events.OnOpen()
}

func (t *fakeTransport) text(frames ...string) {
	t.eventMu.Lock()
	defer t.eventMu.Unlock()
	for _, f := range frames {
		t.events.OnTextMessage([]byte(f))
	}
}

func (t *fakeTransport) binary(data []byte) {
	t.eventMu.Lock()
	defer t.eventMu.Unlock()
	t.events.OnBinaryMessage(data)
}

// drop simulates the server or network ending the connection.
func (t *fakeTransport) drop(code int) {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.eventMu.Lock()
	defer t.eventMu.Unlock()
	t.events.OnClose(code, "server going away")
}

func (t *fakeTransport) fail(err error) {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.eventMu.Lock()
	defer t.eventMu.Unlock()
	t.events.OnFailure(err)
}

func (t *fakeTransport) frames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

func (t *fakeTransport) isClosed() (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed, t.closeCode
}

func (t *fakeTransport) waitFrames(tb testing.TB, n int) []string {
	tb.Helper()
	require.Eventually(tb, func() bool { return len(t.frames()) >= n }, time.Second, 2*time.Millisecond)
	return t.frames()
}

// recorder is a comparable listener that remembers what it received.
type recorder struct {
	interest interfaces.Interest
	onMsg    func(r *recorder, msg types.Message)

	mu       sync.Mutex
	messages []types.Message
}

func newRecorder(interest interfaces.Interest) *recorder {
	return &recorder{interest: interest}
}

func (r *recorder) Interest() interfaces.Interest {
	return r.interest
}

func (r *recorder) OnMessage(msg types.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()

	if r.onMsg != nil {
		r.onMsg(r, msg)
	}
}

func (r *recorder) received() []types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Message(nil), r.messages...)
}

func (r *recorder) receivedTypes() []types.MessageType {
	var out []types.MessageType
	for _, msg := range r.received() {
		out = append(out, msg.GetType())
	}
	return out
}

func testLogger(t *testing.T) *zap.Logger {
	return zap.NewNop()
}

func newTestTradeSession(t *testing.T, dialer *fakeDialer, opts ...Option) *Session {
	t.Helper()
	base := []Option{
		WithDialer(dialer),
		WithReconnectDelay(5 * time.Millisecond),
		WithAuthTimeout(0),
	}
	s, err := NewTradeUpdatesClient(testLogger(t), KeyCredentials("key", "secret"), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(s.Disconnect)
	return s
}

// authenticate opens the latest transport and answers the handshake.
func authenticate(t *testing.T, s *Session, tr *fakeTransport) {
	t.Helper()
	tr.open()
	tr.waitFrames(t, 1)
	tr.text(authorizedFrame)
	require.Eventually(t, s.IsAuthenticated, time.Second, 2*time.Millisecond)
}

func nextError(t *testing.T, s *Session) error {
	t.Helper()
	select {
	case err := <-s.Errors():
		return err
	case <-time.After(time.Second):
		t.Fatal("no session error reported")
		return nil
	}
}
