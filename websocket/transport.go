package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const (
	CloseNormalClosure   = 1000
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011

	// CloseAbnormalClosure is reported locally for failed sockets and is
	// never sent on the wire.
	CloseAbnormalClosure = 1006

	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultReadLimit        = 1 << 20
)

// TransportEvents receives the lifecycle of one socket. Calls arrive from a
// single goroutine, and exactly one of OnClose or OnFailure ends the stream.
type TransportEvents interface {
	OnOpen()
	OnTextMessage(data []byte)
	OnBinaryMessage(data []byte)
	OnClose(code int, reason string)
	OnFailure(err error)
}

type Transport interface {
	Send(data []byte) error

	// Close starts the close handshake and returns without waiting for it.
	Close(code int, reason string)
}

// Dialer opens sockets. Dial returns immediately and never invokes events
// before it has returned.
type Dialer interface {
	Dial(url string, events TransportEvents) Transport
}

type transportSettings struct {
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	pingInterval     time.Duration
	readLimit        int64
}

func settingsOf(handshake, write, ping time.Duration, readLimit int64) transportSettings {
	s := transportSettings{
		handshakeTimeout: handshake,
		writeTimeout:     write,
		pingInterval:     ping,
		readLimit:        readLimit,
	}
	if s.handshakeTimeout <= 0 {
		s.handshakeTimeout = DefaultHandshakeTimeout
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = DefaultWriteTimeout
	}
	if s.readLimit == 0 {
		s.readLimit = DefaultReadLimit
	}
	return s
}

// CoderDialer is the default transport, built on github.com/coder/websocket.
// A negative PingInterval disables keepalive pings.
type CoderDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	ReadLimit        int64
	Header           http.Header
	Logger           *zap.Logger
}

func (d *CoderDialer) Dial(url string, events TransportEvents) Transport {
	ping := d.PingInterval
	if ping == 0 {
		ping = DefaultPingInterval
	}

	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &coderTransport{
		settings: settingsOf(d.HandshakeTimeout, d.WriteTimeout, ping, d.ReadLimit),
		header:   d.Header,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	go t.run(url, events)
	return t
}

type coderTransport struct {
	settings transportSettings
	header   http.Header
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	conn           *websocket.Conn
	closeRequested bool
	closeCode      int
	closeReason    string
}

func (t *coderTransport) run(url string, events TransportEvents) {
	defer t.cancel()

	dialCtx, dialCancel := context.WithTimeout(t.ctx, t.settings.handshakeTimeout)
	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{HTTPHeader: t.header})
	dialCancel()
	if err != nil {
		if code, reason, requested := t.requested(); requested {
			events.OnClose(code, reason)
			return
		}
		events.OnFailure(fmt.Errorf("failed to connect to websocket: %w", err))
		return
	}

	if t.settings.readLimit > 0 {
		conn.SetReadLimit(t.settings.readLimit)
	}

	t.mu.Lock()
	if t.closeRequested {
		code, reason := t.closeCode, t.closeReason
		t.mu.Unlock()
		conn.CloseNow()
		events.OnClose(code, reason)
		return
	}
	t.conn = conn
	t.mu.Unlock()

	events.OnOpen()

	go t.pingLoop(conn)

	for {
		typ, data, err := conn.Read(t.ctx)
		if err != nil {
			conn.CloseNow()
			t.finish(err, events)
			return
		}

		switch typ {
		case websocket.MessageText:
			events.OnTextMessage(data)
		case websocket.MessageBinary:
			events.OnBinaryMessage(data)
		}
	}
}

func (t *coderTransport) finish(err error, events TransportEvents) {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		events.OnClose(int(closeErr.Code), closeErr.Reason)
		return
	}
	if code, reason, requested := t.requested(); requested {
		events.OnClose(code, reason)
		return
	}
	events.OnFailure(fmt.Errorf("failed to read message: %w", err))
}

func (t *coderTransport) requested() (int, string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode, t.closeReason, t.closeRequested
}

func (t *coderTransport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	closing := t.closeRequested
	t.mu.Unlock()

	if conn == nil || closing {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(t.ctx, t.settings.writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (t *coderTransport) Close(code int, reason string) {
	t.mu.Lock()
	if t.closeRequested {
		t.mu.Unlock()
		return
	}
	t.closeRequested = true
	t.closeCode = code
	t.closeReason = reason
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		t.cancel()
		return
	}

	go func() {
		if err := conn.Close(websocket.StatusCode(code), reason); err != nil {
			t.logger.Debug("Close handshake did not complete", zap.Error(err))
		}
	}()
}

func (t *coderTransport) pingLoop(conn *websocket.Conn) {
	if t.settings.pingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(t.settings.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(t.ctx, t.settings.writeTimeout)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				if t.ctx.Err() != nil {
					return
				}
				t.logger.Warn("Failed to send ping", zap.Error(err))
				conn.CloseNow()
				return
			}
		}
	}
}
