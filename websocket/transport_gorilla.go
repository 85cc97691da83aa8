package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// GorillaDialer is an alternative transport built on github.com/gorilla/websocket.
// A negative PingInterval disables keepalive pings.
type GorillaDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	ReadLimit        int64
	Header           http.Header
	Logger           *zap.Logger
}

func (d *GorillaDialer) Dial(url string, events TransportEvents) Transport {
	ping := d.PingInterval
	if ping == 0 {
		ping = DefaultPingInterval
	}

	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &gorillaTransport{
		settings: settingsOf(d.HandshakeTimeout, d.WriteTimeout, ping, d.ReadLimit),
		header:   d.Header,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go t.run(url, events)
	return t
}

type gorillaTransport struct {
	settings transportSettings
	header   http.Header
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex

	mu             sync.Mutex
	conn           *gws.Conn
	closeRequested bool
	closeCode      int
	closeReason    string
}

func (t *gorillaTransport) run(url string, events TransportEvents) {
	defer t.cancel()
	defer close(t.done)

	dialer := gws.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.settings.handshakeTimeout,
	}

	conn, _, err := dialer.DialContext(t.ctx, url, t.header)
	if err != nil {
		if code, reason, requested := t.requested(); requested {
			events.OnClose(code, reason)
			return
		}
		events.OnFailure(fmt.Errorf("failed to connect to websocket: %w", err))
		return
	}
	defer conn.Close()

	if t.settings.readLimit > 0 {
		conn.SetReadLimit(t.settings.readLimit)
	}

	t.mu.Lock()
	if t.closeRequested {
		code, reason := t.closeCode, t.closeReason
		t.mu.Unlock()
		events.OnClose(code, reason)
		return
	}
	t.conn = conn
	t.mu.Unlock()

	if t.settings.pingInterval > 0 {
		t.extendReadDeadline(conn)
		conn.SetPongHandler(func(string) error {
			t.extendReadDeadline(conn)
			return nil
		})
		go t.pingLoop(conn)
	}

	events.OnOpen()

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			t.finish(err, events)
			return
		}
		if t.settings.pingInterval > 0 {
			t.extendReadDeadline(conn)
		}

		switch typ {
		case gws.TextMessage:
			events.OnTextMessage(data)
		case gws.BinaryMessage:
			events.OnBinaryMessage(data)
		}
	}
}

// extendReadDeadline allows two missed ping intervals before the read fails.
func (t *gorillaTransport) extendReadDeadline(conn *gws.Conn) {
	conn.SetReadDeadline(time.Now().Add(2*t.settings.pingInterval + t.settings.writeTimeout))
}

func (t *gorillaTransport) finish(err error, events TransportEvents) {
	var closeErr *gws.CloseError
	if errors.As(err, &closeErr) {
		events.OnClose(closeErr.Code, closeErr.Text)
		return
	}
	if code, reason, requested := t.requested(); requested {
		events.OnClose(code, reason)
		return
	}
	events.OnFailure(fmt.Errorf("failed to read message: %w", err))
}

func (t *gorillaTransport) requested() (int, string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode, t.closeReason, t.closeRequested
}

func (t *gorillaTransport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	closing := t.closeRequested
	t.mu.Unlock()

	if conn == nil || closing {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(t.settings.writeTimeout))
	if err := conn.WriteMessage(gws.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (t *gorillaTransport) Close(code int, reason string) {
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
		deadline := time.Now().Add(t.settings.writeTimeout)
		if err := conn.WriteControl(gws.CloseMessage, gws.FormatCloseMessage(code, reason), deadline); err != nil {
			t.logger.Debug("Failed to send close frame", zap.Error(err))
			conn.Close()
			return
		}

		// Drop the socket if the peer never answers the close frame.
		select {
		case <-t.done:
		case <-time.After(t.settings.writeTimeout):
			conn.Close()
		}
	}()
}

func (t *gorillaTransport) pingLoop(conn *gws.Conn) {
	ticker := time.NewTicker(t.settings.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.settings.writeTimeout)
			if err := conn.WriteControl(gws.PingMessage, []byte("keepalive"), deadline); err != nil {
				select {
				case <-t.done:
					return
				default:
				}
				t.logger.Warn("Failed to send ping", zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}
