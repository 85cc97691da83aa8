package websocket

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tradingiq/alpaca-client/interfaces"
	"github.com/tradingiq/alpaca-client/types"
)

func TestNewSession_RejectsInvalidCredentials(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
	}{
		{"none", Credentials{}},
		{"both", Credentials{KeyID: "key", SecretKey: "secret", OAuthToken: "token"}},
		{"key without secret", Credentials{KeyID: "key"}},
		{"secret without key", Credentials{SecretKey: "secret"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewTradeUpdatesClient(zap.NewNop(), tt.creds)
			assert.Nil(t, s)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}

	t.Run("oauth on market data", func(t *testing.T) {
		s, err := NewMarketDataClient(zap.NewNop(), OAuthCredentials("token"), FeedIEX)
		assert.Nil(t, s)
		assert.ErrorIs(t, err, ErrOAuthUnsupported)
	})

	t.Run("oauth on trade updates", func(t *testing.T) {
		s, err := NewTradeUpdatesClient(nil, OAuthCredentials("token"))
		require.NoError(t, err)
		assert.Equal(t, StateDisconnected, s.State())
		assert.NotEmpty(t, s.ID())
	})
}

func TestSession_ConnectIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer, WithConnectOnDemand(false))

	s.Connect()
	s.Connect()
	assert.Equal(t, 1, dialer.count())
	assert.Equal(t, StateConnecting, s.State())

	tr := dialer.last()
	tr.open()
	s.Connect()
	assert.True(t, s.IsConnected())

	tr.waitFrames(t, 1)
	tr.text(authorizedFrame)
	require.Eventually(t, s.IsAuthenticated, time.Second, 2*time.Millisecond)

	s.Connect()
	assert.Equal(t, 1, dialer.count())
	assert.Equal(t, StateAuthenticated, s.State())
}

func TestSession_AuthenticateThenListen(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer, WithConnectOnDemand(false))

	s.Connect()
	tr := dialer.last()
	tr.open()

	frames := tr.waitFrames(t, 1)
	assert.Equal(t, `{"action":"authenticate","data":{"key_id":"key","secret_key":"secret"}}`, frames[0])
	assert.Equal(t, StateAuthenticating, s.State())
	assert.False(t, s.IsAuthenticated())

	tr.text(authorizedFrame)
	require.Eventually(t, s.IsAuthenticated, time.Second, 2*time.Millisecond)
	assert.Len(t, tr.frames(), 1, "nothing to subscribe without listeners")

	require.NoError(t, s.AddListener(newRecorder(interfaces.TypesInterest(types.StreamTradeUpdates))))

	frames = tr.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, `{"action":"listen","data":{"streams":["trade_updates"]}}`, frames[1])

	// Same interest again: the server already has it.
	require.NoError(t, s.AddListener(newRecorder(interfaces.TypesInterest(types.StreamTradeUpdates))))
	assert.Len(t, tr.frames(), 2)
	assert.True(t, s.Converged())
}

func TestSession_OAuthHandshakeFrame(t *testing.T) {
	dialer := &fakeDialer{}
	s, err := NewTradeUpdatesClient(zap.NewNop(), OAuthCredentials("token"),
		WithDialer(dialer), WithConnectOnDemand(false), WithAuthTimeout(0))
	require.NoError(t, err)
	t.Cleanup(s.Disconnect)

	s.Connect()
	tr := dialer.last()
	tr.open()

	frames := tr.waitFrames(t, 1)
	assert.Equal(t, `{"action":"authenticate","data":{"oauth_token":"token"}}`, frames[0])
}

func TestSession_AuthRejectedIsTerminal(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer, WithConnectOnDemand(false))

	s.Connect()
	tr := dialer.last()
	tr.open()
	tr.waitFrames(t, 1)
	tr.text(unauthorizedFrame)

	err := nextError(t, s)
	assert.True(t, IsTerminal(err))
	assert.ErrorIs(t, err, ErrAuthRejected)
	assert.False(t, s.IsAuthenticated())

	require.Eventually(t, func() bool { return s.State() == StateDisconnected }, time.Second, 2*time.Millisecond)
	closed, code := tr.isClosed()
	assert.True(t, closed)
	assert.Equal(t, ClosePolicyViolation, code)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, dialer.count(), "rejection must not reconnect")
}

func TestSession_ReconnectOnAuthFailure(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer, WithConnectOnDemand(false), WithReconnectOnAuthFailure(true))

	s.Connect()
	tr := dialer.last()
	tr.open()
	tr.waitFrames(t, 1)
	tr.text(unauthorizedFrame)

	err := nextError(t, s)
	assert.False(t, IsTerminal(err))
	assert.ErrorIs(t, err, ErrAuthRejected)

	next := dialer.waitFor(t, 2)
	authenticate(t, s, next)
	assert.Equal(t, 0, s.ReconnectAttempts())
}

func TestSession_AuthRejectionsAreBounded(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer,
		WithConnectOnDemand(false),
		WithReconnectOnAuthFailure(true),
		WithMaxReconnectAttempts(1))

	s.Connect()
	for i := 1; i <= 2; i++ {
		tr := dialer.waitFor(t, i)
		tr.open()
		tr.waitFrames(t, 1)
		tr.text(unauthorizedFrame)
	}

	assert.False(t, IsTerminal(nextError(t, s)))

	err := nextError(t, s)
	assert.True(t, IsTerminal(err))
	assert.ErrorIs(t, err, ErrAuthRejected)
	assert.Equal(t, 2, dialer.count())
}

func TestSession_ReconnectBound(t *testing.T) {
	dialer := &fakeDialer{failDial: true}
	s := newTestTradeSession(t, dialer, WithConnectOnDemand(false), WithMaxReconnectAttempts(2))

	s.Connect()

	err := nextError(t, s)
	assert.True(t, IsTerminal(err))
	assert.ErrorIs(t, err, ErrReconnectExhausted)

	// One initial dial plus exactly two reconnects.
	assert.Equal(t, 3, dialer.count())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 3, dialer.count())
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 0, s.ReconnectAttempts())
}

func TestSession_ConnectionLostWithoutAutomaticReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer, WithConnectOnDemand(false), WithAutomaticReconnect(false))

	s.Connect()
	tr := dialer.last()
	authenticate(t, s, tr)

	tr.drop(CloseAbnormalClosure)

	err := nextError(t, s)
	assert.True(t, IsTerminal(err))
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 1, dialer.count())
}

func TestSession_ReconnectResubscribes(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer)

	listener := newRecorder(interfaces.TypesInterest(types.StreamTradeUpdates, types.StreamAccountUpdates))
	require.NoError(t, s.AddListener(listener))

	first := dialer.waitFor(t, 1)
	authenticate(t, s, first)
	frames := first.waitFrames(t, 2)
	assert.Equal(t, `{"action":"listen","data":{"streams":["account_updates","trade_updates"]}}`, frames[1])

	first.drop(CloseAbnormalClosure)
	assert.False(t, s.IsAuthenticated())

	second := dialer.waitFor(t, 2)
	assert.Equal(t, 1, s.ReconnectAttempts())
	assert.Empty(t, s.ActiveSubscriptions())

	authenticate(t, s, second)
	frames = second.waitFrames(t, 2)
	assert.Equal(t, `{"action":"listen","data":{"streams":["account_updates","trade_updates"]}}`, frames[1])
	assert.Equal(t, 0, s.ReconnectAttempts())
	require.Eventually(t, s.Converged, time.Second, 2*time.Millisecond)
}

func TestSession_DisconnectIsIntentional(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer, WithConnectOnDemand(false))

	s.Connect()
	tr := dialer.last()
	authenticate(t, s, tr)

	s.Disconnect()
	assert.False(t, s.IsAuthenticated())

	require.Eventually(t, func() bool { return s.State() == StateDisconnected }, time.Second, 2*time.Millisecond)
	closed, code := tr.isClosed()
	assert.True(t, closed)
	assert.Equal(t, CloseNormalClosure, code)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, dialer.count())
	assert.Empty(t, s.Errors())
}

func TestSession_DisconnectCancelsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer, WithConnectOnDemand(false), WithReconnectDelay(50*time.Millisecond))

	s.Connect()
	tr := dialer.last()
	authenticate(t, s, tr)

	tr.drop(CloseAbnormalClosure)
	assert.Equal(t, StateReconnecting, s.State())

	s.Disconnect()
	assert.Equal(t, StateDisconnected, s.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, dialer.count())
}

func TestSession_ConnectWhileClosingReopens(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer, WithConnectOnDemand(false))

	s.Connect()
	tr := dialer.last()
	authenticate(t, s, tr)

	s.Disconnect()
	s.Connect()

	next := dialer.waitFor(t, 2)
	authenticate(t, s, next)
}

func TestSession_AuthTimeout(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer, WithConnectOnDemand(false), WithAuthTimeout(20*time.Millisecond))

	s.Connect()
	tr := dialer.last()
	tr.open()

	err := nextError(t, s)
	assert.False(t, IsTerminal(err))
	assert.ErrorIs(t, err, ErrAuthTimeout)

	require.Eventually(t, func() bool {
		closed, code := tr.isClosed()
		return closed && code == ClosePolicyViolation
	}, time.Second, 2*time.Millisecond)

	dialer.waitFor(t, 2)
}

func TestSession_AuthTimeoutsAreBounded(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer,
		WithConnectOnDemand(false),
		WithAuthTimeout(10*time.Millisecond),
		WithMaxReconnectAttempts(1))

	s.Connect()
	dialer.waitFor(t, 1).open()

	err := nextError(t, s)
	assert.False(t, IsTerminal(err))
	assert.ErrorIs(t, err, ErrAuthTimeout)

	dialer.waitFor(t, 2).open()

	err = nextError(t, s)
	assert.True(t, IsTerminal(err))
	assert.ErrorIs(t, err, ErrAuthTimeout)

	require.Eventually(t, func() bool { return s.State() == StateDisconnected }, time.Second, 2*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, dialer.count())
}

func TestSession_AuthSendFailureClosesWithInternalError(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer, WithConnectOnDemand(false))

	s.Connect()
	tr := dialer.last()
	tr.mu.Lock()
	tr.sendErr = errors.New("broken pipe")
	tr.mu.Unlock()
	tr.open()

	require.Eventually(t, func() bool {
		closed, code := tr.isClosed()
		return closed && code == CloseInternalError
	}, time.Second, 2*time.Millisecond)
	assert.False(t, s.IsAuthenticated())
}

func TestSession_DispatchPreservesOrder(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer)

	listener := newRecorder(interfaces.Interest{})
	require.NoError(t, s.AddListener(listener))

	tr := dialer.last()
	authenticate(t, s, tr)

	tr.text(
		`{"stream":"listening","data":{"streams":["trade_updates"]}}`,
		tradeUpdateFrame,
		`{"stream":"account_updates","data":{"id":"acc","cash":"100"}}`,
	)

	want := []types.MessageType{
		types.StreamAuthorization,
		types.StreamListening,
		types.StreamTradeUpdates,
		types.StreamAccountUpdates,
	}
	require.Eventually(t, func() bool { return len(listener.received()) == len(want) }, time.Second, 2*time.Millisecond)
	assert.Equal(t, want, listener.receivedTypes())

	update, ok := listener.received()[2].(*types.TradeUpdateMessage)
	require.True(t, ok)
	assert.Equal(t, "fill", update.Data.Event)
	assert.Equal(t, "AAPL", update.GetSymbol())
	assert.Equal(t, 187.5, update.Data.Price.Decimal.InexactFloat64())
}

func TestSession_BinaryFramesAreDecoded(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer)

	listener := newRecorder(interfaces.TypesInterest(types.StreamTradeUpdates))
	require.NoError(t, s.AddListener(listener))

	tr := dialer.last()
	tr.open()
	tr.waitFrames(t, 1)
	tr.binary([]byte(authorizedFrame))
	require.Eventually(t, s.IsAuthenticated, time.Second, 2*time.Millisecond)

	tr.binary([]byte{0xff, 0xfe})
	tr.binary([]byte(tradeUpdateFrame))
	require.Eventually(t, func() bool { return len(listener.received()) == 1 }, time.Second, 2*time.Millisecond)
}

func TestSession_MalformedFramesAreDropped(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer)

	listener := newRecorder(interfaces.TypesInterest(types.StreamTradeUpdates))
	require.NoError(t, s.AddListener(listener))

	tr := dialer.last()
	authenticate(t, s, tr)

	tr.text(`not json`, `{"stream":"news","data":{}}`, `{"data":{}}`, tradeUpdateFrame)

	require.Eventually(t, func() bool { return len(listener.received()) == 1 }, time.Second, 2*time.Millisecond)
	assert.True(t, s.IsAuthenticated())
	assert.Empty(t, s.Errors())
}

func TestSession_ListenerRemovesItselfDuringDispatch(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer)

	steady := newRecorder(interfaces.TypesInterest(types.StreamTradeUpdates))
	once := newRecorder(interfaces.TypesInterest(types.StreamTradeUpdates))
	once.onMsg = func(r *recorder, msg types.Message) {
		s.RemoveListener(r)
	}

	require.NoError(t, s.AddListener(steady))
	require.NoError(t, s.AddListener(once))

	tr := dialer.last()
	authenticate(t, s, tr)

	tr.text(tradeUpdateFrame, tradeUpdateFrame, tradeUpdateFrame)

	require.Eventually(t, func() bool { return len(steady.received()) == 3 }, time.Second, 2*time.Millisecond)
	assert.Len(t, once.received(), 1)
	assert.Equal(t, 1, s.ListenerCount())
	assert.True(t, s.IsAuthenticated())
}

func TestSession_ListenerAddedDuringDispatch(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer)

	late := newRecorder(interfaces.TypesInterest(types.StreamTradeUpdates))
	var added atomic.Bool
	first := newRecorder(interfaces.TypesInterest(types.StreamTradeUpdates))
	first.onMsg = func(r *recorder, msg types.Message) {
		if added.CompareAndSwap(false, true) {
			assert.NoError(t, s.AddListener(late))
		}
	}
	require.NoError(t, s.AddListener(first))

	tr := dialer.last()
	authenticate(t, s, tr)

	tr.text(tradeUpdateFrame, tradeUpdateFrame)

	require.Eventually(t, func() bool { return len(first.received()) == 2 }, time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return len(late.received()) == 1 }, time.Second, 2*time.Millisecond)
}

func TestSession_NoDispatchAfterDisconnect(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer, WithConnectOnDemand(false))

	listener := newRecorder(interfaces.TypesInterest(types.StreamTradeUpdates))
	require.NoError(t, s.AddListener(listener))

	s.Connect()
	tr := dialer.last()
	authenticate(t, s, tr)

	tr.text(tradeUpdateFrame)
	require.Eventually(t, func() bool { return len(listener.received()) == 1 }, time.Second, 2*time.Millisecond)

	s.Disconnect()
	tr.text(tradeUpdateFrame, tradeUpdateFrame)
	require.Eventually(t, func() bool { return s.State() == StateDisconnected }, time.Second, 2*time.Millisecond)
	tr.text(tradeUpdateFrame)

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, listener.received(), 1)
}

func TestSession_PanickingListenerIsIsolated(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	dialer := &fakeDialer{}
	s, err := NewTradeUpdatesClient(zap.New(core), KeyCredentials("key", "secret"),
		WithDialer(dialer), WithAuthTimeout(0))
	require.NoError(t, err)
	t.Cleanup(s.Disconnect)

	bad := interfaces.NewListener(interfaces.TypesInterest(types.StreamTradeUpdates), func(types.Message) {
		panic("boom")
	})
	good := newRecorder(interfaces.TypesInterest(types.StreamTradeUpdates))
	require.NoError(t, s.AddListener(bad))
	require.NoError(t, s.AddListener(good))

	tr := dialer.last()
	authenticate(t, s, tr)
	tr.text(tradeUpdateFrame, tradeUpdateFrame)

	require.Eventually(t, func() bool { return len(good.received()) == 2 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, 2, logs.FilterMessage("Listener panicked").Len())
}

func TestSession_ConnectOnDemand(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer)

	assert.Equal(t, 0, dialer.count())

	a := newRecorder(interfaces.Interest{})
	b := newRecorder(interfaces.TypesInterest(types.StreamAccountUpdates))
	require.NoError(t, s.AddListener(a))
	assert.Equal(t, 1, dialer.count())

	tr := dialer.last()
	authenticate(t, s, tr)
	frames := tr.waitFrames(t, 2)
	assert.Equal(t, `{"action":"listen","data":{"streams":["trade_updates"]}}`, frames[1])

	require.NoError(t, s.AddListener(b))
	frames = tr.waitFrames(t, 3)
	assert.Equal(t, `{"action":"listen","data":{"streams":["account_updates","trade_updates"]}}`, frames[2])

	s.RemoveListener(a)
	frames = tr.waitFrames(t, 4)
	assert.Equal(t, `{"action":"listen","data":{"streams":["account_updates"]}}`, frames[3])

	s.RemoveListener(b)
	require.Eventually(t, func() bool { return s.State() == StateDisconnected }, time.Second, 2*time.Millisecond)
	closed, code := tr.isClosed()
	assert.True(t, closed)
	assert.Equal(t, CloseNormalClosure, code)

	require.NoError(t, s.AddListener(a))
	assert.Equal(t, 2, dialer.count())
}

func TestSession_AddListenerRejectsInvalid(t *testing.T) {
	s := newTestTradeSession(t, &fakeDialer{})

	assert.ErrorIs(t, s.AddListener(nil), ErrNilListener)

	var missing *recorder
	assert.ErrorIs(t, s.AddListener(missing), ErrNilListener)

	assert.ErrorIs(t, s.AddListener(sliceListener{}), ErrListenerNotComparable)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSession_SubscriptionConvergence(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer, WithConnectOnDemand(false))

	s.Connect()
	tr := dialer.last()
	authenticate(t, s, tr)

	listeners := []*recorder{
		newRecorder(interfaces.Interest{}),
		newRecorder(interfaces.TypesInterest(types.StreamAccountUpdates)),
		newRecorder(interfaces.TypesInterest(types.StreamTradeUpdates, types.StreamAccountUpdates)),
		newRecorder(interfaces.TypesInterest(types.StreamListening)),
	}

	steps := []struct {
		add   bool
		index int
	}{
		{true, 0}, {true, 1}, {false, 0}, {true, 3}, {true, 2}, {false, 1}, {false, 2}, {true, 0}, {false, 3},
	}

	for _, step := range steps {
		if step.add {
			require.NoError(t, s.AddListener(listeners[step.index]))
		} else {
			s.RemoveListener(listeners[step.index])
		}
		assert.True(t, s.Converged())
		assert.True(t, s.ActiveSubscriptions().Equal(s.DesiredSubscriptions()))
	}

	desired := s.DesiredSubscriptions()
	assert.Equal(t, []types.MessageType{types.StreamTradeUpdates}, desired.Types())

	frames := tr.frames()
	assert.Equal(t, `{"action":"listen","data":{"streams":["trade_updates"]}}`, frames[len(frames)-1])
}

func TestSession_SendFailureLeavesSubscriptionsPending(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer, WithConnectOnDemand(false))

	s.Connect()
	tr := dialer.last()
	authenticate(t, s, tr)

	tr.mu.Lock()
	tr.sendErr = errors.New("broken pipe")
	tr.mu.Unlock()

	require.NoError(t, s.AddListener(newRecorder(interfaces.Interest{})))
	assert.False(t, s.Converged())
	assert.Empty(t, s.ActiveSubscriptions())
}

func TestSession_RuntimeReconnectSettings(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestTradeSession(t, dialer, WithConnectOnDemand(false))

	s.SetMaxReconnectAttempts(1)
	s.Connect()
	tr := dialer.last()
	authenticate(t, s, tr)

	s.SetAutomaticallyReconnect(false)
	tr.drop(CloseAbnormalClosure)

	err := nextError(t, s)
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.Equal(t, 1, dialer.count())
}

type sliceListener struct {
	seen []types.Message
}

func (l sliceListener) Interest() interfaces.Interest {
	return interfaces.Interest{}
}

func (l sliceListener) OnMessage(msg types.Message) {}

func TestNewStreamingClient(t *testing.T) {
	dialer := &fakeDialer{}
	client, err := NewStreamingClient(zap.NewNop(), "wss://example.test/stream", NewTradeUpdatesProtocol(),
		KeyCredentials("key", "secret"), WithDialer(dialer), WithAuthTimeout(0))
	require.NoError(t, err)
	t.Cleanup(client.Disconnect)

	client.Connect()
	assert.Equal(t, "wss://example.test/stream", dialer.last().url)
	assert.False(t, client.IsAuthenticated())

	client, err = NewStreamingClient(zap.NewNop(), "", NewTradeUpdatesProtocol(), KeyCredentials("key", "secret"))
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "authenticating", StateAuthenticating.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
}
