package websocket

import (
	"sync/atomic"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/tradingiq/alpaca-client/internal/queue"
)

type frame struct {
	gen    uint64
	data   []byte
	binary bool
}

// dispatcher decodes and delivers frames on a single worker goroutine, so
// listeners see messages in wire order and never run on the read loop.
type dispatcher struct {
	session *Session
	queue   *queue.Queue[frame]
	stopped atomic.Bool
}

func newDispatcher(s *Session) *dispatcher {
	d := &dispatcher{
		session: s,
		queue:   queue.New[frame](64),
	}
	go d.run()
	return d
}

func (d *dispatcher) enqueue(f frame) {
	d.queue.Push(f)
}

// stop discards queued frames and lets the worker exit after the message it
// is delivering. Safe to call from a listener callback.
func (d *dispatcher) stop() {
	if !d.stopped.CompareAndSwap(false, true) {
		return
	}
	d.queue.Close()

	stats := d.queue.Stats()
	d.session.logger.Debug("Stopped dispatcher",
		zap.Int64("dispatched", stats.Popped),
		zap.Int64("dropped", stats.Dropped))
}

func (d *dispatcher) run() {
	for {
		f, ok := d.queue.Pop()
		if !ok {
			return
		}
		d.process(f)
	}
}

func (d *dispatcher) process(f frame) {
	s := d.session
	if d.stopped.Load() || !s.isCurrent(f.gen) {
		return
	}

	if f.binary && !utf8.Valid(f.data) {
		s.logger.Warn("Dropped binary frame that is not valid UTF-8", zap.Int("size", len(f.data)))
		return
	}

	messages, err := s.protocol.Decode(f.data)
	if err != nil {
		s.logger.Warn("Failed to decode frame", zap.Error(err), zap.ByteString("frame", f.data))
	}

	for _, msg := range messages {
		if d.stopped.Load() {
			return
		}

		s.logger.Debug("Received message", zap.String("type", string(msg.GetType())))

		if set, ok := s.protocol.Acknowledged(msg); ok {
			s.subs.acknowledge(f.gen, set)
			s.logger.Info("Subscription acknowledged", zap.Any("subscriptions", set.Types()))
		}

		if handled, authErr := s.protocol.AuthResult(msg); handled {
			s.handleAuthResult(f.gen, authErr)
		}

		s.listeners.dispatch(msg)
	}
}
