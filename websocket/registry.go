package websocket

import (
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/tradingiq/alpaca-client/interfaces"
	"github.com/tradingiq/alpaca-client/types"
)

type registration struct {
	listener interfaces.Listener
	interest interfaces.Interest
}

// listenerRegistry buffers adds and removes and applies them in one step
// before each dispatch pass, so callbacks may register or unregister
// listeners (themselves included) while a pass is running.
type listenerRegistry struct {
	mu            sync.Mutex
	live          []*registration
	pendingAdd    []*registration
	pendingRemove []interfaces.Listener

	logger *zap.Logger
}

func newListenerRegistry(logger *zap.Logger) *listenerRegistry {
	return &listenerRegistry{logger: logger}
}

// add returns first=true when the registry was empty before the call.
// Adding a listener that is already registered is a no-op.
func (r *listenerRegistry) add(listener interfaces.Listener) (bool, error) {
	if err := checkListener(listener); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.containsLocked(listener) {
		return false, nil
	}

	first := r.countLocked() == 0

	if i := indexOfListener(r.pendingRemove, listener); i >= 0 {
		r.pendingRemove = append(r.pendingRemove[:i], r.pendingRemove[i+1:]...)
		return first, nil
	}

	r.pendingAdd = append(r.pendingAdd, &registration{
		listener: listener,
		interest: listener.Interest(),
	})
	return first, nil
}

// remove returns last=true when the call emptied the registry.
func (r *listenerRegistry) remove(listener interfaces.Listener) (last bool, found bool) {
	if checkListener(listener) != nil {
		return false, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.containsLocked(listener) {
		return false, false
	}

	if i := indexOfRegistration(r.pendingAdd, listener); i >= 0 {
		r.pendingAdd = append(r.pendingAdd[:i], r.pendingAdd[i+1:]...)
	} else {
		r.pendingRemove = append(r.pendingRemove, listener)
	}
	return r.countLocked() == 0, true
}

func (r *listenerRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked()
}

// snapshot applies pending changes and returns a copy of the live set.
func (r *listenerRegistry) snapshot() []*registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconcileLocked()
	return append([]*registration(nil), r.live...)
}

// interests returns declared interests in registration order.
func (r *listenerRegistry) interests() []interfaces.Interest {
	regs := r.snapshot()
	out := make([]interfaces.Interest, 0, len(regs))
	for _, reg := range regs {
		out = append(out, reg.interest)
	}
	return out
}

func (r *listenerRegistry) dispatch(msg types.Message) {
	var symbol string
	if scoped, ok := msg.(types.SymbolMessage); ok {
		symbol = scoped.GetSymbol()
	}

	for _, reg := range r.snapshot() {
		if reg.interest.Wants(msg.GetType(), symbol) {
			r.deliver(reg.listener, msg)
		}
	}
}

func (r *listenerRegistry) deliver(listener interfaces.Listener, msg types.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Listener panicked",
				zap.String("type", string(msg.GetType())),
				zap.String("listener", fmt.Sprintf("%T", listener)),
				zap.Any("panic", rec))
		}
	}()
	listener.OnMessage(msg)
}

func (r *listenerRegistry) reconcileLocked() {
	if len(r.pendingRemove) > 0 {
		kept := r.live[:0]
		for _, reg := range r.live {
			if indexOfListener(r.pendingRemove, reg.listener) < 0 {
				kept = append(kept, reg)
			}
		}
		for i := len(kept); i < len(r.live); i++ {
			r.live[i] = nil
		}
		r.live = kept
		r.pendingRemove = nil
	}

	if len(r.pendingAdd) > 0 {
		r.live = append(r.live, r.pendingAdd...)
		r.pendingAdd = nil
	}
}

func (r *listenerRegistry) containsLocked(listener interfaces.Listener) bool {
	if indexOfRegistration(r.pendingAdd, listener) >= 0 {
		return true
	}
	return indexOfRegistration(r.live, listener) >= 0 && indexOfListener(r.pendingRemove, listener) < 0
}

func (r *listenerRegistry) countLocked() int {
	return len(r.live) - len(r.pendingRemove) + len(r.pendingAdd)
}

func checkListener(listener interfaces.Listener) error {
	if listener == nil {
		return ErrNilListener
	}
	v := reflect.ValueOf(listener)
	if v.Kind() == reflect.Ptr && v.IsNil() {
		return ErrNilListener
	}
	if !v.Type().Comparable() {
		return fmt.Errorf("%w: %T", ErrListenerNotComparable, listener)
	}
	return nil
}

func indexOfRegistration(regs []*registration, listener interfaces.Listener) int {
	for i, reg := range regs {
		if reg.listener == listener {
			return i
		}
	}
	return -1
}

func indexOfListener(listeners []interfaces.Listener, listener interfaces.Listener) int {
	for i, candidate := range listeners {
		if candidate == listener {
			return i
		}
	}
	return -1
}
