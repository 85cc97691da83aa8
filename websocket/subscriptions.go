package websocket

import "sync"

// subscriptionManager tracks what listeners want against what the current
// connection has been told. Updates tagged with an older connection
// generation are ignored.
type subscriptionManager struct {
	mu      sync.Mutex
	gen     uint64
	desired SubscriptionSet
	active  SubscriptionSet
}

func newSubscriptionManager() *subscriptionManager {
	return &subscriptionManager{
		desired: NewSubscriptionSet(),
		active:  NewSubscriptionSet(),
	}
}

func (m *subscriptionManager) setDesired(set SubscriptionSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.desired = set.Clone()
}

// reset forgets the active set; a new connection starts with nothing subscribed.
func (m *subscriptionManager) reset(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen = gen
	m.active = NewSubscriptionSet()
}

// activeFor returns the active set if gen is still the current connection.
func (m *subscriptionManager) activeFor(gen uint64) (SubscriptionSet, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return nil, false
	}
	return m.active.Clone(), true
}

func (m *subscriptionManager) commit(gen uint64, set SubscriptionSet) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	m.active = set.Clone()
	return true
}

// acknowledge records the set the server reports as live.
func (m *subscriptionManager) acknowledge(gen uint64, set SubscriptionSet) bool {
	return m.commit(gen, set)
}

func (m *subscriptionManager) snapshot() (desired, active SubscriptionSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.desired.Clone(), m.active.Clone()
}

func (m *subscriptionManager) converged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.desired.Equal(m.active)
}
