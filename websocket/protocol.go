package websocket

import (
	"sort"

	"github.com/tradingiq/alpaca-client/interfaces"
	"github.com/tradingiq/alpaca-client/types"
)

// Protocol captures everything that differs between streams: how to
// authenticate, how frames are classified and decoded, and how the
// subscription set is put on the wire.
type Protocol interface {
	Name() string

	AuthFrame(creds Credentials) ([]byte, error)

	// Decode turns one text frame into typed messages. Messages decoded before
	// an error are still returned.
	Decode(frame []byte) ([]types.Message, error)

	// AuthResult reports whether msg answers the auth frame, and if so
	// whether the server accepted it.
	AuthResult(msg types.Message) (handled bool, err error)

	// Acknowledged returns the subscription set the server confirmed, if msg is an acknowledgement.
	Acknowledged(msg types.Message) (SubscriptionSet, bool)

	Desired(interests []interfaces.Interest) SubscriptionSet

	// Plan returns the control frames that move the server from active to
	// desired. No frames means nothing to send.
	Plan(active, desired SubscriptionSet) ([][]byte, error)
}

// SubscriptionSet maps a message type to its symbols. Unscoped streams use
// an empty symbol set per type.
type SubscriptionSet map[types.MessageType]map[string]struct{}

func NewSubscriptionSet() SubscriptionSet {
	return make(SubscriptionSet)
}

// Add registers a type, plus any symbols under it.
func (s SubscriptionSet) Add(t types.MessageType, symbols ...string) {
	set, ok := s[t]
	if !ok {
		set = make(map[string]struct{})
		s[t] = set
	}
	for _, symbol := range symbols {
		set[symbol] = struct{}{}
	}
}

func (s SubscriptionSet) Has(t types.MessageType, symbol string) bool {
	set, ok := s[t]
	if !ok {
		return false
	}
	if symbol == "" {
		return true
	}
	_, ok = set[symbol]
	return ok
}

func (s SubscriptionSet) Types() []types.MessageType {
	out := make([]types.MessageType, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s SubscriptionSet) Symbols(t types.MessageType) []string {
	set := s[t]
	out := make([]string, 0, len(set))
	for symbol := range set {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func (s SubscriptionSet) Len() int {
	return len(s)
}

func (s SubscriptionSet) Equal(other SubscriptionSet) bool {
	if len(s) != len(other) {
		return false
	}
	for t, set := range s {
		otherSet, ok := other[t]
		if !ok || !sameSymbols(set, otherSet) {
			return false
		}
	}
	return true
}

func (s SubscriptionSet) Clone() SubscriptionSet {
	out := make(SubscriptionSet, len(s))
	for t, set := range s {
		copied := make(map[string]struct{}, len(set))
		for symbol := range set {
			copied[symbol] = struct{}{}
		}
		out[t] = copied
	}
	return out
}

func sameSymbols(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for symbol := range a {
		if _, ok := b[symbol]; !ok {
			return false
		}
	}
	return true
}
