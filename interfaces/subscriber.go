package interfaces

import (
	"sort"

	"github.com/tradingiq/alpaca-client/types"
)

// Listener receives typed messages from a streaming session.
// Implementations must be comparable (pointer types are) so they can be removed again.
type Listener interface {
	// Interest is read once, when the listener is added.
	Interest() Interest

	OnMessage(msg types.Message)
}

// Interest declares which messages a listener wants.
//
// The zero value means "everything": the listener receives every message the
// stream produces and, on unscoped streams, subscribes to every default stream.
type Interest struct {
	// Types lists unscoped message types (trade updates, control frames).
	Types []types.MessageType

	// Symbols scopes market data interest per symbol. An empty type list for
	// a symbol means all subscribable types; types.WildcardSymbol matches every symbol.
	Symbols map[string][]types.MessageType
}

func (i Interest) IsEmpty() bool {
	return len(i.Types) == 0 && len(i.Symbols) == 0
}

// Wants reports whether a message of type t for symbol (empty when unscoped) matches.
// Only the zero Interest matches everything; control frames must be listed in Types.
func (i Interest) Wants(t types.MessageType, symbol string) bool {
	if i.IsEmpty() {
		return true
	}
	if containsType(i.Types, t) {
		return true
	}
	if symbol == "" {
		return false
	}

	for _, key := range []string{symbol, types.WildcardSymbol} {
		if wanted, ok := i.Symbols[key]; ok {
			if len(wanted) == 0 || containsType(wanted, t) {
				return true
			}
		}
	}
	return false
}

// SymbolKeys returns the declared symbols in a stable order.
func (i Interest) SymbolKeys() []string {
	keys := make([]string, 0, len(i.Symbols))
	for symbol := range i.Symbols {
		keys = append(keys, symbol)
	}
	sort.Strings(keys)
	return keys
}

func containsType(list []types.MessageType, t types.MessageType) bool {
	for _, candidate := range list {
		if candidate == t {
			return true
		}
	}
	return false
}

// TypesInterest builds an unscoped interest.
func TypesInterest(messageTypes ...types.MessageType) Interest {
	return Interest{Types: messageTypes}
}

// SymbolInterest builds a market data interest for the given symbols.
func SymbolInterest(messageTypes []types.MessageType, symbols ...string) Interest {
	scoped := make(map[string][]types.MessageType, len(symbols))
	for _, symbol := range symbols {
		scoped[symbol] = messageTypes
	}
	return Interest{Symbols: scoped}
}

type funcListener struct {
	interest Interest
	handler  func(types.Message)
}

func (l *funcListener) Interest() Interest {
	return l.interest
}

func (l *funcListener) OnMessage(msg types.Message) {
	l.handler(msg)
}

// NewListener adapts a plain function into a Listener.
func NewListener(interest Interest, handler func(types.Message)) Listener {
	return &funcListener{interest: interest, handler: handler}
}
