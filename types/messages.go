package types

// MessageType is the discriminator value carried by every inbound frame.
type MessageType string

// Trade updates stream discriminators (the "stream" field).
const (
	StreamAuthorization  MessageType = "authorization"
	StreamListening      MessageType = "listening"
	StreamTradeUpdates   MessageType = "trade_updates"
	StreamAccountUpdates MessageType = "account_updates"
)

// Market data stream discriminators (the "T" field).
const (
	MarketTrade        MessageType = "t"
	MarketQuote        MessageType = "q"
	MarketBar          MessageType = "b"
	MarketDailyBar     MessageType = "d"
	MarketUpdatedBar   MessageType = "u"
	MarketSuccess      MessageType = "success"
	MarketError        MessageType = "error"
	MarketSubscription MessageType = "subscription"
)

// WildcardSymbol subscribes a market data type to every available symbol.
const WildcardSymbol = "*"

type Message interface {
	GetType() MessageType
}

// SymbolMessage is implemented by messages scoped to a single instrument.
type SymbolMessage interface {
	Message
	GetSymbol() string
}
