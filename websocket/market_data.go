package websocket

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/tradingiq/alpaca-client/interfaces"
	"github.com/tradingiq/alpaca-client/types"
)

const (
	MarketDataBaseURL = "wss://stream.data.alpaca.markets/v2"

	FeedIEX = "iex"
	FeedSIP = "sip"
)

// MarketDataURL returns the stream endpoint for a feed.
func MarketDataURL(feed string) string {
	if feed == "" {
		feed = FeedIEX
	}
	return fmt.Sprintf("%s/%s", MarketDataBaseURL, feed)
}

// defaultMarketTypes is what a symbol subscribes to when no types are named.
var defaultMarketTypes = []types.MessageType{types.MarketTrade, types.MarketQuote, types.MarketBar}

var marketSubscribable = []types.MessageType{
	types.MarketTrade,
	types.MarketQuote,
	types.MarketBar,
	types.MarketDailyBar,
	types.MarketUpdatedBar,
}

// MarketDataProtocol speaks the v2 market data stream: frames are arrays of
// objects keyed by "T" and subscriptions change incrementally.
type MarketDataProtocol struct{}

func NewMarketDataProtocol() *MarketDataProtocol {
	return &MarketDataProtocol{}
}

func (p *MarketDataProtocol) Name() string {
	return "market_data"
}

func (p *MarketDataProtocol) AuthFrame(creds Credentials) ([]byte, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if creds.IsOAuth() {
		return nil, ErrOAuthUnsupported
	}

	data, err := json.Marshal(types.NewMarketDataAuthRequest(creds.KeyID, creds.SecretKey))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal auth request: %w", err)
	}
	return data, nil
}

func (p *MarketDataProtocol) Decode(frame []byte) ([]types.Message, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedFrame)
	}

	var items []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
	} else {
		items = []json.RawMessage{trimmed}
	}

	messages := make([]types.Message, 0, len(items))
	var errs []error
	for _, item := range items {
		msg, err := decodeMarketItem(item)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, errors.Join(errs...)
}

func decodeMarketItem(item json.RawMessage) (types.Message, error) {
	// Keys are matched exactly: data items also carry a lowercase "t" timestamp.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	raw, ok := fields["T"]
	if !ok {
		return nil, fmt.Errorf("%w: missing T field", ErrMalformedFrame)
	}
	var messageType types.MessageType
	if err := json.Unmarshal(raw, &messageType); err != nil {
		return nil, fmt.Errorf("%w: invalid T field: %v", ErrMalformedFrame, err)
	}

	var msg types.Message
	switch messageType {
	case types.MarketTrade:
		msg = &types.TradeMessage{}
	case types.MarketQuote:
		msg = &types.QuoteMessage{}
	case types.MarketBar, types.MarketDailyBar, types.MarketUpdatedBar:
		msg = &types.BarMessage{}
	case types.MarketSuccess:
		msg = &types.SuccessMessage{}
	case types.MarketError:
		msg = &types.ErrorMessage{}
	case types.MarketSubscription:
		msg = &types.SubscriptionMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, messageType)
	}

	if err := json.Unmarshal(item, msg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal %s: %v", ErrMalformedFrame, messageType, err)
	}
	if bar, ok := msg.(*types.BarMessage); ok {
		bar.Type = messageType
	}
	return msg, nil
}

// AuthResult treats "authenticated" as success and any error frame as a
// failure; the session decides whether that failure rejects the handshake.
// The initial "connected" greeting is not an answer.
func (p *MarketDataProtocol) AuthResult(msg types.Message) (bool, error) {
	switch m := msg.(type) {
	case *types.SuccessMessage:
		if m.Msg == "authenticated" {
			return true, nil
		}
		return false, nil
	case *types.ErrorMessage:
		return true, m
	}
	return false, nil
}

func (p *MarketDataProtocol) Acknowledged(msg types.Message) (SubscriptionSet, bool) {
	sub, ok := msg.(*types.SubscriptionMessage)
	if !ok {
		return nil, false
	}

	set := NewSubscriptionSet()
	for _, t := range marketSubscribable {
		if symbols := sub.Symbols(t); len(symbols) > 0 {
			set.Add(t, symbols...)
		}
	}
	return set, true
}

// Desired folds interests in registration order. A wildcard and explicit
// symbols for the same type cannot coexist; whichever comes last wins.
func (p *MarketDataProtocol) Desired(interests []interfaces.Interest) SubscriptionSet {
	set := NewSubscriptionSet()
	for _, interest := range interests {
		for _, symbol := range interest.SymbolKeys() {
			wanted := interest.Symbols[symbol]
			if len(wanted) == 0 {
				wanted = defaultMarketTypes
			}

			for _, t := range wanted {
				if !marketDataSubscribable(t) {
					continue
				}
				switch {
				case symbol == types.WildcardSymbol:
					delete(set, t)
				case set.Has(t, types.WildcardSymbol):
					delete(set, t)
				}
				set.Add(t, symbol)
			}
		}
	}
	return set
}

// Plan unsubscribes what is no longer wanted before subscribing what is new.
func (p *MarketDataProtocol) Plan(active, desired SubscriptionSet) ([][]byte, error) {
	unsubscribe := &types.MarketDataSubscribeRequest{Action: "unsubscribe"}
	subscribe := &types.MarketDataSubscribeRequest{Action: "subscribe"}

	for _, t := range marketSubscribable {
		unsubscribe.Set(t, difference(active[t], desired[t]))
		subscribe.Set(t, difference(desired[t], active[t]))
	}

	var frames [][]byte
	for _, req := range []*types.MarketDataSubscribeRequest{unsubscribe, subscribe} {
		if req.IsEmpty() {
			continue
		}
		data, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s request: %w", req.Action, err)
		}
		frames = append(frames, data)
	}
	return frames, nil
}

func marketDataSubscribable(t types.MessageType) bool {
	for _, candidate := range marketSubscribable {
		if candidate == t {
			return true
		}
	}
	return false
}

// difference returns the sorted symbols in a but not in b.
func difference(a, b map[string]struct{}) []string {
	var out []string
	for symbol := range a {
		if _, ok := b[symbol]; !ok {
			out = append(out, symbol)
		}
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
