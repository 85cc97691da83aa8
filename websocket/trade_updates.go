package websocket

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tradingiq/alpaca-client/interfaces"
	"github.com/tradingiq/alpaca-client/types"
)

const (
	TradeUpdatesPaperURL = "wss://paper-api.alpaca.markets/stream"
	TradeUpdatesLiveURL  = "wss://api.alpaca.markets/stream"
)

// TradeUpdatesProtocol speaks the account stream: frames carry a "stream"
// discriminator and subscriptions are replaced wholesale by a listen frame.
type TradeUpdatesProtocol struct{}

func NewTradeUpdatesProtocol() *TradeUpdatesProtocol {
	return &TradeUpdatesProtocol{}
}

func (p *TradeUpdatesProtocol) Name() string {
	return "trade_updates"
}

func (p *TradeUpdatesProtocol) AuthFrame(creds Credentials) ([]byte, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	var req *types.AuthRequest
	if creds.IsOAuth() {
		req = types.NewAuthRequest("", "", creds.OAuthToken)
	} else {
		req = types.NewAuthRequest(creds.KeyID, creds.SecretKey, "")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal auth request: %w", err)
	}
	return data, nil
}

type streamEnvelope struct {
	Stream *types.MessageType `json:"stream"`
}

func (p *TradeUpdatesProtocol) Decode(frame []byte) ([]types.Message, error) {
	var envelope streamEnvelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if envelope.Stream == nil {
		return nil, fmt.Errorf("%w: missing stream field", ErrMalformedFrame)
	}

	var msg types.Message
	switch *envelope.Stream {
	case types.StreamAuthorization:
		msg = &types.AuthorizationMessage{}
	case types.StreamListening:
		msg = &types.ListeningMessage{}
	case types.StreamTradeUpdates:
		msg = &types.TradeUpdateMessage{}
	case types.StreamAccountUpdates:
		msg = &types.AccountUpdateMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, *envelope.Stream)
	}

	if err := json.Unmarshal(frame, msg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal %s: %v", ErrMalformedFrame, *envelope.Stream, err)
	}
	return []types.Message{msg}, nil
}

func (p *TradeUpdatesProtocol) AuthResult(msg types.Message) (bool, error) {
	auth, ok := msg.(*types.AuthorizationMessage)
	if !ok {
		return false, nil
	}

	if strings.EqualFold(auth.Data.Status, "authorized") && strings.EqualFold(auth.Data.Action, "authenticate") {
		return true, nil
	}
	return true, fmt.Errorf("%w: status %q action %q", ErrAuthRejected, auth.Data.Status, auth.Data.Action)
}

func (p *TradeUpdatesProtocol) Acknowledged(msg types.Message) (SubscriptionSet, bool) {
	listening, ok := msg.(*types.ListeningMessage)
	if !ok {
		return nil, false
	}

	set := NewSubscriptionSet()
	for _, stream := range listening.Data.Streams {
		set.Add(stream)
	}
	return set, true
}

// Desired subscribes trade_updates for listeners that declare no stream;
// account_updates is only sent when asked for.
func (p *TradeUpdatesProtocol) Desired(interests []interfaces.Interest) SubscriptionSet {
	set := NewSubscriptionSet()
	for _, interest := range interests {
		wanted := append([]types.MessageType(nil), interest.Types...)
		for _, symbol := range interest.SymbolKeys() {
			wanted = append(wanted, interest.Symbols[symbol]...)
		}

		if len(wanted) == 0 {
			set.Add(types.StreamTradeUpdates)
			continue
		}
		for _, t := range wanted {
			if tradeUpdatesSubscribable(t) {
				set.Add(t)
			}
		}
	}
	return set
}

func (p *TradeUpdatesProtocol) Plan(active, desired SubscriptionSet) ([][]byte, error) {
	if active.Equal(desired) {
		return nil, nil
	}

	data, err := json.Marshal(types.NewListenRequest(desired.Types()))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal listen request: %w", err)
	}
	return [][]byte{data}, nil
}

func tradeUpdatesSubscribable(t types.MessageType) bool {
	return t == types.StreamTradeUpdates || t == types.StreamAccountUpdates
}
