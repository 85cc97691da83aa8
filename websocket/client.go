package websocket

import (
	"go.uber.org/zap"

	"github.com/tradingiq/alpaca-client/interfaces"
)

// NewTradeUpdatesClient returns a session on the paper trading account
// stream. Use WithURL(TradeUpdatesLiveURL) for live accounts.
func NewTradeUpdatesClient(logger *zap.Logger, creds Credentials, opts ...Option) (*Session, error) {
	return NewSession(logger, TradeUpdatesPaperURL, NewTradeUpdatesProtocol(), creds, opts...)
}

// NewMarketDataClient returns a session on the stock market data stream for feed ("iex" or "sip").
func NewMarketDataClient(logger *zap.Logger, creds Credentials, feed string, opts ...Option) (*Session, error) {
	return NewSession(logger, MarketDataURL(feed), NewMarketDataProtocol(), creds, opts...)
}

func NewStreamingClient(logger *zap.Logger, url string, protocol Protocol, creds Credentials, opts ...Option) (interfaces.StreamingClient, error) {
	session, err := NewSession(logger, url, protocol, creds, opts...)
	if err != nil {
		return nil, err
	}
	return session, nil
}
