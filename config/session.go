package config

import (
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/tradingiq/alpaca-client/websocket"
)

// SessionCredentials converts the credentials section.
func (c *Config) SessionCredentials() websocket.Credentials {
	return websocket.Credentials{
		KeyID:      c.Credentials.KeyID,
		SecretKey:  c.Credentials.SecretKey,
		OAuthToken: c.Credentials.OAuthToken,
	}
}

// Dialer builds the configured transport.
func (c *TransportConfig) Dialer(logger *zap.Logger) websocket.Dialer {
	if c.Library == LibraryGorilla {
		return &websocket.GorillaDialer{
			HandshakeTimeout: c.HandshakeTimeout,
			WriteTimeout:     c.WriteTimeout,
			PingInterval:     c.PingInterval,
			ReadLimit:        c.ReadLimit,
			Logger:           logger,
		}
	}
	return &websocket.CoderDialer{
		HandshakeTimeout: c.HandshakeTimeout,
		WriteTimeout:     c.WriteTimeout,
		PingInterval:     c.PingInterval,
		ReadLimit:        c.ReadLimit,
		Logger:           logger,
	}
}

// BackOff returns the delay policy between reconnect attempts.
func (c *ReconnectConfig) BackOff() backoff.BackOff {
	if !c.Exponential {
		return backoff.NewConstantBackOff(c.Delay)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Delay
	b.MaxInterval = c.MaxDelay
	b.Reset()
	return b
}

// SessionOptions maps the file onto session options. Omitted fields keep the
// session defaults.
func (c *Config) SessionOptions(logger *zap.Logger) []websocket.Option {
	opts := []websocket.Option{
		websocket.WithBackOff(c.Reconnect.BackOff()),
		websocket.WithReconnectOnAuthFailure(c.Reconnect.RetryOnAuthFailure),
		websocket.WithDialer(c.Transport.Dialer(logger)),
	}
	if c.Reconnect.MaxAttempts != nil {
		opts = append(opts, websocket.WithMaxReconnectAttempts(*c.Reconnect.MaxAttempts))
	}
	if c.Reconnect.AuthTimeout != nil {
		opts = append(opts, websocket.WithAuthTimeout(*c.Reconnect.AuthTimeout))
	}
	if c.Reconnect.Automatic != nil {
		opts = append(opts, websocket.WithAutomaticReconnect(*c.Reconnect.Automatic))
	}
	if c.Reconnect.ConnectOnDemand != nil {
		opts = append(opts, websocket.WithConnectOnDemand(*c.Reconnect.ConnectOnDemand))
	}
	return opts
}

func (c *Config) NewTradeUpdatesSession(logger *zap.Logger) (*websocket.Session, error) {
	opts := append(c.SessionOptions(logger), websocket.WithURL(c.TradeUpdates.URL))
	return websocket.NewTradeUpdatesClient(logger, c.SessionCredentials(), opts...)
}

func (c *Config) NewMarketDataSession(logger *zap.Logger) (*websocket.Session, error) {
	opts := append(c.SessionOptions(logger), websocket.WithURL(c.MarketData.URL))
	return websocket.NewMarketDataClient(logger, c.SessionCredentials(), c.MarketData.Feed, opts...)
}
