package config

import (
	"time"

	"github.com/tradingiq/alpaca-client/websocket"
)

// Default values for optional configuration fields.
const (
	DefaultFeed             = websocket.FeedIEX
	DefaultMaxAttempts      = websocket.DefaultMaxReconnectAttempts
	DefaultReconnectDelay   = websocket.DefaultReconnectDelay
	DefaultMaxDelay         = 60 * time.Second
	DefaultAuthTimeout      = websocket.DefaultAuthTimeout
	DefaultLibrary          = LibraryCoder
	DefaultHandshakeTimeout = websocket.DefaultHandshakeTimeout
	DefaultWriteTimeout     = websocket.DefaultWriteTimeout
	DefaultPingInterval     = websocket.DefaultPingInterval
	DefaultReadLimit        = websocket.DefaultReadLimit
	DefaultLogLevel         = "info"
)

const (
	LibraryCoder   = "coder"
	LibraryGorilla = "gorilla"
)

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.TradeUpdates.URL == "" {
		c.TradeUpdates.URL = websocket.TradeUpdatesPaperURL
		if c.TradeUpdates.Live {
			c.TradeUpdates.URL = websocket.TradeUpdatesLiveURL
		}
	}

	if c.MarketData.Feed == "" {
		c.MarketData.Feed = DefaultFeed
	}
	if c.MarketData.URL == "" {
		c.MarketData.URL = websocket.MarketDataURL(c.MarketData.Feed)
	}

	// Reconnect defaults
	if c.Reconnect.Automatic == nil {
		enabled := true
		c.Reconnect.Automatic = &enabled
	}
	if c.Reconnect.MaxAttempts == nil {
		attempts := DefaultMaxAttempts
		c.Reconnect.MaxAttempts = &attempts
	}
	if c.Reconnect.Delay == 0 {
		c.Reconnect.Delay = DefaultReconnectDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultMaxDelay
	}
	if c.Reconnect.AuthTimeout == nil {
		timeout := DefaultAuthTimeout
		c.Reconnect.AuthTimeout = &timeout
	}
	if c.Reconnect.ConnectOnDemand == nil {
		enabled := true
		c.Reconnect.ConnectOnDemand = &enabled
	}

	// Transport defaults
	if c.Transport.Library == "" {
		c.Transport.Library = DefaultLibrary
	}
	if c.Transport.HandshakeTimeout == 0 {
		c.Transport.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Transport.WriteTimeout == 0 {
		c.Transport.WriteTimeout = DefaultWriteTimeout
	}
	if c.Transport.PingInterval == 0 {
		c.Transport.PingInterval = DefaultPingInterval
	}
	if c.Transport.ReadLimit == 0 {
		c.Transport.ReadLimit = DefaultReadLimit
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
