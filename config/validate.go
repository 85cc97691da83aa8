package config

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tradingiq/alpaca-client/websocket"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := c.SessionCredentials().Validate(); err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	switch c.MarketData.Feed {
	case websocket.FeedIEX, websocket.FeedSIP:
	default:
		return fmt.Errorf("market_data.feed must be %q or %q, got %q", websocket.FeedIEX, websocket.FeedSIP, c.MarketData.Feed)
	}

	if c.Reconnect.MaxAttempts != nil && *c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must be >= 0")
	}
	if c.Reconnect.Delay < 0 {
		return errors.New("reconnect.delay must be >= 0")
	}
	if c.Reconnect.AuthTimeout != nil && *c.Reconnect.AuthTimeout < 0 {
		return errors.New("reconnect.auth_timeout must be >= 0")
	}
	if c.Reconnect.Exponential && c.Reconnect.MaxDelay < c.Reconnect.Delay {
		return fmt.Errorf("reconnect.max_delay (%s) cannot be less than delay (%s)", c.Reconnect.MaxDelay, c.Reconnect.Delay)
	}

	switch c.Transport.Library {
	case LibraryCoder, LibraryGorilla:
	default:
		return fmt.Errorf("transport.library must be %q or %q, got %q", LibraryCoder, LibraryGorilla, c.Transport.Library)
	}
	if c.Transport.WriteTimeout < 0 || c.Transport.HandshakeTimeout < 0 {
		return errors.New("transport timeouts must be >= 0")
	}
	if c.Transport.ReadLimit < 0 {
		return errors.New("transport.read_limit must be >= 0")
	}

	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}
