// Package config loads streaming session settings from YAML.
package config

import "time"

// Config is the root configuration for streaming sessions.
type Config struct {
	Credentials  CredentialsConfig  `yaml:"credentials"`
	TradeUpdates TradeUpdatesConfig `yaml:"trade_updates"`
	MarketData   MarketDataConfig   `yaml:"market_data"`
	Reconnect    ReconnectConfig    `yaml:"reconnect"`
	Transport    TransportConfig    `yaml:"transport"`
	Log          LogConfig          `yaml:"log"`
}

// CredentialsConfig holds either a key pair or an OAuth token.
type CredentialsConfig struct {
	KeyID      string `yaml:"key_id"`
	SecretKey  string `yaml:"secret_key"`
	OAuthToken string `yaml:"oauth_token"`
}

type TradeUpdatesConfig struct {
	URL  string `yaml:"url"`
	Live bool   `yaml:"live"` // ignored when url is set
}

type MarketDataConfig struct {
	URL     string   `yaml:"url"`
	Feed    string   `yaml:"feed"`
	Symbols []string `yaml:"symbols"`
}

// ReconnectConfig holds the session's retry policy. Pointer fields tell an
// explicit zero or false apart from an omitted value.
type ReconnectConfig struct {
	Automatic          *bool          `yaml:"automatic"`
	MaxAttempts        *int           `yaml:"max_attempts"`
	Delay              time.Duration  `yaml:"delay"`
	Exponential        bool           `yaml:"exponential"`
	MaxDelay           time.Duration  `yaml:"max_delay"`
	AuthTimeout        *time.Duration `yaml:"auth_timeout"` // 0 disables
	RetryOnAuthFailure bool           `yaml:"retry_on_auth_failure"`
	ConnectOnDemand    *bool          `yaml:"connect_on_demand"`
}

// TransportConfig selects and tunes the websocket library.
type TransportConfig struct {
	Library          string        `yaml:"library"` // "coder" or "gorilla"
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	ReadLimit        int64         `yaml:"read_limit"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}
