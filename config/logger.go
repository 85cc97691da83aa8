package config

import (
	"fmt"

	"go.uber.org/zap"
)

// Build returns a JSON production logger, or a console logger in development mode.
func (l LogConfig) Build() (*zap.Logger, error) {
	level := l.Level
	if level == "" {
		level = DefaultLogLevel
	}

	atomic, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if l.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = atomic

	return cfg.Build()
}
