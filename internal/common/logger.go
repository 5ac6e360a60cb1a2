package common

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger. format is "console" (colored, human
// readable) or "json".
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var cfg zap.Config
	switch format {
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("log format %q: want console or json", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// MustLogger is NewLogger for CLI startup; it falls back to a production
// logger at info level when the settings are invalid.
func MustLogger(level, format string) *zap.Logger {
	logger, err := NewLogger(level, format)
	if err != nil {
		logger = zap.Must(zap.NewProduction())
		logger.Warn("invalid log settings, using defaults", zap.Error(err))
	}
	return logger
}
