// Package logging builds the root zap.Logger and the per-component child
// loggers derived from it.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nexushq/nexus/internal/config"
)

// New builds the root logger from a LoggingConfig. Callers inject the result
// into every component that needs one; nothing in this codebase reaches for
// a package-level global logger.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := cfg.Format
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoding = "json"
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            levelFor(cfg, "", level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return zap.NewProduction()
	}
	return logger, nil
}

func levelFor(cfg config.LoggingConfig, component string, fallback zapcore.Level) zap.AtomicLevel {
	if override, ok := cfg.ComponentLevels[component]; ok {
		if lvl, err := zapcore.ParseLevel(override); err == nil {
			return zap.NewAtomicLevelAt(lvl)
		}
	}
	return zap.NewAtomicLevelAt(fallback)
}

// Component derives a named child logger, honoring any per-component level
// override from logging.component_levels.
func Component(root *zap.Logger, cfg config.LoggingConfig, name string) *zap.Logger {
	child := root.With(zap.String("component", name))
	if override, ok := cfg.ComponentLevels[name]; ok {
		if lvl, err := zapcore.ParseLevel(override); err == nil {
			if !root.Core().Enabled(lvl) {
				// IncreaseLevel cannot make the root core more verbose, so an
				// override below the root level gets a logger built at it.
				lowered := cfg
				lowered.Level = lvl.String()
				if l, err := New(lowered); err == nil {
					return l.With(zap.String("component", name))
				}
			}
			child = child.WithOptions(zap.IncreaseLevel(lvl))
		}
	}
	return child
}
