package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/nexushq/nexus/internal/config"
)

func TestNewBuildsJSONLoggerByDefault(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewBuildsConsoleLoggerForConsoleFormat(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewDefaultsUnknownLevelToInfo(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "bogus", Format: "json"})
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewHonorsWarnAndErrorLevels(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = New(config.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.WarnLevel))
	require.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
}

func TestComponentAppliesPerComponentLevelOverride(t *testing.T) {
	root, err := New(config.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	cfg := config.LoggingConfig{
		Level:           "error",
		Format:          "json",
		ComponentLevels: map[string]string{"proxy": "debug"},
	}

	child := Component(root, cfg, "proxy")
	require.True(t, child.Core().Enabled(zapcore.DebugLevel))
}

func TestComponentWithoutOverrideInheritsRootLevel(t *testing.T) {
	root, err := New(config.LoggingConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)

	cfg := config.LoggingConfig{Level: "warn", Format: "json"}
	child := Component(root, cfg, "scheduler")
	require.False(t, child.Core().Enabled(zapcore.InfoLevel))
	require.True(t, child.Core().Enabled(zapcore.WarnLevel))
}

func TestComponentIgnoresUnparseableOverride(t *testing.T) {
	root, err := New(config.LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)

	cfg := config.LoggingConfig{
		Level:           "info",
		Format:          "json",
		ComponentLevels: map[string]string{"proxy": "not-a-level"},
	}
	child := Component(root, cfg, "proxy")
	require.True(t, child.Core().Enabled(zapcore.InfoLevel))
}
