package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	require.NoError(t, Initialize("debug"))
	assert.True(t, Logger.Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, Initialize("warn"))
	assert.False(t, Logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, Logger.Core().Enabled(zapcore.WarnLevel))
}

func TestInitializeRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Initialize("loud"))
}

func TestForRepositoryTagsProjectKey(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	core, logs := observer.New(zapcore.InfoLevel)
	Logger = zap.New(core)

	ForRepository("octo:app").Info("harvested")
	Info("plain")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "octo:app", entries[0].ContextMap()["project_key"])
	assert.NotContains(t, entries[1].ContextMap(), "project_key")
}
