package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"taskportal/pkg/config"
	"taskportal/pkg/trace"
)

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l := New(config.LogConfig{Level: "debug", File: path, MaxSizeMB: 1})
	l.Debug("hello", zap.String("k", "v"))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestNew_BadLevelFallsBackToInfo(t *testing.T) {
	l := New(config.LogConfig{Level: "loud"})
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
}

func TestWithTrace(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	WithTrace(context.Background(), base).Info("plain")
	WithTrace(trace.WithContext(context.Background(), "t-1"), base).Info("traced")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Empty(t, entries[0].ContextMap())
	assert.Equal(t, "t-1", entries[1].ContextMap()["trace_id"])
}
