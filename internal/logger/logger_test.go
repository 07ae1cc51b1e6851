package logger

import (
	"testing"

	"github.com/pu-ac-cn/uac-ticket/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	l, err := New(&config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New(&config.LogConfig{Level: "warn", Format: "console"})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New(&config.LogConfig{Level: "verbose"})
	assert.Error(t, err)
}

func TestInitAndGet(t *testing.T) {
	require.NotNil(t, Get())

	require.NoError(t, Init(&config.LogConfig{Level: "error"}))
	assert.False(t, Get().Core().Enabled(zapcore.WarnLevel))
}
