package telemetry_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/fulfillment/internal/telemetry"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, telemetry.ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, telemetry.ParseLevel("WARN"))
	assert.Equal(t, zapcore.ErrorLevel, telemetry.ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, telemetry.ParseLevel("verbose"))
}

func TestNewLogger_WritesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "service.log")

	logger, err := telemetry.NewLogger("info", file)
	require.NoError(t, err)

	logger.Info("hello from test")
	_ = logger.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
}
