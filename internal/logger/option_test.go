package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestWithLevel derives a stricter logger from a permissive core.
func TestWithLevel(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core, WithLevel(zapcore.WarnLevel)).Sugar()

	log.Info("below the derived level")
	log.Warn("at the derived level")

	require.Equal(t, 1, logs.Len())
	require.Equal(t, "at the derived level", logs.All()[0].Message)
}
