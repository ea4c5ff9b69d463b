package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	t.Run("Should write structured fields to the configured output", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: InfoLevel, Output: &buf})
		log.Info("request processed", "request_id", "abc123")
		out := buf.String()
		assert.Contains(t, out, "request processed")
		assert.Contains(t, out, "abc123")
	})

	t.Run("Should suppress entries below the configured level", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: WarnLevel, Output: &buf})
		log.Info("ignored")
		log.Warn("kept")
		out := buf.String()
		assert.NotContains(t, out, "ignored")
		assert.Contains(t, out, "kept")
	})

	t.Run("Should carry bound fields through With", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: InfoLevel, Output: &buf}).With("division", "fmcg")
		log.Info("scoped")
		assert.Contains(t, buf.String(), "fmcg")
	})

	t.Run("Should round-trip a logger through context", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: DebugLevel, Output: &buf})
		ctx := ContextWithLogger(context.Background(), log)
		FromContext(ctx).Debug("from context")
		assert.Contains(t, buf.String(), "from context")
	})

	t.Run("Should fall back to a default logger for bare contexts", func(t *testing.T) {
		log := FromContext(context.Background())
		require.NotNil(t, log)
	})

	t.Run("Should emit JSON when configured", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: InfoLevel, Output: &buf, JSON: true})
		log.Info("payload", "key", "value")
		assert.True(t, strings.Contains(buf.String(), `"key":"value"`) || strings.Contains(buf.String(), `"key": "value"`))
	})
}
