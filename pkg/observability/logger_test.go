package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/socketgate/pkg/contextkeys"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		assert.Zero(t, buf.Len())
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		entry := decodeEntry(t, &buf)
		assert.Equal(t, "info", entry["level"])
		assert.Equal(t, "info message", entry["msg"])
	})

	t.Run("warn and error logged", func(t *testing.T) {
		buf.Reset()
		logger.Warnf("warn %d", 1)
		assert.NotZero(t, buf.Len())

		buf.Reset()
		logger.Errorf("error %d", 2)
		assert.Equal(t, "error 2", decodeEntry(t, &buf)["msg"])
	})
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithField("key", "value").
		WithFields(map[string]interface{}{"count": 3}).
		WithError(errors.New("boom")).
		Debug("message")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "value", entry["key"])
	assert.Equal(t, float64(3), entry["count"])
	assert.Equal(t, "boom", entry["error"])
	assert.Same(t, logger, logger.WithError(nil))
}

func TestLogger_FromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = contextkeys.WithConnID(ctx, "conn-1")
	ctx = contextkeys.WithUserID(ctx, "user-1")
	ctx = contextkeys.WithEvent(ctx, "case:view")

	FromContext(ctx).Info("handled")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "conn-1", entry["conn_id"])
	assert.Equal(t, "user-1", entry["user_id"])
	assert.Equal(t, "case:view", entry["event"])
}

func TestLogger_GetLoggerDefault(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLogLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLogLevel("error"))
	assert.Equal(t, InfoLevel, ParseLogLevel("nonsense"))
	assert.Equal(t, "WARN", WarnLevel.String())
}
