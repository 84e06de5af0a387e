package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestNew_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "wallet-core-test", "info", "production")

	logger.Info("provider call",
		"Authorization", "Bearer abc",
		"signature", "deadbeef",
		"order_id", "o-1",
		slog.Group("req", "token", "t-1", "player_id", "p-1"),
	)

	line := decodeLine(t, &buf)
	assert.Equal(t, "***", line["Authorization"])
	assert.Equal(t, "***", line["signature"])
	assert.Equal(t, "o-1", line["order_id"])
	assert.Equal(t, "wallet-core-test", line["service"])

	group, ok := line["req"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "***", group["token"])
	assert.Equal(t, "p-1", group["player_id"])
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "svc", "warn", "production")

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Equal(t, "kept", decodeLine(t, &buf)["msg"])
}

func TestWith_EnrichesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), New(&buf, "svc", "debug", "production"))

	ctx = With(ctx, "player_id", "p-9")
	FromContext(ctx).Debug("balance read")

	line := decodeLine(t, &buf)
	assert.Equal(t, "p-9", line["player_id"])
	assert.Equal(t, "balance read", line["msg"])
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}
