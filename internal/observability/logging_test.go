package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := GlobalLogger.Logger
	GlobalLogger.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	t.Cleanup(func() { GlobalLogger.Logger = prev })
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestRepoLogger_LogWrite(t *testing.T) {
	buf := captureLogs(t)
	ctx := WithCorrelationID(context.Background(), "req-42")

	NewRepoLogger("messages").LogWrite(ctx, "append_message", map[string]any{"user_id": 3, "conversation_id": 9})

	line := buf.String()
	assert.Contains(t, line, "table=messages")
	assert.Contains(t, line, "operation=append_message")
	assert.Contains(t, line, "correlation_id=req-42")
	assert.Less(t, strings.Index(line, "conversation_id=9"), strings.Index(line, "user_id=3"))
}

func TestWSLogger_LogError(t *testing.T) {
	buf := captureLogs(t)

	NewWSLogger("chat").LogError(context.Background(), 7, "", errors.New("closed"), "read")

	line := buf.String()
	assert.Contains(t, line, "gateway=chat")
	assert.Contains(t, line, "stage=read")
	assert.NotContains(t, line, "topic=")
}

func TestLogDeliveryDropped(t *testing.T) {
	buf := captureLogs(t)

	LogDeliveryDropped(context.Background(), "dm:4", "new-message", errors.New("redis down"))

	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "topic=dm:4")
}
