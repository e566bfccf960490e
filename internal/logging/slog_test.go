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

func jsonLogger(t *testing.T, level string) (*SlogLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(&buf, level, "json")
	require.NoError(t, err)
	return l, &buf
}

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var rec map[string]any
		require.NoError(t, dec.Decode(&rec))
		out = append(out, rec)
	}
	return out
}

func TestLevels(t *testing.T) {
	l, buf := jsonLogger(t, "warn")
	ctx := context.Background()

	l.Debug(ctx, "feed frame")
	l.Info(ctx, "sync pass finished")
	l.Warn(ctx, "sync conflict", "note_id", "n1")
	l.Error(ctx, "change abandoned", "attempts", 3)

	recs := records(t, buf)
	require.Len(t, recs, 2)
	assert.Equal(t, "WARN", recs[0]["level"])
	assert.Equal(t, "n1", recs[0]["note_id"])
	assert.Equal(t, "ERROR", recs[1]["level"])
	assert.Equal(t, float64(3), recs[1]["attempts"])
}

func TestContextAttributes(t *testing.T) {
	l, buf := jsonLogger(t, "debug")

	ctx := ContextWith(context.Background(), "request_id", "r-1")
	ctx = ContextWith(ctx, "pass", 7)
	l.With("component", "sync").Info(ctx, "drain", "synced", 2)
	l.Info(context.Background(), "plain")

	recs := records(t, buf)
	require.Len(t, recs, 2)
	assert.Equal(t, "sync", recs[0]["component"])
	assert.Equal(t, "r-1", recs[0]["request_id"])
	assert.Equal(t, float64(7), recs[0]["pass"])
	assert.Equal(t, float64(2), recs[0]["synced"])
	assert.NotContains(t, recs[1], "request_id")
}

func TestContextWith_DoesNotShareParent(t *testing.T) {
	parent := ContextWith(context.Background(), "a", 1)
	left := ContextWith(parent, "b", 2)
	right := ContextWith(parent, "c", 3)

	assert.Equal(t, []any{"a", 1}, fromContext(parent))
	assert.Equal(t, []any{"a", 1, "b", 2}, fromContext(left))
	assert.Equal(t, []any{"a", 1, "c", 3}, fromContext(right))
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "", "TEXT")
	require.NoError(t, err)

	l.Info(ContextWith(context.Background(), "device", "d1"), "online")
	out := buf.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "msg=online")
	assert.Contains(t, out, "device=d1")
}

func TestNew_Rejects(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "info", "xml")
	assert.ErrorContains(t, err, `unknown log format "xml"`)

	_, err = New(&bytes.Buffer{}, "loud", "text")
	assert.ErrorContains(t, err, `unknown log level "loud"`)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	assert.NotPanics(t, func() {
		l.With("a", 1).Error(ContextWith(context.Background(), "b", 2), "dropped")
	})
}
