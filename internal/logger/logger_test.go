package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel(" DEBUG "))
	require.Equal(t, slog.LevelWarn, parseLevel("warning"))
	require.Equal(t, slog.LevelError, parseLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLevel(""))
	require.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestBuildFormats(t *testing.T) {
	var buf bytes.Buffer
	build(&buf, "info", "json").Info("hello", slog.String("k", "v"))
	require.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	build(&buf, "warn", "").Info("dropped")
	require.Empty(t, buf.String())

	build(&buf, "warn", "text").Warn("kept", slog.Int("status", 503))
	require.Contains(t, buf.String(), "status=503")
}

func TestNewToTagsService(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	var buf bytes.Buffer
	NewTo(&buf, "cli").Debug("ready")
	require.Contains(t, buf.String(), `"service":"cli"`)
	require.Contains(t, buf.String(), `"level":"DEBUG"`)
}
