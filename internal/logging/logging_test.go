package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"Warn":  slog.LevelWarn,
		"ERROR": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestJSONToWriter(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(Config{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	l.Info("dropped")
	l.Warn("kept", "node", "n1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "n1", entry["node"])
	require.NoError(t, l.Close())
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "demo.log")
	l, err := New(Config{Level: "debug", File: path})
	require.NoError(t, err)
	l.Debug("hello", "k", 1)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=hello")
	assert.Contains(t, string(data), "k=1")
}

func TestUnknownFormat(t *testing.T) {
	_, err := newLogger(Config{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestDiscardDropsEverything(t *testing.T) {
	assert.False(t, Discard().Enabled(context.Background(), slog.LevelError))
}
