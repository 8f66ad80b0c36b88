package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.log")
	log, err := New(Config{Level: "debug", Format: "json", OutputFile: path, Service: "pagestore-test"})
	require.NoError(t, err)

	log.Debug("page written")
	require.NoError(t, log.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &entry))
	require.Equal(t, "DEBUG", entry["level"])
	require.Equal(t, "page written", entry["msg"])
	require.Equal(t, "pagestore-test", entry["service"])
}

func TestNew_DefaultsAndLevelFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.log")
	log, err := New(Config{Level: "verbose", OutputFile: path})
	require.NoError(t, err)

	log.Debug("dropped")
	log.Info("kept")
	require.NoError(t, log.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "dropped")
	require.Contains(t, string(raw), "kept")
	require.Contains(t, string(raw), DefaultService)
}

func TestNew_BadOutputFile(t *testing.T) {
	_, err := New(Config{OutputFile: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	require.Error(t, err)
}
