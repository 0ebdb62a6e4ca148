package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Tests in this package share the global logger and must not run in parallel.

func TestDisabledByDefault(t *testing.T) {
	Debug(CatLex, "dropped")
}

func TestWritesFields(t *testing.T) {
	var buf bytes.Buffer
	cleanup, err := Init("", &buf)
	require.NoError(t, err)
	defer cleanup()

	Warn(CatMetrics, "falling back", "file", "a.go", "line", 3)
	ErrorErr(CatStore, "save failed", errors.New("disk full"))
	Info(CatSensor, "odd", "orphan")

	out := buf.String()
	require.Contains(t, out, "[WARN] [metrics] falling back file=a.go line=3")
	require.Contains(t, out, "[ERROR] [store] save failed error=disk full")
	require.Contains(t, out, "orphan=<missing>")
}

func TestMinLevel(t *testing.T) {
	var buf bytes.Buffer
	cleanup, err := Init("", &buf)
	require.NoError(t, err)
	defer cleanup()

	SetMinLevel(LevelWarn)
	Debug(CatLex, "hidden")
	Error(CatLex, "shown")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "srcmetrics.log")
	cleanup, err := Init(path, nil)
	require.NoError(t, err)

	Debug(CatCache, "miss", "key", "abc")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "[DEBUG] [cache] miss key=abc")
}
