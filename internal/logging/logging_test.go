package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDebugLogger_WritesTimestampedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "debug.log")
	l, err := NewDebugLogger(path)
	require.NoError(t, err)

	l.Log("task %s claimed by %s", "t1", "swarmd")
	require.NoError(t, l.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "task t1 claimed by swarmd")
	require.Contains(t, string(raw), "=== swarmd debug log started")
}

func TestDebugLogger_NoopWhenUnconfigured(t *testing.T) {
	l, err := NewDebugLogger("")
	require.NoError(t, err)
	l.Log("dropped")
	require.NoError(t, l.Close())
}

func TestDebugLogger_AppendAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")

	for i := 0; i < 2; i++ {
		l, err := NewDebugLogger(path)
		require.NoError(t, err)
		l.Log("run %d", i)
		require.NoError(t, l.Close())
	}

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "run 0")
	require.Contains(t, string(raw), "run 1")
}
