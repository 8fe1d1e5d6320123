package runsignal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWatcher_StopSignal(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	require.NoError(t, err)
	defer w.Close()

	require.False(t, w.ShouldStop())

	require.NoError(t, SendStop(dir))
	require.True(t, w.ShouldStop())

	// Stop latches: clearing the file alone does not reset it.
	require.NoError(t, os.Remove(filepath.Join(SignalsDir(dir), stopFile)))
	require.True(t, w.ShouldStop())

	w.Clear()
	require.False(t, w.ShouldStop())
}

func TestWatcher_PauseFollowsFile(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	require.NoError(t, err)
	defer w.Close()

	require.False(t, w.ShouldPause())

	require.NoError(t, SendPause(dir))
	require.True(t, w.ShouldPause())

	require.NoError(t, Resume(dir))
	require.False(t, w.ShouldPause())
}

func TestWatcher_ClearIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	require.NoError(t, err)
	defer w.Close()

	w.Clear()
	w.Clear()
	require.False(t, w.ShouldStop())
	require.False(t, w.ShouldPause())
}
