package video

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspace_CleanupRemovesEachPathOnce(t *testing.T) {
	var mu sync.Mutex
	removed := map[string]int{}
	ws, err := NewWorkspace(t.TempDir(), WithRemover(func(p string) error {
		mu.Lock()
		removed[p]++
		mu.Unlock()
		return os.RemoveAll(p)
	}))
	require.NoError(t, err)

	a := ws.Track(filepath.Join(ws.Dir(), "audio.mp3"))
	b := ws.Track(filepath.Join(ws.Dir(), "captions.txt"))
	ws.Track(a)
	ws.Track("")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("x"), 0o600))
	assert.Equal(t, []string{a, b}, ws.Paths())

	require.NoError(t, ws.Cleanup())
	require.NoError(t, ws.Cleanup())

	assert.Equal(t, map[string]int{a: 1, b: 1}, removed)
	_, err = os.Stat(ws.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestWorkspace_CleanupReportsErrors(t *testing.T) {
	boom := errors.New("busy")
	ws, err := NewWorkspace("", WithRemover(func(string) error { return boom }))
	require.NoError(t, err)
	ws.Track(filepath.Join(ws.Dir(), "x"))

	assert.ErrorIs(t, ws.Cleanup(), boom)
	_, statErr := os.Stat(ws.Dir())
	assert.True(t, os.IsNotExist(statErr), "directory is still removed")
}

func TestWorkspace_UniqueDirs(t *testing.T) {
	base := t.TempDir()
	a, err := NewWorkspace(base)
	require.NoError(t, err)
	b, err := NewWorkspace(base)
	require.NoError(t, err)
	assert.NotEqual(t, a.Dir(), b.Dir())
	require.NoError(t, a.Cleanup())
	require.NoError(t, b.Cleanup())
}
