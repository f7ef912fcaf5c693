package relay

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoredFile_FinalizeRenames(t *testing.T) {
	dir := t.TempDir()

	sf, err := createStoredFile(dir, "clip.mp4")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(sf.tmpPath, PartialSuffix))
	require.True(t, strings.HasPrefix(filepath.Base(sf.tmpPath), ".clip.mp4."))

	_, err = sf.Write([]byte("hello"))
	require.NoError(t, err)

	_, err = os.Stat(sf.path)
	require.ErrorIs(t, err, os.ErrNotExist, "destination must not exist before finalize")

	require.NoError(t, sf.Finalize())
	require.NoError(t, sf.Discard(), "discard after finalize is a no-op")

	data, err := os.ReadFile(filepath.Join(dir, "clip.mp4"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.EqualValues(t, 5, sf.written)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestStoredFile_DiscardRemovesPartial(t *testing.T) {
	dir := t.TempDir()

	sf, err := createStoredFile(dir, "clip.mp4")
	require.NoError(t, err)

	_, err = sf.Write([]byte("partial"))
	require.NoError(t, err)

	require.NoError(t, sf.Discard())
	require.NoError(t, sf.Discard())
	require.Equal(t, stateRemoved, sf.state)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)

	_, err = sf.Write([]byte("more"))
	require.Error(t, err)
	require.Error(t, sf.Finalize())
}

func TestStoredFile_DiscardToleratesMissingTemp(t *testing.T) {
	dir := t.TempDir()

	sf, err := createStoredFile(dir, "clip.mp4")
	require.NoError(t, err)
	require.NoError(t, os.Remove(sf.tmpPath))

	require.NoError(t, sf.Discard())
}

func TestStoredFile_CreateInMissingDir(t *testing.T) {
	_, err := createStoredFile(filepath.Join(t.TempDir(), "nope"), "clip.mp4")
	require.Error(t, err)
	require.Equal(t, KindStorage, KindOf(err))
}
