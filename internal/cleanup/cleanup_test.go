package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/video_relay/internal/storage"
	"github.com/italolelis/video_relay/internal/storage/sqlite"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestRemoveStalePartials(t *testing.T) {
	dir := t.TempDir()

	touch(t, filepath.Join(dir, ".old.mp4.123.part"), 2*time.Hour)
	touch(t, filepath.Join(dir, ".fresh.mp4.456.part"), time.Minute)
	touch(t, filepath.Join(dir, "visible.part"), 2*time.Hour)
	touch(t, filepath.Join(dir, "done.mp4"), 2*time.Hour)
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".dir.part"), 0755))

	removed, err := RemoveStalePartials(context.Background(), dir, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}

	require.ElementsMatch(t, []string{".fresh.mp4.456.part", "visible.part", "done.mp4", ".dir.part"}, names)
}

func TestRemoveStalePartials_MissingDir(t *testing.T) {
	_, err := RemoveStalePartials(context.Background(), filepath.Join(t.TempDir(), "missing"), time.Hour)
	require.Error(t, err)
}

func TestPruneRegistry(t *testing.T) {
	db, err := sqlite.InitDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	repo := sqlite.NewDownloadRepository(db)
	ctx := context.Background()

	done, ok, err := repo.ClaimDownload(ctx, "https://example.com/a.mp4", "/d/a.mp4")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.FinishDownload(ctx, done, storage.StatusCompleted, ""))

	_, ok, err = repo.ClaimDownload(ctx, "https://example.com/b.mp4", "/d/b.mp4")
	require.NoError(t, err)
	require.True(t, ok)

	n, err := PruneRegistry(ctx, repo, time.Hour)
	require.NoError(t, err)
	require.Zero(t, n, "recent records are kept")

	n, err = PruneRegistry(ctx, repo, -time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, n, "only finished records are pruned")

	_, err = repo.LatestByURL(ctx, "https://example.com/a.mp4")
	require.ErrorIs(t, err, storage.ErrNotFound)

	rec, err := repo.LatestByURL(ctx, "https://example.com/b.mp4")
	require.NoError(t, err)
	require.True(t, rec.IsActive())
}

func TestSweep_RemovesPartialsAndPrunes(t *testing.T) {
	db, err := sqlite.InitDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	repo := sqlite.NewDownloadRepository(db)
	ctx := context.Background()

	id, ok, err := repo.ClaimDownload(ctx, "https://example.com/a.mp4", "/d/a.mp4")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.FinishDownload(ctx, id, storage.StatusFailed, "reset"))

	dir := t.TempDir()
	touch(t, filepath.Join(dir, ".a.mp4.1.part"), 2*time.Hour)
	touch(t, filepath.Join(dir, "a.mp4"), 2*time.Hour)

	require.NoError(t, Sweep(ctx, repo, dir, -time.Minute, time.Hour))

	_, err = os.Stat(filepath.Join(dir, ".a.mp4.1.part"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = os.Stat(filepath.Join(dir, "a.mp4"))
	require.NoError(t, err)

	_, err = repo.LatestByURL(ctx, "https://example.com/a.mp4")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSweep_PrunesEvenWhenDirMissing(t *testing.T) {
	db, err := sqlite.InitDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	repo := sqlite.NewDownloadRepository(db)
	ctx := context.Background()

	id, ok, err := repo.ClaimDownload(ctx, "https://example.com/a.mp4", "/d/a.mp4")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.FinishDownload(ctx, id, storage.StatusCompleted, ""))

	err = Sweep(ctx, repo, filepath.Join(t.TempDir(), "missing"), -time.Minute, time.Hour)
	require.Error(t, err)

	_, err = repo.LatestByURL(ctx, "https://example.com/a.mp4")
	require.ErrorIs(t, err, storage.ErrNotFound)
}
