package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/italolelis/video_relay/internal/storage"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *DownloadRepository {
	t.Helper()

	db, err := InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewDownloadRepository(db)
}

func TestClaimDownload_ExclusiveWhileActive(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	id, claimed, err := repo.ClaimDownload(ctx, "https://example.com/a.mp4", "/dl/a.mp4")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NotZero(t, id)

	_, claimed, err = repo.ClaimDownload(ctx, "http://mirror.example.com/a.mp4", "/dl/a.mp4")
	require.NoError(t, err)
	require.False(t, claimed, "second claim on an active path must fail")

	require.NoError(t, repo.FinishDownload(ctx, id, storage.StatusCompleted, ""))

	id2, claimed, err := repo.ClaimDownload(ctx, "https://example.com/a.mp4", "/dl/a.mp4")
	require.NoError(t, err)
	require.True(t, claimed, "finished downloads release the path")
	require.NotEqual(t, id, id2)
}

func TestClaimDownload_DifferentPaths(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	_, claimed, err := repo.ClaimDownload(ctx, "https://example.com/a.mp4", "/dl/a.mp4")
	require.NoError(t, err)
	require.True(t, claimed)

	_, claimed, err = repo.ClaimDownload(ctx, "https://example.com/b.mp4", "/dl/b.mp4")
	require.NoError(t, err)
	require.True(t, claimed)
}

func TestUpdateProgressAndLatestByURL(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	const videoURL = "https://example.com/clips/sample.mp4"

	id, _, err := repo.ClaimDownload(ctx, videoURL, "/dl/sample.mp4")
	require.NoError(t, err)

	require.NoError(t, repo.UpdateProgress(ctx, id, 50, 200))

	rec, err := repo.LatestByURL(ctx, videoURL)
	require.NoError(t, err)
	require.Equal(t, storage.StatusDownloading, rec.Status)
	require.EqualValues(t, 50, rec.BytesWritten)
	require.EqualValues(t, 200, rec.TotalBytes)
	require.InDelta(t, 25.0, rec.Progress(), 0.001)
	require.True(t, rec.IsActive())

	require.NoError(t, repo.FinishDownload(ctx, id, storage.StatusFailed, "HTTP 404"))

	rec, err = repo.LatestByURL(ctx, videoURL)
	require.NoError(t, err)
	require.Equal(t, storage.StatusFailed, rec.Status)
	require.Equal(t, "HTTP 404", rec.Error)
	require.False(t, rec.IsActive())

	require.ErrorIs(t, repo.UpdateProgress(ctx, id, 60, 200), storage.ErrNotFound,
		"finished records no longer accept progress")
}

func TestLatestByURL_CaseInsensitive(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	_, claimed, err := repo.ClaimDownload(ctx, "https://Example.com/Clips/A.mp4", "/d/A.mp4")
	require.NoError(t, err)
	require.True(t, claimed)

	rec, err := repo.LatestByURL(ctx, "HTTPS://EXAMPLE.COM/clips/a.MP4")
	require.NoError(t, err)
	require.Equal(t, "/d/A.mp4", rec.FilePath)
}

func TestLatestByURL_NotFound(t *testing.T) {
	_, err := newRepo(t).LatestByURL(context.Background(), "https://example.com/none")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFinishDownload_UnknownID(t *testing.T) {
	err := newRepo(t).FinishDownload(context.Background(), 999, storage.StatusCompleted, "")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPruneFinished(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return base }

	oldID, _, err := repo.ClaimDownload(ctx, "https://example.com/old.mp4", "/dl/old.mp4")
	require.NoError(t, err)
	require.NoError(t, repo.FinishDownload(ctx, oldID, storage.StatusCompleted, ""))

	_, _, err = repo.ClaimDownload(ctx, "https://example.com/active.mp4", "/dl/active.mp4")
	require.NoError(t, err)

	repo.now = func() time.Time { return base.Add(48 * time.Hour) }

	freshID, _, err := repo.ClaimDownload(ctx, "https://example.com/fresh.mp4", "/dl/fresh.mp4")
	require.NoError(t, err)
	require.NoError(t, repo.FinishDownload(ctx, freshID, storage.StatusFailed, "boom"))

	n, err := repo.PruneFinished(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = repo.LatestByURL(ctx, "https://example.com/old.mp4")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = repo.LatestByURL(ctx, "https://example.com/active.mp4")
	require.NoError(t, err, "active records are never pruned")

	_, err = repo.LatestByURL(ctx, "https://example.com/fresh.mp4")
	require.NoError(t, err)
}

func TestDownloadRecord_ProgressCompleted(t *testing.T) {
	rec := storage.DownloadRecord{Status: storage.StatusCompleted}
	require.Equal(t, 100.0, rec.Progress())

	rec = storage.DownloadRecord{Status: storage.StatusDownloading, BytesWritten: 10}
	require.Equal(t, 0.0, rec.Progress())
}
