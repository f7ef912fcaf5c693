package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/video_relay/internal/logctx"
	"github.com/italolelis/video_relay/internal/relay"
	"github.com/italolelis/video_relay/internal/storage"
)

// Sweep prunes finished registry records older than retention and removes
// partial files in dir older than staleAge. Both steps run even if one fails.
func Sweep(ctx context.Context, repo storage.DownloadWriteRepository, dir string, retention, staleAge time.Duration) error {
	_, pruneErr := PruneRegistry(ctx, repo, retention)

	_, partialErr := RemoveStalePartials(ctx, dir, staleAge)
	if partialErr != nil {
		logctx.LoggerFromContext(ctx).Warn("Failed to remove stale partial files", "dir", dir, "err", partialErr)
	}

	return errors.Join(pruneErr, partialErr)
}

// PruneRegistry drops finished download records older than retention.
func PruneRegistry(ctx context.Context, repo storage.DownloadWriteRepository, retention time.Duration) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	n, err := repo.PruneFinished(ctx, time.Now().Add(-retention))
	if err != nil {
		logger.Error("Failed to prune download registry", "err", err)

		return 0, err
	}

	if n > 0 {
		logger.Info("Pruned finished downloads", "count", n, "retention", retention.String())
	}

	return n, nil
}

// RemoveStalePartials deletes hidden partial files in dir whose last
// modification is older than olderThan. They are left behind only when the
// process died mid-download.
func RemoveStalePartials(ctx context.Context, dir string, olderThan time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	var (
		removed int
		errs    []error
	)

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, relay.PartialSuffix) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // already deleted
			}

			errs = append(errs, err)

			continue
		}

		if now.Sub(info.ModTime()) <= olderThan {
			continue
		}

		filePath := filepath.Join(dir, name)
		if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Error("Failed to delete stale partial file", "file", filePath, "err", err)
			errs = append(errs, err)

			continue
		}

		removed++

		logger.Info("Deleted stale partial file", "file", filePath)
	}

	return removed, errors.Join(errs...)
}
