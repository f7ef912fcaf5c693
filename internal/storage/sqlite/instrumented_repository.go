package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/video_relay/internal/storage"
	"github.com/italolelis/video_relay/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedDownloadRepository) ClaimDownload(ctx context.Context, videoURL, filePath string) (int64, bool, error) {
	var (
		id      int64
		claimed bool
	)

	err := r.telemetry.InstrumentDBOperation(ctx, "claim_download", func(ctx context.Context) error {
		var err error
		id, claimed, err = r.repo.ClaimDownload(ctx, videoURL, filePath)

		return err
	})

	return id, claimed, err
}

func (r *InstrumentedDownloadRepository) UpdateProgress(ctx context.Context, id, bytesWritten, totalBytes int64) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_progress", func(ctx context.Context) error {
		return r.repo.UpdateProgress(ctx, id, bytesWritten, totalBytes)
	})
}

func (r *InstrumentedDownloadRepository) FinishDownload(ctx context.Context, id int64, status, errMsg string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "finish_download", func(ctx context.Context) error {
		return r.repo.FinishDownload(ctx, id, status, errMsg)
	})
}

func (r *InstrumentedDownloadRepository) LatestByURL(ctx context.Context, videoURL string) (*storage.DownloadRecord, error) {
	var rec *storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "latest_by_url", func(ctx context.Context) error {
		var err error
		rec, err = r.repo.LatestByURL(ctx, videoURL)

		return err
	})

	return rec, err
}

func (r *InstrumentedDownloadRepository) PruneFinished(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64

	err := r.telemetry.InstrumentDBOperation(ctx, "prune_finished", func(ctx context.Context) error {
		var err error
		n, err = r.repo.PruneFinished(ctx, olderThan)

		return err
	})

	return n, err
}
