package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/video_relay/internal/storage"
)

type DownloadRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn, now: time.Now}
}

// ClaimDownload inserts an active record for filePath. The partial unique
// index on active paths turns a concurrent claim into a no-op insert.
func (r *DownloadRepository) ClaimDownload(ctx context.Context, videoURL, filePath string) (int64, bool, error) {
	now := r.now().UnixMilli()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO downloads (video_url, file_path, status, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, videoURL, filePath, storage.StatusStarting, now, now)
	if err != nil {
		return 0, false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}

	if affected == 0 {
		return 0, false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}

	return id, true, nil
}

// UpdateProgress moves an active record to downloading with the latest byte counts.
func (r *DownloadRepository) UpdateProgress(ctx context.Context, id, bytesWritten, totalBytes int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE downloads SET status = ?, bytes_written = ?, total_bytes = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, storage.StatusDownloading, bytesWritten, totalBytes, r.now().UnixMilli(),
		id, storage.StatusStarting, storage.StatusDownloading)
	if err != nil {
		return err
	}

	return expectOne(res)
}

// FinishDownload sets the terminal status, which releases the path claim.
func (r *DownloadRepository) FinishDownload(ctx context.Context, id int64, status, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE downloads SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, errMsg, r.now().UnixMilli(), id)
	if err != nil {
		return err
	}

	return expectOne(res)
}

func (r *DownloadRepository) LatestByURL(ctx context.Context, videoURL string) (*storage.DownloadRecord, error) {
	var (
		rec                  storage.DownloadRecord
		startedAt, updatedAt int64
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, video_url, file_path, status, bytes_written, total_bytes, error, started_at, updated_at
		FROM downloads WHERE video_url = ? ORDER BY id DESC LIMIT 1
	`, videoURL).Scan(&rec.ID, &rec.VideoURL, &rec.FilePath, &rec.Status,
		&rec.BytesWritten, &rec.TotalBytes, &rec.Error, &startedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	rec.StartedAt = time.UnixMilli(startedAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)

	return &rec, nil
}

// PruneFinished deletes terminal records last updated before olderThan.
func (r *DownloadRepository) PruneFinished(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM downloads WHERE status NOT IN (?, ?) AND updated_at < ?
	`, storage.StatusStarting, storage.StatusDownloading, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func expectOne(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}
