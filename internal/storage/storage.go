package storage

import (
	"context"
	"errors"
	"time"
)

// Download statuses. Starting and downloading are active: at most one active
// record may hold a given file path.
const (
	StatusStarting    = "starting"
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("storage: download not found")

// DownloadRecord tracks one relay request for the lifetime of the process.
type DownloadRecord struct {
	ID           int64
	VideoURL     string
	FilePath     string
	Status       string
	BytesWritten int64
	TotalBytes   int64
	Error        string
	StartedAt    time.Time
	UpdatedAt    time.Time
}

// Progress returns the completed percentage, or 0 when the size is unknown.
func (r DownloadRecord) Progress() float64 {
	if r.Status == StatusCompleted {
		return 100
	}

	if r.TotalBytes <= 0 {
		return 0
	}

	return float64(r.BytesWritten) * 100 / float64(r.TotalBytes)
}

// IsActive reports whether the record still holds its file path.
func (r DownloadRecord) IsActive() bool {
	return r.Status == StatusStarting || r.Status == StatusDownloading
}

type DownloadReadRepository interface {
	LatestByURL(ctx context.Context, videoURL string) (*DownloadRecord, error)
}

type DownloadWriteRepository interface {
	// ClaimDownload atomically records a new active download for filePath.
	// claimed is false when another active download already holds the path.
	ClaimDownload(ctx context.Context, videoURL, filePath string) (id int64, claimed bool, err error)
	UpdateProgress(ctx context.Context, id, bytesWritten, totalBytes int64) error
	// FinishDownload releases the path claim and stores the final status.
	FinishDownload(ctx context.Context, id int64, status, errMsg string) error
	PruneFinished(ctx context.Context, olderThan time.Time) (int64, error)
}

type DownloadRepository interface {
	DownloadReadRepository
	DownloadWriteRepository
}
