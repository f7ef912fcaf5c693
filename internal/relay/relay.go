package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/video_relay/internal/logctx"
	"github.com/italolelis/video_relay/internal/notifier"
	"github.com/italolelis/video_relay/internal/progress"
	"github.com/italolelis/video_relay/internal/storage"
	"github.com/italolelis/video_relay/internal/telemetry"
)

// Request is one download request. Quality and Format are opaque hints that
// are logged but do not change behaviour.
type Request struct {
	URL     string
	Quality string
	Format  string
}

// Result describes a finalized download.
type Result struct {
	Filename string
	Dir      string
	Path     string
	Bytes    int64
}

// Config holds the collaborators of a Relay.
type Config struct {
	// Dir is the destination directory. It must exist.
	Dir string

	Fetcher  *Fetcher
	Registry storage.DownloadRepository

	// ProgressInterval is how many bytes pass between registry progress updates.
	ProgressInterval int64

	// Telemetry and Notifier are optional.
	Telemetry *telemetry.Telemetry
	Notifier  notifier.Notifier
}

// Relay fetches remote resources into the destination directory. It is safe
// for concurrent use; each Handle call is independent.
type Relay struct {
	dir              string
	fetcher          *Fetcher
	registry         storage.DownloadRepository
	progressInterval int64
	telemetry        *telemetry.Telemetry
	notifier         notifier.Notifier
	now              func() time.Time
}

// New validates cfg and returns a Relay.
func New(cfg Config) (*Relay, error) {
	if cfg.Dir == "" {
		return nil, errors.New("relay: destination directory is required")
	}

	if cfg.Registry == nil {
		return nil, errors.New("relay: registry is required")
	}

	if cfg.Fetcher == nil {
		cfg.Fetcher = NewFetcher(DefaultFetchOptions())
	}

	return &Relay{
		dir:              cfg.Dir,
		fetcher:          cfg.Fetcher,
		registry:         cfg.Registry,
		progressInterval: cfg.ProgressInterval,
		telemetry:        cfg.Telemetry,
		notifier:         cfg.Notifier,
		now:              time.Now,
	}, nil
}

// Dir returns the destination directory.
func (r *Relay) Dir() string {
	return r.dir
}

// Handle runs validate, claim, fetch, stream and finalize for one request.
// On any failure no file is left at the destination path.
func (r *Relay) Handle(ctx context.Context, req Request) (*Result, error) {
	target, err := ParseTarget(req.URL)
	if err != nil {
		return nil, err
	}

	name := DeriveFilename(target, r.now())
	logger := logctx.LoggerFromContext(ctx).With(
		"video_url", target.Redacted(),
		"filename", name,
		"quality", req.Quality,
		"format", req.Format,
	)
	ctx = logctx.WithLogger(ctx, logger)

	var result *Result

	err = r.telemetry.InstrumentDownload(ctx, target.Scheme, classify, func(ctx context.Context) error {
		var err error
		result, err = r.download(ctx, target, name)

		return err
	})
	if err != nil {
		logger.ErrorContext(ctx, "download failed", "kind", KindOf(err), "err", err)
		r.notify(ctx, fmt.Sprintf("❌ Download failed for %s: %v", name, err))

		return nil, err
	}

	logger.InfoContext(ctx, "download completed", "path", result.Path, "size", humanize.Bytes(uint64(result.Bytes)))
	r.notify(ctx, fmt.Sprintf("✅ Download finished: %s (%s)", name, humanize.Bytes(uint64(result.Bytes))))

	return result, nil
}

func (r *Relay) download(ctx context.Context, target *url.URL, name string) (_ *Result, err error) {
	logger := logctx.LoggerFromContext(ctx)
	finalPath := filepath.Join(r.dir, name)

	id, claimed, err := r.registry.ClaimDownload(ctx, target.String(), finalPath)
	if err != nil {
		return nil, &StorageError{Operation: "claim", Err: err}
	}

	if !claimed {
		return nil, &ConflictError{Filename: name}
	}

	defer func() {
		status, msg := storage.StatusCompleted, ""
		if err != nil {
			status, msg = storage.StatusFailed, err.Error()
		}

		// The request context may already be cancelled; the claim must still be released.
		if ferr := r.registry.FinishDownload(context.WithoutCancel(ctx), id, status, msg); ferr != nil {
			logger.ErrorContext(ctx, "failed to release download claim", "download_id", id, "err", ferr)
		}
	}()

	resp, err := r.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	logger.InfoContext(ctx, "downloading file", "file_size", sizeOf(resp.ContentLength), "content_type", resp.ContentType)

	sf, err := createStoredFile(r.dir, name)
	if err != nil {
		return nil, err
	}

	defer func() {
		if derr := sf.Discard(); derr != nil {
			r.telemetry.RecordCleanupFailure()
			logger.ErrorContext(ctx, "failed to remove partial file", "path", sf.tmpPath, "err", derr)
		}
	}()

	pr := progress.NewReader(resp.Body, resp.ContentLength, r.progressInterval, func(read, total int64) {
		if perr := r.registry.UpdateProgress(ctx, id, read, total); perr != nil {
			logger.WarnContext(ctx, "failed to record progress", "download_id", id, "err", perr)
		}

		logger.DebugContext(ctx, "download progress", "downloaded", humanize.Bytes(uint64(read)), "total", sizeOf(total))
	})

	w := &recordingWriter{w: sf}

	_, err = io.Copy(w, pr)
	r.telemetry.RecordDownloadedBytes(target.Scheme, sf.written)

	if err != nil {
		if w.err != nil {
			return nil, &StorageError{Operation: "write", Path: finalPath, Err: w.err}
		}

		return nil, &TransportError{Operation: "read", Err: err}
	}

	if err := sf.Finalize(); err != nil {
		return nil, err
	}

	return &Result{
		Filename: name,
		Dir:      r.dir,
		Path:     finalPath,
		Bytes:    sf.written,
	}, nil
}

func (r *Relay) notify(ctx context.Context, msg string) {
	if r.notifier == nil {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	go func() {
		if err := r.notifier.Notify(context.WithoutCancel(ctx), msg); err != nil {
			logger.Error("failed to send notification", "err", err)
		}
	}()
}

// recordingWriter remembers the first write error so a failed copy can be
// attributed to local storage rather than the remote stream.
type recordingWriter struct {
	w   io.Writer
	err error
}

func (rw *recordingWriter) Write(p []byte) (int, error) {
	n, err := rw.w.Write(p)
	if err != nil && rw.err == nil {
		rw.err = err
	}

	return n, err
}

func classify(err error) string {
	return string(KindOf(err))
}

func sizeOf(n int64) string {
	if n < 0 {
		return "unknown"
	}

	return humanize.Bytes(uint64(n))
}
