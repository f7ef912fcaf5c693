package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/italolelis/video_relay/internal/logctx"
	"github.com/italolelis/video_relay/internal/relay"
	"github.com/italolelis/video_relay/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MiB

// Downloader runs one download request to completion.
type Downloader interface {
	Handle(ctx context.Context, req relay.Request) (*relay.Result, error)
}

type DownloadRequest struct {
	VideoURL string `json:"videoUrl"`
	// URL is accepted from callers that send {"url": ...}; videoUrl wins when both are set.
	URL      string `json:"url,omitempty"`
	Quality  string `json:"quality,omitempty"`
	Format   string `json:"format,omitempty"`
}

type DownloadResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Filename    string `json:"filename"`
	DownloadDir string `json:"downloadDir"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type ProgressResponse struct {
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	Filename     *string `json:"filename"`
	BytesWritten int64   `json:"bytesWritten"`
	TotalBytes   int64   `json:"totalBytes"`
	Error        string  `json:"error,omitempty"`
}

type RelayHandler struct {
	downloader Downloader
	registry   storage.DownloadReadRepository
}

// NewRelayHandler creates the handler for the download relay API.
func NewRelayHandler(d Downloader, registry storage.DownloadReadRepository) *RelayHandler {
	return &RelayHandler{
		downloader: d,
		registry:   registry,
	}
}

func (h *RelayHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/", h.HandleHealth)
	r.Post("/download", h.HandleDownload)
	r.Get("/progress", h.HandleProgress)

	return r
}

// HandleHealth reports that the service is up.
func (h *RelayHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleDownload fetches the requested video into the download directory and
// answers once the file is complete.
func (h *RelayHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req DownloadRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("failed to decode request", "err", err)
		writeJSON(r.Context(), w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})

		return
	}

	videoURL := req.VideoURL
	if videoURL == "" {
		videoURL = req.URL
	}

	res, err := h.downloader.Handle(r.Context(), relay.Request{
		URL:     videoURL,
		Quality: req.Quality,
		Format:  req.Format,
	})
	if err != nil {
		writeJSON(r.Context(), w, statusFor(err), ErrorResponse{Error: err.Error()})

		return
	}

	writeJSON(r.Context(), w, http.StatusOK, DownloadResponse{
		Success:     true,
		Message:     "Download completed",
		Filename:    res.Filename,
		DownloadDir: res.Dir,
	})
}

// HandleProgress reports the latest known state of the download for ?url=.
func (h *RelayHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeJSON(r.Context(), w, http.StatusBadRequest, ErrorResponse{Error: "url query parameter is required"})

		return
	}

	// Downloads are recorded under the canonical form of the target URL.
	target, err := relay.ParseTarget(raw)
	if err != nil {
		writeJSON(r.Context(), w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})

		return
	}

	rec, err := h.registry.LatestByURL(r.Context(), target.String())
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(r.Context(), w, http.StatusOK, ProgressResponse{Status: "queued"})

		return
	}

	if err != nil {
		logger.Error("failed to look up download", "err", err)
		writeJSON(r.Context(), w, http.StatusInternalServerError, ErrorResponse{Error: "failed to look up download"})

		return
	}

	filename := filepath.Base(rec.FilePath)

	writeJSON(r.Context(), w, http.StatusOK, ProgressResponse{
		Status:       rec.Status,
		Progress:     rec.Progress(),
		Filename:     &filename,
		BytesWritten: rec.BytesWritten,
		TotalBytes:   rec.TotalBytes,
		Error:        rec.Error,
	})
}

// statusFor maps a relay failure to its HTTP status. Only malformed requests
// are the caller's fault; everything else, conflicts included, is a 500.
func statusFor(err error) int {
	if relay.KindOf(err) == relay.KindInvalidRequest {
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to encode response", "err", err)
	}
}
