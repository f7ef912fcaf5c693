package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/video_relay/internal/cleanup"
	"github.com/italolelis/video_relay/internal/config"
	"github.com/italolelis/video_relay/internal/http/rest"
	"github.com/italolelis/video_relay/internal/logctx"
	"github.com/italolelis/video_relay/internal/notifier"
	"github.com/italolelis/video_relay/internal/relay"
	"github.com/italolelis/video_relay/internal/storage"
	"github.com/italolelis/video_relay/internal/storage/sqlite"
	"github.com/italolelis/video_relay/internal/telemetry"
	slogmulti "github.com/samber/slog-multi"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := logctx.NewCorrelationHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("video relay starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		logger.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	downloadDir, err := cfg.ResolveDownloadDir()
	if err != nil {
		return err
	}

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if h := tel.LogHandler(); h != nil {
		logger = slog.New(slogmulti.Fanout(logger.Handler(), h))
		ctx = logctx.WithLogger(ctx, logger)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	registry := sqlite.NewInstrumentedDownloadRepository(database, tel)

	// =========================================================================
	// Start Relay
	fetchOpts := relay.FetchOptions{
		DialTimeout:           cfg.Upstream.DialTimeout,
		TLSHandshakeTimeout:   cfg.Upstream.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.Upstream.ResponseHeaderTimeout,
		MaxIdleConnsPerHost:   cfg.Upstream.MaxIdleConnsPerHost,
		UserAgent:             cfg.Upstream.UserAgent,
	}

	if cfg.Telemetry.Enabled {
		fetchOpts.TracerProvider = tel.TracerProvider()
		fetchOpts.MeterProvider = tel.MeterProvider()
	}

	relayCfg := relay.Config{
		Dir:              downloadDir,
		Fetcher:          relay.NewFetcher(fetchOpts),
		Registry:         registry,
		ProgressInterval: int64(cfg.ProgressInterval),
		Telemetry:        tel,
	}

	if cfg.DiscordWebhookURL != "" {
		relayCfg.Notifier = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	rl, err := relay.New(relayCfg)
	if err != nil {
		return fmt.Errorf("failed to create relay: %w", err)
	}

	// =========================================================================
	// Start Cleanup
	if err := cleanup.Sweep(ctx, registry, downloadDir, cfg.Retention, cfg.StalePartialAge); err != nil {
		logger.Warn("initial cleanup failed", "err", err)
	}

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, rl, registry, tel, cfg)

	logger.Info("waiting for downloads...",
		"download_dir", downloadDir,
		"progress_interval", cfg.ProgressInterval.String(),
		"retention", cfg.Retention.String(),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		runCleanup(gctx, registry, downloadDir, cfg)

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	return g.Wait()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, rl *relay.Relay, registry storage.DownloadReadRepository, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	h := rest.NewRelayHandler(rl, registry)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", h.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		// In-flight downloads keep running through shutdown until ShutdownTimeout.
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}
}

func runCleanup(ctx context.Context, registry storage.DownloadWriteRepository, dir string, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	cleanupTicker := time.NewTicker(cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-cleanupTicker.C:
			// Partials orphaned by a restart inside StalePartialAge age out here.
			if err := cleanup.Sweep(ctx, registry, dir, cfg.Retention, cfg.StalePartialAge); err != nil {
				logger.Error("failed to clean up downloads", "err", err)
			}
		}
	}
}
