package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"continuous-streamer/internal/platform/config"
	"continuous-streamer/internal/platform/ffmpeg"
	"continuous-streamer/internal/platform/logger"
	"continuous-streamer/internal/platform/metrics"
	"continuous-streamer/internal/streamer"
	"continuous-streamer/internal/youtube"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if cfg.RapidAPIKey == "" {
		log.Warn("RAPIDAPI_KEY is not set, metadata requests will be rejected")
	}

	client := youtube.NewClient(youtube.Options{
		APIKey:          cfg.RapidAPIKey,
		Host:            cfg.RapidAPIHost,
		MetadataTimeout: cfg.MetadataTimeout,
		DownloadTimeout: cfg.DownloadTimeout,
		MaxRedirects:    cfg.MaxRedirects,
	}, log)

	store, err := streamer.NewSegmentStore(cfg.WorkDir, client, log)
	if err != nil {
		log.Error("failed to initialize work dir", "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	svc := streamer.NewService(
		streamer.NewInMemoryRepository(),
		streamer.NewResolver(client, log),
		store,
		ffmpeg.NewRunner(cfg.FFmpegPath, log),
		streamer.ControllerConfig{
			IngestURL:       cfg.IngestURL,
			LiveURLTemplate: cfg.LiveURLTemplate,
			StopGrace:       cfg.StopGrace,
		},
		log,
		met,
	)
	svc.Controller().OnUnexpectedExit(func(err error) {
		log.Warn("broadcast stopped on its own, start the stream again to resume", "exit", err)
	})

	h := streamer.NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetQueueItems(svc.Len())
			met.SetStreaming(svc.Controller().IsActive())
		}).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		slog.String("port", cfg.Port),
		slog.String("work_dir", store.Dir()),
		slog.String("ffmpeg", cfg.FFmpegPath),
		slog.String("log_level", cfg.LogLevel),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	closed := make(chan struct{})
	go func() {
		svc.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-ctx.Done():
		log.Warn("background work did not finish before shutdown timeout")
	}

	log.Info("server stopped")
}
