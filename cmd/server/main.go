package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lemme-x/LiveStream/internal/platform/config"
	"github.com/Lemme-x/LiveStream/internal/platform/logger"
	"github.com/Lemme-x/LiveStream/internal/platform/metrics"
	"github.com/Lemme-x/LiveStream/internal/presence"
	"github.com/Lemme-x/LiveStream/internal/stream"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	uploadDir := config.GetEnv("UPLOAD_DIR", "./uploads")
	maxUploadMB := config.GetEnvInt("MAX_UPLOAD_MB", 512)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	store, err := stream.NewDiskStore(uploadDir)
	if err != nil {
		log.Error("storage init failed", "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	h := stream.NewHandler(store, log, met, int64(maxUploadMB)<<20)
	reg := presence.NewRegistry(log, met)
	hub := presence.NewHub(reg, log, met)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(logger.RequestLogger(log))
		r.Use(metrics.RequestMiddleware(met))
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			met.Handler(func() { met.SetActiveViewers(reg.TotalViewers()) }).ServeHTTP(w, r)
		})
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Post("/upload", h.Upload)
		r.Get("/stream/{object_id}", h.GetStream)
	})
	// The WebSocket upgrade needs the raw ResponseWriter (http.Hijacker),
	// which the logging middleware's wrapper hides.
	r.Get("/ws", hub.ServeWS)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"upload_dir", uploadDir,
		"max_upload_mb", maxUploadMB,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
