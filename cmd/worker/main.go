// Package main provides the entrypoint for the castboard expiry worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/castboard/castboard/internal/api/handler"
	"github.com/castboard/castboard/internal/api/response"
	"github.com/castboard/castboard/internal/blob"
	"github.com/castboard/castboard/internal/config"
	"github.com/castboard/castboard/internal/database"
	"github.com/castboard/castboard/internal/media"
	"github.com/castboard/castboard/internal/telemetry"
	"github.com/castboard/castboard/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "castboard-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting castboard worker")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, cfg.TelemetryConfig(serviceName, Version))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if err := run(ctx, cfg, tp, log); err != nil {
		log.Error().Err(err).Msg("worker stopped with error")
		stop()
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	log.Info().Msg("worker stopped")
}

func run(ctx context.Context, cfg *config.Config, tp *telemetry.Provider, log zerolog.Logger) error {
	pool, err := database.Connect(ctx, cfg.DatabaseConfig())
	if err != nil {
		return err
	}
	defer pool.Close()

	blobs, err := blob.NewFromConfig(ctx, cfg.BlobConfig())
	if err != nil {
		return err
	}

	sweep, err := worker.NewExpirySweep(worker.SweepJobConfig{
		Config:     cfg.SweepConfig(),
		Repository: media.NewPostgresRepository(pool, nil),
		Blobs:      blobs,
		Logger:     log,
		Meter:      tp.Meter,
	})
	if err != nil {
		return err
	}

	// Worker also exposes health endpoints for Cloud Run
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           healthRouter(sweep),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("health check server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("health server forced to shutdown")
		}
	}()

	switch cfg.Worker.Mode {
	case config.WorkerModePubSub:
		h, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.Worker.ProjectID,
			SubscriptionName: cfg.Worker.SubscriptionName,
			Sweep:            sweep,
			Logger:           log,
		})
		if err != nil {
			return err
		}
		defer h.Close()
		return h.Start(ctx)
	default:
		return worker.NewScheduler(sweep, cfg.Worker.Interval, log).Start(ctx)
	}
}

func healthRouter(sweep *worker.ExpirySweep) http.Handler {
	ops := handler.NewOpsHandler(Version, BuildTime, handler.NamedCheck{Name: "sweep", Checker: sweep})

	r := chi.NewRouter()
	r.Get("/health", ops.HealthCheck)
	r.Get("/ready", ops.ReadinessCheck)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, sweep.MetricsSnapshot())
	})
	return r
}
