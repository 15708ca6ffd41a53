// Package main provides the entrypoint for the castboard API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/castboard/castboard/internal/api"
	"github.com/castboard/castboard/internal/api/handler"
	"github.com/castboard/castboard/internal/api/middleware"
	"github.com/castboard/castboard/internal/auth"
	"github.com/castboard/castboard/internal/blob"
	"github.com/castboard/castboard/internal/clock"
	"github.com/castboard/castboard/internal/config"
	"github.com/castboard/castboard/internal/database"
	"github.com/castboard/castboard/internal/device"
	"github.com/castboard/castboard/internal/media"
	"github.com/castboard/castboard/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "castboard-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting castboard API")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry
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

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	if err := run(ctx, cfg, tp, log); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		stop()
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config, tp *telemetry.Provider, log zerolog.Logger) error {
	metrics, err := middleware.NewMetrics(tp.Meter)
	if err != nil {
		return err
	}

	// Connect to database
	dbConfig := cfg.DatabaseConfig()
	if cfg.MigrateOnStart {
		if err := database.Migrate(dbConfig, log); err != nil {
			return err
		}
	}
	pool, err := database.Connect(ctx, dbConfig)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Info().
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("database connected")

	// Object store
	blobs, err := blob.NewFromConfig(ctx, cfg.BlobConfig())
	if err != nil {
		return err
	}
	var files *blob.FileSystemStore
	if fs, ok := blobs.(*blob.FileSystemStore); ok {
		files = fs
	}
	log.Info().Str("type", cfg.Storage.Type).Msg("blob store initialized")

	// Auth
	if cfg.UsesDefaultSigningKey() {
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}
	authService := auth.NewService(auth.ServiceConfig{
		JWTService:  auth.NewJWTService(auth.JWTConfig{SigningKey: cfg.JWTSigningKey}),
		UserRepo:    auth.NewPostgresUserRepository(pool),
		RefreshRepo: auth.NewPostgresRefreshTokenRepository(pool),
	})
	log.Info().Msg("auth service initialized")

	// Media change notifications
	listener := media.NewListener(pool, log)
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		if err := listener.Run(ctx); err != nil {
			log.Error().Err(err).Msg("media listener stopped")
		}
	}()

	c := clock.Real{}
	mediaRepo := media.NewPostgresRepository(pool, listener)
	expirer := media.NewExpirer(media.ExpirerConfig{
		Repository: mediaRepo,
		Blobs:      blobs,
		Clock:      c,
		Logger:     log,
	})
	defer expirer.Wait()

	deviceService := device.NewService(device.ServiceConfig{
		Repository:    device.NewPostgresRepository(pool),
		Bootstrappers: []device.Bootstrapper{mediaRepo},
		Clock:         c,
		Logger:        log,
	})
	mediaService := media.NewService(media.ServiceConfig{
		Repository: mediaRepo,
		Expirer:    expirer,
		Clock:      c,
		Logger:     log,
	})
	uploader := media.NewUploader(media.UploaderConfig{
		Repository: mediaRepo,
		Blobs:      blobs,
		Clock:      c,
		Logger:     log,
	})
	subscriber := media.NewSubscriber(media.SubscriberConfig{
		Repository: mediaRepo,
		Expirer:    expirer,
		Clock:      c,
		Logger:     log,
	})
	log.Info().Msg("device and media services initialized")

	router := api.NewRouter(api.RouterConfig{
		Version:       Version,
		BuildTime:     BuildTime,
		Logger:        log,
		Metrics:       metrics,
		RequireTLS:    cfg.RequireTLS,
		AuthService:   authService,
		DeviceService: deviceService,
		MediaService:  mediaService,
		Uploader:      uploader,
		Subscriber:    subscriber,
		Files:         files,
		Clock:         c,
		Checks: []handler.NamedCheck{
			{Name: "database", Checker: database.NewChecker(pool)},
			{Name: "blobs", Checker: blobs},
		},
		MaxUploadBytes: cfg.MaxUploadBytes(),
	})

	// Streams and uploads outlive any fixed write deadline.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown does not wait for hijacked stream connections.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-listenerDone
	return nil
}
