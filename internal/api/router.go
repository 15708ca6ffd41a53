// Package api provides the HTTP API for castboard.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/castboard/castboard/internal/api/handler"
	"github.com/castboard/castboard/internal/api/middleware"
	"github.com/castboard/castboard/internal/auth"
	"github.com/castboard/castboard/internal/blob"
	"github.com/castboard/castboard/internal/clock"
	"github.com/castboard/castboard/internal/device"
	"github.com/castboard/castboard/internal/media"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger
	Metrics   *middleware.Metrics

	// RequireTLS rejects requests forwarded over plain HTTP.
	RequireTLS bool

	AuthService   *auth.Service
	DeviceService *device.Service
	MediaService  *media.Service
	Uploader      *media.Uploader
	Subscriber    *media.Subscriber

	// Files serves uploaded objects under /files when the filesystem
	// blob backend is in use. Nil disables the route.
	Files *blob.FileSystemStore

	Clock          clock.Clock
	Checks         []handler.NamedCheck
	MaxUploadBytes int64

	// CheckOrigin overrides the websocket same-origin check.
	CheckOrigin func(r *http.Request) bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID) // Generate/propagate request ID first
	r.Use(middleware.Tracing()) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Checks...)
	authHandler := handler.NewAuthHandler(cfg.AuthService, cfg.Logger)
	deviceHandler := handler.NewDeviceHandler(cfg.DeviceService, cfg.Logger)
	mediaHandler := handler.NewMediaHandler(handler.MediaHandlerConfig{
		Service:        cfg.MediaService,
		Devices:        cfg.DeviceService,
		Uploader:       cfg.Uploader,
		Clock:          cfg.Clock,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         cfg.Logger,
	})
	streamHandler := handler.NewStreamHandler(handler.StreamHandlerConfig{
		Devices:     cfg.DeviceService,
		Subscriber:  cfg.Subscriber,
		Clock:       cfg.Clock,
		Metrics:     cfg.Metrics,
		CheckOrigin: cfg.CheckOrigin,
		Logger:      cfg.Logger,
	})
	diagnosticsHandler := handler.NewDiagnosticsHandler(cfg.DeviceService, cfg.Subscriber, cfg.Clock, cfg.Logger)

	authMiddleware := middleware.Auth(cfg.AuthService)

	authRateLimit := middleware.RateLimitByIP(middleware.AuthRateLimit)       // 10 req/min
	userRateLimit := middleware.RateLimitByUser(middleware.StandardRateLimit) // 100 req/min per user
	uploadRateLimit := middleware.RateLimitByUser(middleware.UploadRateLimit) // 20 req/min per user
	jsonBody := middleware.RequireContentType("application/json")

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)

		// Auth endpoints (public) - strict rate limiting
		r.Route("/auth", func(r chi.Router) {
			r.Use(authRateLimit)
			r.Use(jsonBody)
			r.Post("/signup", authHandler.SignUp)
			r.Post("/signin", authHandler.SignIn)
			r.Post("/refresh", authHandler.RefreshToken)
			r.Post("/logout", authHandler.Logout)
			// logout-all requires authentication
			r.With(authMiddleware).Post("/logout-all", authHandler.LogoutAll)
		})

		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		// Everything below requires a session.
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(userRateLimit)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", deviceHandler.ListDevices)
				r.With(jsonBody).Post("/", deviceHandler.RegisterDevice)
				r.Route("/{code}", func(r chi.Router) {
					r.With(jsonBody).Put("/status", deviceHandler.UpdateStatus)
					r.Post("/logout", deviceHandler.Logout)
					r.Get("/media/stream", streamHandler.StreamMedia)
				})
			})

			r.Route("/media", func(r chi.Router) {
				r.Get("/", mediaHandler.ListMedia)
				r.With(uploadRateLimit, middleware.RequireContentType("multipart/form-data")).
					Post("/", mediaHandler.UploadMedia)
				r.Route("/{mediaId}", func(r chi.Router) {
					r.Get("/", mediaHandler.GetMedia)
					r.Delete("/", mediaHandler.DeleteMedia)
					r.Post("/expire", mediaHandler.ExpireMedia)
				})
			})

			r.Route("/diagnostics", func(r chi.Router) {
				r.Get("/access", diagnosticsHandler.Access)
				r.Get("/media", diagnosticsHandler.Media)
			})
		})
	})

	// Uploaded files are public by URL like the object store's links.
	if cfg.Files != nil {
		filesHandler := handler.NewFilesHandler(cfg.Files, cfg.Logger)
		r.Get("/files/*", filesHandler.ServeFile)
		r.Head("/files/*", filesHandler.ServeFile)
	}

	return r
}
