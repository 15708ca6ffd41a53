// Package apitest runs the castboard API in memory for client tests.
package apitest

import (
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/castboard/castboard/internal/api"
	"github.com/castboard/castboard/internal/auth"
	"github.com/castboard/castboard/internal/blob"
	"github.com/castboard/castboard/internal/device"
	"github.com/castboard/castboard/internal/media"
	"github.com/castboard/castboard/internal/testutil"
)

// Server is an API server backed by in-memory stores.
type Server struct {
	*httptest.Server

	Clock   *testutil.StubClock
	Auth    *auth.Service
	Devices *device.Service
	Media   *media.InMemoryRepository
	Blobs   *blob.MemoryStore
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()
	logger := zerolog.Nop()
	clk := testutil.FixedClock()

	authService := auth.NewService(auth.ServiceConfig{
		JWTService: auth.NewJWTService(auth.JWTConfig{
			SigningKey: "test-secret-key-for-testing-only",
			Issuer:     "https://api.castboard.dev",
			Audience:   "castboard-api",
		}),
		UserRepo:    auth.NewInMemoryUserRepository(),
		RefreshRepo: auth.NewInMemoryRefreshTokenRepository(),
		BcryptCost:  bcrypt.MinCost,
	})

	mediaRepo := media.NewInMemoryRepository()
	blobs := blob.NewMemoryStore("https://blobs.test")
	expirer := media.NewExpirer(media.ExpirerConfig{Repository: mediaRepo, Blobs: blobs, Clock: clk, Logger: logger})

	devices := device.NewService(device.ServiceConfig{
		Repository:    device.NewInMemoryRepository(),
		Bootstrappers: []device.Bootstrapper{mediaRepo},
		Clock:         clk,
		Logger:        logger,
	})

	router := api.NewRouter(api.RouterConfig{
		Version:       "test",
		BuildTime:     "2025-01-01T00:00:00Z",
		Logger:        logger,
		AuthService:   authService,
		DeviceService: devices,
		MediaService:  media.NewService(media.ServiceConfig{Repository: mediaRepo, Expirer: expirer, Clock: clk, Logger: logger}),
		Uploader:      media.NewUploader(media.UploaderConfig{Repository: mediaRepo, Blobs: blobs, Clock: clk, Logger: logger}),
		Subscriber:    media.NewSubscriber(media.SubscriberConfig{Repository: mediaRepo, Expirer: expirer, Clock: clk, Logger: logger}),
		Clock:         clk,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.CloseClientConnections()
		srv.Close()
		expirer.Wait()
	})

	return &Server{
		Server:  srv,
		Clock:   clk,
		Auth:    authService,
		Devices: devices,
		Media:   mediaRepo,
		Blobs:   blobs,
	}
}
