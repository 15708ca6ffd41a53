package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/castboard/castboard/internal/auth"
	"github.com/castboard/castboard/internal/clock"
	"github.com/castboard/castboard/internal/failure"
)

// Registration messages.
const (
	MessageRegistered  = "Device registered successfully"
	MessageReconnected = "Device reconnected"
	MessageInvalidCode = "Please enter a valid code"
)

// RegistrationResult is the tagged outcome of a registration attempt.
type RegistrationResult struct {
	Success     bool
	IsNew       bool
	Message     string
	IsOffline   bool
	IsRuleIssue bool
	IsAuthError bool
	Device      *Device
}

// Bootstrapper seeds a collection with a placeholder row when it is empty.
type Bootstrapper interface {
	EnsureBootstrap(ctx context.Context) error
}

// Service provides device operations.
type Service struct {
	repo          Repository
	bootstrappers []Bootstrapper
	clock         clock.Clock
	logger        zerolog.Logger
}

// ServiceConfig holds configuration for the device service.
type ServiceConfig struct {
	Repository Repository

	// Bootstrappers run before each registration, after the access probe.
	// The device repository is always included.
	Bootstrappers []Bootstrapper

	Clock  clock.Clock
	Logger zerolog.Logger
}

// NewService creates a new device service.
func NewService(cfg ServiceConfig) *Service {
	c := cfg.Clock
	if c == nil {
		c = clock.Real{}
	}
	bootstrappers := append([]Bootstrapper{cfg.Repository}, cfg.Bootstrappers...)
	return &Service{
		repo:          cfg.Repository,
		bootstrappers: bootstrappers,
		clock:         c,
		logger:        cfg.Logger,
	}
}

// Register binds code to the signed-in user and marks the device online.
// A code that already exists is taken over by the caller.
func (s *Service) Register(ctx context.Context, principal *auth.Principal, code string) RegistrationResult {
	code = strings.TrimSpace(code)
	if code == "" {
		return RegistrationResult{Message: MessageInvalidCode}
	}

	if principal == nil || principal.UserID == "" {
		return RegistrationResult{Message: failure.MessageAuth, IsAuthError: true}
	}

	logger := s.logger.With().
		Str("device_code", code).
		Str("user_id", principal.UserID).
		Logger()

	if _, err := s.Probe(ctx, principal); err != nil {
		logger.Warn().Err(err).Msg("access probe failed")
		return failedResult(err)
	}

	s.EnsureBootstrap(ctx)

	now := s.clock.Now()
	device := &Device{
		Code:         code,
		UserID:       principal.UserID,
		UserEmail:    principal.Email,
		Status:       StatusOnline,
		RegisteredAt: now,
		LastSeen:     now,
	}

	created, err := s.repo.Upsert(ctx, device)
	if err != nil {
		logger.Error().Err(err).Msg("device registration failed")
		return failedResult(err)
	}

	message := MessageReconnected
	if created {
		message = MessageRegistered
	}
	logger.Info().Bool("is_new", created).Msg("device registered")

	return RegistrationResult{
		Success: true,
		IsNew:   created,
		Message: message,
		Device:  device,
	}
}

// Get retrieves a device by code.
func (s *Service) Get(ctx context.Context, code string) (*Device, error) {
	return s.repo.Get(ctx, code)
}

// Authorize returns the device if it is owned by userID.
func (s *Service) Authorize(ctx context.Context, userID, code string) (*Device, error) {
	device, err := s.repo.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if device.Placeholder() {
		return nil, ErrDeviceNotFound
	}
	if device.UserID != userID {
		return nil, ErrNotAuthorized
	}
	return device, nil
}

// SetStatus records a presence change (heartbeat, visibility, or unload).
func (s *Service) SetStatus(ctx context.Context, code string, status Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	if err := s.repo.SetStatus(ctx, code, status, s.clock.Now()); err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("set device status: %w", err)
	}
	return nil
}

// Logout marks the device offline.
func (s *Service) Logout(ctx context.Context, code string) error {
	return s.SetStatus(ctx, code, StatusOffline)
}

// List returns the devices owned by userID.
func (s *Service) List(ctx context.Context, userID string) ([]*Device, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Probe writes and reads back an access record to verify the store accepts
// the caller's reads and writes.
func (s *Service) Probe(ctx context.Context, principal *auth.Principal) (*Access, error) {
	if principal == nil {
		return nil, failure.New(failure.KindAuth, failure.MessageAuth, nil)
	}
	access, err := s.repo.Probe(ctx, principal.UserID, s.clock.Now())
	if err != nil {
		return nil, failure.Wrap(err)
	}
	return access, nil
}

// EnsureBootstrap seeds empty collections with placeholder rows. Failures
// are logged and do not stop the caller.
func (s *Service) EnsureBootstrap(ctx context.Context) {
	for _, b := range s.bootstrappers {
		if err := b.EnsureBootstrap(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("collection bootstrap failed")
		}
	}
}

func failedResult(err error) RegistrationResult {
	ferr := failure.Wrap(err)
	result := RegistrationResult{Message: ferr.Message}
	switch ferr.Kind {
	case failure.KindOffline:
		result.IsOffline = true
	case failure.KindRuleIssue:
		result.IsRuleIssue = true
	case failure.KindAuth:
		result.IsAuthError = true
	default:
		result.Message = "Failed to register device: " + ferr.Message
	}
	return result
}
