// Package display runs the client side of a signage display: it registers a
// device code, keeps exactly one live media subscription for it, and tracks
// what the screen should show.
package display

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/castboard/castboard/internal/api/models"
	"github.com/castboard/castboard/internal/device"
	"github.com/castboard/castboard/internal/failure"
	"github.com/castboard/castboard/internal/media"
)

// Messages shown on the display.
const (
	MessageConnectionLost = "Connection lost. Waiting for reconnection..."
	MessageUpdatesFailed  = "Error receiving media updates"
	MessageRegisterFailed = "Failed to register device"
)

// ErrNotRegistered is returned by operations that need a registered device.
var ErrNotRegistered = errors.New("display is not registered")

// API is the part of the castboard API a display uses.
type API interface {
	RegisterDevice(ctx context.Context, code string) (device.RegistrationResult, error)
	SetDeviceStatus(ctx context.Context, code string, status device.Status) error
	Subscribe(ctx context.Context, code string, onUpdate func(media.Update)) (media.Unsubscribe, error)
	CheckAccess(ctx context.Context) (*device.Access, error)
	CheckMedia(ctx context.Context, code string) (*models.MediaDiagnostics, error)
}

// State is a snapshot of what the display shows.
type State struct {
	DeviceCode  string
	Registered  bool
	Initialized bool
	Loading     bool

	// Items is the live media list, newest first. Current is its head.
	Items   []*media.Item
	Current *media.Item

	Error        string
	IsOffline    bool
	HasRuleIssue bool
	HasAuthError bool
}

// SessionConfig holds configuration for a Session.
type SessionConfig struct {
	API   API
	Codes CodeStore

	// OnChange, if set, is called with the new state after every change.
	// It runs on the goroutine that made the change and must not call back
	// into the session.
	OnChange func(State)

	// HeartbeatInterval is the period of online status reports in Run.
	// Default: 1 minute.
	HeartbeatInterval time.Duration

	// ReconnectBackoff returns the backoff used to reopen a lost stream.
	// Default: exponential, up to 30 seconds between attempts.
	ReconnectBackoff func() backoff.BackOff

	Logger zerolog.Logger
}

// Session is the state of one display.
type Session struct {
	api      API
	codes    CodeStore
	onChange func(State)
	interval time.Duration
	newBO    func() backoff.BackOff
	logger   zerolog.Logger

	mu    sync.Mutex
	state State

	// subMu serializes opening and closing the subscription. It is never
	// held while mu is wanted by a callback.
	subMu       sync.Mutex
	unsubscribe media.Unsubscribe
	subCode     string

	reconnect chan struct{}
}

// NewSession creates a new display session.
func NewSession(cfg SessionConfig) *Session {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = time.Minute
	}
	newBO := cfg.ReconnectBackoff
	if newBO == nil {
		newBO = func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = time.Second
			bo.MaxInterval = 30 * time.Second
			bo.MaxElapsedTime = 0
			return bo
		}
	}
	return &Session{
		api:       cfg.API,
		codes:     cfg.Codes,
		onChange:  cfg.OnChange,
		interval:  interval,
		newBO:     newBO,
		logger:    cfg.Logger,
		reconnect: make(chan struct{}, 1),
	}
}

// State returns a snapshot of the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) snapshot() State {
	st := s.state
	st.Items = append([]*media.Item(nil), s.state.Items...)
	return st
}

// update applies fn to the state under the lock and publishes the result.
func (s *Session) update(fn func(st *State)) {
	s.mu.Lock()
	fn(&s.state)
	st := s.snapshot()
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(st)
	}
}

// Initialize verifies that the API accepts this session's reads and writes.
func (s *Session) Initialize(ctx context.Context) bool {
	s.update(func(st *State) { st.Loading = true })

	_, err := s.api.CheckAccess(ctx)
	if err != nil {
		ferr := failure.Wrap(err)
		s.logger.Warn().Err(err).Str("kind", string(ferr.Kind)).Msg("access check failed")
		s.update(func(st *State) {
			st.Loading = false
			applyFailure(st, ferr, ferr.Message)
		})
		return false
	}

	s.update(func(st *State) {
		st.Loading = false
		st.Initialized = true
	})
	return true
}

// Restore registers the stored device code, if any.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	code, err := s.codes.Load()
	if err != nil {
		return false, err
	}
	if code == "" {
		return false, nil
	}
	return s.Register(ctx, code), nil
}

// Register registers code and, on success, persists it and switches the
// live subscription to it.
func (s *Session) Register(ctx context.Context, code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		s.update(func(st *State) { st.Error = device.MessageInvalidCode })
		return false
	}

	s.update(func(st *State) {
		st.Loading = true
		clearFailure(st)
	})

	result, err := s.api.RegisterDevice(ctx, code)
	if err != nil {
		ferr := failure.Wrap(err)
		s.update(func(st *State) {
			st.Loading = false
			applyFailure(st, ferr, ferr.Message)
		})
		return false
	}

	if !result.Success {
		s.logger.Warn().
			Str("device_code", code).
			Bool("offline", result.IsOffline).
			Bool("rule_issue", result.IsRuleIssue).
			Bool("auth_error", result.IsAuthError).
			Msg("device registration failed")
		s.update(func(st *State) {
			st.Loading = false
			st.IsOffline = result.IsOffline
			st.HasRuleIssue = result.IsRuleIssue
			st.HasAuthError = result.IsAuthError
			st.Error = result.Message
			if st.Error == "" {
				st.Error = MessageRegisterFailed
			}
		})
		return false
	}

	if err := s.codes.Save(code); err != nil {
		s.logger.Warn().Err(err).Str("device_code", code).Msg("failed to persist device code")
	}

	s.update(func(st *State) {
		if st.DeviceCode != code {
			st.Items = nil
			st.Current = nil
		}
		st.DeviceCode = code
		st.Registered = true
		st.Initialized = true
		st.Loading = false
		clearFailure(st)
	})
	s.logger.Info().Str("device_code", code).Bool("is_new", result.IsNew).Msg(result.Message)

	if err := s.subscribe(ctx, code); err != nil {
		ferr := failure.Wrap(err)
		s.logger.Warn().Err(err).Str("device_code", code).Msg("media subscription failed")
		s.update(func(st *State) { applyFailure(st, ferr, ferr.Message) })
		s.requestReconnect()
	}
	return true
}

// subscribe replaces the live subscription with one for code. The previous
// subscription is fully closed before the new one opens.
func (s *Session) subscribe(ctx context.Context, code string) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.closeSubscriptionLocked()

	unsubscribe, err := s.api.Subscribe(context.WithoutCancel(ctx), code, func(u media.Update) {
		s.onUpdate(code, u)
	})
	if err != nil {
		return err
	}
	s.unsubscribe = unsubscribe
	s.subCode = code
	s.logger.Debug().Str("device_code", code).Msg("media subscription opened")
	return nil
}

func (s *Session) closeSubscription() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.closeSubscriptionLocked()
}

func (s *Session) closeSubscriptionLocked() {
	if s.unsubscribe == nil {
		return
	}
	s.unsubscribe()
	s.logger.Debug().Str("device_code", s.subCode).Msg("media subscription closed")
	s.unsubscribe = nil
	s.subCode = ""
}

// Subscribed returns the code of the live subscription, or "".
func (s *Session) Subscribed() string {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.subCode
}

func (s *Session) onUpdate(code string, u media.Update) {
	if u.Err != nil {
		s.logger.Warn().
			Str("device_code", code).
			Str("kind", string(u.Err.Kind)).
			Msg(u.Err.Message)
		s.update(func(st *State) {
			if st.DeviceCode != code {
				return
			}
			applyFailure(st, u.Err, u.Err.Message)
			if u.Err.Kind == failure.KindOffline {
				st.Error = MessageConnectionLost
			}
		})
		if u.Err.Kind == failure.KindOffline {
			s.requestReconnect()
		}
		return
	}

	s.update(func(st *State) {
		if st.DeviceCode != code {
			return
		}
		st.Items = u.Items
		st.Current = u.Current()
		if st.IsOffline {
			st.IsOffline = false
			st.Error = ""
		}
	})
}

func (s *Session) requestReconnect() {
	select {
	case s.reconnect <- struct{}{}:
	default:
	}
}

// Retry rechecks access and re-registers the current code.
func (s *Session) Retry(ctx context.Context) bool {
	s.update(func(st *State) {
		st.HasRuleIssue = false
		st.HasAuthError = false
		st.Error = ""
	})

	if !s.Initialize(ctx) {
		return false
	}

	code := s.State().DeviceCode
	if code == "" {
		s.update(func(st *State) { st.IsOffline = false })
		return true
	}

	diag, err := s.api.CheckMedia(ctx, code)
	if err != nil {
		s.logger.Warn().Err(err).Str("device_code", code).Msg("media check failed")
	} else {
		s.logger.Info().
			Str("device_code", code).
			Int("count", diag.Count).
			Int("expired", diag.Expired).
			Msg("media check")
	}

	return s.Register(ctx, code)
}

// Heartbeat reports the display online.
func (s *Session) Heartbeat(ctx context.Context) error {
	return s.SetVisible(ctx, true)
}

// SetVisible reports a visibility change of the display.
func (s *Session) SetVisible(ctx context.Context, visible bool) error {
	st := s.State()
	if !st.Registered {
		return ErrNotRegistered
	}
	status := device.StatusOffline
	if visible {
		status = device.StatusOnline
	}
	return s.api.SetDeviceStatus(ctx, st.DeviceCode, status)
}

// Logout marks the device offline, closes the subscription, and forgets
// the stored code.
func (s *Session) Logout(ctx context.Context) error {
	code := s.State().DeviceCode
	var statusErr error
	if code != "" {
		statusErr = s.api.SetDeviceStatus(ctx, code, device.StatusOffline)
		if statusErr != nil {
			s.logger.Warn().Err(statusErr).Str("device_code", code).Msg("failed to mark device offline")
		}
	}

	s.closeSubscription()

	s.update(func(st *State) {
		st.DeviceCode = ""
		st.Registered = false
		st.Items = nil
		st.Current = nil
	})

	if err := s.codes.Clear(); err != nil {
		return err
	}
	return statusErr
}

// Close closes the subscription and reports the display offline, keeping
// the stored code for the next start.
func (s *Session) Close(ctx context.Context) {
	s.closeSubscription()

	st := s.State()
	if !st.Registered {
		return
	}
	if err := s.api.SetDeviceStatus(ctx, st.DeviceCode, device.StatusOffline); err != nil {
		s.logger.Warn().Err(err).Str("device_code", st.DeviceCode).Msg("failed to mark device offline")
	}
}

// Run initializes the session, restores the stored code, and then keeps
// the device online and its stream open until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		s.Close(closeCtx)
	}()

	if s.Initialize(ctx) {
		if _, err := s.Restore(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("failed to restore device code")
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Heartbeat(ctx); err != nil && !errors.Is(err, ErrNotRegistered) {
				s.logger.Warn().Err(err).Msg("heartbeat failed")
			}
		case <-s.reconnect:
			s.resubscribe(ctx)
		}
	}
}

// resubscribe reopens the stream of the registered code with backoff.
func (s *Session) resubscribe(ctx context.Context) {
	op := func() error {
		st := s.State()
		if !st.Registered {
			return nil
		}
		if err := s.subscribe(ctx, st.DeviceCode); err != nil {
			s.logger.Debug().Err(err).Str("device_code", st.DeviceCode).Msg("reconnect attempt failed")
			if failure.IsAuth(err) || failure.IsRuleIssue(err) {
				ferr := failure.Wrap(err)
				s.update(func(st *State) { applyFailure(st, ferr, ferr.Message) })
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(s.newBO(), ctx)); err != nil {
		s.logger.Warn().Err(err).Msg("giving up on media stream reconnect")
	}
}

func clearFailure(st *State) {
	st.Error = ""
	st.IsOffline = false
	st.HasRuleIssue = false
	st.HasAuthError = false
}

func applyFailure(st *State, ferr *failure.Error, message string) {
	switch ferr.Kind {
	case failure.KindOffline:
		st.IsOffline = true
	case failure.KindRuleIssue:
		st.HasRuleIssue = true
	case failure.KindAuth:
		st.HasAuthError = true
	}
	st.Error = message
	if st.Error == "" {
		st.Error = MessageUpdatesFailed
	}
}
