package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/castboard/castboard/internal/blob"
	"github.com/castboard/castboard/internal/clock"
)

// Mode identifies which trigger requested an expiration.
type Mode string

const (
	// ModeOpportunistic is triggered by a read that found an overdue item.
	ModeOpportunistic Mode = "opportunistic"
	// ModeSweep is triggered by the scheduled sweep.
	ModeSweep Mode = "sweep"
	// ModeManual is triggered by the owner expiring or deleting an item.
	ModeManual Mode = "manual"
)

// Expirer performs the expire transition: delete the blob, then patch the
// row into its expired shape.
type Expirer struct {
	repo    Repository
	blobs   blob.Store
	clock   clock.Clock
	logger  zerolog.Logger
	timeout time.Duration

	wg       sync.WaitGroup
	mu       sync.Mutex
	inflight map[string]struct{}
}

// ExpirerConfig holds configuration for an Expirer.
type ExpirerConfig struct {
	Repository Repository
	Blobs      blob.Store
	Clock      clock.Clock
	Logger     zerolog.Logger

	// Timeout bounds each background expiration. Default: 30 seconds.
	Timeout time.Duration
}

// NewExpirer creates a new Expirer.
func NewExpirer(cfg ExpirerConfig) *Expirer {
	c := cfg.Clock
	if c == nil {
		c = clock.Real{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Expirer{
		repo:     cfg.Repository,
		blobs:    cfg.Blobs,
		clock:    c,
		logger:   cfg.Logger,
		timeout:  timeout,
		inflight: make(map[string]struct{}),
	}
}

// Expire runs the transition for item at now. It returns whether the row
// was patched; an item that is already expired is left untouched.
//
// A missing blob is not an error. Other blob failures abort a manual
// expiration and are only logged for the other modes.
func (e *Expirer) Expire(ctx context.Context, item *Item, now time.Time, mode Mode) (bool, error) {
	if item.Expired {
		return false, nil
	}

	logger := e.logger.With().
		Str("media_id", item.ID).
		Str("device_code", item.DeviceCode).
		Str("mode", string(mode)).
		Logger()

	if item.FilePath != nil && e.blobs != nil {
		if err := e.blobs.Delete(ctx, *item.FilePath); err != nil && !errors.Is(err, blob.ErrNotFound) {
			if mode == ModeManual {
				return false, fmt.Errorf("delete blob: %w", err)
			}
			logger.Warn().Err(err).Str("file_path", *item.FilePath).Msg("failed to delete blob")
		}
	}

	applied, err := e.repo.Expire(ctx, PatchFor(item, now))
	if err != nil {
		return false, fmt.Errorf("patch media: %w", err)
	}

	if applied {
		logger.Info().Msg("media expired")
	}
	return applied, nil
}

// Schedule expires item in the background. The caller's cancellation does
// not abort the work, but each run is bounded by the configured timeout.
// Items already being expired are skipped.
func (e *Expirer) Schedule(ctx context.Context, item *Item) {
	if item.Expired || item.Placeholder() {
		return
	}

	e.mu.Lock()
	if _, busy := e.inflight[item.ID]; busy {
		e.mu.Unlock()
		return
	}
	e.inflight[item.ID] = struct{}{}
	e.wg.Add(1)
	e.mu.Unlock()

	target := copyItem(item)
	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.inflight, target.ID)
			e.mu.Unlock()
			e.wg.Done()
		}()

		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()

		if _, err := e.Expire(runCtx, target, e.clock.Now(), ModeOpportunistic); err != nil {
			e.logger.Warn().Err(err).Str("media_id", target.ID).Msg("opportunistic expiration failed")
		}
	}()
}

// Wait blocks until all scheduled expirations have finished.
func (e *Expirer) Wait() {
	e.wg.Wait()
}
