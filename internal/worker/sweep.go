package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/castboard/castboard/internal/blob"
	"github.com/castboard/castboard/internal/clock"
	"github.com/castboard/castboard/internal/media"
	"github.com/castboard/castboard/internal/resilience"
)

// ExpirySweep expires every item whose expiration time has been reached:
// it deletes each item's blob, then patches all rows in one batch write.
type ExpirySweep struct {
	config SweepConfig
	repo   media.Repository
	blobs  blob.Store
	clock  clock.Clock
	logger zerolog.Logger

	instruments sweepInstruments
	metrics     *SweepMetrics
}

// SweepMetrics tracks sweep statistics.
type SweepMetrics struct {
	mu sync.RWMutex

	TotalRuns      int64
	FailedRuns     int64
	ItemsExpired   int64
	BlobsDeleted   int64
	BlobsMissing   int64
	BlobFailures   int64
	LastRunAt      time.Time
	LastRunExpired int
	LastDuration   time.Duration
	TotalDuration  time.Duration
}

type sweepInstruments struct {
	runs         metric.Int64Counter
	expired      metric.Int64Counter
	blobFailures metric.Int64Counter
	duration     metric.Float64Histogram
}

// SweepJobConfig holds configuration for creating an ExpirySweep.
type SweepJobConfig struct {
	Config     SweepConfig
	Repository media.Repository
	Blobs      blob.Store
	Clock      clock.Clock
	Logger     zerolog.Logger

	// Meter records castboard.sweep.* instruments. Optional.
	Meter metric.Meter
}

// NewExpirySweep creates a new sweep job.
func NewExpirySweep(cfg SweepJobConfig) (*ExpirySweep, error) {
	c := cfg.Clock
	if c == nil {
		c = clock.Real{}
	}
	meter := cfg.Meter
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("castboard")
	}

	instruments, err := newSweepInstruments(meter)
	if err != nil {
		return nil, err
	}

	return &ExpirySweep{
		config:      cfg.Config.withDefaults(),
		repo:        cfg.Repository,
		blobs:       cfg.Blobs,
		clock:       c,
		logger:      cfg.Logger,
		instruments: instruments,
		metrics:     &SweepMetrics{},
	}, nil
}

func newSweepInstruments(meter metric.Meter) (sweepInstruments, error) {
	var (
		in  sweepInstruments
		err error
	)
	if in.runs, err = meter.Int64Counter("castboard.sweep.runs",
		metric.WithDescription("Expiry sweep runs")); err != nil {
		return in, fmt.Errorf("creating sweep runs counter: %w", err)
	}
	if in.expired, err = meter.Int64Counter("castboard.sweep.expired",
		metric.WithDescription("Media items expired by the sweep")); err != nil {
		return in, fmt.Errorf("creating sweep expired counter: %w", err)
	}
	if in.blobFailures, err = meter.Int64Counter("castboard.sweep.blob_failures",
		metric.WithDescription("Blob deletions that failed after retries")); err != nil {
		return in, fmt.Errorf("creating sweep blob failures counter: %w", err)
	}
	if in.duration, err = meter.Float64Histogram("castboard.sweep.duration",
		metric.WithDescription("Expiry sweep duration"),
		metric.WithUnit("s")); err != nil {
		return in, fmt.Errorf("creating sweep duration histogram: %w", err)
	}
	return in, nil
}

// SweepResult contains the result of a sweep run.
type SweepResult struct {
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Due          int
	Expired      int
	BlobsDeleted int
	BlobsMissing int
	BlobFailures int
	Errors       []SweepError
}

// SweepError records a blob that could not be deleted. The row is still
// expired; the blob is left behind.
type SweepError struct {
	MediaID  string
	FilePath string
	Error    string
}

// Run expires all due items. Every patch is committed in one batch write,
// so a failed commit leaves all due items unexpired.
func (s *ExpirySweep) Run(ctx context.Context) (*SweepResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	startTime := time.Now()
	now := s.clock.Now()
	result := &SweepResult{StartTime: startTime}

	s.logger.Info().
		Time("now", now).
		Int("concurrency", s.config.Concurrency).
		Msg("starting expiry sweep")

	runErr := s.expireDue(ctx, now, result)

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)
	s.record(ctx, result, runErr)

	event := s.logger.Info()
	if runErr != nil {
		event = s.logger.Error().Err(runErr)
	}
	event.
		Dur("duration", result.Duration).
		Int("due", result.Due).
		Int("expired", result.Expired).
		Int("blobs_deleted", result.BlobsDeleted).
		Int("blobs_missing", result.BlobsMissing).
		Int("blob_failures", result.BlobFailures).
		Msg("expiry sweep completed")

	return result, runErr
}

func (s *ExpirySweep) expireDue(ctx context.Context, now time.Time, result *SweepResult) error {
	due, err := s.repo.ListDue(ctx, now, 0)
	if err != nil {
		return fmt.Errorf("listing due media: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	result.Due = len(due)

	patches := s.deleteBlobs(ctx, due, now, result)

	applied, err := s.repo.ExpireBatch(ctx, patches)
	if err != nil {
		return fmt.Errorf("expiring media batch: %w", err)
	}
	result.Expired = applied
	return nil
}

type blobResult struct {
	item    *media.Item
	deleted bool
	missing bool
	err     error
}

// deleteBlobs removes the blobs of items with a bounded worker pool and
// returns the expire patches for all of them.
func (s *ExpirySweep) deleteBlobs(ctx context.Context, items []*media.Item, now time.Time, result *SweepResult) []media.ExpirePatch {
	itemsChan := make(chan *media.Item, len(items))
	resultsChan := make(chan blobResult, len(items))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.blobWorker(ctx, itemsChan, resultsChan)
		}()
	}

	for _, item := range items {
		itemsChan <- item
	}
	close(itemsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	patches := make([]media.ExpirePatch, 0, len(items))
	for br := range resultsChan {
		switch {
		case br.err != nil:
			result.BlobFailures++
			result.Errors = append(result.Errors, SweepError{
				MediaID:  br.item.ID,
				FilePath: derefString(br.item.FilePath),
				Error:    br.err.Error(),
			})
			s.logger.Warn().
				Err(br.err).
				Str("media_id", br.item.ID).
				Msg("failed to delete blob, expiring anyway")
		case br.missing:
			result.BlobsMissing++
		case br.deleted:
			result.BlobsDeleted++
		}
		patches = append(patches, media.PatchFor(br.item, now))
	}
	return patches
}

func (s *ExpirySweep) blobWorker(ctx context.Context, items <-chan *media.Item, results chan<- blobResult) {
	for item := range items {
		results <- s.deleteBlob(ctx, item)
	}
}

func (s *ExpirySweep) deleteBlob(ctx context.Context, item *media.Item) blobResult {
	br := blobResult{item: item}
	if item.FilePath == nil || s.blobs == nil {
		return br
	}
	if err := ctx.Err(); err != nil {
		br.err = err
		return br
	}

	path := *item.FilePath
	err := resilience.Retry(ctx, s.config.Retry, func(ctx context.Context) error {
		err := s.blobs.Delete(ctx, path)
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidPath) {
			return resilience.Permanent(err)
		}
		return err
	})

	switch {
	case err == nil:
		br.deleted = true
	case errors.Is(err, blob.ErrNotFound):
		br.missing = true
	default:
		br.err = err
	}
	return br
}

func (s *ExpirySweep) record(ctx context.Context, result *SweepResult, runErr error) {
	status := "ok"
	if runErr != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	s.instruments.runs.Add(ctx, 1, attrs)
	s.instruments.expired.Add(ctx, int64(result.Expired))
	s.instruments.blobFailures.Add(ctx, int64(result.BlobFailures))
	s.instruments.duration.Record(ctx, result.Duration.Seconds(), attrs)

	s.metrics.mu.Lock()
	defer s.metrics.mu.Unlock()

	s.metrics.TotalRuns++
	if runErr != nil {
		s.metrics.FailedRuns++
	}
	s.metrics.ItemsExpired += int64(result.Expired)
	s.metrics.BlobsDeleted += int64(result.BlobsDeleted)
	s.metrics.BlobsMissing += int64(result.BlobsMissing)
	s.metrics.BlobFailures += int64(result.BlobFailures)
	s.metrics.LastRunAt = result.EndTime
	s.metrics.LastRunExpired = result.Expired
	s.metrics.LastDuration = result.Duration
	s.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (s *ExpirySweep) GetMetrics() SweepMetrics {
	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return SweepMetrics{
		TotalRuns:      s.metrics.TotalRuns,
		FailedRuns:     s.metrics.FailedRuns,
		ItemsExpired:   s.metrics.ItemsExpired,
		BlobsDeleted:   s.metrics.BlobsDeleted,
		BlobsMissing:   s.metrics.BlobsMissing,
		BlobFailures:   s.metrics.BlobFailures,
		LastRunAt:      s.metrics.LastRunAt,
		LastRunExpired: s.metrics.LastRunExpired,
		LastDuration:   s.metrics.LastDuration,
		TotalDuration:  s.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (s *ExpirySweep) MetricsSnapshot() map[string]interface{} {
	m := s.GetMetrics()
	return map[string]interface{}{
		"total_runs":       m.TotalRuns,
		"failed_runs":      m.FailedRuns,
		"items_expired":    m.ItemsExpired,
		"blobs_deleted":    m.BlobsDeleted,
		"blobs_missing":    m.BlobsMissing,
		"blob_failures":    m.BlobFailures,
		"last_run_at":      m.LastRunAt,
		"last_run_expired": m.LastRunExpired,
		"last_duration":    m.LastDuration.String(),
		"total_duration":   m.TotalDuration.String(),
	}
}

// Check verifies the sweep's dependencies are reachable.
func (s *ExpirySweep) Check(ctx context.Context) error {
	if _, err := s.repo.ListDue(ctx, s.clock.Now(), 1); err != nil {
		return fmt.Errorf("media store: %w", err)
	}
	if s.blobs != nil {
		if err := s.blobs.Check(ctx); err != nil {
			return fmt.Errorf("blob store: %w", err)
		}
	}
	return nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
