package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// NotifyChannel is the PostgreSQL channel the media trigger notifies on.
// The payload is the device code of the changed row.
const NotifyChannel = "media_changes"

// Listener holds one dedicated connection that LISTENs for media changes
// and fans them out to watchers.
type Listener struct {
	pool   *pgxpool.Pool
	hub    *watchHub
	logger zerolog.Logger
}

// NewListener creates a listener. Call Run to start receiving.
func NewListener(pool *pgxpool.Pool, logger zerolog.Logger) *Listener {
	return &Listener{
		pool:   pool,
		hub:    newWatchHub(),
		logger: logger,
	}
}

// Run listens until ctx is cancelled, reconnecting with exponential
// backoff. Watchers receive an error notification when the connection is
// lost and a change notification once it is restored.
func (l *Listener) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	for {
		err := l.listen(ctx, b)
		if ctx.Err() != nil {
			return nil
		}

		l.logger.Warn().Err(err).Msg("media listener disconnected")
		l.hub.broadcast(Notification{Err: err})

		wait := b.NextBackOff()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (l *Listener) listen(ctx context.Context, b backoff.BackOff) error {
	pooled, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	conn := pooled.Hijack()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	l.logger.Info().Str("channel", NotifyChannel).Msg("media listener connected")
	b.Reset()

	// Changes may have been missed while disconnected.
	l.hub.broadcast(Notification{})

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		l.hub.publish(n.Payload, Notification{})
	}
}
