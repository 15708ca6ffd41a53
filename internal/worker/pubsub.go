package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Job types carried in Pub/Sub messages.
const (
	JobExpireMedia = "expire_media"
	JobHealthCheck = "health_check"
)

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	jobs             *Jobs
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Sweep            *ExpirySweep
	Logger           zerolog.Logger
}

// JobMessage represents a scheduled job message.
type JobMessage struct {
	JobType string `json:"job_type"`
}

// Jobs dispatches job messages to the sweep.
type Jobs struct {
	sweep  *ExpirySweep
	logger zerolog.Logger
}

// NewJobs creates a dispatcher for sweep.
func NewJobs(sweep *ExpirySweep, logger zerolog.Logger) *Jobs {
	return &Jobs{sweep: sweep, logger: logger}
}

// Ack reports whether a message should be acknowledged. Malformed and
// unknown messages are acknowledged so they are not redelivered.
type Ack bool

// Handle runs the job described by data.
func (j *Jobs) Handle(ctx context.Context, data []byte) (Ack, error) {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		j.logger.Error().Err(err).Msg("failed to parse job message")
		return true, nil
	}

	switch msg.JobType {
	case JobExpireMedia:
		result, err := j.sweep.Run(ctx)
		if err != nil {
			return false, err
		}
		j.logger.Info().
			Int("expired", result.Expired).
			Int("blob_failures", result.BlobFailures).
			Msg("expire_media job completed")
		return true, nil
	case JobHealthCheck:
		if err := j.sweep.Check(ctx); err != nil {
			return false, fmt.Errorf("health check failed: %w", err)
		}
		j.logger.Debug().Msg("health check passed")
		return true, nil
	default:
		j.logger.Warn().Str("job_type", msg.JobType).Msg("unknown job type")
		return true, nil
	}
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// One sweep at a time; a sweep may take minutes.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		jobs:             NewJobs(cfg.Sweep, cfg.Logger),
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	ack, err := h.jobs.Handle(ctx, msg.Data)
	if err != nil {
		logger.Error().Err(err).Msg("job failed")
	}
	if !ack {
		msg.Nack()
		return
	}

	logger.Info().
		Dur("duration", time.Since(startTime)).
		Msg("message handled")
	msg.Ack()
}
