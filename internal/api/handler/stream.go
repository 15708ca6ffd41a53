package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/castboard/castboard/internal/api/middleware"
	"github.com/castboard/castboard/internal/api/models"
	"github.com/castboard/castboard/internal/clock"
	"github.com/castboard/castboard/internal/device"
	"github.com/castboard/castboard/internal/failure"
	"github.com/castboard/castboard/internal/media"
)

// Websocket timings.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// StreamHandler serves the live media of a device over a websocket.
type StreamHandler struct {
	devices    *device.Service
	subscriber *media.Subscriber
	clock      clock.Clock
	metrics    *middleware.Metrics
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// StreamHandlerConfig holds configuration for the stream handler.
type StreamHandlerConfig struct {
	Devices    *device.Service
	Subscriber *media.Subscriber
	Clock      clock.Clock
	Metrics    *middleware.Metrics

	// CheckOrigin overrides the upgrader's same-origin check.
	CheckOrigin func(r *http.Request) bool

	Logger zerolog.Logger
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(cfg StreamHandlerConfig) *StreamHandler {
	c := cfg.Clock
	if c == nil {
		c = clock.Real{}
	}
	return &StreamHandler{
		devices:    cfg.Devices,
		subscriber: cfg.Subscriber,
		clock:      c,
		metrics:    cfg.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		logger: cfg.Logger,
	}
}

// StreamMedia handles GET /v1/devices/{code}/media/stream. Each message is a
// models.StreamEvent carrying the full current list, so a slow reader only
// ever gets the latest state.
func (h *StreamHandler) StreamMedia(w http.ResponseWriter, r *http.Request) {
	code, ok := authorizeDevice(w, r, h.devices, h.logger)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("device_code", code).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := h.logger.With().
		Str("device_code", code).
		Str("request_id", middleware.GetRequestID(r.Context())).
		Logger()

	done := h.metrics.TrackStream(r.Context())
	defer done()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	latest := make(chan models.StreamEvent, 1)
	unsubscribe, err := h.subscriber.Subscribe(ctx, code, func(u media.Update) {
		offer(latest, models.StreamEventFrom(u, h.clock.Now()))
	})
	if err != nil {
		ferr := failure.Wrap(err)
		logger.Warn().Err(err).Msg("media subscription failed")
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(models.StreamEvent{
			Type:  models.StreamEventError,
			Error: &models.StreamError{Kind: string(ferr.Kind), Message: ferr.Message},
		})
		return
	}
	defer unsubscribe()

	logger.Info().Msg("media stream opened")
	go h.readPump(conn, cancel)
	h.writePump(ctx, conn, latest, logger)
	logger.Info().Msg("media stream closed")
}

// readPump discards client messages and cancels the stream when the
// connection closes.
func (h *StreamHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}

func (h *StreamHandler) writePump(ctx context.Context, conn *websocket.Conn, latest <-chan models.StreamEvent, logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case event := <-latest:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// offer replaces any unsent event in ch with ev. ch has a single producer.
func offer(ch chan models.StreamEvent, ev models.StreamEvent) {
	for {
		select {
		case ch <- ev:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
