package handler

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/castboard/castboard/internal/api/models"
	"github.com/castboard/castboard/internal/api/response"
	"github.com/castboard/castboard/internal/clock"
	"github.com/castboard/castboard/internal/device"
	"github.com/castboard/castboard/internal/failure"
	"github.com/castboard/castboard/internal/media"
)

// DiagnosticsHandler handles the manual store checks used when a display
// cannot register or shows nothing.
type DiagnosticsHandler struct {
	devices    *device.Service
	subscriber *media.Subscriber
	clock      clock.Clock
	logger     zerolog.Logger
}

// NewDiagnosticsHandler creates a new DiagnosticsHandler.
func NewDiagnosticsHandler(devices *device.Service, subscriber *media.Subscriber, c clock.Clock, logger zerolog.Logger) *DiagnosticsHandler {
	if c == nil {
		c = clock.Real{}
	}
	return &DiagnosticsHandler{devices: devices, subscriber: subscriber, clock: c, logger: logger}
}

// Access handles GET /v1/diagnostics/access - write and read back a probe
// record as the caller.
func (h *DiagnosticsHandler) Access(w http.ResponseWriter, r *http.Request) {
	access, err := h.devices.Probe(r.Context(), GetPrincipal(r.Context()))
	if err != nil {
		ferr := failure.Wrap(err)
		h.logger.Warn().Err(err).Str("kind", string(ferr.Kind)).Msg("access probe failed")
		response.Failure(w, r, ferr)
		return
	}
	response.JSON(w, r, http.StatusOK, models.AccessProbe{
		UserID:    access.UserID,
		CheckedAt: models.Timestamp(access.CheckedAt),
	})
}

// Media handles GET /v1/diagnostics/media?deviceCode= - the presentation a
// display with that code would currently receive.
func (h *DiagnosticsHandler) Media(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("deviceCode"))
	if code == "" {
		response.BadRequest(w, r, "validation error", []models.FieldError{
			{Field: "deviceCode", Message: "deviceCode is required", Code: "REQUIRED"},
		})
		return
	}

	if _, err := h.devices.Authorize(r.Context(), GetUserID(r.Context()), code); err != nil {
		writeDeviceError(w, r, err, h.logger)
		return
	}

	items, err := h.subscriber.Snapshot(r.Context(), code)
	if err != nil {
		h.logger.Warn().Err(err).Str("device_code", code).Msg("media check failed")
		response.Failure(w, r, failure.Wrap(err))
		return
	}

	now := h.clock.Now()
	out := models.MediaDiagnostics{
		DeviceCode: code,
		Count:      len(items),
		Items:      models.MediaListFrom(items, now),
	}
	for _, item := range items {
		if media.IsExpired(item, now) {
			out.Expired++
		}
	}
	response.JSON(w, r, http.StatusOK, out)
}
