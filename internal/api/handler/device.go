package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/castboard/castboard/internal/api/models"
	"github.com/castboard/castboard/internal/api/response"
	"github.com/castboard/castboard/internal/device"
	"github.com/castboard/castboard/internal/failure"
)

// DeviceHandler handles device endpoints.
type DeviceHandler struct {
	devices *device.Service
	logger  zerolog.Logger
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(devices *device.Service, logger zerolog.Logger) *DeviceHandler {
	return &DeviceHandler{devices: devices, logger: logger}
}

// ListDevices handles GET /v1/devices - devices owned by the caller.
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.List(r.Context(), GetUserID(r.Context()))
	if err != nil {
		h.logger.Error().Err(err).Msg("list devices failed")
		response.Failure(w, r, failure.Wrap(err))
		return
	}

	out := models.DeviceList{Items: make([]models.Device, 0, len(devices))}
	for _, d := range devices {
		out.Items = append(out.Items, models.DeviceFrom(d))
	}
	response.JSON(w, r, http.StatusOK, out)
}

// RegisterDevice handles POST /v1/devices - register or reconnect a display.
// The body is a Registration in every case so clients can read the tagged
// outcome; the status is 201 for a new device and 200 for a reconnect.
func (h *DeviceHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	result := h.devices.Register(r.Context(), GetPrincipal(r.Context()), req.Code)
	body := models.RegistrationFrom(result)

	switch {
	case result.Success && result.IsNew:
		response.Created(w, r, "/v1/devices/"+result.Device.Code, body)
	case result.Success:
		response.JSON(w, r, http.StatusOK, body)
	case result.IsAuthError:
		response.JSON(w, r, http.StatusUnauthorized, body)
	case result.IsOffline:
		response.JSON(w, r, http.StatusServiceUnavailable, body)
	case result.IsRuleIssue:
		response.JSON(w, r, http.StatusForbidden, body)
	case strings.TrimSpace(req.Code) == "":
		response.JSON(w, r, http.StatusBadRequest, body)
	default:
		response.JSON(w, r, http.StatusInternalServerError, body)
	}
}

// UpdateStatus handles PUT /v1/devices/{code}/status - heartbeat and
// visibility changes.
func (h *DeviceHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	code, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req models.DeviceStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	if err := h.devices.SetStatus(r.Context(), code, device.Status(req.Status)); err != nil {
		writeDeviceError(w, r, err, h.logger)
		return
	}
	response.NoContent(w, r)
}

// Logout handles POST /v1/devices/{code}/logout - mark the display offline.
func (h *DeviceHandler) Logout(w http.ResponseWriter, r *http.Request) {
	code, ok := h.authorize(w, r)
	if !ok {
		return
	}

	if err := h.devices.Logout(r.Context(), code); err != nil {
		writeDeviceError(w, r, err, h.logger)
		return
	}
	response.NoContent(w, r)
}

func (h *DeviceHandler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	return authorizeDevice(w, r, h.devices, h.logger)
}

// authorizeDevice checks that the caller owns the device in the URL and
// writes the error response if not.
func authorizeDevice(w http.ResponseWriter, r *http.Request, devices *device.Service, logger zerolog.Logger) (string, bool) {
	code := chi.URLParam(r, "code")
	if _, err := devices.Authorize(r.Context(), GetUserID(r.Context()), code); err != nil {
		writeDeviceError(w, r, err, logger)
		return "", false
	}
	return code, true
}

func writeDeviceError(w http.ResponseWriter, r *http.Request, err error, logger zerolog.Logger) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		response.NotFound(w, r, "device not found")
	case errors.Is(err, device.ErrNotAuthorized):
		response.Forbidden(w, r, err.Error())
	case errors.Is(err, device.ErrInvalidStatus):
		response.BadRequest(w, r, err.Error(), []models.FieldError{
			{Field: "status", Message: err.Error(), Code: "INVALID_VALUE"},
		})
	default:
		logger.Error().Err(err).Msg("device operation failed")
		response.Failure(w, r, failure.Wrap(err))
	}
}
