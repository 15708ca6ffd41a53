package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/castboard/castboard/internal/api/models"
	"github.com/castboard/castboard/internal/api/response"
	"github.com/castboard/castboard/internal/clock"
	"github.com/castboard/castboard/internal/device"
	"github.com/castboard/castboard/internal/failure"
	"github.com/castboard/castboard/internal/media"
)

// DefaultMaxUploadBytes bounds the size of an upload request.
const DefaultMaxUploadBytes int64 = 512 << 20

// multipartMemory is the part of a multipart form kept in memory; the rest
// spills to temporary files.
const multipartMemory = 8 << 20

// MediaHandler handles media endpoints.
type MediaHandler struct {
	media          *media.Service
	devices        *device.Service
	uploader       *media.Uploader
	clock          clock.Clock
	maxUploadBytes int64
	logger         zerolog.Logger
}

// MediaHandlerConfig holds configuration for the media handler.
type MediaHandlerConfig struct {
	Service        *media.Service
	Devices        *device.Service
	Uploader       *media.Uploader
	Clock          clock.Clock
	MaxUploadBytes int64
	Logger         zerolog.Logger
}

// NewMediaHandler creates a new MediaHandler.
func NewMediaHandler(cfg MediaHandlerConfig) *MediaHandler {
	c := cfg.Clock
	if c == nil {
		c = clock.Real{}
	}
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &MediaHandler{
		media:          cfg.Service,
		devices:        cfg.Devices,
		uploader:       cfg.Uploader,
		clock:          c,
		maxUploadBytes: maxBytes,
		logger:         cfg.Logger,
	}
}

// ListMedia handles GET /v1/media?deviceCode= - the caller's uploads for a
// device, newest first.
func (h *MediaHandler) ListMedia(w http.ResponseWriter, r *http.Request) {
	deviceCode := strings.TrimSpace(r.URL.Query().Get("deviceCode"))

	items, err := h.media.List(r.Context(), GetUserID(r.Context()), deviceCode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.MediaList{Items: models.MediaListFrom(items, h.clock.Now())})
}

// GetMedia handles GET /v1/media/{mediaId}.
func (h *MediaHandler) GetMedia(w http.ResponseWriter, r *http.Request) {
	item, err := h.media.Get(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "mediaId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.MediaFrom(item, h.clock.Now()))
}

// UploadMedia handles POST /v1/media - multipart upload with fields title,
// deviceCode, expiresAt (RFC 3339) and file.
func (h *MediaHandler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.TooLarge(w, r, "upload is too large")
			return
		}
		response.BadRequest(w, r, "invalid multipart form", nil)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	in := media.UploadInput{
		Title:      r.FormValue("title"),
		DeviceCode: r.FormValue("deviceCode"),
	}

	// A blank code is reported by the uploader's validation.
	if code := strings.TrimSpace(in.DeviceCode); code != "" {
		if _, err := h.devices.Authorize(r.Context(), GetUserID(r.Context()), code); err != nil {
			writeDeviceError(w, r, err, h.logger)
			return
		}
	}

	if raw := strings.TrimSpace(r.FormValue("expiresAt")); raw != "" {
		expiresAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.BadRequest(w, r, "validation error", []models.FieldError{
				{Field: "expiresAt", Message: "expiresAt must be an RFC 3339 timestamp", Code: "INVALID_FORMAT"},
			})
			return
		}
		in.ExpiresAt = expiresAt
	}

	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		in.FileName = header.Filename
		in.ContentType = header.Header.Get("Content-Type")
		in.Size = header.Size
		in.Body = file
	case !errors.Is(err, http.ErrMissingFile):
		response.BadRequest(w, r, "invalid file part", nil)
		return
	}

	item, err := h.uploader.Upload(r.Context(), GetPrincipal(r.Context()), in, nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.Created(w, r, "/v1/media/"+item.ID, models.MediaFrom(item, h.clock.Now()))
}

// ExpireMedia handles POST /v1/media/{mediaId}/expire.
func (h *MediaHandler) ExpireMedia(w http.ResponseWriter, r *http.Request) {
	item, err := h.media.Expire(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "mediaId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.MediaFrom(item, h.clock.Now()))
}

// DeleteMedia handles DELETE /v1/media/{mediaId}. The file is removed and
// the item is left in its expired shape.
func (h *MediaHandler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	item, err := h.media.Delete(r.Context(), GetUserID(r.Context()), chi.URLParam(r, "mediaId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.MediaFrom(item, h.clock.Now()))
}

// validationFields maps upload validation errors to their form field.
var validationFields = map[error]string{
	media.ErrMissingFile:       "file",
	media.ErrInvalidFileType:   "file",
	media.ErrMissingTitle:      "title",
	media.ErrMissingDevice:     "deviceCode",
	media.ErrInvalidExpiration: "expiresAt",
}

func (h *MediaHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for target, field := range validationFields {
		if errors.Is(err, target) {
			response.BadRequest(w, r, target.Error(), []models.FieldError{
				{Field: field, Message: target.Error(), Code: "INVALID_VALUE"},
			})
			return
		}
	}

	switch {
	case errors.Is(err, media.ErrUnauthenticated):
		response.Unauthorized(w, r, err.Error())
	case errors.Is(err, media.ErrMediaNotFound):
		response.NotFound(w, r, "media not found")
	case errors.Is(err, media.ErrNotAuthorized):
		response.Forbidden(w, r, err.Error())
	case errors.Is(err, media.ErrMetadataFailed):
		h.logger.Error().Err(err).Msg("media metadata write failed")
		response.InternalError(w, r, media.ErrMetadataFailed.Error())
	default:
		h.logger.Error().Err(err).Msg("media operation failed")
		response.Failure(w, r, failure.Wrap(err))
	}
}
