package handler

import (
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/castboard/castboard/internal/api/response"
	"github.com/castboard/castboard/internal/blob"
)

// FilesHandler serves objects of a filesystem blob store.
type FilesHandler struct {
	store  *blob.FileSystemStore
	logger zerolog.Logger
}

// NewFilesHandler creates a new FilesHandler.
func NewFilesHandler(store *blob.FileSystemStore, logger zerolog.Logger) *FilesHandler {
	return &FilesHandler{store: store, logger: logger}
}

// ServeFile handles GET /files/* with range and conditional request support.
func (h *FilesHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	p := strings.TrimPrefix(chi.URLParam(r, "*"), "/")

	f, err := h.store.Open(p)
	if err != nil {
		switch {
		case errors.Is(err, blob.ErrNotFound), errors.Is(err, blob.ErrInvalidPath):
			response.NotFound(w, r, "file not found")
		default:
			h.logger.Error().Err(err).Str("path", p).Msg("open file failed")
			response.InternalError(w, r, "failed to read file")
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		response.NotFound(w, r, "file not found")
		return
	}

	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
