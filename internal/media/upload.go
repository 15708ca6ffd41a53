package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/castboard/castboard/internal/auth"
	"github.com/castboard/castboard/internal/blob"
	"github.com/castboard/castboard/internal/clock"
	"github.com/castboard/castboard/internal/telemetry"
)

// UploadInput describes a file to upload and where to show it.
type UploadInput struct {
	Title       string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
	DeviceCode  string
	ExpiresAt   time.Time
}

// ValidateUpload checks in against now and returns the first problem found,
// along with the file type on success. Expiration must be strictly after now.
func ValidateUpload(in UploadInput, now time.Time) (FileType, error) {
	if in.FileName == "" {
		return "", ErrMissingFile
	}
	fileType, err := FileTypeFromContentType(in.ContentType)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Title) == "" {
		return "", ErrMissingTitle
	}
	if strings.TrimSpace(in.DeviceCode) == "" {
		return "", ErrMissingDevice
	}
	if !in.ExpiresAt.After(now) {
		return "", ErrInvalidExpiration
	}
	return fileType, nil
}

// BlobPath returns the storage path of an upload: uploads/{userID}/{unixMillis}_{fileName}.
func BlobPath(userID string, at time.Time, fileName string) string {
	return fmt.Sprintf("uploads/%s/%d_%s", userID, at.UnixMilli(), sanitizeFileName(fileName))
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" {
		return "file"
	}
	return name
}

// Uploader stores media files and records them for a device.
type Uploader struct {
	repo   Repository
	blobs  blob.Store
	clock  clock.Clock
	logger zerolog.Logger
}

// UploaderConfig holds configuration for an Uploader.
type UploaderConfig struct {
	Repository Repository
	Blobs      blob.Store
	Clock      clock.Clock
	Logger     zerolog.Logger
}

// NewUploader creates a new Uploader.
func NewUploader(cfg UploaderConfig) *Uploader {
	c := cfg.Clock
	if c == nil {
		c = clock.Real{}
	}
	return &Uploader{
		repo:   cfg.Repository,
		blobs:  cfg.Blobs,
		clock:  c,
		logger: cfg.Logger,
	}
}

// Upload validates in, writes the file, then records the item. progress, if
// non-nil, receives non-decreasing transfer progress ending at 100%.
//
// The item is only recorded after the file is stored. If recording fails
// the stored file is left behind and ErrMetadataFailed is returned.
func (u *Uploader) Upload(ctx context.Context, principal *auth.Principal, in UploadInput, progress func(blob.Progress)) (_ *Item, err error) {
	ctx, span := telemetry.StartSpan(ctx, "media.Upload",
		attribute.String("device.code", in.DeviceCode),
		attribute.Int64("upload.size", in.Size),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if principal == nil || principal.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if in.Body == nil {
		return nil, ErrMissingFile
	}

	now := u.clock.Now()
	fileType, err := ValidateUpload(in, now)
	if err != nil {
		return nil, err
	}

	filePath := BlobPath(principal.UserID, now, in.FileName)
	logger := u.logger.With().
		Str("user_id", principal.UserID).
		Str("device_code", in.DeviceCode).
		Str("file_path", filePath).
		Logger()

	body := blob.NewProgressReader(in.Body, in.Size, progress)
	fileURL, err := u.blobs.Put(ctx, filePath, body, in.Size, in.ContentType)
	if err != nil {
		logger.Error().Err(err).Msg("file upload failed")
		return nil, fmt.Errorf("upload file: %w", err)
	}
	if progress != nil {
		progress(blob.Progress{BytesTransferred: in.Size, TotalBytes: in.Size})
	}

	item := &Item{
		ID:               "med_" + uuid.New().String()[:22],
		Title:            strings.TrimSpace(in.Title),
		FileName:         in.FileName,
		FileURL:          fileURL,
		FilePath:         &filePath,
		FileType:         fileType,
		DeviceCode:       strings.TrimSpace(in.DeviceCode),
		UserID:           principal.UserID,
		CreatedAt:        now,
		ExpiresAt:        in.ExpiresAt.UTC(),
		FallbackImageURL: FallbackURL,
	}

	if err = u.repo.Create(ctx, item); err != nil {
		logger.Error().Err(err).Msg("file uploaded but failed to save metadata")
		return nil, errors.Join(ErrMetadataFailed, err)
	}

	logger.Info().
		Str("media_id", item.ID).
		Time("expires_at", item.ExpiresAt).
		Msg("media uploaded")

	return copyItem(item), nil
}
