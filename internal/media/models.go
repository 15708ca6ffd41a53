// Package media manages uploaded media items, their delivery to devices,
// and their expiration lifecycle.
package media

import (
	"errors"
	"time"
)

// Repository errors.
var (
	ErrMediaNotFound = errors.New("media not found")
)

// Service errors.
var (
	ErrNotAuthorized     = errors.New("not authorized to access this media")
	ErrUnauthenticated   = errors.New("you must be signed in to upload media")
	ErrMissingFile       = errors.New("please select a file to upload")
	ErrInvalidFileType   = errors.New("please select an image or video file")
	ErrMissingTitle      = errors.New("please enter a title for your media")
	ErrMissingDevice     = errors.New("please select a device")
	ErrInvalidExpiration = errors.New("expiration time must be in the future")
	ErrMetadataFailed    = errors.New("file uploaded but failed to save metadata")
)

// FileType is the kind of media file.
type FileType string

const (
	FileTypeImage FileType = "image"
	FileTypeVideo FileType = "video"
)

// PlaceholderID is the identifier of the bootstrap row.
const PlaceholderID = "placeholder"

// Item is a media item targeted at a device.
type Item struct {
	ID               string
	Title            string
	FileName         string
	FileURL          string
	FilePath         *string
	FileType         FileType
	DeviceCode       string
	UserID           string
	CreatedAt        time.Time
	Timestamp        *time.Time
	ExpiresAt        time.Time
	Expired          bool
	ExpiredAt        *time.Time
	OriginalFilePath *string
	FallbackImageURL string
	IsPlaceholder    bool
}

// EffectiveTimestamp returns the ordering stamp: Timestamp when set,
// otherwise CreatedAt.
func (i *Item) EffectiveTimestamp() time.Time {
	if i.Timestamp != nil {
		return *i.Timestamp
	}
	return i.CreatedAt
}

// Placeholder reports whether the item is a bootstrap row that must never
// be shown.
func (i *Item) Placeholder() bool {
	return i.IsPlaceholder || i.ID == PlaceholderID
}

// copyItem creates a deep copy of an item.
func copyItem(i *Item) *Item {
	if i == nil {
		return nil
	}

	itemCopy := *i
	itemCopy.FilePath = copyString(i.FilePath)
	itemCopy.OriginalFilePath = copyString(i.OriginalFilePath)
	itemCopy.Timestamp = copyTime(i.Timestamp)
	itemCopy.ExpiredAt = copyTime(i.ExpiredAt)
	return &itemCopy
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	val := *s
	return &val
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	val := *t
	return &val
}
