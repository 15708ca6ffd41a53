package models

import (
	"time"

	"github.com/castboard/castboard/internal/failure"
	"github.com/castboard/castboard/internal/media"
)

// Media is a media item as seen by clients.
type Media struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	FileName         string     `json:"fileName"`
	FileURL          string     `json:"fileUrl"`
	FilePath         *string    `json:"filePath,omitempty"`
	FileType         string     `json:"fileType"`
	DeviceCode       string     `json:"deviceCode"`
	UserID           string     `json:"userId"`
	CreatedAt        Timestamp  `json:"createdAt"`
	Timestamp        *Timestamp `json:"timestamp,omitempty"`
	ExpiresAt        Timestamp  `json:"expiresAt"`
	Expired          bool       `json:"expired"`
	ExpiredAt        *Timestamp `json:"expiredAt,omitempty"`
	OriginalFilePath *string    `json:"originalFilePath,omitempty"`
	FallbackImageURL string     `json:"fallbackImageUrl"`

	// ExpiresIn is the countdown text at the time of the response.
	ExpiresIn string `json:"expiresIn"`
}

// MediaFrom converts a domain item; now drives the countdown text.
func MediaFrom(item *media.Item, now time.Time) Media {
	return Media{
		ID:               item.ID,
		Title:            item.Title,
		FileName:         item.FileName,
		FileURL:          item.FileURL,
		FilePath:         item.FilePath,
		FileType:         string(item.FileType),
		DeviceCode:       item.DeviceCode,
		UserID:           item.UserID,
		CreatedAt:        Timestamp(item.CreatedAt),
		Timestamp:        TimestampPtr(item.Timestamp),
		ExpiresAt:        Timestamp(item.ExpiresAt),
		Expired:          item.Expired,
		ExpiredAt:        TimestampPtr(item.ExpiredAt),
		OriginalFilePath: item.OriginalFilePath,
		FallbackImageURL: item.FallbackImageURL,
		ExpiresIn:        media.Countdown(item.ExpiresAt, now),
	}
}

// MediaListFrom converts a list of items.
func MediaListFrom(items []*media.Item, now time.Time) []Media {
	out := make([]Media, 0, len(items))
	for _, item := range items {
		out = append(out, MediaFrom(item, now))
	}
	return out
}

// ToItem converts back to the domain type.
func (m Media) ToItem() *media.Item {
	return &media.Item{
		ID:               m.ID,
		Title:            m.Title,
		FileName:         m.FileName,
		FileURL:          m.FileURL,
		FilePath:         m.FilePath,
		FileType:         media.FileType(m.FileType),
		DeviceCode:       m.DeviceCode,
		UserID:           m.UserID,
		CreatedAt:        m.CreatedAt.Time(),
		Timestamp:        TimePtr(m.Timestamp),
		ExpiresAt:        m.ExpiresAt.Time(),
		Expired:          m.Expired,
		ExpiredAt:        TimePtr(m.ExpiredAt),
		OriginalFilePath: m.OriginalFilePath,
		FallbackImageURL: m.FallbackImageURL,
	}
}

// ToItems converts a list back to domain items.
func ToItems(list []Media) []*media.Item {
	out := make([]*media.Item, 0, len(list))
	for _, m := range list {
		out = append(out, m.ToItem())
	}
	return out
}

// MediaList is a list of media items, newest first.
type MediaList struct {
	Items []Media `json:"items"`
}

// MediaDiagnostics is the result of the manual collection check.
type MediaDiagnostics struct {
	DeviceCode string  `json:"deviceCode"`
	Count      int     `json:"count"`
	Expired    int     `json:"expired"`
	Items      []Media `json:"items"`
}

// Stream event types.
const (
	StreamEventMedia = "media"
	StreamEventError = "error"
)

// StreamEvent is one message on a device media stream. Items is set for
// media events and Error for error events.
type StreamEvent struct {
	Type  string       `json:"type"`
	Items []Media      `json:"items,omitempty"`
	Error *StreamError `json:"error,omitempty"`
}

// StreamError is a classified failure delivered on a stream.
type StreamError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StreamEventFrom converts a subscription update.
func StreamEventFrom(u media.Update, now time.Time) StreamEvent {
	if u.Err != nil {
		return StreamEvent{
			Type:  StreamEventError,
			Error: &StreamError{Kind: string(u.Err.Kind), Message: u.Err.Message},
		}
	}
	return StreamEvent{Type: StreamEventMedia, Items: MediaListFrom(u.Items, now)}
}

// ToUpdate converts a stream event back to a subscription update.
func (e StreamEvent) ToUpdate() media.Update {
	if e.Type == StreamEventError && e.Error != nil {
		return media.Update{Err: failure.New(failure.Kind(e.Error.Kind), e.Error.Message, nil)}
	}
	return media.Update{Items: ToItems(e.Items)}
}
