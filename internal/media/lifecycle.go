package media

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FallbackURL is shown in place of any expired media.
const FallbackURL = "https://www.uira.net/SWS/pics/no-content-available.jpg"

// IsExpired reports whether the item is expired at now. An item expires at
// the instant ExpiresAt is reached.
func IsExpired(item *Item, now time.Time) bool {
	return item.Expired || !item.ExpiresAt.After(now)
}

// View returns the item as it should be presented at now. Items past their
// expiration get the expired shape even if the stored row has not been
// patched yet. The input is not modified.
func View(item *Item, now time.Time) *Item {
	out := copyItem(item)
	if !IsExpired(item, now) || item.Expired {
		return out
	}

	expiredAt := now
	out.FileURL = FallbackURL
	out.FileType = FileTypeImage
	out.Expired = true
	out.ExpiredAt = &expiredAt
	if item.FilePath != nil {
		out.OriginalFilePath = copyString(item.FilePath)
	}
	out.FilePath = nil
	return out
}

// AsExpired returns a copy of item in the expired shape it takes when
// expired at now, whether or not it is due. An expired item is returned
// unchanged.
func AsExpired(item *Item, now time.Time) *Item {
	out := copyItem(item)
	PatchFor(item, now).apply(out)
	return out
}

// ExpirePatch is the write applied when an item expires. It only applies to
// rows that are not yet expired.
type ExpirePatch struct {
	ID               string
	ExpiredAt        time.Time
	OriginalFilePath *string
}

// PatchFor builds the expire patch for item at now.
func PatchFor(item *Item, now time.Time) ExpirePatch {
	patch := ExpirePatch{ID: item.ID, ExpiredAt: now}
	if item.FilePath != nil {
		patch.OriginalFilePath = copyString(item.FilePath)
	} else {
		patch.OriginalFilePath = copyString(item.OriginalFilePath)
	}
	return patch
}

// apply mutates item into its expired shape. Returns false if it was
// already expired.
func (p ExpirePatch) apply(item *Item) bool {
	if item.Expired {
		return false
	}
	expiredAt := p.ExpiredAt
	item.FileURL = FallbackURL
	item.FileType = FileTypeImage
	item.Expired = true
	item.ExpiredAt = &expiredAt
	item.OriginalFilePath = copyString(p.OriginalFilePath)
	item.FilePath = nil
	return true
}

// SortByRecency orders items by effective timestamp, newest first. Items
// with equal timestamps keep their relative input order.
func SortByRecency(items []*Item) {
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].EffectiveTimestamp().After(items[b].EffectiveTimestamp())
	})
}

// FileTypeFromContentType maps a MIME type to a FileType.
func FileTypeFromContentType(contentType string) (FileType, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return FileTypeImage, nil
	case strings.HasPrefix(ct, "video/"):
		return FileTypeVideo, nil
	default:
		return "", ErrInvalidFileType
	}
}

// Countdown formats the time remaining until expiresAt as "1d 2h 3m 4s",
// or "Expired" once it has passed.
func Countdown(expiresAt, now time.Time) string {
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return "Expired"
	}

	total := int64(remaining / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
}
