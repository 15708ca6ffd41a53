package media

import (
	"context"
	"time"
)

// Notification signals that the media of a device may have changed.
// A non-nil Err reports that change delivery was interrupted.
type Notification struct {
	Err error
}

// Repository defines the interface for media persistence.
type Repository interface {
	// Create stores a new item.
	Create(ctx context.Context, item *Item) error

	// Get retrieves an item by ID.
	Get(ctx context.Context, id string) (*Item, error)

	// ListByDevice returns all items targeted at a device, placeholders
	// included, in insertion order.
	ListByDevice(ctx context.Context, deviceCode string) ([]*Item, error)

	// ListByOwner returns the items a user uploaded for a device,
	// newest first.
	ListByOwner(ctx context.Context, userID, deviceCode string) ([]*Item, error)

	// ListDue returns up to limit non-expired items whose expiration is at
	// or before now. A limit of zero or less returns all of them.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Item, error)

	// Expire applies the patch if the item is not yet expired. Returns
	// whether the patch was applied.
	Expire(ctx context.Context, patch ExpirePatch) (bool, error)

	// ExpireBatch applies all patches atomically. Items already expired are
	// skipped. Returns the number of patches applied.
	ExpireBatch(ctx context.Context, patches []ExpirePatch) (int, error)

	// Watch returns a channel that receives a notification whenever the
	// media of deviceCode may have changed. The returned function stops
	// the watch and must be called exactly once.
	Watch(ctx context.Context, deviceCode string) (<-chan Notification, func(), error)

	// EnsureBootstrap inserts a placeholder row when the collection is empty.
	EnsureBootstrap(ctx context.Context) error
}
