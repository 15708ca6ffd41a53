package device

import (
	"context"
	"time"
)

// Repository defines the interface for device persistence.
type Repository interface {
	// Get retrieves a device by code.
	Get(ctx context.Context, code string) (*Device, error)

	// ListByUser retrieves the devices owned by a user, most recently seen first.
	ListByUser(ctx context.Context, userID string) ([]*Device, error)

	// Upsert creates the device or overwrites its owner, status and LastSeen.
	// RegisteredAt is kept on update. The stored device is written back
	// into device. Returns true if a new device was created.
	Upsert(ctx context.Context, device *Device) (created bool, err error)

	// SetStatus updates the status and LastSeen of an existing device.
	SetStatus(ctx context.Context, code string, status Status, seenAt time.Time) error

	// Probe writes an access record for userID and reads it back.
	Probe(ctx context.Context, userID string, now time.Time) (*Access, error)

	// EnsureBootstrap inserts a placeholder row when the collection is empty.
	EnsureBootstrap(ctx context.Context) error
}
