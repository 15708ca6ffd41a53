package device

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing. Production should use the PostgreSQL implementation.
type InMemoryRepository struct {
	mu      sync.RWMutex
	devices map[string]*Device // keyed by code
	access  map[string]*Access // keyed by user ID

	// Err, when set, is returned by every call.
	Err error
}

// NewInMemoryRepository creates a new in-memory device repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		devices: make(map[string]*Device),
		access:  make(map[string]*Access),
	}
}

// Get retrieves a device by code.
func (r *InMemoryRepository) Get(_ context.Context, code string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.Err != nil {
		return nil, r.Err
	}
	device, ok := r.devices[code]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return copyDevice(device), nil
}

// ListByUser retrieves the devices owned by a user.
func (r *InMemoryRepository) ListByUser(_ context.Context, userID string) ([]*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.Err != nil {
		return nil, r.Err
	}

	var items []*Device
	for _, device := range r.devices {
		if device.UserID == userID && !device.Placeholder() {
			items = append(items, copyDevice(device))
		}
	}
	sort.Slice(items, func(a, b int) bool {
		if items[a].LastSeen.Equal(items[b].LastSeen) {
			return items[a].Code < items[b].Code
		}
		return items[a].LastSeen.After(items[b].LastSeen)
	})
	return items, nil
}

// Upsert creates or updates a device by code.
func (r *InMemoryRepository) Upsert(_ context.Context, device *Device) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return false, r.Err
	}

	existing, ok := r.devices[device.Code]
	if !ok || existing.Placeholder() {
		r.devices[device.Code] = copyDevice(device)
		return true, nil
	}

	existing.UserID = device.UserID
	existing.UserEmail = device.UserEmail
	existing.Status = device.Status
	existing.LastSeen = advance(existing.LastSeen, device.LastSeen)
	*device = *existing
	return false, nil
}

// SetStatus updates the status and LastSeen of an existing device.
func (r *InMemoryRepository) SetStatus(_ context.Context, code string, status Status, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return r.Err
	}
	device, ok := r.devices[code]
	if !ok {
		return ErrDeviceNotFound
	}
	device.Status = status
	device.LastSeen = advance(device.LastSeen, seenAt)
	return nil
}

// Probe writes an access record and reads it back.
func (r *InMemoryRepository) Probe(_ context.Context, userID string, now time.Time) (*Access, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	r.access[userID] = &Access{UserID: userID, CheckedAt: now}
	accessCopy := *r.access[userID]
	return &accessCopy, nil
}

// EnsureBootstrap inserts a placeholder row when the store is empty.
func (r *InMemoryRepository) EnsureBootstrap(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return r.Err
	}
	if len(r.devices) > 0 {
		return nil
	}
	r.devices[PlaceholderCode] = &Device{
		Code:          PlaceholderCode,
		Status:        StatusOffline,
		IsPlaceholder: true,
	}
	return nil
}

var _ Repository = (*InMemoryRepository)(nil)
