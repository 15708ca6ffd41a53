package media

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing. Production should use the PostgreSQL implementation.
type InMemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*Item
	seq   map[string]int64 // item ID -> insertion sequence
	next  int64

	hub *watchHub

	// Err, when set, is returned by every read and write.
	Err error
}

// NewInMemoryRepository creates a new in-memory media repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		items: make(map[string]*Item),
		seq:   make(map[string]int64),
		hub:   newWatchHub(),
	}
}

// Create stores a new item.
func (r *InMemoryRepository) Create(_ context.Context, item *Item) error {
	r.mu.Lock()
	if r.Err != nil {
		r.mu.Unlock()
		return r.Err
	}
	r.next++
	r.items[item.ID] = copyItem(item)
	r.seq[item.ID] = r.next
	r.mu.Unlock()

	r.hub.publish(item.DeviceCode, Notification{})
	return nil
}

// Get retrieves an item by ID.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.Err != nil {
		return nil, r.Err
	}
	item, ok := r.items[id]
	if !ok {
		return nil, ErrMediaNotFound
	}
	return copyItem(item), nil
}

// ListByDevice returns the device's items in insertion order.
func (r *InMemoryRepository) ListByDevice(_ context.Context, deviceCode string) ([]*Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.Err != nil {
		return nil, r.Err
	}
	return r.collect(func(i *Item) bool { return i.DeviceCode == deviceCode }), nil
}

// ListByOwner returns the user's items for a device, newest first.
func (r *InMemoryRepository) ListByOwner(_ context.Context, userID, deviceCode string) ([]*Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.Err != nil {
		return nil, r.Err
	}
	items := r.collect(func(i *Item) bool {
		return i.UserID == userID && i.DeviceCode == deviceCode && !i.Placeholder()
	})
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].CreatedAt.After(items[b].CreatedAt)
	})
	return items, nil
}

// ListDue returns non-expired items whose expiration has been reached.
func (r *InMemoryRepository) ListDue(_ context.Context, now time.Time, limit int) ([]*Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.Err != nil {
		return nil, r.Err
	}
	items := r.collect(func(i *Item) bool {
		return !i.Expired && !i.Placeholder() && !i.ExpiresAt.After(now)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Expire applies the patch if the item is not yet expired.
func (r *InMemoryRepository) Expire(_ context.Context, patch ExpirePatch) (bool, error) {
	r.mu.Lock()
	if r.Err != nil {
		r.mu.Unlock()
		return false, r.Err
	}
	item, ok := r.items[patch.ID]
	if !ok {
		r.mu.Unlock()
		return false, ErrMediaNotFound
	}
	applied := patch.apply(item)
	code := item.DeviceCode
	r.mu.Unlock()

	if applied {
		r.hub.publish(code, Notification{})
	}
	return applied, nil
}

// ExpireBatch applies all patches under a single lock.
func (r *InMemoryRepository) ExpireBatch(_ context.Context, patches []ExpirePatch) (int, error) {
	r.mu.Lock()
	if r.Err != nil {
		r.mu.Unlock()
		return 0, r.Err
	}
	applied := 0
	changed := make(map[string]struct{})
	for _, patch := range patches {
		item, ok := r.items[patch.ID]
		if !ok {
			continue
		}
		if patch.apply(item) {
			applied++
			changed[item.DeviceCode] = struct{}{}
		}
	}
	r.mu.Unlock()

	for code := range changed {
		r.hub.publish(code, Notification{})
	}
	return applied, nil
}

// Watch subscribes to changes of a device's media.
func (r *InMemoryRepository) Watch(_ context.Context, deviceCode string) (<-chan Notification, func(), error) {
	ch, stop := r.hub.subscribe(deviceCode)
	return ch, stop, nil
}

// EnsureBootstrap inserts a placeholder row when the store is empty.
func (r *InMemoryRepository) EnsureBootstrap(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return r.Err
	}
	if len(r.items) > 0 {
		return nil
	}
	r.next++
	r.items[PlaceholderID] = &Item{
		ID:               PlaceholderID,
		FileType:         FileTypeImage,
		FileURL:          FallbackURL,
		FallbackImageURL: FallbackURL,
		IsPlaceholder:    true,
		Expired:          true,
	}
	r.seq[PlaceholderID] = r.next
	return nil
}

// Put stores an item as-is, bypassing Create. Used to seed fixtures.
func (r *InMemoryRepository) Put(item *Item) {
	r.mu.Lock()
	r.next++
	r.items[item.ID] = copyItem(item)
	r.seq[item.ID] = r.next
	r.mu.Unlock()

	r.hub.publish(item.DeviceCode, Notification{})
}

// Interrupt delivers an error notification to every watcher.
func (r *InMemoryRepository) Interrupt(err error) {
	r.hub.broadcast(Notification{Err: err})
}

// Watchers returns the number of active watches.
func (r *InMemoryRepository) Watchers() int {
	return r.hub.size()
}

// collect returns copies of matching items in insertion order.
// Caller must hold r.mu.
func (r *InMemoryRepository) collect(match func(*Item) bool) []*Item {
	var items []*Item
	for _, item := range r.items {
		if match(item) {
			items = append(items, copyItem(item))
		}
	}
	sort.Slice(items, func(a, b int) bool {
		return r.seq[items[a].ID] < r.seq[items[b].ID]
	})
	return items
}

var _ Repository = (*InMemoryRepository)(nil)
