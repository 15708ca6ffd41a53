package media

import "sync"

// watchHub fans change notifications out to per-device watchers.
// Sends never block: each watcher buffers one pending notification, and
// further notifications coalesce into it.
type watchHub struct {
	mu       sync.Mutex
	watchers map[string]map[chan Notification]struct{}
}

func newWatchHub() *watchHub {
	return &watchHub{watchers: make(map[string]map[chan Notification]struct{})}
}

func (h *watchHub) subscribe(deviceCode string) (<-chan Notification, func()) {
	ch := make(chan Notification, 1)

	h.mu.Lock()
	if h.watchers[deviceCode] == nil {
		h.watchers[deviceCode] = make(map[chan Notification]struct{})
	}
	h.watchers[deviceCode][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if m, ok := h.watchers[deviceCode]; ok {
				delete(m, ch)
				if len(m) == 0 {
					delete(h.watchers, deviceCode)
				}
			}
			close(ch)
		})
	}
}

// publish notifies every watcher of deviceCode.
func (h *watchHub) publish(deviceCode string, n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.watchers[deviceCode] {
		send(ch, n)
	}
}

// broadcast notifies every watcher of every device.
func (h *watchHub) broadcast(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.watchers {
		for ch := range m {
			send(ch, n)
		}
	}
}

// size returns the number of active watchers.
func (h *watchHub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.watchers {
		n += len(m)
	}
	return n
}

func send(ch chan Notification, n Notification) {
	select {
	case ch <- n:
	default:
		// A notification is already pending; errors take precedence so
		// the watcher learns about interrupted delivery.
		if n.Err != nil {
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- n:
			default:
			}
		}
	}
}
