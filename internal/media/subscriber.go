package media

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/castboard/castboard/internal/clock"
	"github.com/castboard/castboard/internal/failure"
)

// Update is delivered to subscribers. Exactly one of Items or Err is set.
// Items is sorted newest first; the head is the current media.
type Update struct {
	Items []*Item
	Err   *failure.Error
}

// Current returns the head of Items, or nil.
func (u Update) Current() *Item {
	if len(u.Items) == 0 {
		return nil
	}
	return u.Items[0]
}

// Unsubscribe stops a subscription. After it returns no further callback
// runs. It must not be called from within the callback itself.
type Unsubscribe func()

// Subscriber delivers the live media list of a device.
type Subscriber struct {
	repo    Repository
	expirer *Expirer
	clock   clock.Clock
	logger  zerolog.Logger
}

// SubscriberConfig holds configuration for a Subscriber.
type SubscriberConfig struct {
	Repository Repository
	Expirer    *Expirer
	Clock      clock.Clock
	Logger     zerolog.Logger
}

// NewSubscriber creates a new Subscriber.
func NewSubscriber(cfg SubscriberConfig) *Subscriber {
	c := cfg.Clock
	if c == nil {
		c = clock.Real{}
	}
	return &Subscriber{
		repo:    cfg.Repository,
		expirer: cfg.Expirer,
		clock:   c,
		logger:  cfg.Logger,
	}
}

// Subscribe calls onUpdate with the current media of deviceCode and again
// after every change, until the returned Unsubscribe is called or ctx is
// cancelled. Failures are delivered through onUpdate as classified errors;
// the subscription stays open and recovers on the next change.
func (s *Subscriber) Subscribe(ctx context.Context, deviceCode string, onUpdate func(Update)) (Unsubscribe, error) {
	if strings.TrimSpace(deviceCode) == "" {
		return nil, ErrMissingDevice
	}
	if onUpdate == nil {
		return nil, errors.New("onUpdate callback is required")
	}

	notifications, stop, err := s.repo.Watch(ctx, deviceCode)
	if err != nil {
		return nil, failure.Wrap(err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	logger := s.logger.With().Str("device_code", deviceCode).Logger()
	logger.Debug().Msg("media subscription opened")

	go func() {
		defer close(done)
		defer stop()

		s.deliver(subCtx, deviceCode, onUpdate)
		for {
			select {
			case <-subCtx.Done():
				return
			case n, ok := <-notifications:
				if !ok {
					return
				}
				if n.Err != nil {
					if subCtx.Err() == nil {
						onUpdate(Update{Err: failure.Wrap(n.Err)})
					}
					continue
				}
				s.deliver(subCtx, deviceCode, onUpdate)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			logger.Debug().Msg("media subscription closed")
		})
	}, nil
}

// Snapshot returns the current presentation of a device's media: no
// placeholders, overdue items in their expired shape, newest first.
// Overdue items are scheduled for expiration in the background.
func (s *Subscriber) Snapshot(ctx context.Context, deviceCode string) ([]*Item, error) {
	items, err := s.repo.ListByDevice(ctx, deviceCode)
	if err != nil {
		return nil, err
	}
	return s.normalize(ctx, items), nil
}

func (s *Subscriber) deliver(ctx context.Context, deviceCode string, onUpdate func(Update)) {
	items, err := s.Snapshot(ctx, deviceCode)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("device_code", deviceCode).Msg("media snapshot failed")
		onUpdate(Update{Err: failure.Wrap(err)})
		return
	}
	onUpdate(Update{Items: items})
}

func (s *Subscriber) normalize(ctx context.Context, items []*Item) []*Item {
	now := s.clock.Now()
	out := make([]*Item, 0, len(items))
	for _, item := range items {
		if item.Placeholder() {
			continue
		}
		if !item.Expired && IsExpired(item, now) && s.expirer != nil {
			s.expirer.Schedule(ctx, item)
		}
		out = append(out, View(item, now))
	}
	SortByRecency(out)
	return out
}
