package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/castboard/castboard/internal/clock"
)

// Service provides the owner-facing media operations.
type Service struct {
	repo    Repository
	expirer *Expirer
	clock   clock.Clock
	logger  zerolog.Logger
}

// ServiceConfig holds configuration for the media service.
type ServiceConfig struct {
	Repository Repository
	Expirer    *Expirer
	Clock      clock.Clock
	Logger     zerolog.Logger
}

// NewService creates a new media service.
func NewService(cfg ServiceConfig) *Service {
	c := cfg.Clock
	if c == nil {
		c = clock.Real{}
	}
	return &Service{
		repo:    cfg.Repository,
		expirer: cfg.Expirer,
		clock:   c,
		logger:  cfg.Logger,
	}
}

// List returns the items userID uploaded for deviceCode, newest first.
// Overdue items are returned in their expired shape and scheduled for
// expiration in the background.
func (s *Service) List(ctx context.Context, userID, deviceCode string) ([]*Item, error) {
	if deviceCode == "" {
		return nil, ErrMissingDevice
	}

	items, err := s.repo.ListByOwner(ctx, userID, deviceCode)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	out := make([]*Item, 0, len(items))
	for _, item := range items {
		if !item.Expired && IsExpired(item, now) && s.expirer != nil {
			s.expirer.Schedule(ctx, item)
		}
		out = append(out, View(item, now))
	}
	SortByRecency(out)
	return out, nil
}

// Get returns an item owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*Item, error) {
	item, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return View(item, s.clock.Now()), nil
}

// Expire expires an item immediately. Expiring an already expired item
// returns it unchanged.
func (s *Service) Expire(ctx context.Context, userID, id string) (*Item, error) {
	return s.expireNow(ctx, userID, id, "media expired by owner")
}

// Delete removes the item's file and leaves the row in its expired shape,
// so devices fall back to the placeholder image.
func (s *Service) Delete(ctx context.Context, userID, id string) (*Item, error) {
	return s.expireNow(ctx, userID, id, "media deleted by owner")
}

func (s *Service) expireNow(ctx context.Context, userID, id, msg string) (*Item, error) {
	item, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if _, err := s.expirer.Expire(ctx, item, now, ModeManual); err != nil {
		return nil, err
	}

	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload media: %w", err)
	}

	s.logger.Info().
		Str("media_id", id).
		Str("user_id", userID).
		Msg(msg)

	return View(updated, now), nil
}

func (s *Service) owned(ctx context.Context, userID, id string) (*Item, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrMediaNotFound) {
			return nil, ErrMediaNotFound
		}
		return nil, err
	}
	if item.Placeholder() {
		return nil, ErrMediaNotFound
	}
	if item.UserID != userID {
		return nil, ErrNotAuthorized
	}
	return item, nil
}
