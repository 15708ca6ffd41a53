package media_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castboard/castboard/internal/blob"
	"github.com/castboard/castboard/internal/media"
	"github.com/castboard/castboard/internal/testutil"
)

type expirerFixture struct {
	repo    *media.InMemoryRepository
	blobs   *blob.MemoryStore
	clock   *testutil.StubClock
	expirer *media.Expirer
}

func newExpirerFixture() *expirerFixture {
	f := &expirerFixture{
		repo:  media.NewInMemoryRepository(),
		blobs: blob.NewMemoryStore(""),
		clock: testutil.FixedClock(),
	}
	f.expirer = media.NewExpirer(media.ExpirerConfig{
		Repository: f.repo,
		Blobs:      f.blobs,
		Clock:      f.clock,
		Logger:     zerolog.Nop(),
	})
	return f
}

// seed stores item and its blob.
func (f *expirerFixture) seed(t *testing.T, item *media.Item) {
	t.Helper()
	if item.FilePath != nil {
		_, err := f.blobs.Put(context.Background(), *item.FilePath, bytesReader("data"), 4, "image/png")
		require.NoError(t, err)
	}
	f.repo.Put(item)
}

func TestExpirer_Expire(t *testing.T) {
	ctx := context.Background()
	f := newExpirerFixture()
	item := newItem("a", f.clock.Now(), f.clock.Now())
	f.seed(t, item)

	applied, err := f.expirer.Expire(ctx, item, f.clock.Now(), media.ModeSweep)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.False(t, f.blobs.Has(*item.FilePath))

	stored, err := f.repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, stored.Expired)
	assert.Nil(t, stored.FilePath)
	assert.Equal(t, media.FallbackURL, stored.FileURL)
	require.NotNil(t, stored.OriginalFilePath)
	assert.Equal(t, *item.FilePath, *stored.OriginalFilePath)
}

func TestExpirer_Expire_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newExpirerFixture()
	item := newItem("a", f.clock.Now(), f.clock.Now())
	f.seed(t, item)

	first, err := f.expirer.Expire(ctx, item, f.clock.Now(), media.ModeSweep)
	require.NoError(t, err)
	assert.True(t, first)

	stored, err := f.repo.Get(ctx, "a")
	require.NoError(t, err)
	expiredAt := *stored.ExpiredAt

	// A stale copy whose blob is already gone still does not re-apply.
	f.clock.Advance(time.Minute)
	second, err := f.expirer.Expire(ctx, item, f.clock.Now(), media.ModeOpportunistic)
	require.NoError(t, err)
	assert.False(t, second)

	stored, err = f.repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, expiredAt, *stored.ExpiredAt)
	assert.Equal(t, *item.FilePath, *stored.OriginalFilePath)
}

func TestExpirer_BlobFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing blob is ignored", func(t *testing.T) {
		f := newExpirerFixture()
		item := newItem("a", f.clock.Now(), f.clock.Now())
		f.repo.Put(item)

		applied, err := f.expirer.Expire(ctx, item, f.clock.Now(), media.ModeManual)
		require.NoError(t, err)
		assert.True(t, applied)
	})

	t.Run("sweep logs and continues", func(t *testing.T) {
		f := newExpirerFixture()
		item := newItem("a", f.clock.Now(), f.clock.Now())
		f.seed(t, item)
		f.blobs.DeleteErr = errors.New("storage unavailable")

		applied, err := f.expirer.Expire(ctx, item, f.clock.Now(), media.ModeSweep)
		require.NoError(t, err)
		assert.True(t, applied)
	})

	t.Run("manual aborts", func(t *testing.T) {
		f := newExpirerFixture()
		item := newItem("a", f.clock.Now(), f.clock.Now())
		f.seed(t, item)
		f.blobs.DeleteErr = errors.New("storage unavailable")

		applied, err := f.expirer.Expire(ctx, item, f.clock.Now(), media.ModeManual)
		require.Error(t, err)
		assert.False(t, applied)

		stored, err := f.repo.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, stored.Expired)
	})
}

func TestExpirer_Schedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newExpirerFixture()
	item := newItem("a", f.clock.Now(), f.clock.Now())
	f.seed(t, item)

	f.expirer.Schedule(ctx, item)
	f.expirer.Schedule(ctx, item)
	// Cancelling the caller does not abort scheduled work.
	cancel()
	f.expirer.Wait()

	stored, err := f.repo.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, stored.Expired)
	assert.Equal(t, 0, f.blobs.Len())
}

func TestExpirer_ScheduleSkipsPlaceholder(t *testing.T) {
	f := newExpirerFixture()
	require.NoError(t, f.repo.EnsureBootstrap(context.Background()))

	placeholder, err := f.repo.Get(context.Background(), media.PlaceholderID)
	require.NoError(t, err)
	placeholder.Expired = false

	f.expirer.Schedule(context.Background(), placeholder)
	f.expirer.Wait()
}
