package device_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castboard/castboard/internal/auth"
	"github.com/castboard/castboard/internal/device"
	"github.com/castboard/castboard/internal/failure"
	"github.com/castboard/castboard/internal/testutil"
)

var owner = &auth.Principal{UserID: "usr_owner", Email: "owner@example.com"}

type countingBootstrapper struct {
	calls int
	err   error
}

func (b *countingBootstrapper) EnsureBootstrap(context.Context) error {
	b.calls++
	return b.err
}

func newTestService(repo device.Repository, clk *testutil.StubClock, extra ...device.Bootstrapper) *device.Service {
	return device.NewService(device.ServiceConfig{
		Repository:    repo,
		Bootstrappers: extra,
		Clock:         clk,
		Logger:        zerolog.Nop(),
	})
}

func TestService_Register_CreatesThenReconnects(t *testing.T) {
	ctx := context.Background()
	repo := device.NewInMemoryRepository()
	clk := testutil.FixedClock()
	svc := newTestService(repo, clk)

	first := svc.Register(ctx, owner, "LOBBY-TV")
	require.True(t, first.Success)
	assert.True(t, first.IsNew)
	assert.Equal(t, device.MessageRegistered, first.Message)
	assert.Equal(t, device.StatusOnline, first.Device.Status)
	assert.Equal(t, clk.Now(), first.Device.RegisteredAt)
	assert.Equal(t, clk.Now(), first.Device.LastSeen)

	clk.Advance(time.Minute)
	second := svc.Register(ctx, owner, "LOBBY-TV")
	require.True(t, second.Success)
	assert.False(t, second.IsNew)
	assert.Equal(t, device.MessageReconnected, second.Message)
	assert.Equal(t, first.Device.RegisteredAt, second.Device.RegisteredAt)
	assert.True(t, second.Device.LastSeen.After(first.Device.LastSeen))

	devices, err := svc.List(ctx, owner.UserID)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "LOBBY-TV", devices[0].Code)
}

func TestService_Register_LastSeenAdvancesWithFrozenClock(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(device.NewInMemoryRepository(), testutil.FixedClock())

	first := svc.Register(ctx, owner, "tv1")
	second := svc.Register(ctx, owner, "tv1")
	third := svc.Register(ctx, owner, "tv1")

	require.True(t, third.Success)
	assert.True(t, second.Device.LastSeen.After(first.Device.LastSeen))
	assert.True(t, third.Device.LastSeen.After(second.Device.LastSeen))
}

func TestService_Register_Unauthenticated(t *testing.T) {
	ctx := context.Background()
	repo := device.NewInMemoryRepository()
	svc := newTestService(repo, testutil.FixedClock())

	result := svc.Register(ctx, nil, "tv1")
	assert.False(t, result.Success)
	assert.True(t, result.IsAuthError)
	assert.Equal(t, "You must be signed in to register a device", result.Message)

	_, err := repo.Get(ctx, "tv1")
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)
}

func TestService_Register_BlankCode(t *testing.T) {
	svc := newTestService(device.NewInMemoryRepository(), testutil.FixedClock())

	for _, code := range []string{"", "   "} {
		result := svc.Register(context.Background(), owner, code)
		assert.False(t, result.Success)
		assert.Equal(t, "Please enter a valid code", result.Message)
		assert.False(t, result.IsAuthError)
	}
}

func TestService_Register_TakesOverCode(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(device.NewInMemoryRepository(), testutil.FixedClock())

	require.True(t, svc.Register(ctx, owner, "shared").Success)

	other := &auth.Principal{UserID: "usr_other", Email: "other@example.com"}
	result := svc.Register(ctx, other, "shared")
	require.True(t, result.Success)
	assert.False(t, result.IsNew)
	assert.Equal(t, "usr_other", result.Device.UserID)
	assert.Equal(t, "other@example.com", result.Device.UserEmail)

	devices, err := svc.List(ctx, owner.UserID)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestService_Register_ClassifiesStoreFailures(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		isOffline   bool
		isRuleIssue bool
	}{
		{"connection", fmt.Errorf("dial: %w", &pgconn.PgError{Code: "08006"}), true, false},
		{"privilege", &pgconn.PgError{Code: "42501"}, false, true},
		{"message fallback", errors.New("client is offline"), true, false},
		{"unexpected", errors.New("boom"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := device.NewInMemoryRepository()
			repo.Err = tt.err
			svc := newTestService(repo, testutil.FixedClock())

			result := svc.Register(context.Background(), owner, "tv1")
			assert.False(t, result.Success)
			assert.Equal(t, tt.isOffline, result.IsOffline)
			assert.Equal(t, tt.isRuleIssue, result.IsRuleIssue)
			assert.NotEmpty(t, result.Message)
			if tt.isOffline {
				assert.Equal(t, failure.MessageOffline, result.Message)
			}
		})
	}
}

func TestService_Register_RunsBootstrap(t *testing.T) {
	ctx := context.Background()
	repo := device.NewInMemoryRepository()
	media := &countingBootstrapper{err: errors.New("ignored")}
	svc := newTestService(repo, testutil.FixedClock(), media)

	result := svc.Register(ctx, owner, "tv1")
	require.True(t, result.Success)
	assert.Equal(t, 1, media.calls)

	// The placeholder row never shows up for users.
	placeholder, err := repo.Get(ctx, device.PlaceholderCode)
	require.NoError(t, err)
	assert.True(t, placeholder.IsPlaceholder)

	devices, err := svc.List(ctx, owner.UserID)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestService_SetStatusAndLogout(t *testing.T) {
	ctx := context.Background()
	repo := device.NewInMemoryRepository()
	clk := testutil.FixedClock()
	svc := newTestService(repo, clk)

	registered := svc.Register(ctx, owner, "tv1")
	require.True(t, registered.Success)

	clk.Advance(time.Second)
	require.NoError(t, svc.Logout(ctx, "tv1"))

	stored, err := repo.Get(ctx, "tv1")
	require.NoError(t, err)
	assert.Equal(t, device.StatusOffline, stored.Status)
	assert.True(t, stored.LastSeen.After(registered.Device.LastSeen))

	require.NoError(t, svc.SetStatus(ctx, "tv1", device.StatusOnline))
	assert.ErrorIs(t, svc.SetStatus(ctx, "tv1", "sleeping"), device.ErrInvalidStatus)
	assert.ErrorIs(t, svc.SetStatus(ctx, "missing", device.StatusOnline), device.ErrDeviceNotFound)
}

func TestService_Authorize(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(device.NewInMemoryRepository(), testutil.FixedClock())
	require.True(t, svc.Register(ctx, owner, "tv1").Success)

	d, err := svc.Authorize(ctx, owner.UserID, "tv1")
	require.NoError(t, err)
	assert.Equal(t, "tv1", d.Code)

	_, err = svc.Authorize(ctx, "usr_other", "tv1")
	assert.ErrorIs(t, err, device.ErrNotAuthorized)

	_, err = svc.Authorize(ctx, owner.UserID, device.PlaceholderCode)
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)
}

func TestService_Probe(t *testing.T) {
	ctx := context.Background()
	clk := testutil.FixedClock()
	svc := newTestService(device.NewInMemoryRepository(), clk)

	access, err := svc.Probe(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, owner.UserID, access.UserID)
	assert.Equal(t, clk.Now(), access.CheckedAt)

	_, err = svc.Probe(ctx, nil)
	assert.True(t, failure.IsAuth(err))
}
