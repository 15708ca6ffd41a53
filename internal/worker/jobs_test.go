package worker_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castboard/castboard/internal/worker"
)

func bytesReader(s string) io.Reader { return strings.NewReader(s) }

func TestJobs_Handle(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture(t, fastConfig(), nil)
	jobs := worker.NewJobs(f.sweep, zerolog.Nop())

	f.seed(t, "a", time.Minute)
	f.clock.Advance(time.Minute)

	ack, err := jobs.Handle(ctx, []byte(`{"job_type":"expire_media"}`))
	require.NoError(t, err)
	assert.True(t, bool(ack))

	stored, err := f.repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, stored.Expired)

	ack, err = jobs.Handle(ctx, []byte(`{"job_type":"health_check"}`))
	require.NoError(t, err)
	assert.True(t, bool(ack))
}

func TestJobs_HandleMalformedAndUnknown(t *testing.T) {
	f := newSweepFixture(t, fastConfig(), nil)
	jobs := worker.NewJobs(f.sweep, zerolog.Nop())

	ack, err := jobs.Handle(context.Background(), []byte(`not json`))
	assert.NoError(t, err)
	assert.True(t, bool(ack))

	ack, err = jobs.Handle(context.Background(), []byte(`{"job_type":"provider_refresh"}`))
	assert.NoError(t, err)
	assert.True(t, bool(ack))
}

func TestJobs_HandleFailureNacks(t *testing.T) {
	f := newSweepFixture(t, fastConfig(), nil)
	f.repo.Err = errors.New("connection refused")
	jobs := worker.NewJobs(f.sweep, zerolog.Nop())

	ack, err := jobs.Handle(context.Background(), []byte(`{"job_type":"expire_media"}`))
	assert.Error(t, err)
	assert.False(t, bool(ack))

	ack, err = jobs.Handle(context.Background(), []byte(`{"job_type":"health_check"}`))
	assert.Error(t, err)
	assert.False(t, bool(ack))
}

type countingRunner struct {
	runs atomic.Int32
}

func (r *countingRunner) Run(context.Context) (*worker.SweepResult, error) {
	r.runs.Add(1)
	return &worker.SweepResult{}, nil
}

func TestScheduler_RunsOnTicks(t *testing.T) {
	runner := &countingRunner{}
	scheduler := worker.NewScheduler(runner, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Start(ctx) }()

	assert.Eventually(t, func() bool { return runner.runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
