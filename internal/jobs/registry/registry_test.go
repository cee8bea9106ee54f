package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardpipe/cardpipe/internal/platform/apierr"
)

func TestSubmitThenDequeueTransitionsToRunning(t *testing.T) {
	reg := New(1, 4, time.Hour)
	rec, err := reg.Submit("job-1", "card.ai", 100, Options{})
	require.NoError(t, err)
	assert.Equal(t, StateQueued, rec.State)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := reg.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, StateRunning, got.State)
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	reg := New(1, 1, time.Hour)
	_, err := reg.Submit("job-1", "a.ai", 1, Options{})
	require.NoError(t, err)

	_, err = reg.Submit("job-2", "b.ai", 1, Options{})
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindQueueFull, ae.Kind)
}

func TestDequeueSkipsJobCancelledWhileStillQueued(t *testing.T) {
	reg := New(1, 4, time.Hour)
	cancelled, err := reg.Submit("cancel-me", "a.ai", 1, Options{})
	require.NoError(t, err)
	live, err := reg.Submit("still-queued", "b.ai", 1, Options{})
	require.NoError(t, err)

	require.NoError(t, reg.Cancel(cancelled.ID))
	assert.Equal(t, StateCancelled, cancelled.State)

	ctx, cancelFn := context.WithTimeout(context.Background(), time.Second)
	defer cancelFn()
	got, ok := reg.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, live.ID, got.ID, "Dequeue must skip the channel entry for the already-cancelled job")
}

func TestResultReportsNotReadyWhileQueued(t *testing.T) {
	reg := New(1, 4, time.Hour)
	rec, err := reg.Submit("job-1", "a.ai", 1, Options{})
	require.NoError(t, err)

	_, err = reg.Result(rec.ID)
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindNotReady, ae.Kind)
}

func TestResultSurfacesTerminalFailureKindNotNotReady(t *testing.T) {
	reg := New(1, 4, time.Hour)
	rec, err := reg.Submit("job-1", "a.ai", 1, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rec, ok := reg.Dequeue(ctx)
	require.True(t, ok)

	rec.Fail(apierr.KindRendererFailed, assert.AnError)

	_, err = reg.Result(rec.ID)
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindRendererFailed, ae.Kind, "Result must surface the job's own recorded error kind, not a generic NotReady")
}

func TestResultReturnsManifestOnSuccess(t *testing.T) {
	reg := New(1, 4, time.Hour)
	rec, err := reg.Submit("job-1", "a.ai", 1, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rec, ok := reg.Dequeue(ctx)
	require.True(t, ok)

	rec.Succeed(nil, "/tmp/job-1")
	m, err := reg.Result(rec.ID)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestCancelQueuedJobTransitionsImmediately(t *testing.T) {
	reg := New(1, 4, time.Hour)
	rec, err := reg.Submit("job-1", "a.ai", 1, Options{})
	require.NoError(t, err)

	require.NoError(t, reg.Cancel(rec.ID))
	assert.Equal(t, StateCancelled, rec.State)
}

func TestCancelRunningJobSetsCooperativeFlagOnly(t *testing.T) {
	reg := New(1, 4, time.Hour)
	rec, err := reg.Submit("job-1", "a.ai", 1, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rec, ok := reg.Dequeue(ctx)
	require.True(t, ok)

	require.NoError(t, reg.Cancel(rec.ID))
	assert.Equal(t, StateRunning, rec.State, "a Running job is not transitioned synchronously; the worker observes Cancelled()")
	assert.True(t, reg.Cancelled(rec.ID))
}

func TestReapEvictsOnlyExpiredCompletedJobs(t *testing.T) {
	reg := New(1, 4, time.Millisecond)
	rec, err := reg.Submit("job-1", "a.ai", 1, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rec, ok := reg.Dequeue(ctx)
	require.True(t, ok)
	rec.Succeed(nil, "/tmp/job-1")

	time.Sleep(5 * time.Millisecond)
	evicted := reg.Reap(time.Now())
	assert.Equal(t, 1, evicted)
	assert.Nil(t, reg.Get(rec.ID))
}
