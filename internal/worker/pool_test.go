package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/interfaces"
	"github.com/ternarybob/mapgen/internal/models"
)

type fakeRunner struct {
	mu    sync.Mutex
	ran   []string
	panic bool
	err   error
}

func (r *fakeRunner) Run(ctx context.Context, requestID string, sink interfaces.ProgressSink) error {
	r.mu.Lock()
	r.ran = append(r.ran, requestID)
	r.mu.Unlock()

	if r.panic {
		panic("boom")
	}
	if r.err != nil {
		return r.err
	}
	return sink.Send(models.StatusUpdate{RequestID: requestID, Stage: models.StageComplete, Status: models.StageStatus(models.StageComplete)})
}

func TestWorkerPool_RunsDispatchedJobs(t *testing.T) {
	store := newMemStore("a", "b", "c")
	sink := &syncSink{}
	runner := &fakeRunner{}

	pool := NewWorkerPool(runner, store, sink, arbor.NewLogger(), 2)
	defer pool.Stop()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, pool.Dispatch(context.Background(), id))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Wait(ctx))

	assert.ElementsMatch(t, []string{"a", "b", "c"}, runner.ran)
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, []models.Stage{models.StageComplete}, sink.stages(id))
	}
}

func TestWorkerPool_PanicFailsJob(t *testing.T) {
	store := newMemStore("a")
	sink := &syncSink{}

	pool := NewWorkerPool(&fakeRunner{panic: true}, store, sink, arbor.NewLogger(), 1)
	defer pool.Stop()

	require.NoError(t, pool.Dispatch(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Wait(ctx))

	assert.Equal(t, models.StageFailed, store.stage("a"))
	assert.Equal(t, []models.Stage{models.StageFailed}, sink.stages("a"))
}

func TestWorkerPool_RunErrorLeavesRecordToRunner(t *testing.T) {
	store := newMemStore("a")
	sink := &syncSink{}

	pool := NewWorkerPool(&fakeRunner{err: errors.New("failed")}, store, sink, arbor.NewLogger(), 1)
	defer pool.Stop()

	require.NoError(t, pool.Dispatch(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Wait(ctx))

	assert.Equal(t, models.StageInitializing, store.stage("a"))
	assert.Empty(t, sink.stages("a"))
}

func TestFailJob_AlreadyCompleteIsRepublished(t *testing.T) {
	store := newMemStore("a")
	record, err := store.Get(context.Background(), "a")
	require.NoError(t, err)
	require.NoError(t, record.Complete("/tmp/a.pdf"))
	require.NoError(t, store.Set(context.Background(), "a", record))

	sink := &syncSink{}
	failJob(context.Background(), store, sink, "a", errors.New("late"), arbor.NewLogger())

	assert.Equal(t, models.StageComplete, store.stage("a"))
	assert.Equal(t, []models.Stage{models.StageComplete}, sink.stages("a"))
}
