package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/models"
)

func newTestDispatcher(t *testing.T, mode string, maxConcurrent int, queueWait time.Duration, store *memStore, sink *syncSink) *ProcessDispatcher {
	t.Helper()

	pd, err := NewProcessDispatcher(ProcessOptions{
		MaxConcurrent: maxConcurrent,
		QueueWait:     queueWait,
		Env:           []string{testWorkerModeEnv + "=" + mode},
	}, store, sink, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(pd.Stop)
	return pd
}

func waitAll(t *testing.T, pd *ProcessDispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, pd.Wait(ctx))
}

func TestProcessDispatcher_ForwardsWorkerUpdates(t *testing.T) {
	store := newMemStore("job1")
	sink := &syncSink{}
	pd := newTestDispatcher(t, "complete", 2, time.Second, store, sink)

	require.NoError(t, pd.Dispatch(context.Background(), "job1"))
	waitAll(t, pd)

	assert.Equal(t, []models.Stage{
		models.StageInitializing,
		models.StageDrawingMap,
		models.StageComplete,
	}, sink.stages("job1"))

	// The worker owns the record; the dispatcher did not touch it
	assert.Equal(t, models.StageInitializing, store.stage("job1"))
}

func TestProcessDispatcher_CrashMarksFailed(t *testing.T) {
	store := newMemStore("job1")
	sink := &syncSink{}
	pd := newTestDispatcher(t, "crash", 1, time.Second, store, sink)

	require.NoError(t, pd.Dispatch(context.Background(), "job1"))
	waitAll(t, pd)

	assert.Equal(t, models.StageFailed, store.stage("job1"))
	assert.Equal(t, []models.Stage{models.StageInitializing, models.StageFailed}, sink.stages("job1"))

	record, err := store.Get(context.Background(), "job1")
	require.NoError(t, err)
	assert.Contains(t, record.Error, "worker exited without finishing")
}

func TestProcessDispatcher_QueueWaitExceeded(t *testing.T) {
	store := newMemStore("slow1", "slow2")
	sink := &syncSink{}
	pd := newTestDispatcher(t, "sleep", 1, 50*time.Millisecond, store, sink)

	require.NoError(t, pd.Dispatch(context.Background(), "slow1"))
	require.NoError(t, pd.Dispatch(context.Background(), "slow2"))
	waitAll(t, pd)

	// Exactly one job got the slot; the other gave up waiting
	failed := 0
	for _, id := range []string{"slow1", "slow2"} {
		if store.stage(id) == models.StageFailed {
			failed++
			record, err := store.Get(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, ErrCapacityExhausted.Error(), record.Error)
			assert.Equal(t, []models.Stage{models.StageFailed}, sink.stages(id))
		} else {
			assert.Equal(t, models.StageComplete, sink.stages(id)[len(sink.stages(id))-1])
		}
	}
	assert.Equal(t, 1, failed)
}

func TestProcessDispatcher_StoppedRejectsDispatch(t *testing.T) {
	pd := newTestDispatcher(t, "complete", 1, time.Second, newMemStore(), &syncSink{})
	pd.Stop()

	assert.Error(t, pd.Dispatch(context.Background(), "late"))
}

func TestProcessDispatcher_JobStartingAfterStopIsFailed(t *testing.T) {
	store := newMemStore("late")
	sink := &syncSink{}
	pd := newTestDispatcher(t, "complete", 1, time.Second, store, sink)

	pd.cancel()
	pd.start("late")
	waitAll(t, pd)

	assert.Equal(t, models.StageFailed, store.stage("late"))
	assert.Equal(t, []models.Stage{models.StageFailed}, sink.stages("late"))
}
