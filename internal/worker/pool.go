package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/common"
	"github.com/ternarybob/mapgen/internal/interfaces"
)

// ErrQueueFull is the failure recorded for a job dispatched while the pool's queue is full
var ErrQueueFull = errors.New("worker queue is full")

// Runner executes one job to completion
type Runner interface {
	Run(ctx context.Context, requestID string, sink interfaces.ProgressSink) error
}

// WorkerPool runs jobs on a fixed number of goroutines inside the serving
// process. Used with single-process storage and in tests.
type WorkerPool struct {
	runner     Runner
	store      interfaces.JobStore
	sink       interfaces.ProgressSink
	logger     arbor.ILogger
	numWorkers int
	queue      chan string
	wg         sync.WaitGroup
	inflight   sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	startOnce  sync.Once
}

var _ interfaces.Dispatcher = (*WorkerPool)(nil)

func NewWorkerPool(runner Runner, store interfaces.JobStore, sink interfaces.ProgressSink, logger arbor.ILogger, numWorkers int) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		runner:     runner,
		store:      store,
		sink:       sink,
		logger:     logger,
		numWorkers: numWorkers,
		queue:      make(chan string, numWorkers*64),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts the worker goroutines
func (wp *WorkerPool) Start() {
	wp.startOnce.Do(func() {
		wp.logger.Info().
			Int("num_workers", wp.numWorkers).
			Msg("Starting worker pool")

		for i := 0; i < wp.numWorkers; i++ {
			wp.wg.Add(1)
			go wp.worker(i)
		}
	})
}

// Stop cancels running jobs and waits for the workers to exit
func (wp *WorkerPool) Stop() {
	wp.logger.Info().Msg("Stopping worker pool...")
	wp.cancel()
	wp.wg.Wait()
	wp.logger.Info().Msg("Worker pool stopped")
}

// Dispatch queues the job. A full queue fails the job immediately.
func (wp *WorkerPool) Dispatch(ctx context.Context, requestID string) error {
	wp.Start()
	wp.inflight.Add(1)

	select {
	case wp.queue <- requestID:
		return nil
	default:
		wp.inflight.Done()
		failJob(ctx, wp.store, wp.sink, requestID, ErrQueueFull, wp.logger)
		return ErrQueueFull
	}
}

// Wait blocks until every dispatched job has finished or ctx is done
func (wp *WorkerPool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		wp.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker is the main worker loop
func (wp *WorkerPool) worker(workerID int) {
	defer wp.wg.Done()

	wp.logger.Debug().
		Int("worker_id", workerID).
		Msg("Worker started")

	for {
		select {
		case <-wp.ctx.Done():
			wp.drain()
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopping")
			return
		case id := <-wp.queue:
			wp.process(workerID, id)
		}
	}
}

func (wp *WorkerPool) process(workerID int, requestID string) {
	defer wp.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			failJob(wp.ctx, wp.store, wp.sink, requestID, common.RecoverError(r), wp.logger)
		}
	}()

	wp.logger.Info().
		Int("worker_id", workerID).
		Str("request_id", requestID).
		Msg("Processing job")

	if err := wp.runner.Run(wp.ctx, requestID, wp.sink); err != nil {
		wp.logger.Warn().
			Err(err).
			Int("worker_id", workerID).
			Str("request_id", requestID).
			Msg("Job failed")
		return
	}

	wp.logger.Info().
		Int("worker_id", workerID).
		Str("request_id", requestID).
		Msg("Job completed")
}

// drain fails jobs still queued when the pool stops
func (wp *WorkerPool) drain() {
	for {
		select {
		case id := <-wp.queue:
			failJob(wp.ctx, wp.store, wp.sink, id, context.Canceled, wp.logger)
			wp.inflight.Done()
		default:
			return
		}
	}
}
