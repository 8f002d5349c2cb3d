package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/common"
	"github.com/ternarybob/mapgen/internal/interfaces"
	"github.com/ternarybob/mapgen/internal/models"
)

// ErrCapacityExhausted is the failure recorded for a job that waited
// longer than the queue wait for a free worker slot
var ErrCapacityExhausted = errors.New("worker capacity exhausted")

// ProcessOptions configures a ProcessDispatcher
type ProcessOptions struct {
	// Executable is the binary started for each job; empty = this executable
	Executable string

	// ConfigPaths are passed to the worker as -config flags
	ConfigPaths []string

	MaxConcurrent int
	QueueWait     time.Duration

	// Env is appended to the inherited environment
	Env []string
}

// ProcessDispatcher runs each job in its own worker process so a crash or
// runaway allocation in one job cannot take down the server. The worker
// writes status updates to the progress pipe; the dispatcher forwards them
// to the sink and fails the job itself if the worker dies without finishing.
type ProcessDispatcher struct {
	executable  string
	configPaths []string
	env         []string
	queueWait   time.Duration
	store       interfaces.JobStore
	sink        interfaces.ProgressSink
	logger      arbor.ILogger
	slots       chan struct{}
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

var _ interfaces.Dispatcher = (*ProcessDispatcher)(nil)

// NewProcessDispatcher creates a dispatcher allowing opts.MaxConcurrent workers at once
func NewProcessDispatcher(opts ProcessOptions, store interfaces.JobStore, sink interfaces.ProgressSink, logger arbor.ILogger) (*ProcessDispatcher, error) {
	executable := opts.Executable
	if executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve worker executable: %w", err)
		}
		executable = exe
	}

	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &ProcessDispatcher{
		executable:  executable,
		configPaths: opts.ConfigPaths,
		env:         opts.Env,
		queueWait:   opts.QueueWait,
		store:       store,
		sink:        sink,
		logger:      logger,
		slots:       make(chan struct{}, opts.MaxConcurrent),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Dispatch starts the job in the background and returns immediately
func (pd *ProcessDispatcher) Dispatch(ctx context.Context, requestID string) error {
	if err := pd.ctx.Err(); err != nil {
		return fmt.Errorf("dispatcher stopped: %w", err)
	}

	pd.start(requestID)
	return nil
}

// start runs the job on its own goroutine. A job that loses the race with
// Stop is marked failed instead of spawning a worker.
func (pd *ProcessDispatcher) start(requestID string) {
	pd.wg.Add(1)
	common.SafeGoWithContext(pd.ctx, pd.logger, "workerProcess", func() {
		defer pd.wg.Done()
		pd.run(requestID)
	}, func() {
		defer pd.wg.Done()
		cause := fmt.Errorf("dispatcher stopped: %w", context.Canceled)
		failJob(pd.ctx, pd.store, pd.sink, requestID, cause, pd.logger.WithCorrelationId(requestID))
	})
}

// Wait blocks until every worker process has exited or ctx is done
func (pd *ProcessDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		pd.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop kills running workers and waits for their jobs to be marked failed
func (pd *ProcessDispatcher) Stop() {
	pd.logger.Info().Msg("Stopping worker processes...")
	pd.cancel()
	pd.wg.Wait()
	pd.logger.Info().Msg("Worker processes stopped")
}

func (pd *ProcessDispatcher) run(requestID string) {
	logger := pd.logger.WithCorrelationId(requestID)

	if !pd.acquire() {
		failJob(pd.ctx, pd.store, pd.sink, requestID, ErrCapacityExhausted, logger)
		return
	}
	defer pd.release()

	terminal, err := pd.spawn(requestID, logger)
	if terminal {
		return
	}

	cause := errors.New("worker exited without finishing")
	if err != nil {
		cause = fmt.Errorf("worker exited without finishing: %w", err)
	}
	failJob(pd.ctx, pd.store, pd.sink, requestID, cause, logger)
}

func (pd *ProcessDispatcher) acquire() bool {
	select {
	case pd.slots <- struct{}{}:
		return true
	default:
	}

	timer := time.NewTimer(pd.queueWait)
	defer timer.Stop()

	select {
	case pd.slots <- struct{}{}:
		return true
	case <-timer.C:
		return false
	case <-pd.ctx.Done():
		return false
	}
}

func (pd *ProcessDispatcher) release() {
	<-pd.slots
}

// spawn runs one worker process, forwarding its updates until the pipe
// closes. It reports whether a terminal update was seen.
func (pd *ProcessDispatcher) spawn(requestID string, logger arbor.ILogger) (bool, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return false, fmt.Errorf("failed to create progress pipe: %w", err)
	}
	defer pr.Close()

	args := []string{"-worker", requestID}
	for _, p := range pd.configPaths {
		args = append(args, "-config", p)
	}

	cmd := exec.CommandContext(pd.ctx, pd.executable, args...)
	cmd.ExtraFiles = []*os.File{pw}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), pd.env...)

	if err := cmd.Start(); err != nil {
		pw.Close()
		return false, fmt.Errorf("failed to start worker: %w", err)
	}
	// The child holds the only write end now, so the read below ends when it exits
	pw.Close()

	logger.Info().
		Int("pid", cmd.Process.Pid).
		Msg("Worker process started")

	terminal := false
	readErr := ReadUpdates(pr, func(update models.StatusUpdate) {
		if update.Terminal() {
			terminal = true
		}
		if err := pd.sink.Send(update); err != nil {
			logger.Warn().Err(err).Msg("Failed to forward status update")
		}
	}, func(err error) {
		logger.Warn().Err(err).Msg("Ignoring worker output")
	})
	if readErr != nil {
		logger.Warn().Err(readErr).Msg("Progress pipe read failed")
	}

	waitErr := cmd.Wait()
	if waitErr != nil {
		logger.Warn().Err(waitErr).Msg("Worker process exited with error")
	} else {
		logger.Info().Msg("Worker process exited")
	}

	return terminal, waitErr
}
