package worker

import (
	"context"

	"github.com/ternarybob/arbor"
)

// RunChild runs one job inside a worker process, reporting status updates
// over the progress pipe inherited from the dispatcher
func RunChild(ctx context.Context, runner Runner, requestID string, logger arbor.ILogger) error {
	pipe := OpenProgressPipe()
	defer pipe.Close()

	logger.Debug().Str("request_id", requestID).Msg("Worker process running job")
	return runner.Run(ctx, requestID, NewPipeSink(pipe))
}
