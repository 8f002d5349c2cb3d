package worker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ternarybob/mapgen/internal/interfaces"
	"github.com/ternarybob/mapgen/internal/models"
)

// ProgressPipeFD is the descriptor a worker process writes status updates to.
// The serving process passes the write end of a pipe as its first extra file.
const ProgressPipeFD = 3

// maxLineBytes bounds one NDJSON status line
const maxLineBytes = 1 << 20

// PipeSink writes status updates as newline-delimited JSON
type PipeSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

var _ interfaces.ProgressSink = (*PipeSink)(nil)

func NewPipeSink(w io.Writer) *PipeSink {
	return &PipeSink{enc: json.NewEncoder(w)}
}

// OpenProgressPipe returns the worker end of the progress pipe
func OpenProgressPipe() *os.File {
	return os.NewFile(uintptr(ProgressPipeFD), "progress-pipe")
}

func (s *PipeSink) Send(update models.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(update); err != nil {
		return fmt.Errorf("failed to write status update: %w", err)
	}
	return nil
}

// ReadUpdates decodes updates from r until EOF, calling fn for each in order.
// Malformed lines are reported through onError and skipped.
func ReadUpdates(r io.Reader, fn func(models.StatusUpdate), onError func(error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var update models.StatusUpdate
		if err := json.Unmarshal(line, &update); err != nil {
			if onError != nil {
				onError(fmt.Errorf("malformed status update: %w", err))
			}
			continue
		}
		fn(update)
	}
	return scanner.Err()
}
