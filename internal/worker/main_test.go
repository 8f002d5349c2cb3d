package worker

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/mapgen/internal/interfaces"
	"github.com/ternarybob/mapgen/internal/models"
)

// testWorkerModeEnv makes the test binary act as a worker process
const testWorkerModeEnv = "MAPGEN_TEST_WORKER_MODE"

func TestMain(m *testing.M) {
	if mode := os.Getenv(testWorkerModeEnv); mode != "" {
		os.Exit(runTestWorker(mode))
	}
	os.Exit(m.Run())
}

// runTestWorker imitates a worker process: complete finishes the job, crash
// exits after the first update, sleep finishes after a delay
func runTestWorker(mode string) int {
	requestID := ""
	for i, arg := range os.Args {
		if arg == "-worker" && i+1 < len(os.Args) {
			requestID = os.Args[i+1]
		}
	}

	sink := NewPipeSink(OpenProgressPipe())
	send := func(stage models.Stage) {
		_ = sink.Send(models.StatusUpdate{RequestID: requestID, Stage: stage, Status: models.StageStatus(stage)})
	}

	send(models.StageInitializing)
	switch mode {
	case "crash":
		return 2
	case "sleep":
		time.Sleep(500 * time.Millisecond)
	}
	send(models.StageDrawingMap)
	send(models.StageComplete)
	return 0
}

type memStore struct {
	mu      sync.Mutex
	records map[string]models.JobRecord
}

func newMemStore(ids ...string) *memStore {
	s := &memStore{records: make(map[string]models.JobRecord)}
	for _, id := range ids {
		s.records[id] = *models.NewJobRecord(id, models.MapParams{})
	}
	return s
}

func (s *memStore) Get(ctx context.Context, id string) (*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, interfaces.ErrJobNotFound
	}
	return &r, nil
}

func (s *memStore) Set(ctx context.Context, id string, record *models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = *record
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *memStore) Claim(ctx context.Context, id string) (*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, interfaces.ErrJobNotFound
	}
	delete(s.records, id)
	return &r, nil
}

func (s *memStore) ListUpdatedBefore(ctx context.Context, cutoff time.Time) ([]*models.JobRecord, error) {
	return nil, nil
}

func (s *memStore) stage(id string) models.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].Stage
}

type syncSink struct {
	mu      sync.Mutex
	updates []models.StatusUpdate
}

func (s *syncSink) Send(u models.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	return nil
}

func (s *syncSink) stages(id string) []models.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Stage
	for _, u := range s.updates {
		if u.RequestID == id {
			out = append(out, u.Stage)
		}
	}
	return out
}
