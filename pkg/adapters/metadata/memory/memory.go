package memory

import (
	"context"
	"sync"

	"github.com/aescanero/flowdeploy/pkg/domain"
)

// InMemoryRunSource implements RunSource using an in-memory map
type InMemoryRunSource struct {
	runs map[string]domain.Run
	mu   sync.RWMutex
}

// NewInMemoryRunSource creates a new in-memory run source
func NewInMemoryRunSource() *InMemoryRunSource {
	return &InMemoryRunSource{runs: make(map[string]domain.Run)}
}

// PutRun records the run object of a pathspec
func (s *InMemoryRunSource) PutRun(run domain.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.Pathspec] = run
}

// GetRun returns nil when no run object exists for pathspec
func (s *InMemoryRunSource) GetRun(ctx context.Context, pathspec string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[pathspec]
	if !ok {
		return nil, nil
	}
	return &run, nil
}
