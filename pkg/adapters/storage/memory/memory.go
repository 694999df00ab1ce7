package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/flowdeploy/pkg/domain"
)

// InMemoryDeploymentStore implements DeploymentStore using in-memory maps
// This is for testing purposes only
type InMemoryDeploymentStore struct {
	deployments map[string]domain.DeploymentRecord
	runs        map[string][]domain.RunRecord
	mu          sync.RWMutex
}

// NewInMemoryDeploymentStore creates a new in-memory deployment store
func NewInMemoryDeploymentStore() *InMemoryDeploymentStore {
	return &InMemoryDeploymentStore{
		deployments: make(map[string]domain.DeploymentRecord),
		runs:        make(map[string][]domain.RunRecord),
	}
}

// SaveDeployment stores or replaces a deployment record
func (s *InMemoryDeploymentStore) SaveDeployment(ctx context.Context, record *domain.DeploymentRecord) error {
	if record == nil || record.Name == "" {
		return fmt.Errorf("deployment name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy to avoid mutations
	s.deployments[record.Name] = *record
	return nil
}

// GetDeployment returns nil when the deployment is unknown
func (s *InMemoryDeploymentStore) GetDeployment(ctx context.Context, name string) (*domain.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.deployments[name]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// DeleteDeployment removes a deployment and its runs
func (s *InMemoryDeploymentStore) DeleteDeployment(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.deployments, name)
	delete(s.runs, name)
	return nil
}

// ListDeployments returns all deployments ordered by name
func (s *InMemoryDeploymentStore) ListDeployments(ctx context.Context) ([]*domain.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*domain.DeploymentRecord, 0, len(s.deployments))
	for _, record := range s.deployments {
		record := record
		records = append(records, &record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

// SaveRun appends a run to its deployment
func (s *InMemoryDeploymentStore) SaveRun(ctx context.Context, record *domain.RunRecord) error {
	if record == nil || record.Pathspec == "" {
		return fmt.Errorf("run pathspec is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[record.Deployment] = append(s.runs[record.Deployment], *record)
	return nil
}

// ListRuns returns the runs of a deployment in trigger order
func (s *InMemoryDeploymentStore) ListRuns(ctx context.Context, deployment string) ([]*domain.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := s.runs[deployment]
	records := make([]*domain.RunRecord, 0, len(runs))
	for i := range runs {
		record := runs[i]
		records = append(records, &record)
	}
	return records, nil
}
