package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "flowdeploy:"

// DeploymentStore implements ports.DeploymentStore using Redis
type DeploymentStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewDeploymentStore creates a new Redis deployment store. A zero ttl keeps
// records forever.
func NewDeploymentStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *DeploymentStore {
	return &DeploymentStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveDeployment stores or replaces a deployment record
func (s *DeploymentStore) SaveDeployment(ctx context.Context, record *domain.DeploymentRecord) error {
	if record == nil || record.Name == "" {
		return fmt.Errorf("deployment name is required")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal deployment: %w", err)
	}
	if err := s.client.Set(ctx, deploymentKey(record.Name), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save deployment: %w", err)
	}

	s.logger.Debug("deployment saved",
		zap.String("deployment", record.Name),
		zap.String("backend", record.Backend))
	return nil
}

// GetDeployment returns nil when the deployment is unknown
func (s *DeploymentStore) GetDeployment(ctx context.Context, name string) (*domain.DeploymentRecord, error) {
	data, err := s.client.Get(ctx, deploymentKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	var record domain.DeploymentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deployment: %w", err)
	}
	return &record, nil
}

// DeleteDeployment removes a deployment and its runs
func (s *DeploymentStore) DeleteDeployment(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, deploymentKey(name), runsKey(name)).Err(); err != nil {
		return fmt.Errorf("failed to delete deployment: %w", err)
	}

	s.logger.Debug("deployment deleted", zap.String("deployment", name))
	return nil
}

// ListDeployments returns all deployments ordered by name
func (s *DeploymentStore) ListDeployments(ctx context.Context) ([]*domain.DeploymentRecord, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, deploymentKey("*"), 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	records := make([]*domain.DeploymentRecord, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			// expired between scan and get
			continue
		}
		var record domain.DeploymentRecord
		if err := json.Unmarshal(data, &record); err != nil {
			s.logger.Warn("skipping malformed deployment record",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		records = append(records, &record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

// SaveRun appends a run to its deployment
func (s *DeploymentStore) SaveRun(ctx context.Context, record *domain.RunRecord) error {
	if record == nil || record.Pathspec == "" {
		return fmt.Errorf("run pathspec is required")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	key := runsKey(record.Deployment)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	s.logger.Debug("run saved",
		zap.String("deployment", record.Deployment),
		zap.String("pathspec", record.Pathspec))
	return nil
}

// ListRuns returns the runs of a deployment in trigger order
func (s *DeploymentStore) ListRuns(ctx context.Context, deployment string) ([]*domain.RunRecord, error) {
	values, err := s.client.LRange(ctx, runsKey(deployment), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	records := make([]*domain.RunRecord, 0, len(values))
	for _, v := range values {
		var record domain.RunRecord
		if err := json.Unmarshal([]byte(v), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run: %w", err)
		}
		records = append(records, &record)
	}
	return records, nil
}

func deploymentKey(name string) string {
	return fmt.Sprintf("%sdeployment:%s", keyPrefix, name)
}

func runsKey(deployment string) string {
	return fmt.Sprintf("%sruns:%s", keyPrefix, deployment)
}
