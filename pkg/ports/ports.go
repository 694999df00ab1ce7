package ports

import (
	"context"
	"time"

	"github.com/aescanero/flowdeploy/pkg/domain"
)

// EventHandler processes a single event
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes and delivers lifecycle events
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// DeploymentStore keeps parent-side records of deployments and their runs.
// Getters return nil, nil when the record does not exist.
type DeploymentStore interface {
	SaveDeployment(ctx context.Context, record *domain.DeploymentRecord) error
	GetDeployment(ctx context.Context, name string) (*domain.DeploymentRecord, error)
	DeleteDeployment(ctx context.Context, name string) error
	ListDeployments(ctx context.Context) ([]*domain.DeploymentRecord, error)
	SaveRun(ctx context.Context, record *domain.RunRecord) error
	ListRuns(ctx context.Context, deployment string) ([]*domain.RunRecord, error)
}

// RunSource looks up the run object for a pathspec. A run that does not
// exist yet is reported as nil, nil.
type RunSource interface {
	GetRun(ctx context.Context, pathspec string) (*domain.Run, error)
}

// MetricsCollector records deployer activity
type MetricsCollector interface {
	RecordInvocation(backend, verb, outcome string, duration time.Duration)
	RecordResultTimeout(backend, verb string)
	RecordStatusQuery(backend string, status domain.RunStatus)
	// AddActiveProcesses moves the count of running children by delta
	AddActiveProcesses(delta int)
}

// CodePackager stores a flow's source next to its deployment and returns its URL
type CodePackager interface {
	Upload(ctx context.Context, flowName string, contents []byte) (string, error)
}
