// Package stepfunctions deploys flows as AWS Step Functions state machines.
// Runs cannot be suspended and deployments cannot be described, so handles
// for existing deployments are not available on this backend.
package stepfunctions

import (
	"context"
	"errors"
	"fmt"

	"github.com/aescanero/flowdeploy/internal/application/child"
	"github.com/aescanero/flowdeploy/internal/application/commands"
	"github.com/aescanero/flowdeploy/internal/application/deployer"
	sfnapi "github.com/aescanero/flowdeploy/pkg/adapters/orchestrator/stepfunctions"
	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"go.uber.org/zap"
)

const (
	// Type is the backend type name
	Type = "step-functions"
	// RunIDPrefix is prepended to execution names in pathspecs
	RunIDPrefix = "sfn-"
)

// Tags stored on every state machine
const (
	TagFlowName        = "flowdeploy:flow_name"
	TagOwner           = "flowdeploy:owner"
	TagProductionToken = "flowdeploy:production_token"
	TagBranchName      = "flowdeploy:branch_name"
	TagProjectName     = "flowdeploy:project_name"
	TagCodePackage     = "flowdeploy:code_package"
)

// Verbs implemented by the Step Functions backend
var Verbs = []commands.Verb{
	commands.VerbCreate,
	commands.VerbTrigger,
	commands.VerbTerminate,
	commands.VerbDelete,
	commands.VerbListRuns,
}

// StateMachines is the part of the Step Functions client the backend needs
type StateMachines interface {
	FindStateMachine(ctx context.Context, name string) (*sfnapi.StateMachine, error)
	ApplyStateMachine(ctx context.Context, name, definition string, tags map[string]string) (string, error)
	DeleteStateMachine(ctx context.Context, arn string) error
	StartExecution(ctx context.Context, stateMachineARN, name, input string) (string, error)
	DescribeExecution(ctx context.Context, arn string) (*sfnapi.Execution, error)
	StopExecution(ctx context.Context, arn, cause string) error
	ListExecutions(ctx context.Context, stateMachineARN string) ([]sfnapi.Execution, error)
}

type provider struct {
	client StateMachines
	logger *zap.Logger
}

// Provider returns the deployer-side description of the Step Functions backend
func Provider(client StateMachines, logger *zap.Logger) deployer.Provider {
	p := &provider{client: client, logger: logger}
	return deployer.Provider{
		Type:            Type,
		Verbs:           Verbs,
		RunIDPrefix:     RunIDPrefix,
		Status:          p.status,
		ProductionToken: p.productionToken,
	}
}

func (p *provider) status(ctx context.Context, ref deployer.RunRef) (domain.RunStatus, error) {
	sm, err := p.client.FindStateMachine(ctx, ref.Deployment)
	if errors.Is(err, sfnapi.ErrNotFound) {
		return domain.StatusUnknown, nil
	}
	if err != nil {
		return domain.StatusUnknown, err
	}

	exec, err := p.client.DescribeExecution(ctx, sfnapi.ExecutionARN(sm.ARN, ref.RunName))
	if errors.Is(err, sfnapi.ErrNotFound) {
		return domain.StatusUnknown, nil
	}
	if err != nil {
		return domain.StatusUnknown, err
	}
	p.logger.Debug("execution status",
		zap.String("execution", ref.RunName),
		zap.String("state", string(exec.Status)))
	return StatusFromExecution(exec.Status), nil
}

// StatusFromExecution maps a Step Functions execution status to a run status
func StatusFromExecution(status types.ExecutionStatus) domain.RunStatus {
	switch status {
	case types.ExecutionStatusRunning:
		return domain.StatusRunning
	case types.ExecutionStatusSucceeded:
		return domain.StatusSucceeded
	case types.ExecutionStatusFailed, types.ExecutionStatusTimedOut:
		return domain.StatusFailed
	case types.ExecutionStatusAborted:
		return domain.StatusTerminated
	case types.ExecutionStatusPendingRedrive:
		return domain.StatusPending
	default:
		return domain.StatusUnknown
	}
}

func (p *provider) productionToken(ctx context.Context, deployment string) (string, error) {
	sm, err := p.client.FindStateMachine(ctx, deployment)
	if errors.Is(err, sfnapi.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find state machine %s: %w", deployment, err)
	}
	return sm.Tags[TagProductionToken], nil
}

func existingDeployment(sm *sfnapi.StateMachine) *child.Existing {
	if sm == nil {
		return nil
	}
	return &child.Existing{
		Name:            sm.Name,
		Owner:           sm.Tags[TagOwner],
		ProductionToken: sm.Tags[TagProductionToken],
	}
}

// Probe reports whether state machines can be listed
func Probe(client StateMachines) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := client.FindStateMachine(ctx, "flowdeploy-health-probe")
		if err == nil || errors.Is(err, sfnapi.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("step functions api unavailable: %w", err)
	}
}
