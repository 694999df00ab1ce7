package stepfunctions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aescanero/flowdeploy/internal/application/child"
	sfnapi "github.com/aescanero/flowdeploy/pkg/adapters/orchestrator/stepfunctions"
	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Environment passed to every Batch job
const (
	EnvFlowName    = "FLOWDEPLOY_FLOW_NAME"
	EnvStepName    = "FLOWDEPLOY_STEP_NAME"
	EnvRunID       = "FLOWDEPLOY_RUN_ID"
	EnvParameters  = "FLOWDEPLOY_PARAMETERS"
	EnvCodePackage = "FLOWDEPLOY_CODE_PACKAGE"
)

// ExecutorConfig holds the child-side settings of the Step Functions backend
type ExecutorConfig struct {
	// JobQueue and JobDefinition run steps on AWS Batch when set
	JobQueue      string
	JobDefinition string
	// Metadata names the metadata service runs report to
	Metadata string
}

// Executor implements the lifecycle verbs against Step Functions
type Executor struct {
	client StateMachines
	config ExecutorConfig
	logger *zap.Logger
}

// NewExecutor creates a new Step Functions executor
func NewExecutor(client StateMachines, config ExecutorConfig, logger *zap.Logger) *Executor {
	return &Executor{
		client: client,
		config: config,
		logger: logger,
	}
}

// Backend returns the executor with the verbs it implements
func (e *Executor) Backend() child.Backend {
	return child.Backend{Name: Type, Verbs: Verbs, Executor: e}
}

func (e *Executor) stateMachine(ctx context.Context, name string) (*sfnapi.StateMachine, error) {
	sm, err := e.client.FindStateMachine(ctx, name)
	if errors.Is(err, sfnapi.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sm, nil
}

func (e *Executor) deployed(ctx context.Context, name string) (*sfnapi.StateMachine, error) {
	sm, err := e.stateMachine(ctx, name)
	if err != nil {
		return nil, err
	}
	if sm == nil {
		return nil, fmt.Errorf("deployment %s not found", name)
	}
	return sm, nil
}

// Create renders the flow and creates or updates its state machine
func (e *Executor) Create(ctx context.Context, req child.CreateRequest) (*child.CreateResult, error) {
	current, err := e.stateMachine(ctx, req.Deployment)
	if err != nil {
		return nil, err
	}
	existing := existingDeployment(current)
	if err := child.Authorize(existing, req.User, req.Authorize); err != nil {
		return nil, err
	}
	token := child.ProductionToken(existing, req.GenerateNewToken)

	def, err := definition(req.Flow, definitionConfig{
		JobQueue:      e.config.JobQueue,
		JobDefinition: e.config.JobDefinition,
		CodePackage:   req.CodePackage,
	})
	if err != nil {
		return nil, err
	}

	tags := map[string]string{
		TagFlowName:        req.Flow.Name,
		TagOwner:           req.User,
		TagProductionToken: token,
	}
	if req.Flow.Project != "" {
		tags[TagProjectName] = req.Flow.Project
		tags[TagBranchName] = req.BranchName()
	}
	if req.CodePackage != "" {
		tags[TagCodePackage] = req.CodePackage
	}
	for _, t := range req.Tags {
		key, value, _ := strings.Cut(t, ":")
		tags[key] = value
	}

	arn, err := e.client.ApplyStateMachine(ctx, req.Deployment, def, tags)
	if err != nil {
		return nil, err
	}
	e.logger.Info("state machine applied",
		zap.String("deployment", req.Deployment),
		zap.String("arn", arn))

	return &child.CreateResult{
		Name:     req.Deployment,
		FlowName: req.Flow.Name,
		Metadata: e.config.Metadata,
		AdditionalInfo: map[string]interface{}{
			"state_machine_arn": arn,
			"production_token":  token,
		},
	}, nil
}

// Trigger starts an execution. The execution name is the run id without
// its prefix.
func (e *Executor) Trigger(ctx context.Context, req child.TriggerRequest) (*child.TriggerResult, error) {
	sm, err := e.deployed(ctx, req.Deployment)
	if err != nil {
		return nil, err
	}
	params, err := child.ResolveParams(req.Flow, req.Params)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters: %w", err)
	}
	input, err := json.Marshal(map[string]string{"Parameters": string(encoded)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution input: %w", err)
	}

	name := strings.ReplaceAll(uuid.New().String(), "-", "")
	if _, err := e.client.StartExecution(ctx, sm.ARN, name, string(input)); err != nil {
		return nil, err
	}
	runID := RunIDPrefix + name
	e.logger.Info("execution started",
		zap.String("deployment", req.Deployment),
		zap.String("execution", name))

	return &child.TriggerResult{
		Metadata: e.config.Metadata,
		Pathspec: req.Flow.Name + "/" + runID,
		Name:     runID,
	}, nil
}

// Suspend is not available on Step Functions
func (e *Executor) Suspend(ctx context.Context, req child.RunRequest) error {
	return fmt.Errorf("%w: %s cannot suspend runs", child.ErrUnsupported, Type)
}

// Unsuspend is not available on Step Functions
func (e *Executor) Unsuspend(ctx context.Context, req child.RunRequest) error {
	return fmt.Errorf("%w: %s cannot unsuspend runs", child.ErrUnsupported, Type)
}

// Terminate aborts an execution
func (e *Executor) Terminate(ctx context.Context, req child.RunRequest) error {
	sm, err := e.deployed(ctx, req.Deployment)
	if err != nil {
		return err
	}
	if err := child.Authorize(existingDeployment(sm), req.User, req.Authorize); err != nil {
		return err
	}

	name := strings.TrimPrefix(req.RunID, RunIDPrefix)
	arn := sfnapi.ExecutionARN(sm.ARN, name)
	if err := e.client.StopExecution(ctx, arn, fmt.Sprintf("terminated by %s", req.User)); err != nil {
		if errors.Is(err, sfnapi.ErrNotFound) {
			return fmt.Errorf("%w: %s is not a run of %s", child.ErrRunNotOwned, req.RunID, req.Deployment)
		}
		return err
	}
	e.logger.Info("execution stopped", zap.String("execution", name))
	return nil
}

// Delete removes the state machine
func (e *Executor) Delete(ctx context.Context, req child.DeleteRequest) error {
	sm, err := e.deployed(ctx, req.Deployment)
	if err != nil {
		return err
	}
	if err := child.Authorize(existingDeployment(sm), req.User, req.Authorize); err != nil {
		return err
	}
	if err := e.client.DeleteStateMachine(ctx, sm.ARN); err != nil {
		return err
	}
	e.logger.Info("state machine deleted", zap.String("deployment", req.Deployment))
	return nil
}

// ListRuns returns the executions of the deployment, newest first
func (e *Executor) ListRuns(ctx context.Context, req child.ListRunsRequest) ([]child.RunSummary, error) {
	sm, err := e.deployed(ctx, req.Deployment)
	if err != nil {
		return nil, err
	}
	executions, err := e.client.ListExecutions(ctx, sm.ARN)
	if err != nil {
		return nil, err
	}

	wanted := make(map[domain.RunStatus]bool, len(req.States))
	for _, s := range req.States {
		wanted[s] = true
	}

	runs := make([]child.RunSummary, 0, len(executions))
	for _, exec := range executions {
		status := StatusFromExecution(exec.Status)
		if len(wanted) > 0 && !wanted[status] {
			continue
		}
		runs = append(runs, child.RunSummary{
			Pathspec:  req.Flow.Name + "/" + RunIDPrefix + exec.Name,
			Name:      exec.Name,
			Status:    status,
			StartedAt: exec.StartDate,
		})
	}
	sort.SliceStable(runs, func(i, j int) bool {
		a, b := runs[i].StartedAt, runs[j].StartedAt
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.After(*b)
	})
	return runs, nil
}
