package argo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aescanero/flowdeploy/internal/application/child"
	argoapi "github.com/aescanero/flowdeploy/pkg/adapters/orchestrator/argo"
	"github.com/aescanero/flowdeploy/pkg/domain"
	"go.uber.org/zap"
)

// ExecutorConfig holds the child-side settings of the Argo backend
type ExecutorConfig struct {
	// Image runs steps of flows that do not name one
	Image string
	// Metadata names the metadata service runs report to
	Metadata string
}

// Executor implements the lifecycle verbs against Argo Workflows
type Executor struct {
	client Workflows
	config ExecutorConfig
	logger *zap.Logger
}

// NewExecutor creates a new Argo executor
func NewExecutor(client Workflows, config ExecutorConfig, logger *zap.Logger) *Executor {
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

func (e *Executor) template(ctx context.Context, name string) (*argoapi.WorkflowTemplate, error) {
	tmpl, err := e.client.GetWorkflowTemplate(ctx, name)
	if errors.Is(err, argoapi.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow template %s: %w", name, err)
	}
	return tmpl, nil
}

func (e *Executor) deployed(ctx context.Context, name string) (*argoapi.WorkflowTemplate, error) {
	tmpl, err := e.template(ctx, name)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, fmt.Errorf("deployment %s not found in namespace %s", name, e.client.Namespace())
	}
	return tmpl, nil
}

// Create compiles the flow and applies it as a WorkflowTemplate
func (e *Executor) Create(ctx context.Context, req child.CreateRequest) (*child.CreateResult, error) {
	current, err := e.template(ctx, req.Deployment)
	if err != nil {
		return nil, err
	}
	existing := existingDeployment(current)
	if err := child.Authorize(existing, req.User, req.Authorize); err != nil {
		return nil, err
	}
	token := child.ProductionToken(existing, req.GenerateNewToken)

	tmpl, err := compile(compileRequest{
		Name:            req.Deployment,
		Flow:            req.Flow,
		Owner:           req.User,
		ProductionToken: token,
		BranchName:      req.BranchName(),
		CodePackage:     req.CodePackage,
		Tags:            req.Tags,
		Image:           e.config.Image,
	})
	if err != nil {
		return nil, err
	}
	if err := e.client.ApplyWorkflowTemplate(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("failed to apply workflow template %s: %w", req.Deployment, err)
	}

	e.logger.Info("workflow template applied",
		zap.String("deployment", req.Deployment),
		zap.String("namespace", e.client.Namespace()),
		zap.Bool("replaced", current != nil))

	return &child.CreateResult{
		Name:     req.Deployment,
		FlowName: req.Flow.Name,
		Metadata: e.config.Metadata,
		AdditionalInfo: map[string]interface{}{
			"namespace":        e.client.Namespace(),
			"production_token": token,
		},
	}, nil
}

// Trigger submits a workflow from the deployed template
func (e *Executor) Trigger(ctx context.Context, req child.TriggerRequest) (*child.TriggerResult, error) {
	if _, err := e.deployed(ctx, req.Deployment); err != nil {
		return nil, err
	}
	params, err := child.ResolveParams(req.Flow, req.Params)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	var arguments argoapi.Arguments
	for _, name := range names {
		value := params[name]
		arguments.Parameters = append(arguments.Parameters, argoapi.Parameter{Name: name, Value: &value})
	}

	wf, err := e.client.SubmitWorkflow(ctx, &argoapi.Workflow{
		Metadata: argoapi.ObjectMeta{
			GenerateName: req.Deployment + "-",
			Labels: map[string]string{
				LabelManagedBy:  managedByValue,
				LabelDeployment: labelValue(req.Deployment),
			},
		},
		Spec: argoapi.WorkflowSpec{
			WorkflowTemplateRef: &argoapi.TemplateRef{Name: req.Deployment},
			Arguments:           arguments,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit workflow for %s: %w", req.Deployment, err)
	}

	runID := RunIDPrefix + wf.Metadata.Name
	e.logger.Info("workflow submitted",
		zap.String("deployment", req.Deployment),
		zap.String("workflow", wf.Metadata.Name))

	return &child.TriggerResult{
		Metadata: e.config.Metadata,
		Pathspec: req.Flow.Name + "/" + runID,
		Name:     runID,
	}, nil
}

// workflow returns the run's workflow after checking the caller may touch it
func (e *Executor) workflow(ctx context.Context, req child.RunRequest) (string, error) {
	tmpl, err := e.deployed(ctx, req.Deployment)
	if err != nil {
		return "", err
	}
	if err := child.Authorize(existingDeployment(tmpl), req.User, req.Authorize); err != nil {
		return "", err
	}

	name := strings.TrimPrefix(req.RunID, RunIDPrefix)
	wf, err := e.client.GetWorkflow(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to get workflow %s: %w", name, err)
	}
	if wf.Metadata.Labels[LabelDeployment] != labelValue(req.Deployment) {
		return "", fmt.Errorf("%w: %s is not a run of %s", child.ErrRunNotOwned, req.RunID, req.Deployment)
	}
	return name, nil
}

func (e *Executor) patch(ctx context.Context, req child.RunRequest, action string, spec map[string]interface{}) error {
	name, err := e.workflow(ctx, req)
	if err != nil {
		return err
	}
	if err := e.client.PatchWorkflow(ctx, name, map[string]interface{}{"spec": spec}); err != nil {
		return fmt.Errorf("failed to %s workflow %s: %w", action, name, err)
	}
	e.logger.Info("workflow patched",
		zap.String("workflow", name),
		zap.String("action", action))
	return nil
}

// Suspend pauses a running workflow
func (e *Executor) Suspend(ctx context.Context, req child.RunRequest) error {
	return e.patch(ctx, req, "suspend", map[string]interface{}{"suspend": true})
}

// Unsuspend resumes a suspended workflow
func (e *Executor) Unsuspend(ctx context.Context, req child.RunRequest) error {
	return e.patch(ctx, req, "unsuspend", map[string]interface{}{"suspend": nil})
}

// Terminate stops a workflow without running exit handlers
func (e *Executor) Terminate(ctx context.Context, req child.RunRequest) error {
	return e.patch(ctx, req, "terminate", map[string]interface{}{"shutdown": argoapi.ShutdownTerminate})
}

// Delete removes the WorkflowTemplate. Workflows already submitted keep running.
func (e *Executor) Delete(ctx context.Context, req child.DeleteRequest) error {
	tmpl, err := e.deployed(ctx, req.Deployment)
	if err != nil {
		return err
	}
	if err := child.Authorize(existingDeployment(tmpl), req.User, req.Authorize); err != nil {
		return err
	}
	if err := e.client.DeleteWorkflowTemplate(ctx, req.Deployment); err != nil {
		return fmt.Errorf("failed to delete workflow template %s: %w", req.Deployment, err)
	}
	e.logger.Info("workflow template deleted", zap.String("deployment", req.Deployment))
	return nil
}

// ListRuns returns the workflows submitted from the deployment, newest first
func (e *Executor) ListRuns(ctx context.Context, req child.ListRunsRequest) ([]child.RunSummary, error) {
	selector := fmt.Sprintf("%s=%s", LabelDeployment, labelValue(req.Deployment))
	workflows, err := e.client.ListWorkflows(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows of %s: %w", req.Deployment, err)
	}

	wanted := make(map[domain.RunStatus]bool, len(req.States))
	for _, s := range req.States {
		wanted[s] = true
	}

	runs := make([]child.RunSummary, 0, len(workflows))
	for _, wf := range workflows {
		status := StatusFromPhase(wf.Status.Phase)
		if len(wanted) > 0 && !wanted[status] {
			continue
		}
		started := wf.Status.StartedAt
		if started == nil {
			started = wf.Metadata.CreationTimestamp
		}
		runs = append(runs, child.RunSummary{
			Pathspec:  req.Flow.Name + "/" + RunIDPrefix + wf.Metadata.Name,
			Name:      wf.Metadata.Name,
			Status:    status,
			StartedAt: started,
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
