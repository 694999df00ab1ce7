// Package argo deploys flows as Argo Workflows WorkflowTemplates. It
// provides both sides of the backend: the deployer.Provider used by the
// parent process and the child.Executor run by the flowdeploy command.
package argo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/aescanero/flowdeploy/internal/application/child"
	"github.com/aescanero/flowdeploy/internal/application/commands"
	"github.com/aescanero/flowdeploy/internal/application/deployer"
	argoapi "github.com/aescanero/flowdeploy/pkg/adapters/orchestrator/argo"
	"github.com/aescanero/flowdeploy/pkg/domain"
	"go.uber.org/zap"
)

const (
	// Type is the backend type name
	Type = "argo-workflows"
	// RunIDPrefix is prepended to workflow names in pathspecs
	RunIDPrefix = "argo-"
)

// Annotations stored on every WorkflowTemplate
const (
	AnnotationFlowName        = "flowdeploy/flow_name"
	AnnotationOwner           = "flowdeploy/owner"
	AnnotationParameters      = "flowdeploy/parameters"
	AnnotationProductionToken = "flowdeploy/production_token"
	AnnotationBranchName      = "flowdeploy/branch_name"
	AnnotationProjectName     = "flowdeploy/project_name"
	AnnotationCodePackage     = "flowdeploy/code_package"
	AnnotationTags            = "flowdeploy/tags"
)

// Labels
const (
	LabelManagedBy  = "app.kubernetes.io/managed-by"
	LabelDeployment = "flowdeploy/deployment"
	LabelFlowName   = "flowdeploy/flow_name"
)

// Verbs implemented by the Argo backend
var Verbs = []commands.Verb{
	commands.VerbCreate,
	commands.VerbTrigger,
	commands.VerbSuspend,
	commands.VerbUnsuspend,
	commands.VerbTerminate,
	commands.VerbDelete,
	commands.VerbListRuns,
}

// Workflows is the part of the Argo client the backend needs
type Workflows interface {
	Namespace() string
	GetWorkflowTemplate(ctx context.Context, name string) (*argoapi.WorkflowTemplate, error)
	ApplyWorkflowTemplate(ctx context.Context, tmpl *argoapi.WorkflowTemplate) error
	DeleteWorkflowTemplate(ctx context.Context, name string) error
	SubmitWorkflow(ctx context.Context, wf *argoapi.Workflow) (*argoapi.Workflow, error)
	GetWorkflow(ctx context.Context, name string) (*argoapi.Workflow, error)
	ListWorkflows(ctx context.Context, labelSelector string) ([]argoapi.Workflow, error)
	PatchWorkflow(ctx context.Context, name string, patch interface{}) error
}

type provider struct {
	client Workflows
	logger *zap.Logger
}

// Provider returns the deployer-side description of the Argo backend
func Provider(client Workflows, logger *zap.Logger) deployer.Provider {
	p := &provider{client: client, logger: logger}
	return deployer.Provider{
		Type:            Type,
		Verbs:           Verbs,
		RunIDPrefix:     RunIDPrefix,
		Status:          p.status,
		ProductionToken: p.productionToken,
		Describe:        p.describe,
	}
}

func (p *provider) status(ctx context.Context, ref deployer.RunRef) (domain.RunStatus, error) {
	wf, err := p.client.GetWorkflow(ctx, ref.RunName)
	if errors.Is(err, argoapi.ErrNotFound) {
		return domain.StatusUnknown, nil
	}
	if err != nil {
		return domain.StatusUnknown, fmt.Errorf("failed to get workflow %s: %w", ref.RunName, err)
	}
	status := StatusFromPhase(wf.Status.Phase)
	p.logger.Debug("workflow status",
		zap.String("workflow", ref.RunName),
		zap.String("phase", wf.Status.Phase),
		zap.String("status", string(status)))
	return status, nil
}

// StatusFromPhase maps an Argo workflow phase to a run status. Workflows
// that have not been picked up by the controller have no phase yet.
func StatusFromPhase(phase string) domain.RunStatus {
	switch phase {
	case "", argoapi.PhasePending:
		return domain.StatusPending
	case argoapi.PhaseRunning:
		return domain.StatusRunning
	case argoapi.PhaseSucceeded:
		return domain.StatusSucceeded
	case argoapi.PhaseFailed, argoapi.PhaseError:
		return domain.StatusFailed
	default:
		return domain.StatusUnknown
	}
}

func (p *provider) productionToken(ctx context.Context, deployment string) (string, error) {
	tmpl, err := p.client.GetWorkflowTemplate(ctx, deployment)
	if errors.Is(err, argoapi.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get workflow template %s: %w", deployment, err)
	}
	return tmpl.Metadata.Annotations[AnnotationProductionToken], nil
}

func (p *provider) describe(ctx context.Context, identifier string) (*domain.DeploymentDescriptor, error) {
	tmpl, err := p.client.GetWorkflowTemplate(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow template %s: %w", identifier, err)
	}
	return Describe(tmpl)
}

// Describe recovers a deployment descriptor from template annotations
func Describe(tmpl *argoapi.WorkflowTemplate) (*domain.DeploymentDescriptor, error) {
	annotations := tmpl.Metadata.Annotations
	flowName := annotations[AnnotationFlowName]
	if flowName == "" {
		return nil, fmt.Errorf("workflow template %s was not deployed by flowdeploy", tmpl.Metadata.Name)
	}

	params, err := decodeParameters(annotations[AnnotationParameters])
	if err != nil {
		return nil, fmt.Errorf("failed to decode parameters of %s: %w", tmpl.Metadata.Name, err)
	}

	return &domain.DeploymentDescriptor{
		Name:        tmpl.Metadata.Name,
		FlowName:    flowName,
		Owner:       annotations[AnnotationOwner],
		Parameters:  params,
		BranchName:  annotations[AnnotationBranchName],
		ProjectName: annotations[AnnotationProjectName],
	}, nil
}

func encodeParameters(params []domain.Parameter) (string, error) {
	byName := make(map[string]domain.Parameter, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}
	data, err := json.Marshal(byName)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeParameters(raw string) ([]domain.Parameter, error) {
	if raw == "" {
		return nil, nil
	}
	var byName map[string]domain.Parameter
	if err := json.Unmarshal([]byte(raw), &byName); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]domain.Parameter, 0, len(names))
	for _, name := range names {
		p := byName[name]
		if p.Name == "" {
			p.Name = name
		}
		params = append(params, p)
	}
	return params, nil
}

func existingDeployment(tmpl *argoapi.WorkflowTemplate) *child.Existing {
	if tmpl == nil {
		return nil
	}
	return &child.Existing{
		Name:            tmpl.Metadata.Name,
		Owner:           tmpl.Metadata.Annotations[AnnotationOwner],
		ProductionToken: tmpl.Metadata.Annotations[AnnotationProductionToken],
	}
}

// probeTemplate never exists; looking it up checks credentials and namespace
const probeTemplate = "flowdeploy-health-probe"

// Probe reports whether the Kubernetes API answers for the client's namespace
func Probe(client Workflows) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := client.GetWorkflowTemplate(ctx, probeTemplate)
		if err == nil || errors.Is(err, argoapi.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("argo api unavailable: %w", err)
	}
}
