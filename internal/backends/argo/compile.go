package argo

import (
	"fmt"
	"strings"

	"github.com/aescanero/flowdeploy/internal/application/flowspec"
	argoapi "github.com/aescanero/flowdeploy/pkg/adapters/orchestrator/argo"
)

const (
	entrypoint     = "flow"
	managedByValue = "flowdeploy"
	defaultImage   = "python:3.11"
)

// Environment passed to every step container
const (
	EnvFlowName    = "FLOWDEPLOY_FLOW_NAME"
	EnvStepName    = "FLOWDEPLOY_STEP_NAME"
	EnvRunID       = "FLOWDEPLOY_RUN_ID"
	EnvCodePackage = "FLOWDEPLOY_CODE_PACKAGE"
	EnvParamPrefix = "FLOWDEPLOY_PARAM_"
)

// compileRequest is what a WorkflowTemplate is built from
type compileRequest struct {
	Name            string
	Flow            *flowspec.Flow
	Owner           string
	ProductionToken string
	BranchName      string
	CodePackage     string
	Tags            []string
	Image           string
}

// compile turns a flow into a WorkflowTemplate with one DAG task and one
// container template per step
func compile(req compileRequest) (*argoapi.WorkflowTemplate, error) {
	params, err := encodeParameters(req.Flow.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters: %w", err)
	}

	annotations := map[string]string{
		AnnotationFlowName:        req.Flow.Name,
		AnnotationOwner:           req.Owner,
		AnnotationParameters:      params,
		AnnotationProductionToken: req.ProductionToken,
	}
	if req.Flow.Project != "" {
		annotations[AnnotationProjectName] = req.Flow.Project
		annotations[AnnotationBranchName] = req.BranchName
	}
	if req.CodePackage != "" {
		annotations[AnnotationCodePackage] = req.CodePackage
	}
	if len(req.Tags) > 0 {
		annotations[AnnotationTags] = strings.Join(req.Tags, ",")
	}

	image := req.Flow.Image
	if image == "" {
		image = req.Image
	}
	if image == "" {
		image = defaultImage
	}

	predecessors := make(map[string][]string)
	for _, step := range req.Flow.Steps {
		for _, next := range step.Next {
			predecessors[next] = append(predecessors[next], taskName(step.Name))
		}
	}

	dag := &argoapi.DAGTemplate{}
	templates := []argoapi.Template{{Name: entrypoint, DAG: dag}}
	for _, step := range req.Flow.Steps {
		dag.Tasks = append(dag.Tasks, argoapi.DAGTask{
			Name:         taskName(step.Name),
			Template:     taskName(step.Name),
			Dependencies: predecessors[step.Name],
		})
		templates = append(templates, argoapi.Template{
			Name:      taskName(step.Name),
			Container: container(req, step, image),
		})
	}

	var arguments argoapi.Arguments
	for _, p := range req.Flow.Parameters {
		param := argoapi.Parameter{Name: p.Name}
		if p.Default != "" {
			value := p.Default
			param.Value = &value
		}
		arguments.Parameters = append(arguments.Parameters, param)
	}

	return &argoapi.WorkflowTemplate{
		Metadata: argoapi.ObjectMeta{
			Name: req.Name,
			Labels: map[string]string{
				LabelManagedBy: managedByValue,
				LabelFlowName:  labelValue(req.Flow.Name),
			},
			Annotations: annotations,
		},
		Spec: argoapi.WorkflowSpec{
			Entrypoint: entrypoint,
			Arguments:  arguments,
			Templates:  templates,
		},
	}, nil
}

func container(req compileRequest, step flowspec.Step, image string) *argoapi.Container {
	command := step.Command
	if len(command) == 0 {
		command = []string{"flowdeploy-step", step.Name}
	}

	env := []argoapi.EnvVar{
		{Name: EnvFlowName, Value: req.Flow.Name},
		{Name: EnvStepName, Value: step.Name},
		{Name: EnvRunID, Value: RunIDPrefix + "{{workflow.name}}"},
	}
	if req.CodePackage != "" {
		env = append(env, argoapi.EnvVar{Name: EnvCodePackage, Value: req.CodePackage})
	}
	for _, p := range req.Flow.Parameters {
		env = append(env, argoapi.EnvVar{
			Name:  EnvParamPrefix + strings.ToUpper(p.Name),
			Value: fmt.Sprintf("{{workflow.parameters.%s}}", p.Name),
		})
	}

	return &argoapi.Container{
		Image:   image,
		Command: command,
		Env:     env,
	}
}

// taskName makes a step name usable as a DAG task and template name
func taskName(step string) string {
	return strings.ToLower(strings.ReplaceAll(step, "_", "-"))
}

// labelValue truncates to the 63 characters Kubernetes allows
func labelValue(v string) string {
	if len(v) > 63 {
		v = v[:63]
	}
	return strings.Trim(v, "-_.")
}
