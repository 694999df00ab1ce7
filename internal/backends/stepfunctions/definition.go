package stepfunctions

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aescanero/flowdeploy/internal/application/flowspec"
)

const batchSubmitJob = "arn:aws:states:::batch:submitJob.sync"

type stateMachineDefinition struct {
	Comment string           `json:"Comment,omitempty"`
	StartAt string           `json:"StartAt"`
	States  map[string]state `json:"States"`
}

type state struct {
	Type       string                 `json:"Type"`
	Resource   string                 `json:"Resource,omitempty"`
	Parameters map[string]interface{} `json:"Parameters,omitempty"`
	ResultPath *string                `json:"ResultPath,omitempty"`
	Next       string                 `json:"Next,omitempty"`
	End        bool                   `json:"End,omitempty"`
}

// definitionConfig selects how steps execute. Without a job queue every
// step is a Pass state.
type definitionConfig struct {
	JobQueue      string
	JobDefinition string
	CodePackage   string
}

// order returns the steps in a topological order, breaking ties by name
func order(flow *flowspec.Flow) ([]flowspec.Step, error) {
	steps := make(map[string]flowspec.Step, len(flow.Steps))
	indegree := make(map[string]int, len(flow.Steps))
	for _, s := range flow.Steps {
		steps[s.Name] = s
		if _, ok := indegree[s.Name]; !ok {
			indegree[s.Name] = 0
		}
		for _, next := range s.Next {
			indegree[next]++
		}
	}

	var ready []string
	for name, d := range indegree {
		if d == 0 {
			ready = append(ready, name)
		}
	}

	var ordered []flowspec.Step
	for len(ready) > 0 {
		sort.Strings(ready)
		name := ready[0]
		ready = ready[1:]
		step, ok := steps[name]
		if !ok {
			return nil, fmt.Errorf("step %q is referenced but not defined", name)
		}
		ordered = append(ordered, step)
		for _, next := range step.Next {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if len(ordered) != len(steps) {
		return nil, fmt.Errorf("flow %s contains a cycle", flow.Name)
	}
	return ordered, nil
}

// definition renders the flow as Amazon States Language. Steps run one
// after the other in topological order.
func definition(flow *flowspec.Flow, cfg definitionConfig) (string, error) {
	ordered, err := order(flow)
	if err != nil {
		return "", err
	}
	if len(ordered) == 0 {
		return "", fmt.Errorf("flow %s has no steps", flow.Name)
	}

	def := stateMachineDefinition{
		Comment: fmt.Sprintf("flowdeploy: %s", flow.Name),
		StartAt: ordered[0].Name,
		States:  make(map[string]state, len(ordered)),
	}
	for i, step := range ordered {
		s := state{Type: "Pass"}
		if cfg.JobQueue != "" {
			path := "$.steps." + step.Name
			s = state{
				Type:       "Task",
				Resource:   batchSubmitJob,
				Parameters: batchParameters(flow, step, cfg),
				ResultPath: &path,
			}
		}
		if i == len(ordered)-1 {
			s.End = true
		} else {
			s.Next = ordered[i+1].Name
		}
		def.States[step.Name] = s
	}

	data, err := json.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("failed to render state machine definition: %w", err)
	}
	return string(data), nil
}

func batchParameters(flow *flowspec.Flow, step flowspec.Step, cfg definitionConfig) map[string]interface{} {
	command := step.Command
	if len(command) == 0 {
		command = []string{"flowdeploy-step", step.Name}
	}
	env := []map[string]interface{}{
		{"Name": EnvFlowName, "Value": flow.Name},
		{"Name": EnvStepName, "Value": step.Name},
		{"Name": EnvRunID, "Value.$": "States.Format('" + RunIDPrefix + "{}', $$.Execution.Name)"},
		{"Name": EnvParameters, "Value.$": "$.Parameters"},
	}
	if cfg.CodePackage != "" {
		env = append(env, map[string]interface{}{"Name": EnvCodePackage, "Value": cfg.CodePackage})
	}
	return map[string]interface{}{
		"JobName":       fmt.Sprintf("%s-%s", flow.Name, step.Name),
		"JobQueue":      cfg.JobQueue,
		"JobDefinition": cfg.JobDefinition,
		"ContainerOverrides": map[string]interface{}{
			"Command":     command,
			"Environment": env,
		},
	}
}
