package argo

import "time"

const (
	// APIVersion of the Argo Workflows resources
	APIVersion = "argoproj.io/v1alpha1"

	KindWorkflowTemplate = "WorkflowTemplate"
	KindWorkflow         = "Workflow"
)

// Workflow phases as reported by Argo
const (
	PhasePending   = "Pending"
	PhaseRunning   = "Running"
	PhaseSucceeded = "Succeeded"
	PhaseFailed    = "Failed"
	PhaseError     = "Error"
)

// ShutdownTerminate stops a workflow without running exit handlers
const ShutdownTerminate = "Terminate"

type ObjectMeta struct {
	Name              string            `json:"name,omitempty"`
	GenerateName      string            `json:"generateName,omitempty"`
	Namespace         string            `json:"namespace,omitempty"`
	Labels            map[string]string `json:"labels,omitempty"`
	Annotations       map[string]string `json:"annotations,omitempty"`
	ResourceVersion   string            `json:"resourceVersion,omitempty"`
	CreationTimestamp *time.Time        `json:"creationTimestamp,omitempty"`
}

type Parameter struct {
	Name  string  `json:"name"`
	Value *string `json:"value,omitempty"`
}

type Arguments struct {
	Parameters []Parameter `json:"parameters,omitempty"`
}

type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Container struct {
	Image   string   `json:"image"`
	Command []string `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Env     []EnvVar `json:"env,omitempty"`
}

type DAGTask struct {
	Name         string   `json:"name"`
	Template     string   `json:"template"`
	Dependencies []string `json:"dependencies,omitempty"`
}

type DAGTemplate struct {
	Tasks []DAGTask `json:"tasks"`
}

type Template struct {
	Name      string       `json:"name"`
	Container *Container   `json:"container,omitempty"`
	DAG       *DAGTemplate `json:"dag,omitempty"`
}

type TemplateRef struct {
	Name string `json:"name"`
}

type WorkflowSpec struct {
	Entrypoint          string       `json:"entrypoint,omitempty"`
	Arguments           Arguments    `json:"arguments,omitempty"`
	Templates           []Template   `json:"templates,omitempty"`
	WorkflowTemplateRef *TemplateRef `json:"workflowTemplateRef,omitempty"`
	Suspend             *bool        `json:"suspend,omitempty"`
	Shutdown            string       `json:"shutdown,omitempty"`
}

type WorkflowStatus struct {
	Phase      string     `json:"phase,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Message    string     `json:"message,omitempty"`
}

type WorkflowTemplate struct {
	APIVersion string       `json:"apiVersion,omitempty"`
	Kind       string       `json:"kind,omitempty"`
	Metadata   ObjectMeta   `json:"metadata"`
	Spec       WorkflowSpec `json:"spec"`
}

type Workflow struct {
	APIVersion string         `json:"apiVersion,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Metadata   ObjectMeta     `json:"metadata"`
	Spec       WorkflowSpec   `json:"spec"`
	Status     WorkflowStatus `json:"status,omitempty"`
}

type WorkflowList struct {
	Items []Workflow `json:"items"`
}
