package domain

import "time"

// Parameter describes one flow parameter as stored in orchestrator annotations
type Parameter struct {
	VarName     string `json:"var_name" yaml:"var_name"`
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description,omitempty"`
	IsRequired  bool   `json:"is_required" yaml:"required,omitempty"`
	Default     string `json:"default,omitempty" yaml:"default,omitempty"`

	// Only meaningful for FilePath parameters
	IsText   *bool  `json:"is_text,omitempty" yaml:"is_text,omitempty"`
	Encoding string `json:"encoding,omitempty" yaml:"encoding,omitempty"`
}

// Parameter type tags
const (
	ParamTypeString   = "str"
	ParamTypeInt      = "int"
	ParamTypeFloat    = "float"
	ParamTypeBool     = "bool"
	ParamTypeJSON     = "JSON"
	ParamTypeFilePath = "FilePath"
)

// DeploymentDescriptor is what a backend recovers from the orchestrator's
// stored metadata for an existing deployment.
type DeploymentDescriptor struct {
	Name        string
	FlowName    string
	Owner       string
	Parameters  []Parameter
	BranchName  string
	ProjectName string
}

// DeploymentRecord is the parent-side record of a created deployment
type DeploymentRecord struct {
	Name           string                 `json:"name"`
	FlowName       string                 `json:"flow_name"`
	Backend        string                 `json:"backend"`
	FlowFile       string                 `json:"flow_file"`
	Metadata       string                 `json:"metadata"`
	AdditionalInfo map[string]interface{} `json:"additional_info,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// RunRecord is the parent-side record of a triggered run
type RunRecord struct {
	Pathspec    string    `json:"pathspec"`
	Name        string    `json:"name"`
	Deployment  string    `json:"deployment"`
	Backend     string    `json:"backend"`
	Metadata    string    `json:"metadata"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// Run is the execution aggregate recorded by the metadata service once the
// first task of a run has started.
type Run struct {
	Pathspec      string     `json:"pathspec"`
	FlowName      string     `json:"flow_name"`
	RunID         string     `json:"run_id"`
	CreatedAt     time.Time  `json:"created_at"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}
