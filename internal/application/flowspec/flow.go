package flowspec

import (
	"fmt"
	"os"
	"strings"

	"github.com/aescanero/flowdeploy/pkg/domain"
	"gopkg.in/yaml.v3"
)

const (
	StartStep = "start"
	EndStep   = "end"
)

// Flow is a flow definition file
type Flow struct {
	Name       string             `yaml:"name"`
	Project    string             `yaml:"project,omitempty"`
	Image      string             `yaml:"image,omitempty"`
	Parameters []domain.Parameter `yaml:"parameters,omitempty"`
	Steps      []Step             `yaml:"steps"`
}

// Step is one node of the flow graph
type Step struct {
	Name    string   `yaml:"name"`
	Next    []string `yaml:"next,omitempty"`
	Command []string `yaml:"command,omitempty"`
}

// Load reads and validates a flow file
func Load(path string) (*Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a flow definition
func Parse(data []byte) (*Flow, error) {
	var f Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse flow file: %w", err)
	}
	if err := NewValidator().Validate(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Render encodes a flow definition as YAML
func Render(f *Flow) ([]byte, error) {
	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to render flow: %w", err)
	}
	return data, nil
}

// Synthesize builds the minimal start → end flow that declares the given
// parameters. It stands in for the real flow file when a handle is rebuilt
// from a deployment.
func Synthesize(flowName string, params []domain.Parameter, projectName string) *Flow {
	f := &Flow{
		Name:    flowName,
		Project: projectName,
		Steps: []Step{
			{Name: StartStep, Next: []string{EndStep}},
			{Name: EndStep},
		},
	}
	for _, p := range params {
		if p.Type == domain.ParamTypeFilePath {
			if p.IsText == nil {
				isText := true
				p.IsText = &isText
			}
			if p.Encoding == "" {
				p.Encoding = "utf-8"
			}
		}
		f.Parameters = append(f.Parameters, p)
	}
	return f
}

// Parameter returns the parameter with the given name
func (f *Flow) Parameter(name string) (domain.Parameter, bool) {
	for _, p := range f.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return domain.Parameter{}, false
}

// ProjectOptions are the top-level options a branch name maps back to
type ProjectOptions struct {
	Production bool
	Branch     string
}

// ParseBranch inverts the branch naming used for project deployments:
// "prod.X" is a production deployment of branch X, "test.X" a test
// deployment of branch X and "prod" the default production branch.
func ParseBranch(branchName string) ProjectOptions {
	switch {
	case strings.HasPrefix(branchName, "prod."):
		return ProjectOptions{Production: true, Branch: strings.TrimPrefix(branchName, "prod.")}
	case strings.HasPrefix(branchName, "test."):
		return ProjectOptions{Branch: strings.TrimPrefix(branchName, "test.")}
	case branchName == "prod":
		return ProjectOptions{Production: true}
	default:
		return ProjectOptions{}
	}
}

// BranchName is the inverse of ParseBranch. Without a branch, non-production
// deployments belong to the user's own branch.
func BranchName(opts ProjectOptions, user string) string {
	switch {
	case opts.Production && opts.Branch != "":
		return "prod." + opts.Branch
	case opts.Production:
		return "prod"
	case opts.Branch != "":
		return "test." + opts.Branch
	default:
		return "user." + user
	}
}

// DeploymentName derives the orchestrator-side name of a deployment. Flows
// with a project are namespaced by project and branch.
func DeploymentName(f *Flow, opts ProjectOptions, user string) string {
	name := f.Name
	if f.Project != "" {
		name = strings.Join([]string{f.Project, BranchName(opts, user), f.Name}, ".")
	}
	return strings.ToLower(strings.ReplaceAll(name, "_", "-"))
}
