package child

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aescanero/flowdeploy/internal/application/commands"
	"github.com/aescanero/flowdeploy/internal/application/flowspec"
	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/google/uuid"
)

var (
	// ErrUnsupported is returned by executors for verbs they lack
	ErrUnsupported = errors.New("operation not supported by this backend")
	// ErrNotAuthorized is returned when a production token does not match
	ErrNotAuthorized = errors.New("not authorized")
	// ErrRunNotOwned is returned when a run belongs to another deployment
	ErrRunNotOwned = errors.New("run does not belong to this deployment")
)

// Invocation is what every verb knows about the flow it acts on
type Invocation struct {
	FlowFile string
	Flow     *flowspec.Flow
	Project  flowspec.ProjectOptions
	User     string
	// Deployment is the deployment name, explicit or derived from the flow
	Deployment string
}

// BranchName returns the project branch of the deployment, "" without a project
func (inv *Invocation) BranchName() string {
	if inv.Flow.Project == "" {
		return ""
	}
	return flowspec.BranchName(inv.Project, inv.User)
}

// IsProduction reports whether the deployment lives on a production branch
func (inv *Invocation) IsProduction() bool {
	return strings.HasPrefix(inv.BranchName(), "prod")
}

type CreateRequest struct {
	*Invocation
	Authorize        string
	GenerateNewToken bool
	Tags             []string
	// CodePackage is the URL of the uploaded flow source, if any
	CodePackage string
}

type CreateResult struct {
	Name           string                 `json:"name"`
	FlowName       string                 `json:"flow_name"`
	Metadata       string                 `json:"metadata"`
	AdditionalInfo map[string]interface{} `json:"additional_info,omitempty"`
}

type TriggerRequest struct {
	*Invocation
	Params map[string]string
}

type TriggerResult struct {
	Metadata string `json:"metadata"`
	Pathspec string `json:"pathspec"`
	Name     string `json:"name"`
}

type RunRequest struct {
	*Invocation
	// RunID is the run segment of the pathspec, prefix included
	RunID     string
	Authorize string
}

type DeleteRequest struct {
	*Invocation
	Authorize string
}

type ListRunsRequest struct {
	*Invocation
	States []domain.RunStatus
}

// RunSummary is one line of list-runs output
type RunSummary struct {
	Pathspec  string
	Name      string
	Status    domain.RunStatus
	StartedAt *time.Time
}

// Executor carries out lifecycle verbs against one orchestrator
type Executor interface {
	Create(ctx context.Context, req CreateRequest) (*CreateResult, error)
	Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error)
	Suspend(ctx context.Context, req RunRequest) error
	Unsuspend(ctx context.Context, req RunRequest) error
	Terminate(ctx context.Context, req RunRequest) error
	Delete(ctx context.Context, req DeleteRequest) error
	ListRuns(ctx context.Context, req ListRunsRequest) ([]RunSummary, error)
}

// Backend is an executor with the verbs it implements
type Backend struct {
	Name     string
	Verbs    []commands.Verb
	Executor Executor
}

// Existing is what an executor knows about a deployment it is replacing
type Existing struct {
	Name            string
	Owner           string
	ProductionToken string
}

// Authorize checks that user may change the existing deployment. Owners may
// always; anybody else needs the deployment's production token.
func Authorize(existing *Existing, user, token string) error {
	if existing == nil || existing.Owner == "" || existing.Owner == user {
		return nil
	}
	if token == "" {
		return fmt.Errorf("%w: %s belongs to %s, pass --authorize with its production token",
			ErrNotAuthorized, existing.Name, existing.Owner)
	}
	if token != existing.ProductionToken {
		return fmt.Errorf("%w: production token of %s does not match", ErrNotAuthorized, existing.Name)
	}
	return nil
}

// ProductionToken returns the token a (re)deployment should carry
func ProductionToken(existing *Existing, generateNew bool) string {
	if existing != nil && existing.ProductionToken != "" && !generateNew {
		return existing.ProductionToken
	}
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// ResolveParams validates trigger parameters against the flow and fills in
// defaults
func ResolveParams(flow *flowspec.Flow, params map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(flow.Parameters))
	for name := range params {
		if _, ok := flow.Parameter(name); !ok {
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
	}
	for _, p := range flow.Parameters {
		value, ok := params[p.Name]
		switch {
		case ok:
			resolved[p.Name] = value
		case p.Default != "":
			resolved[p.Name] = p.Default
		case p.IsRequired:
			return nil, fmt.Errorf("missing required parameter %q", p.Name)
		}
	}
	return resolved, nil
}

// CurrentUser returns the user deployments are attributed to
func CurrentUser() string {
	for _, key := range []string{"FLOWDEPLOY_USER", "USER", "USERNAME"} {
		if u := strings.TrimSpace(os.Getenv(key)); u != "" {
			return u
		}
	}
	return "unknown"
}
