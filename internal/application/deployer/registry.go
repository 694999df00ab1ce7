package deployer

import (
	"context"
	"fmt"
	"sort"

	"github.com/aescanero/flowdeploy/internal/application/commands"
	"github.com/aescanero/flowdeploy/pkg/domain"
)

// RunRef identifies a run on the orchestrator
type RunRef struct {
	// Deployment is the name of the deployed flow
	Deployment string
	FlowName   string
	// RunName is the orchestrator's name for the run, without prefix
	RunName  string
	Pathspec string
}

// GroupFunc builds the command group of a backend
type GroupFunc func(api commands.API, topLevel commands.Options, backendType string, deployerOpts commands.Options) *commands.Group

// StatusFunc returns the orchestrator-neutral status of a run, or
// StatusUnknown when the orchestrator does not know it
type StatusFunc func(ctx context.Context, ref RunRef) (domain.RunStatus, error)

// TokenFunc returns the production token of an existing deployment, or ""
// when there is none
type TokenFunc func(ctx context.Context, deployment string) (string, error)

// DescribeFunc recovers the stored description of a deployment
type DescribeFunc func(ctx context.Context, identifier string) (*domain.DeploymentDescriptor, error)

// Provider describes a backend
type Provider struct {
	Type string
	// Group defaults to commands.API.Group
	Group GroupFunc
	// Verbs lists the lifecycle verbs the child implements for this backend
	Verbs []commands.Verb
	// RunIDPrefix is prepended to orchestrator run names in pathspecs
	RunIDPrefix     string
	Status          StatusFunc
	ProductionToken TokenFunc
	// Describe is optional; without it deployments cannot be reconstructed
	Describe DescribeFunc
}

// Supports reports whether the backend implements verb
func (p Provider) Supports(verb commands.Verb) bool {
	for _, v := range p.Verbs {
		if v == verb {
			return true
		}
	}
	return false
}

// RunName strips the backend's prefix from the run id segment of a pathspec
func (p Provider) RunName(runID string) string {
	if len(runID) >= len(p.RunIDPrefix) && runID[:len(p.RunIDPrefix)] == p.RunIDPrefix {
		return runID[len(p.RunIDPrefix):]
	}
	return runID
}

func (p Provider) group(api commands.API, topLevel, deployerOpts commands.Options) *commands.Group {
	if p.Group != nil {
		return p.Group(api, topLevel, p.Type, deployerOpts)
	}
	return api.Group(topLevel, p.Type, deployerOpts)
}

// Registry is an immutable table of providers
type Registry struct {
	providers map[string]Provider
}

// NewRegistry validates and freezes a set of providers
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p.Type == "" {
			return nil, fmt.Errorf("provider type is required")
		}
		if _, exists := r.providers[p.Type]; exists {
			return nil, fmt.Errorf("backend %q registered twice", p.Type)
		}
		if p.Status == nil {
			return nil, fmt.Errorf("backend %q has no status function", p.Type)
		}
		if p.RunIDPrefix == "" {
			return nil, fmt.Errorf("backend %q has no run id prefix", p.Type)
		}
		p.Verbs = append([]commands.Verb(nil), p.Verbs...)
		r.providers[p.Type] = p
	}
	return r, nil
}

// Lookup returns the provider registered for backendType
func (r *Registry) Lookup(backendType string) (Provider, error) {
	if backendType == "" {
		return Provider{}, ErrNoBackendType
	}
	p, ok := r.providers[backendType]
	if !ok {
		return Provider{}, fmt.Errorf("%w: backend %q not registered", ErrUnknownBackend, backendType)
	}
	return p, nil
}

// Types returns the registered backend types in order
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.providers))
	for t := range r.providers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
