package deployer

import (
	"context"
	"fmt"
	"os"

	"github.com/aescanero/flowdeploy/internal/application/commands"
	"github.com/aescanero/flowdeploy/internal/application/flowspec"
	"go.uber.org/zap"
)

// FromDeployment rebuilds a DeployedFlow from what the orchestrator stored
// about it, without the original flow file. A minimal flow declaring the
// same parameters is written to a temporary file owned by the returned
// flow's Impl. An empty backendType selects the configured default.
func (d *Deployer) FromDeployment(ctx context.Context, backendType, identifier, metadata string) (*DeployedFlow, error) {
	if backendType == "" {
		backendType = d.opts.DefaultImpl
	}
	provider, err := d.registry.Lookup(backendType)
	if err != nil {
		return nil, err
	}
	if provider.Describe == nil {
		return nil, fmt.Errorf("%w: %s cannot describe deployments", ErrUnsupported, provider.Type)
	}

	desc, err := provider.Describe(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to describe deployment %s: %w", identifier, err)
	}

	contents, err := flowspec.Render(flowspec.Synthesize(desc.FlowName, desc.Parameters, desc.ProjectName))
	if err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(d.opts.TempDir, "flowdeploy-flow-*.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to create flow file: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(contents); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write flow file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write flow file: %w", err)
	}

	opts := d.Options()
	opts.FlowFile = path
	opts.Env[UserEnv] = desc.Owner

	var deployerOpts commands.Options
	if desc.BranchName != "" {
		project := flowspec.ParseBranch(desc.BranchName)
		if project.Production {
			opts.TopLevel["production"] = true
		}
		if project.Branch != "" {
			opts.TopLevel["branch"] = project.Branch
		}
	} else {
		deployerOpts = commands.Options{"name": identifier}
	}

	rebound := &Deployer{opts: opts, registry: d.registry, deps: d.deps, logger: d.logger}
	impl, err := rebound.Bind(provider.Type, deployerOpts)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	impl.own(path)
	impl.name = identifier

	if metadata == "" {
		metadata = d.opts.Metadata
	}

	d.logger.Info("reconstructed deployment",
		zap.String("backend", provider.Type),
		zap.String("deployment", identifier),
		zap.String("flow_name", desc.FlowName))

	return &DeployedFlow{
		impl:       impl,
		Name:       identifier,
		FlowName:   desc.FlowName,
		Metadata:   metadata,
		Parameters: desc.Parameters,
	}, nil
}
