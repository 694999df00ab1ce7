package deployer

import (
	"context"

	"github.com/aescanero/flowdeploy/internal/application/commands"
	"github.com/aescanero/flowdeploy/pkg/domain"
)

// Attach returns a handle for a deployment created earlier. Nothing runs
// until a verb is invoked on the handle.
func (i *Impl) Attach(name, flowName, metadata string) *DeployedFlow {
	i.mu.Lock()
	if i.name == "" {
		i.name = name
	}
	i.mu.Unlock()

	return &DeployedFlow{
		impl:     i,
		Name:     name,
		FlowName: flowName,
		Metadata: metadata,
	}
}

// TriggeredRun returns a handle for an existing run of the deployment
func (f *DeployedFlow) TriggeredRun(pathspec string) (*TriggeredRun, error) {
	run, err := newTriggeredRun(f, pathspec, "", f.Metadata)
	if err != nil {
		return nil, err
	}
	run.Name = run.RunID()
	return run, nil
}

// RunStatus queries the status of one run without spawning a child
func (d *Deployer) RunStatus(ctx context.Context, backendType, deployment, pathspec string) (domain.RunStatus, error) {
	impl, err := d.Bind(backendType, commands.Options{"name": deployment})
	if err != nil {
		return domain.StatusUnknown, err
	}
	defer impl.Close()

	run, err := impl.Attach(deployment, "", d.opts.Metadata).TriggeredRun(pathspec)
	if err != nil {
		return domain.StatusUnknown, err
	}
	return run.Status(ctx)
}
