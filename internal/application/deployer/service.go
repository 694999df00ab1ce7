package deployer

import (
	"context"
	"fmt"
	"time"

	"github.com/aescanero/flowdeploy/internal/application/commands"
	"github.com/aescanero/flowdeploy/pkg/domain"
)

// The methods in this file serve callers that hold no handles between
// requests. Each of them binds its own Impl and closes it before returning.

// WithFlowFile returns a deployer that hands path to its children as the
// flow file. Registry and dependencies are shared.
func (d *Deployer) WithFlowFile(path string) *Deployer {
	opts := d.Options()
	opts.FlowFile = path
	return &Deployer{opts: opts, registry: d.registry, deps: d.deps, logger: d.logger}
}

// CreateDeployment registers the flow in flowFile with the backend
func (d *Deployer) CreateDeployment(ctx context.Context, backendType, flowFile string, deployerOpts, createOpts commands.Options) (*domain.DeploymentRecord, error) {
	if backendType == "" {
		backendType = d.opts.DefaultImpl
	}
	if flowFile == "" {
		flowFile = d.opts.FlowFile
	}
	if flowFile == "" {
		return nil, ErrNoFlowFile
	}

	impl, err := d.WithFlowFile(flowFile).Bind(backendType, deployerOpts)
	if err != nil {
		return nil, err
	}
	defer impl.Close()

	flow, err := impl.Create(ctx, createOpts)
	if err != nil {
		return nil, err
	}
	return &domain.DeploymentRecord{
		Name:           flow.Name,
		FlowName:       flow.FlowName,
		Backend:        impl.Type(),
		FlowFile:       flowFile,
		Metadata:       flow.Metadata,
		AdditionalInfo: flow.AdditionalInfo,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// TriggerDeployment starts a run of an existing deployment
func (d *Deployer) TriggerDeployment(ctx context.Context, backendType, deployment string, params commands.Options) (*domain.RunRecord, error) {
	flow, err := d.deployment(ctx, backendType, deployment)
	if err != nil {
		return nil, err
	}
	defer flow.Close()

	run, err := flow.Trigger(ctx, params)
	if err != nil {
		return nil, err
	}
	return &domain.RunRecord{
		Pathspec:    run.Pathspec,
		Name:        run.Name,
		Deployment:  flow.Name,
		Backend:     flow.impl.Type(),
		Metadata:    run.Metadata,
		TriggeredAt: time.Now().UTC(),
	}, nil
}

// RunAction suspends, unsuspends or terminates a run. False means the
// child refused.
func (d *Deployer) RunAction(ctx context.Context, verb commands.Verb, backendType, deployment, pathspec string) (bool, error) {
	flow, err := d.deployment(ctx, backendType, deployment)
	if err != nil {
		return false, err
	}
	defer flow.Close()

	run, err := flow.TriggeredRun(pathspec)
	if err != nil {
		return false, err
	}
	switch verb {
	case commands.VerbSuspend:
		return run.Suspend(ctx, nil)
	case commands.VerbUnsuspend:
		return run.Unsuspend(ctx, nil)
	case commands.VerbTerminate:
		return run.Terminate(ctx, nil)
	default:
		return false, fmt.Errorf("%w: %s is not a run action", ErrUnsupported, verb)
	}
}

// DeleteDeployment removes a deployment from the backend
func (d *Deployer) DeleteDeployment(ctx context.Context, backendType, deployment string) (bool, error) {
	flow, err := d.deployment(ctx, backendType, deployment)
	if err != nil {
		return false, err
	}
	defer flow.Close()

	return flow.Delete(ctx, nil)
}

// deployment attaches to a recorded deployment through its flow file.
// Deployments without a usable record are rebuilt from the orchestrator.
func (d *Deployer) deployment(ctx context.Context, backendType, name string) (*DeployedFlow, error) {
	var record *domain.DeploymentRecord
	if store := d.deps.Store; store != nil {
		r, err := store.GetDeployment(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to get deployment %s: %w", name, err)
		}
		record = r
	}

	if record == nil || record.FlowFile == "" {
		if backendType == "" && record != nil {
			backendType = record.Backend
		}
		return d.FromDeployment(ctx, backendType, name, "")
	}

	if backendType == "" {
		backendType = record.Backend
	}
	impl, err := d.WithFlowFile(record.FlowFile).Bind(backendType, commands.Options{"name": name})
	if err != nil {
		return nil, err
	}
	metadata := record.Metadata
	if metadata == "" {
		metadata = d.opts.Metadata
	}
	return impl.Attach(name, record.FlowName, metadata), nil
}
