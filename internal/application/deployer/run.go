package deployer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aescanero/flowdeploy/internal/application/commands"
	"github.com/aescanero/flowdeploy/pkg/domain"
	"go.uber.org/zap"
)

// TriggeredRun is one execution of a deployed flow. Its status is
// recomputed on every call.
type TriggeredRun struct {
	flow *DeployedFlow

	// Pathspec is "<FlowName>/<prefix><run name>"
	Pathspec string
	Name     string
	Metadata string
}

func newTriggeredRun(flow *DeployedFlow, pathspec, name, metadata string) (*TriggeredRun, error) {
	if pathspec == "" {
		return nil, ErrNilPathspec
	}
	if _, _, ok := strings.Cut(pathspec, "/"); !ok {
		return nil, fmt.Errorf("invalid pathspec %q", pathspec)
	}
	return &TriggeredRun{
		flow:     flow,
		Pathspec: pathspec,
		Name:     name,
		Metadata: metadata,
	}, nil
}

// Flow returns the deployment the run belongs to
func (r *TriggeredRun) Flow() *DeployedFlow { return r.flow }

// FlowName returns the flow segment of the pathspec
func (r *TriggeredRun) FlowName() string {
	flowName, _, _ := strings.Cut(r.Pathspec, "/")
	return flowName
}

// RunID returns the run segment of the pathspec, prefix included
func (r *TriggeredRun) RunID() string {
	_, runID, _ := strings.Cut(r.Pathspec, "/")
	return runID
}

// Ref returns the orchestrator-side identity of the run
func (r *TriggeredRun) Ref() RunRef {
	return RunRef{
		Deployment: r.flow.Name,
		FlowName:   r.FlowName(),
		RunName:    r.flow.impl.provider.RunName(r.RunID()),
		Pathspec:   r.Pathspec,
	}
}

// Suspend asks the orchestrator to pause the run
func (r *TriggeredRun) Suspend(ctx context.Context, opts commands.Options) (bool, error) {
	return r.scoped(ctx, commands.VerbSuspend, opts, domain.EventTypeRunSuspended)
}

// Unsuspend asks the orchestrator to resume the run
func (r *TriggeredRun) Unsuspend(ctx context.Context, opts commands.Options) (bool, error) {
	return r.scoped(ctx, commands.VerbUnsuspend, opts, domain.EventTypeRunUnsuspended)
}

// Terminate asks the orchestrator to stop the run
func (r *TriggeredRun) Terminate(ctx context.Context, opts commands.Options) (bool, error) {
	return r.scoped(ctx, commands.VerbTerminate, opts, domain.EventTypeRunTerminated)
}

func (r *TriggeredRun) scoped(ctx context.Context, verb commands.Verb, opts commands.Options, eventType domain.EventType) (bool, error) {
	opts = copyOptions(opts)
	opts["run_id"] = r.RunID()

	ok, err := r.flow.impl.invokeStatus(ctx, verb, opts)
	if err != nil || !ok {
		return ok, err
	}
	r.flow.impl.publish(ctx, domain.TopicRuns, r.flow.event(eventType, r.Pathspec))
	return true, nil
}

// Run returns the run object, or nil while the run has not started yet
func (r *TriggeredRun) Run(ctx context.Context) (*domain.Run, error) {
	runs := r.flow.impl.deployer.deps.Runs
	if runs == nil {
		return nil, nil
	}
	run, err := runs.GetRun(ctx, r.Pathspec)
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", r.Pathspec, err)
	}
	return run, nil
}

// Status queries the orchestrator. A run the orchestrator reports as
// running is still pending until its run object exists. Runs the
// orchestrator does not know are StatusUnknown.
func (r *TriggeredRun) Status(ctx context.Context) (domain.RunStatus, error) {
	impl := r.flow.impl
	status, err := impl.provider.Status(ctx, r.Ref())
	if err != nil {
		return domain.StatusUnknown, fmt.Errorf("failed to get status of %s: %w", r.Pathspec, err)
	}
	if status == "" {
		status = domain.StatusUnknown
	}

	if status == domain.StatusRunning && impl.deployer.deps.Runs != nil {
		run, err := r.Run(ctx)
		if err != nil {
			return domain.StatusUnknown, err
		}
		if run == nil {
			status = domain.StatusPending
		}
	}

	if m := impl.deployer.deps.Metrics; m != nil {
		m.RecordStatusQuery(impl.provider.Type, status)
	}
	return status, nil
}

// IsRunning reports whether the run is pending or running. Unknown runs
// are not running.
func (r *TriggeredRun) IsRunning(ctx context.Context) (bool, error) {
	status, err := r.Status(ctx)
	if err != nil {
		return false, err
	}
	return status.IsActive(), nil
}

// WaitForCompletion polls every interval until the run is no longer
// running. A non-positive timeout waits until ctx is done.
func (r *TriggeredRun) WaitForCompletion(ctx context.Context, interval, timeout time.Duration) error {
	return poll(ctx, interval, timeout, "waiting for "+r.Pathspec+" to complete", func(ctx context.Context) (bool, error) {
		running, err := r.IsRunning(ctx)
		if err != nil {
			return false, err
		}
		if !running {
			r.flow.impl.logger.Debug("run finished", zap.String("pathspec", r.Pathspec))
		}
		return !running, nil
	})
}

// WaitForRun polls every interval until the run object exists
func (r *TriggeredRun) WaitForRun(ctx context.Context, interval, timeout time.Duration) (*domain.Run, error) {
	var run *domain.Run
	err := poll(ctx, interval, timeout, "waiting for run "+r.Pathspec, func(ctx context.Context) (bool, error) {
		var err error
		run, err = r.Run(ctx)
		return run != nil, err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}
