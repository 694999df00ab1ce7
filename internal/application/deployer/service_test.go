package deployer

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aescanero/flowdeploy/internal/application/commands"
	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDeploymentUsesGivenFlowFile(t *testing.T) {
	env := newTestEnv(t, "ok", 10*time.Second)
	ctx := context.Background()

	record, err := env.deployer.CreateDeployment(ctx, "step-functions", "other.yaml", commands.Options{"name": "my-flow"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "my-flow", record.Name)
	assert.Equal(t, "MyFlow", record.FlowName)
	assert.Equal(t, "step-functions", record.Backend)
	assert.Equal(t, "other.yaml", record.FlowFile)

	stored, err := env.store.GetDeployment(ctx, "my-flow")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "other.yaml", stored.FlowFile)

	calls := env.recorded(t, commands.VerbCreate)
	require.Len(t, calls, 1)
	assert.Equal(t, "--flow-file=other.yaml", calls[0][0])

	// the deployer's own flow file is untouched
	assert.Equal(t, "flow.yaml", env.deployer.Options().FlowFile)

	entries, err := os.ReadDir(env.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateDeploymentDefaults(t *testing.T) {
	env := newTestEnv(t, "ok", 10*time.Second)

	record, err := env.deployer.CreateDeployment(context.Background(), "", "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "argo-workflows", record.Backend)
	assert.Equal(t, "flow.yaml", record.FlowFile)

	_, err = env.deployer.CreateDeployment(context.Background(), "nomad", "", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
	_, err = env.deployer.WithFlowFile("").CreateDeployment(context.Background(), "", "", nil, nil)
	assert.ErrorIs(t, err, ErrNoFlowFile)
	assert.Len(t, env.recorded(t, commands.VerbCreate), 1)
}

func TestTriggerDeploymentUsesRecord(t *testing.T) {
	env := newTestEnv(t, "ok", 10*time.Second)
	ctx := context.Background()

	_, err := env.deployer.CreateDeployment(ctx, "step-functions", "other.yaml", commands.Options{"name": "my-flow"}, nil)
	require.NoError(t, err)

	run, err := env.deployer.TriggerDeployment(ctx, "", "my-flow", commands.Options{"alpha": "1"})
	require.NoError(t, err)
	assert.Equal(t, "my-flow", run.Deployment)
	assert.Equal(t, "step-functions", run.Backend)
	assert.Contains(t, run.Pathspec, "MyFlow/sfn-")

	calls := env.recorded(t, commands.VerbTrigger)
	require.Len(t, calls, 1)
	assert.Equal(t, "--flow-file=other.yaml", calls[0][0])
	assert.Contains(t, calls[0], "--name=my-flow")
	assert.Contains(t, calls[0], "--run-param=alpha=1")

	runs, err := env.store.ListRuns(ctx, "my-flow")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.Pathspec, runs[0].Pathspec)
}

func TestRunActionAndDeleteDeployment(t *testing.T) {
	env := newTestEnv(t, "ok", 10*time.Second)
	ctx := context.Background()

	_, err := env.deployer.CreateDeployment(ctx, "argo-workflows", "", commands.Options{"name": "my-flow"}, nil)
	require.NoError(t, err)

	for _, verb := range []commands.Verb{commands.VerbSuspend, commands.VerbUnsuspend, commands.VerbTerminate} {
		ok, err := env.deployer.RunAction(ctx, verb, "", "my-flow", "MyFlow/argo-myflow-x7k2")
		require.NoError(t, err, verb)
		assert.True(t, ok, verb)

		calls := env.recorded(t, verb)
		require.Len(t, calls, 1, verb)
		assert.Equal(t, "argo-myflow-x7k2", flagValue(calls[0], "run-id"))
	}

	_, err = env.deployer.RunAction(ctx, commands.VerbCreate, "", "my-flow", "MyFlow/argo-myflow-x7k2")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = env.deployer.RunAction(ctx, commands.VerbSuspend, "", "my-flow", "no-slash")
	assert.Error(t, err)

	ok, err := env.deployer.DeleteDeployment(ctx, "", "my-flow")
	require.NoError(t, err)
	assert.True(t, ok)

	record, err := env.store.GetDeployment(ctx, "my-flow")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestRunActionOnStepFunctionsSuspend(t *testing.T) {
	env := newTestEnv(t, "ok", 10*time.Second)
	ctx := context.Background()
	_, err := env.deployer.CreateDeployment(ctx, "step-functions", "", commands.Options{"name": "my-flow"}, nil)
	require.NoError(t, err)

	ok, err := env.deployer.RunAction(ctx, commands.VerbSuspend, "", "my-flow", "MyFlow/sfn-abc")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Empty(t, env.recorded(t, commands.VerbSuspend))
}

func TestUnrecordedDeploymentIsRebuilt(t *testing.T) {
	env := newTestEnv(t, "ok", 10*time.Second)
	env.orchestrator.deployments["plainflow"] = &domain.DeploymentDescriptor{
		Name:     "plainflow",
		FlowName: "PlainFlow",
		Owner:    "bob",
	}
	ctx := context.Background()

	run, err := env.deployer.TriggerDeployment(ctx, "argo-workflows", "plainflow", nil)
	require.NoError(t, err)
	assert.Equal(t, "plainflow", run.Deployment)

	calls := env.recorded(t, commands.VerbTrigger)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "--name=plainflow")
	assert.Contains(t, calls[0], "user=bob")

	// the synthesized flow file went away with the handle
	entries, err := os.ReadDir(env.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = env.deployer.DeleteDeployment(ctx, "argo-workflows", "missing")
	assert.Error(t, err)
}
