package deployer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aescanero/flowdeploy/internal/application/commands"
	"github.com/aescanero/flowdeploy/internal/application/flowspec"
	eventsmemory "github.com/aescanero/flowdeploy/pkg/adapters/events/memory"
	metadatamemory "github.com/aescanero/flowdeploy/pkg/adapters/metadata/memory"
	storagememory "github.com/aescanero/flowdeploy/pkg/adapters/storage/memory"
	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOrchestrator struct {
	mu          sync.Mutex
	statuses    map[string]domain.RunStatus
	tokens      map[string]string
	deployments map[string]*domain.DeploymentDescriptor
	queries     []RunRef
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		statuses:    make(map[string]domain.RunStatus),
		tokens:      map[string]string{"my-flow": "tok-123"},
		deployments: make(map[string]*domain.DeploymentDescriptor),
	}
}

func (o *fakeOrchestrator) setStatus(runName string, status domain.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses[runName] = status
}

func (o *fakeOrchestrator) status(ctx context.Context, ref RunRef) (domain.RunStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queries = append(o.queries, ref)
	status, ok := o.statuses[ref.RunName]
	if !ok {
		return domain.StatusUnknown, nil
	}
	return status, nil
}

func (o *fakeOrchestrator) token(ctx context.Context, deployment string) (string, error) {
	return o.tokens[deployment], nil
}

func (o *fakeOrchestrator) describe(ctx context.Context, identifier string) (*domain.DeploymentDescriptor, error) {
	desc, ok := o.deployments[identifier]
	if !ok {
		return nil, errors.New("no deployed flow found for: " + identifier)
	}
	copied := *desc
	return &copied, nil
}

func (o *fakeOrchestrator) registry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(
		Provider{
			Type: "step-functions",
			Verbs: []commands.Verb{
				commands.VerbCreate, commands.VerbTrigger, commands.VerbTerminate,
				commands.VerbDelete, commands.VerbListRuns,
			},
			RunIDPrefix:     "sfn-",
			Status:          o.status,
			ProductionToken: o.token,
		},
		Provider{
			Type: "argo-workflows",
			Verbs: []commands.Verb{
				commands.VerbCreate, commands.VerbTrigger, commands.VerbSuspend, commands.VerbUnsuspend,
				commands.VerbTerminate, commands.VerbDelete, commands.VerbListRuns,
			},
			RunIDPrefix:     "argo-",
			Status:          o.status,
			ProductionToken: o.token,
			Describe:        o.describe,
		},
	)
	require.NoError(t, err)
	return r
}

type testEnv struct {
	orchestrator *fakeOrchestrator
	deployer     *Deployer
	tempDir      string
	recordDir    string
	store        *storagememory.InMemoryDeploymentStore
	events       *eventsmemory.InMemoryEventBus
	runs         *metadatamemory.InMemoryRunSource
}

func newTestEnv(t *testing.T, scenario string, timeout time.Duration) *testEnv {
	t.Helper()
	env := &testEnv{
		orchestrator: newFakeOrchestrator(),
		tempDir:      t.TempDir(),
		recordDir:    t.TempDir(),
		store:        storagememory.NewInMemoryDeploymentStore(),
		events:       eventsmemory.NewInMemoryEventBus(zap.NewNop()),
		runs:         metadatamemory.NewInMemoryRunSource(),
	}

	d, err := New(Options{
		FlowFile: "flow.yaml",
		Profile:  "test-profile",
		Env: map[string]string{
			helperEnv:       scenario,
			helperRecordEnv: env.recordDir,
		},
		FileReadTimeout: timeout,
		Executable:      os.Args[0],
		TempDir:         env.tempDir,
		Metadata:        "local",
		DefaultImpl:     "argo-workflows",
	}, env.orchestrator.registry(t), Dependencies{
		Runs:   env.runs,
		Store:  env.store,
		Events: env.events,
	}, zap.NewNop())
	require.NoError(t, err)
	env.deployer = d
	return env
}

// recorded returns the argument lists the helper child saw for verb
func (e *testEnv) recorded(t *testing.T, verb commands.Verb) [][]string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(e.recordDir, string(verb)+"-*.args"))
	require.NoError(t, err)
	var out [][]string
	for _, path := range matches {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		out = append(out, strings.Split(strings.TrimSpace(string(data)), "\n"))
	}
	return out
}

func flagValue(args []string, flag string) string {
	for _, arg := range args {
		if strings.HasPrefix(arg, "--"+flag+"=") {
			return strings.TrimPrefix(arg, "--"+flag+"=")
		}
	}
	return ""
}

func TestCreateStepFunctions(t *testing.T) {
	env := newTestEnv(t, "ok", 10*time.Second)

	impl, err := env.deployer.Bind("step-functions", commands.Options{"name": "my-flow"})
	require.NoError(t, err)
	defer impl.Close()

	flow, err := impl.Create(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "my-flow", flow.Name)
	assert.Equal(t, "MyFlow", flow.FlowName)
	assert.Equal(t, "service", flow.Metadata)
	assert.Equal(t, map[string]interface{}{"region": "eu-west-1"}, flow.AdditionalInfo)

	token, err := flow.ProductionToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)

	record, err := env.store.GetDeployment(context.Background(), "my-flow")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "step-functions", record.Backend)

	calls := env.recorded(t, commands.VerbCreate)
	require.Len(t, calls, 1)
	args := calls[0]
	assert.Equal(t, "--flow-file=flow.yaml", args[0])
	assert.Equal(t, "step-functions", args[1])
	assert.Equal(t, "--name=my-flow", args[2])
	assert.Equal(t, "create", args[3])
	assert.NotEmpty(t, flagValue(args, commands.AttributeFileFlag))
	assert.Contains(t, args, "profile=test-profile")
}

func TestCreateThenDeleteLeavesNothingBehind(t *testing.T) {
	for _, backend := range []string{"step-functions", "argo-workflows"} {
		t.Run(backend, func(t *testing.T) {
			env := newTestEnv(t, "ok", 10*time.Second)
			impl, err := env.deployer.Bind(backend, commands.Options{"name": "my-flow"})
			require.NoError(t, err)
			defer impl.Close()

			flow, err := impl.Create(context.Background(), nil)
			require.NoError(t, err)
			ok, err := flow.Delete(context.Background(), nil)
			require.NoError(t, err)
			assert.True(t, ok)

			assert.Equal(t, 0, impl.ActiveProcesses())
			entries, err := os.ReadDir(env.tempDir)
			require.NoError(t, err)
			assert.Empty(t, entries)

			record, err := env.store.GetDeployment(context.Background(), "my-flow")
			require.NoError(t, err)
			assert.Nil(t, record)
		})
	}
}

func TestTriggerTwiceUsesDistinctChannels(t *testing.T) {
	env := newTestEnv(t, "ok", 10*time.Second)
	impl, err := env.deployer.Bind("step-functions", commands.Options{"name": "my-flow"})
	require.NoError(t, err)
	defer impl.Close()

	flow, err := impl.Create(context.Background(), nil)
	require.NoError(t, err)

	first, err := flow.Trigger(context.Background(), commands.Options{"run_param": map[string]string{"alpha": "1"}})
	require.NoError(t, err)
	second, err := flow.Trigger(context.Background(), nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.Pathspec, second.Pathspec)
	assert.True(t, strings.HasPrefix(first.Pathspec, "MyFlow/sfn-"))
	assert.Equal(t, "service", first.Metadata)

	calls := env.recorded(t, commands.VerbTrigger)
	require.Len(t, calls, 2)
	assert.NotEqual(t, flagValue(calls[0], commands.AttributeFileFlag), flagValue(calls[1], commands.AttributeFileFlag))
	assert.Equal(t, 0, impl.ActiveProcesses())

	runs, err := env.store.ListRuns(context.Background(), "my-flow")
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestConcurrentTriggersDoNotCrossDeliver(t *testing.T) {
	env := newTestEnv(t, "ok", 10*time.Second)

	const n = 4
	flows := make([]*DeployedFlow, n)
	for i := range flows {
		impl, err := env.deployer.Bind("step-functions", commands.Options{"name": "my-flow"})
		require.NoError(t, err)
		defer impl.Close()
		flows[i], err = impl.Create(context.Background(), nil)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	pathspecs := make([]string, n)
	errs := make([]error, n)
	for i := range flows {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run, err := flows[i].Trigger(context.Background(), nil)
			errs[i] = err
			if err == nil {
				pathspecs[i] = run.Pathspec
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := range flows {
		require.NoError(t, errs[i])
		assert.False(t, seen[pathspecs[i]], "pathspec %s delivered twice", pathspecs[i])
		seen[pathspecs[i]] = true
	}
}

func TestReadTimeoutIsDistinctFromFailure(t *testing.T) {
	env := newTestEnv(t, "slow", 300*time.Millisecond)
	impl, err := env.deployer.Bind("step-functions", commands.Options{"name": "my-flow"})
	require.NoError(t, err)
	defer impl.Close()

	start := time.Now()
	_, err = impl.Create(context.Background(), nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var timeoutErr *domain.TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, 300*time.Millisecond, timeoutErr.Bound)
	assert.False(t, errors.Is(err, ErrProcessFailed))
	assert.Equal(t, 0, impl.ActiveProcesses())

	failing := newTestEnv(t, "fail", 10*time.Second)
	impl2, err := failing.deployer.Bind("step-functions", commands.Options{"name": "my-flow"})
	require.NoError(t, err)
	defer impl2.Close()

	_, err = impl2.Create(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProcessFailed))
	assert.False(t, errors.Is(err, domain.ErrTimeout))

	var opErr *OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, 1, opErr.ExitCode)
	assert.Equal(t, "step-functions", opErr.Backend)
	assert.Equal(t, "flow.yaml", opErr.FlowFile)
	assert.Contains(t, err.Error(), "my-flow")
}

func TestCreateFailures(t *testing.T) {
	cases := []struct {
		scenario string
		target   error
	}{
		{scenario: "fail-after-write", target: ErrProcessFailed},
		{scenario: "silent", target: resultchanNoPayload},
		{scenario: "malformed", target: ErrMalformedPayload},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			env := newTestEnv(t, tc.scenario, 10*time.Second)
			impl, err := env.deployer.Bind("step-functions", commands.Options{"name": "my-flow"})
			require.NoError(t, err)
			defer impl.Close()

			flow, err := impl.Create(context.Background(), nil)
			assert.Nil(t, flow)
			assert.ErrorIs(t, err, tc.target)

			deployments, err := env.store.ListDeployments(context.Background())
			require.NoError(t, err)
			assert.Empty(t, deployments)
		})
	}
}

func TestCreateToleratesWrongFieldTypes(t *testing.T) {
	env := newTestEnv(t, "garbled", 10*time.Second)
	impl, err := env.deployer.Bind("step-functions", nil)
	require.NoError(t, err)
	defer impl.Close()

	flow, err := impl.Create(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "", flow.Name)
	assert.Equal(t, "MyFlow", flow.FlowName)
}

func TestTriggerWithoutPathspec(t *testing.T) {
	env := newTestEnv(t, "no-pathspec", 10*time.Second)
	impl, err := env.deployer.Bind("argo-workflows", nil)
	require.NoError(t, err)
	defer impl.Close()

	flow := &DeployedFlow{impl: impl, Name: "my-flow", FlowName: "MyFlow"}
	run, err := flow.Trigger(context.Background(), nil)
	assert.Nil(t, run)
	assert.ErrorIs(t, err, ErrNilPathspec)
}

func TestBindFailsFast(t *testing.T) {
	env := newTestEnv(t, "ok", time.Second)

	_, err := env.deployer.Bind("", nil)
	assert.ErrorIs(t, err, ErrNoBackendType)

	_, err = env.deployer.Bind("airflow", nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
	assert.Contains(t, err.Error(), "airflow")

	assert.Empty(t, env.recorded(t, commands.VerbCreate))
}

func TestUnsupportedVerbSpawnsNothing(t *testing.T) {
	env := newTestEnv(t, "ok", 10*time.Second)
	impl, err := env.deployer.Bind("step-functions", commands.Options{"name": "my-flow"})
	require.NoError(t, err)
	defer impl.Close()

	flow := &DeployedFlow{impl: impl, Name: "my-flow", FlowName: "MyFlow"}
	run, err := newTriggeredRun(flow, "MyFlow/sfn-abc123", "abc123", "service")
	require.NoError(t, err)

	ok, err := run.Suspend(context.Background(), nil)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnsupported)
	ok, err = run.Unsuspend(context.Background(), nil)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnsupported)

	assert.Empty(t, env.recorded(t, commands.VerbSuspend))
	assert.Equal(t, 0, impl.ActiveProcesses())

	_, err = env.deployer.FromDeployment(context.Background(), "step-functions", "my-flow", "")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestScopedVerbsPassRunID(t *testing.T) {
	env := newTestEnv(t, "ok", 10*time.Second)
	impl, err := env.deployer.Bind("argo-workflows", commands.Options{"name": "my-flow"})
	require.NoError(t, err)
	defer impl.Close()

	flow := &DeployedFlow{impl: impl, Name: "my-flow", FlowName: "MyFlow"}
	run, err := newTriggeredRun(flow, "MyFlow/argo-myflow-x7k2", "", "service")
	require.NoError(t, err)

	for _, op := range []func(context.Context, commands.Options) (bool, error){run.Suspend, run.Unsuspend, run.Terminate} {
		ok, err := op(context.Background(), nil)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	calls := env.recorded(t, commands.VerbTerminate)
	require.Len(t, calls, 1)
	assert.Equal(t, "argo-myflow-x7k2", flagValue(calls[0], "run-id"))
}

func TestRejectedOperationReturnsFalse(t *testing.T) {
	env := newTestEnv(t, "fail", 10*time.Second)
	impl, err := env.deployer.Bind("argo-workflows", commands.Options{"name": "my-flow"})
	require.NoError(t, err)
	defer impl.Close()

	flow := &DeployedFlow{impl: impl, Name: "my-flow", FlowName: "MyFlow"}
	ok, err := flow.Delete(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = flow.ListRuns(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunNamePrefixIsBackendSpecific(t *testing.T) {
	env := newTestEnv(t, "ok", time.Second)

	sfn, err := env.deployer.Bind("step-functions", nil)
	require.NoError(t, err)
	defer sfn.Close()
	argo, err := env.deployer.Bind("argo-workflows", nil)
	require.NoError(t, err)
	defer argo.Close()

	sfnRun, err := newTriggeredRun(&DeployedFlow{impl: sfn, Name: "my-flow"}, "MyFlow/sfn-abc123", "", "")
	require.NoError(t, err)
	assert.Equal(t, "abc123", sfnRun.Ref().RunName)
	assert.Equal(t, "MyFlow", sfnRun.Ref().FlowName)

	argoRun, err := newTriggeredRun(&DeployedFlow{impl: argo, Name: "my-flow"}, "MyFlow/argo-myflow-x7k2", "", "")
	require.NoError(t, err)
	assert.Equal(t, "myflow-x7k2", argoRun.Ref().RunName)

	env.orchestrator.setStatus("abc123", domain.StatusSucceeded)
	status, err := sfnRun.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, status)
	assert.Equal(t, "abc123", env.orchestrator.queries[0].RunName)
}

func TestStatusConsultsRunObject(t *testing.T) {
	env := newTestEnv(t, "ok", time.Second)
	impl, err := env.deployer.Bind("argo-workflows", nil)
	require.NoError(t, err)
	defer impl.Close()

	run, err := newTriggeredRun(&DeployedFlow{impl: impl, Name: "my-flow"}, "MyFlow/argo-myflow-1", "", "")
	require.NoError(t, err)
	ctx := context.Background()

	status, err := run.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnknown, status)
	running, err := run.IsRunning(ctx)
	require.NoError(t, err)
	assert.False(t, running)

	env.orchestrator.setStatus("myflow-1", domain.StatusRunning)
	status, err = run.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, status)

	obj, err := run.Run(ctx)
	require.NoError(t, err)
	assert.Nil(t, obj)

	env.runs.PutRun(domain.Run{Pathspec: "MyFlow/argo-myflow-1", FlowName: "MyFlow", RunID: "argo-myflow-1"})
	status, err = run.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, status)
	running, err = run.IsRunning(ctx)
	require.NoError(t, err)
	assert.True(t, running)
}

func TestWaitForCompletion(t *testing.T) {
	env := newTestEnv(t, "ok", time.Second)
	env.runs.PutRun(domain.Run{Pathspec: "MyFlow/sfn-abc123"})

	var calls int32
	registry, err := NewRegistry(Provider{
		Type:        "step-functions",
		RunIDPrefix: "sfn-",
		Status: func(ctx context.Context, ref RunRef) (domain.RunStatus, error) {
			if atomic.AddInt32(&calls, 1) < 4 {
				return domain.StatusRunning, nil
			}
			return domain.StatusSucceeded, nil
		},
	})
	require.NoError(t, err)
	env.deployer.registry = registry

	impl, err := env.deployer.Bind("step-functions", nil)
	require.NoError(t, err)
	defer impl.Close()
	run, err := newTriggeredRun(&DeployedFlow{impl: impl, Name: "my-flow"}, "MyFlow/sfn-abc123", "", "")
	require.NoError(t, err)

	err = run.WaitForCompletion(context.Background(), 20*time.Millisecond, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestWaitForCompletionTimeout(t *testing.T) {
	env := newTestEnv(t, "ok", time.Second)
	env.orchestrator.setStatus("abc123", domain.StatusPending)

	impl, err := env.deployer.Bind("step-functions", nil)
	require.NoError(t, err)
	defer impl.Close()
	run, err := newTriggeredRun(&DeployedFlow{impl: impl, Name: "my-flow"}, "MyFlow/sfn-abc123", "", "")
	require.NoError(t, err)

	start := time.Now()
	err = run.WaitForCompletion(context.Background(), 30*time.Millisecond, 200*time.Millisecond)
	elapsed := time.Since(start)

	var timeoutErr *domain.TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, 200*time.Millisecond, timeoutErr.Bound)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = run.WaitForCompletion(ctx, 30*time.Millisecond, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitForRun(t *testing.T) {
	env := newTestEnv(t, "ok", time.Second)
	impl, err := env.deployer.Bind("step-functions", nil)
	require.NoError(t, err)
	defer impl.Close()
	run, err := newTriggeredRun(&DeployedFlow{impl: impl, Name: "my-flow"}, "MyFlow/sfn-abc123", "", "")
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		env.runs.PutRun(domain.Run{Pathspec: "MyFlow/sfn-abc123", RunID: "sfn-abc123"})
	}()

	obj, err := run.WaitForRun(context.Background(), 20*time.Millisecond, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "sfn-abc123", obj.RunID)

	_, err = run.WaitForRun(context.Background(), 20*time.Millisecond, 50*time.Millisecond)
	assert.NoError(t, err)
}

func TestFromDeploymentIsIdempotent(t *testing.T) {
	env := newTestEnv(t, "ok", 10*time.Second)
	env.orchestrator.deployments["demo.prod.main.trainflow"] = &domain.DeploymentDescriptor{
		Name:     "demo.prod.main.trainflow",
		FlowName: "TrainFlow",
		Owner:    "alice",
		Parameters: []domain.Parameter{
			{Name: "alpha", VarName: "alpha", Type: domain.ParamTypeFloat, Description: "learning rate"},
			{Name: "data", VarName: "data", Type: domain.ParamTypeFilePath, IsRequired: true},
		},
		BranchName:  "prod.main",
		ProjectName: "demo",
	}

	ctx := context.Background()
	first, err := env.deployer.FromDeployment(ctx, "", "demo.prod.main.trainflow", "")
	require.NoError(t, err)
	defer first.Close()
	second, err := env.deployer.FromDeployment(ctx, "argo-workflows", "demo.prod.main.trainflow", "service@host")
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, first.Name, second.Name)
	assert.Equal(t, first.FlowName, second.FlowName)
	assert.Equal(t, first.Parameters, second.Parameters)
	assert.Equal(t, "demo.prod.main.trainflow", first.Name)
	assert.Equal(t, "TrainFlow", first.FlowName)
	assert.Equal(t, "local", first.Metadata)
	assert.Equal(t, "service@host", second.Metadata)

	flowFile := first.Impl().deployer.opts.FlowFile
	synthesized, err := flowspec.Load(flowFile)
	require.NoError(t, err)
	assert.Equal(t, "TrainFlow", synthesized.Name)
	assert.Equal(t, "demo", synthesized.Project)
	assert.Len(t, synthesized.Parameters, 2)

	ok, err := first.Delete(ctx, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	calls := env.recorded(t, commands.VerbDelete)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "--production")
	assert.Contains(t, calls[0], "--branch=main")
	assert.Contains(t, calls[0], "user=alice")
	assert.NotContains(t, calls[0], "--name=demo.prod.main.trainflow")

	require.NoError(t, first.Close())
	require.NoError(t, first.Close())
	_, err = os.Stat(flowFile)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFromDeploymentWithoutBranch(t *testing.T) {
	env := newTestEnv(t, "ok", 10*time.Second)
	env.orchestrator.deployments["plainflow"] = &domain.DeploymentDescriptor{
		Name:     "plainflow",
		FlowName: "PlainFlow",
		Owner:    "bob",
	}

	flow, err := env.deployer.FromDeployment(context.Background(), "argo-workflows", "plainflow", "")
	require.NoError(t, err)
	defer flow.Close()

	argv := flow.Impl().group.Command(commands.VerbDelete, nil)
	assert.Contains(t, argv, "--name=plainflow")
	assert.NotContains(t, argv, "--production")

	_, err = env.deployer.FromDeployment(context.Background(), "argo-workflows", "missing", "")
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	env := newTestEnv(t, "ok", time.Second)
	impl, err := env.deployer.Bind("argo-workflows", nil)
	require.NoError(t, err)

	require.NoError(t, impl.Close())
	require.NoError(t, impl.Close())
	assert.Zero(t, impl.ActiveProcesses())

	_, err = impl.Create(context.Background(), nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLifecycleEventsArePublished(t *testing.T) {
	env := newTestEnv(t, "ok", 10*time.Second)

	var mu sync.Mutex
	var seen []domain.EventType
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := func(ctx context.Context, event domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, event.Type)
		return nil
	}
	require.NoError(t, env.events.Subscribe(ctx, domain.TopicDeployments, handler))
	require.NoError(t, env.events.Subscribe(ctx, domain.TopicRuns, handler))

	impl, err := env.deployer.Bind("argo-workflows", commands.Options{"name": "my-flow"})
	require.NoError(t, err)
	defer impl.Close()
	flow, err := impl.Create(ctx, nil)
	require.NoError(t, err)
	_, err = flow.Trigger(ctx, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.ElementsMatch(t, []domain.EventType{domain.EventTypeDeploymentCreated, domain.EventTypeRunTriggered}, seen)
	mu.Unlock()
}

func TestTriggerPassesNamedParameters(t *testing.T) {
	env := newTestEnv(t, "ok", 10*time.Second)
	impl, err := env.deployer.Bind("step-functions", commands.Options{"name": "my-flow"})
	require.NoError(t, err)
	defer impl.Close()

	flow, err := impl.Create(context.Background(), nil)
	require.NoError(t, err)

	_, err = flow.Trigger(context.Background(), commands.Options{
		"alpha":     "1",
		"config":    map[string]interface{}{"a": 1},
		"run_param": map[string]string{"beta": "2"},
	})
	require.NoError(t, err)

	calls := env.recorded(t, commands.VerbTrigger)
	require.Len(t, calls, 1)
	args := calls[0]
	assert.Contains(t, args, "--run-param=alpha=1")
	assert.Contains(t, args, "--run-param=beta=2")
	assert.Contains(t, args, `--run-param=config={"a":1}`)
	assert.NotContains(t, args, "--alpha=1")
}

func TestTriggerOptions(t *testing.T) {
	tests := []struct {
		name    string
		in      commands.Options
		want    commands.Options
		wantErr bool
	}{
		{"empty", nil, commands.Options{}, false},
		{"named", commands.Options{"alpha": "0.9", "epochs": 3, "debug": true},
			commands.Options{"run_param": map[string]string{"alpha": "0.9", "epochs": "3", "debug": "true"}}, false},
		{"list form", commands.Options{"run_param": []string{"alpha=1", "beta=x=y"}},
			commands.Options{"run_param": map[string]string{"alpha": "1", "beta": "x=y"}}, false},
		{"named wins over run_param", commands.Options{"run_param": map[string]string{"alpha": "1"}, "alpha": "2"},
			commands.Options{"run_param": map[string]string{"alpha": "2"}}, false},
		{"nil values dropped", commands.Options{"alpha": nil}, commands.Options{}, false},
		{"malformed", commands.Options{"run_param": []string{"alpha"}}, nil, true},
		{"bad type", commands.Options{"run_param": 3}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := triggerOptions(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
