package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aescanero/flowdeploy/internal/application/child"
	"github.com/aescanero/flowdeploy/internal/backends/argo"
	"github.com/aescanero/flowdeploy/internal/backends/stepfunctions"
	"github.com/aescanero/flowdeploy/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const testFlow = `
name: HelloFlow
project: demo
steps:
  - name: start
    next: [end]
  - name: end
`

func writeFlow(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testFlow), 0o600))
	return path
}

func subcommands(cmd *cobra.Command) []string {
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	return names
}

func testConfig() *config.Config {
	return &config.Config{LogLevel: "info"}
}

func TestCommandTree(t *testing.T) {
	root := newRootCommand(testConfig(), zap.NewNop())

	names := subcommands(root)
	assert.Contains(t, names, argo.Type)
	assert.Contains(t, names, stepfunctions.Type)
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "version")

	for _, c := range root.Commands() {
		switch c.Name() {
		case argo.Type:
			assert.ElementsMatch(t,
				[]string{"create", "trigger", "suspend", "unsuspend", "terminate", "delete", "list-runs"},
				subcommands(c))
		case stepfunctions.Type:
			assert.ElementsMatch(t,
				[]string{"create", "trigger", "terminate", "delete", "list-runs"},
				subcommands(c))
		}
	}
}

func TestInvocationDerivesDeploymentName(t *testing.T) {
	t.Setenv("FLOWDEPLOY_USER", "alice")
	flags := &rootFlags{flowFile: writeFlow(t)}

	inv, err := flags.invocation("")
	require.NoError(t, err)
	assert.Equal(t, "HelloFlow", inv.Flow.Name)
	assert.Equal(t, "alice", inv.User)
	assert.Equal(t, "demo.user.alice.helloflow", inv.Deployment)
	assert.Equal(t, "user.alice", inv.BranchName())

	flags.production = true
	flags.branch = "feature"
	inv, err = flags.invocation("")
	require.NoError(t, err)
	assert.Equal(t, "demo.prod.feature.helloflow", inv.Deployment)
	assert.True(t, inv.IsProduction())

	inv, err = flags.invocation("explicit")
	require.NoError(t, err)
	assert.Equal(t, "explicit", inv.Deployment)
}

func TestInvocationMissingFlowFile(t *testing.T) {
	flags := &rootFlags{flowFile: filepath.Join(t.TempDir(), "missing.yaml")}
	_, err := flags.invocation("")
	assert.Error(t, err)
}

func TestLazyExecutorBuildsOnce(t *testing.T) {
	calls := 0
	boom := errors.New("no credentials")
	l := &lazyExecutor{build: func(ctx context.Context) (child.Executor, error) {
		calls++
		return nil, boom
	}}

	ctx := context.Background()
	_, err := l.Create(ctx, child.CreateRequest{})
	assert.ErrorIs(t, err, boom)
	_, err = l.Trigger(ctx, child.TriggerRequest{})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, l.Suspend(ctx, child.RunRequest{}), boom)
	assert.ErrorIs(t, l.Unsuspend(ctx, child.RunRequest{}), boom)
	assert.ErrorIs(t, l.Terminate(ctx, child.RunRequest{}), boom)
	assert.ErrorIs(t, l.Delete(ctx, child.DeleteRequest{}), boom)
	_, err = l.ListRuns(ctx, child.ListRunsRequest{})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 1, calls)
}

func TestVersionCommand(t *testing.T) {
	root := newRootCommand(testConfig(), zap.NewNop())
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "flowdeploy dev")
}

func TestInitLogger(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"unknown": zapcore.InfoLevel,
	}
	for level, want := range tests {
		logger := initLogger(level)
		assert.True(t, logger.Core().Enabled(want), level)
		if want > zapcore.DebugLevel {
			assert.False(t, logger.Core().Enabled(want-1), level)
		}
	}
}
