package main

import (
	"context"
	"sync"

	"github.com/aescanero/flowdeploy/internal/application/child"
	"github.com/aescanero/flowdeploy/internal/backends/argo"
	"github.com/aescanero/flowdeploy/internal/backends/stepfunctions"
	"github.com/aescanero/flowdeploy/internal/config"
	"github.com/aescanero/flowdeploy/pkg/adapters/codepackage"
	argoapi "github.com/aescanero/flowdeploy/pkg/adapters/orchestrator/argo"
	sfnapi "github.com/aescanero/flowdeploy/pkg/adapters/orchestrator/stepfunctions"
	"go.uber.org/zap"
)

// lazyExecutor builds the backend executor on first use, so a child for
// one backend never needs credentials of another.
type lazyExecutor struct {
	build func(ctx context.Context) (child.Executor, error)

	once sync.Once
	exec child.Executor
	err  error
}

func (l *lazyExecutor) get(ctx context.Context) (child.Executor, error) {
	l.once.Do(func() {
		l.exec, l.err = l.build(ctx)
	})
	return l.exec, l.err
}

func (l *lazyExecutor) Create(ctx context.Context, req child.CreateRequest) (*child.CreateResult, error) {
	exec, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return exec.Create(ctx, req)
}

func (l *lazyExecutor) Trigger(ctx context.Context, req child.TriggerRequest) (*child.TriggerResult, error) {
	exec, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return exec.Trigger(ctx, req)
}

func (l *lazyExecutor) Suspend(ctx context.Context, req child.RunRequest) error {
	exec, err := l.get(ctx)
	if err != nil {
		return err
	}
	return exec.Suspend(ctx, req)
}

func (l *lazyExecutor) Unsuspend(ctx context.Context, req child.RunRequest) error {
	exec, err := l.get(ctx)
	if err != nil {
		return err
	}
	return exec.Unsuspend(ctx, req)
}

func (l *lazyExecutor) Terminate(ctx context.Context, req child.RunRequest) error {
	exec, err := l.get(ctx)
	if err != nil {
		return err
	}
	return exec.Terminate(ctx, req)
}

func (l *lazyExecutor) Delete(ctx context.Context, req child.DeleteRequest) error {
	exec, err := l.get(ctx)
	if err != nil {
		return err
	}
	return exec.Delete(ctx, req)
}

func (l *lazyExecutor) ListRuns(ctx context.Context, req child.ListRunsRequest) ([]child.RunSummary, error) {
	exec, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return exec.ListRuns(ctx, req)
}

func argoClient(cfg *config.Config, logger *zap.Logger) (*argoapi.Client, error) {
	return argoapi.NewClient(argoapi.Config{
		APIServer: cfg.Argo.APIServer,
		Token:     cfg.Argo.Token,
		TokenFile: cfg.Argo.TokenFile,
		CAFile:    cfg.Argo.CAFile,
		Namespace: cfg.Argo.Namespace,
		Timeout:   cfg.Argo.Timeout,
	}, logger)
}

func sfnClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*sfnapi.Client, error) {
	return sfnapi.NewClient(ctx, sfnapi.Config{
		Region:   cfg.StepFunctions.Region,
		RoleARN:  cfg.StepFunctions.RoleARN,
		Endpoint: cfg.StepFunctions.Endpoint,
	}, logger)
}

func argoBackend(cfg *config.Config, logger *zap.Logger) child.Backend {
	return child.Backend{
		Name:  argo.Type,
		Verbs: argo.Verbs,
		Executor: &lazyExecutor{build: func(ctx context.Context) (child.Executor, error) {
			client, err := argoClient(cfg, logger)
			if err != nil {
				return nil, err
			}
			return argo.NewExecutor(client, argo.ExecutorConfig{
				Image:    cfg.Argo.Image,
				Metadata: cfg.Deployer.Metadata,
			}, logger), nil
		}},
	}
}

func stepFunctionsBackend(cfg *config.Config, logger *zap.Logger) child.Backend {
	return child.Backend{
		Name:  stepfunctions.Type,
		Verbs: stepfunctions.Verbs,
		Executor: &lazyExecutor{build: func(ctx context.Context) (child.Executor, error) {
			client, err := sfnClient(ctx, cfg, logger)
			if err != nil {
				return nil, err
			}
			return stepfunctions.NewExecutor(client, stepfunctions.ExecutorConfig{
				JobQueue:      cfg.StepFunctions.JobQueue,
				JobDefinition: cfg.StepFunctions.JobDefinition,
				Metadata:      cfg.Deployer.Metadata,
			}, logger), nil
		}},
	}
}

// lazyPackager connects to the bucket on the first upload
type lazyPackager struct {
	cfg    config.S3Config
	logger *zap.Logger

	once     sync.Once
	packager *codepackage.Packager
	err      error
}

func (l *lazyPackager) Upload(ctx context.Context, flowName string, contents []byte) (string, error) {
	l.once.Do(func() {
		l.packager, l.err = codepackage.New(codepackage.Config{
			Endpoint:  l.cfg.Endpoint,
			AccessKey: l.cfg.AccessKey,
			SecretKey: l.cfg.SecretKey,
			Bucket:    l.cfg.Bucket,
			UseSSL:    l.cfg.UseSSL,
		}, l.logger)
	})
	if l.err != nil {
		return "", l.err
	}
	return l.packager.Upload(ctx, flowName, contents)
}
