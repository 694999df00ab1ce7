package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aescanero/flowdeploy/internal/application/deployer"
	"github.com/aescanero/flowdeploy/internal/application/health"
	"github.com/aescanero/flowdeploy/internal/backends/argo"
	"github.com/aescanero/flowdeploy/internal/backends/stepfunctions"
	"github.com/aescanero/flowdeploy/internal/config"
	"github.com/aescanero/flowdeploy/pkg/adapters/events/memory"
	"github.com/aescanero/flowdeploy/pkg/adapters/events/redis"
	"github.com/aescanero/flowdeploy/pkg/adapters/metadata/postgres"
	"github.com/aescanero/flowdeploy/pkg/adapters/metrics/prometheus"
	memstorage "github.com/aescanero/flowdeploy/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/flowdeploy/pkg/adapters/storage/redis"
	"github.com/aescanero/flowdeploy/pkg/api/grpc"
	"github.com/aescanero/flowdeploy/pkg/api/http"
	"github.com/aescanero/flowdeploy/pkg/api/websocket"
	"github.com/aescanero/flowdeploy/pkg/ports"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the deployment API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

// providers returns the backends whose clients could be built, with a
// health probe for each
func providers(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]deployer.Provider, map[string]health.Probe) {
	var out []deployer.Provider
	probes := make(map[string]health.Probe)

	if client, err := argoClient(cfg, logger); err != nil {
		logger.Warn("argo backend disabled", zap.Error(err))
	} else {
		out = append(out, argo.Provider(client, logger))
		probes[argo.Type] = argo.Probe(client)
	}

	if client, err := sfnClient(ctx, cfg, logger); err != nil {
		logger.Warn("step functions backend disabled", zap.Error(err))
	} else {
		out = append(out, stepfunctions.Provider(client, logger))
		probes[stepfunctions.Type] = stepfunctions.Probe(client)
	}

	return out, probes
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting flowdeploy",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	var (
		store       ports.DeploymentStore
		eventBus    ports.EventBus
		redisClient *goredis.Client
	)
	if cfg.RedisEnabled() {
		// Initialize Redis client
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		bus, err := redis.NewStreamsEventBus(redisClient, cfg.Redis.ConsumerGroup,
			fmt.Sprintf("%s-%d", cfg.Redis.ConsumerName, os.Getpid()), logger)
		if err != nil {
			return fmt.Errorf("failed to create event bus: %w", err)
		}
		eventBus = bus
		store = redisstorage.NewDeploymentStore(redisClient, cfg.Redis.RecordTTL, logger)
	} else {
		logger.Info("redis not configured, keeping records in memory")
		eventBus = memory.NewInMemoryEventBus(logger)
		store = memstorage.NewInMemoryDeploymentStore()
	}

	metrics := prometheus.NewCollector()
	deps := deployer.Dependencies{
		Store:   store,
		Events:  eventBus,
		Metrics: metrics,
	}
	if cfg.MetadataEnabled() {
		runs, err := postgres.Open(ctx, postgres.Config{
			DSN:          cfg.Metadata.DSN,
			PingTimeout:  cfg.Metadata.ConnectTimeout,
			MaxOpenConns: cfg.Metadata.MaxOpenConns,
		}, logger)
		if err != nil {
			return err
		}
		defer runs.Close()
		deps.Runs = runs
	}

	backends, probes := providers(ctx, cfg, logger)
	registry, err := deployer.NewRegistry(backends...)
	if err != nil {
		return fmt.Errorf("failed to create registry: %w", err)
	}
	d, err := deployer.New(deployer.Options{
		Executable:      cfg.Deployer.Executable,
		FileReadTimeout: cfg.Deployer.FileReadTimeout,
		Profile:         cfg.Deployer.Profile,
		ShowOutput:      cfg.Deployer.ShowOutput,
		TempDir:         cfg.Deployer.TempDir,
		Metadata:        cfg.Deployer.Metadata,
		DefaultImpl:     cfg.Deployer.DefaultBackend,
	}, registry, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to create deployer: %w", err)
	}

	monitor := health.NewMonitor(probes, cfg.Deployer.HealthInterval, cfg.Timeouts.StatusTimeout, logger)
	monitor.OnChange(metrics.SetBackendUp)

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:      cfg.HTTPPort,
		Store:     store,
		Status:    d,
		Lifecycle: d,
		Health:    monitor,
		Token:     cfg.Deployer.APIToken,
		Logger:    logger,
	})

	wsCtx, cancelWS := context.WithCancel(ctx)
	defer cancelWS()
	wsHandler := websocket.NewHandler(eventBus, logger)
	if err := wsHandler.Start(wsCtx); err != nil {
		return fmt.Errorf("failed to start websocket hub: %w", err)
	}
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:     cfg.GRPCPort,
		Backends: registry.Types(),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}
	monitor.OnChange(grpcServer.SetServing)
	monitor.Start(ctx)
	defer monitor.Stop()

	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Start(); err != nil {
			errCh <- fmt.Errorf("gRPC server failed: %w", err)
		}
	}()

	logger.Info("flowdeploy started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Strings("backends", registry.Types()))

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case serveErr = <-errCh:
		logger.Error("server failed", zap.Error(serveErr))
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	cancelWS()
	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("flowdeploy shut down complete")
	return serveErr
}
