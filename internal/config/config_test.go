package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "argo-workflows", cfg.Deployer.DefaultBackend)
	assert.Equal(t, time.Hour, cfg.Deployer.FileReadTimeout)
	assert.Equal(t, 5*time.Second, cfg.Deployer.PollInterval)
	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())
}

func TestOptionalSubsystems(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("S3_ENDPOINT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.RedisEnabled())
	assert.False(t, cfg.MetadataEnabled())
	assert.False(t, cfg.S3Enabled())

	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/metaflow")
	t.Setenv("S3_ENDPOINT", "localhost:9000")

	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.RedisEnabled())
	assert.True(t, cfg.MetadataEnabled())
	assert.True(t, cfg.S3Enabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FLOWDEPLOY_HTTP_PORT", "8181")
	t.Setenv("FLOWDEPLOY_FILE_READ_TIMEOUT", "90s")
	t.Setenv("FLOWDEPLOY_DEFAULT_BACKEND", "step-functions")
	t.Setenv("SFN_ROLE_ARN", "arn:aws:iam::123456789012:role/flows")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.HTTPPort)
	assert.Equal(t, 90*time.Second, cfg.Deployer.FileReadTimeout)
	assert.Equal(t, "step-functions", cfg.Deployer.DefaultBackend)
	assert.Equal(t, "arn:aws:iam::123456789012:role/flows", cfg.StepFunctions.RoleARN)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTPPort: 8080,
			GRPCPort: 9090,
			LogLevel: "info",
			Deployer: DeployerConfig{
				DefaultBackend:  "argo-workflows",
				FileReadTimeout: time.Hour,
				PollInterval:    time.Second,
				HealthInterval:  time.Minute,
			},
			S3: S3Config{Bucket: "flowdeploy"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad http port", func(c *Config) { c.HTTPPort = 0 }, "invalid HTTP port"},
		{"bad grpc port", func(c *Config) { c.GRPCPort = 70000 }, "invalid gRPC port"},
		{"zero read timeout", func(c *Config) { c.Deployer.FileReadTimeout = 0 }, "file read timeout"},
		{"zero poll interval", func(c *Config) { c.Deployer.PollInterval = 0 }, "poll interval"},
		{"zero health interval", func(c *Config) { c.Deployer.HealthInterval = 0 }, "health interval"},
		{"no default backend", func(c *Config) { c.Deployer.DefaultBackend = "" }, "default backend"},
		{"redis pool", func(c *Config) { c.Redis.Addr = "localhost:6379" }, "pool size"},
		{"negative ttl", func(c *Config) { c.Redis.RecordTTL = -time.Second }, "TTL"},
		{"s3 without bucket", func(c *Config) { c.S3.Endpoint = "localhost:9000"; c.S3.Bucket = "" }, "bucket"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
