package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for flowdeploy
type Config struct {
	// Server configuration
	HTTPPort int    `env:"FLOWDEPLOY_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"FLOWDEPLOY_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Deployer configuration
	Deployer DeployerConfig

	// Redis configuration
	Redis RedisConfig

	// Metadata service configuration
	Metadata MetadataConfig

	// Backends
	Argo          ArgoConfig
	StepFunctions StepFunctionsConfig

	// Code package storage
	S3 S3Config

	// Timeouts
	Timeouts TimeoutConfig
}

// DeployerConfig holds settings of the controlling process
type DeployerConfig struct {
	// Executable is re-invoked as the child; empty means this binary
	Executable      string        `env:"FLOWDEPLOY_EXECUTABLE"`
	DefaultBackend  string        `env:"FLOWDEPLOY_DEFAULT_BACKEND" envDefault:"argo-workflows"`
	FileReadTimeout time.Duration `env:"FLOWDEPLOY_FILE_READ_TIMEOUT" envDefault:"3600s"`
	PollInterval    time.Duration `env:"FLOWDEPLOY_POLL_INTERVAL" envDefault:"5s"`
	HealthInterval  time.Duration `env:"FLOWDEPLOY_HEALTH_INTERVAL" envDefault:"30s"`
	Profile         string        `env:"FLOWDEPLOY_PROFILE"`
	ShowOutput      bool          `env:"FLOWDEPLOY_SHOW_OUTPUT" envDefault:"false"`
	TempDir         string        `env:"FLOWDEPLOY_TEMP_DIR"`
	Metadata        string        `env:"FLOWDEPLOY_METADATA" envDefault:"service"`
	// APIToken protects /api/v1 of the status API; empty disables auth
	APIToken string `env:"FLOWDEPLOY_API_TOKEN"`
}

// RedisConfig holds Redis connection configuration. An empty address
// keeps deployment records and events in memory.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// RecordTTL expires deployment and run records; zero keeps them forever
	RecordTTL time.Duration `env:"REDIS_RECORD_TTL" envDefault:"0s"`

	// Stream consumer group of the status API
	ConsumerGroup string `env:"REDIS_CONSUMER_GROUP" envDefault:"flowdeploy"`
	ConsumerName  string `env:"REDIS_CONSUMER_NAME" envDefault:"flowdeploy-1"`
}

// MetadataConfig holds the metadata service database. An empty DSN means
// run objects are never found.
type MetadataConfig struct {
	DSN            string        `env:"POSTGRES_DSN"`
	ConnectTimeout time.Duration `env:"POSTGRES_CONNECT_TIMEOUT" envDefault:"5s"`
	MaxOpenConns   int           `env:"POSTGRES_MAX_OPEN_CONNS" envDefault:"5"`
}

// ArgoConfig holds Kubernetes API settings. Empty fields fall back to the
// in-cluster service account.
type ArgoConfig struct {
	APIServer string        `env:"ARGO_API_SERVER"`
	Token     string        `env:"ARGO_TOKEN"`
	TokenFile string        `env:"ARGO_TOKEN_FILE"`
	CAFile    string        `env:"ARGO_CA_FILE"`
	Namespace string        `env:"ARGO_NAMESPACE"`
	Timeout   time.Duration `env:"ARGO_TIMEOUT" envDefault:"30s"`
	Image     string        `env:"ARGO_IMAGE"`
}

// StepFunctionsConfig holds AWS settings
type StepFunctionsConfig struct {
	Region        string `env:"SFN_REGION"`
	RoleARN       string `env:"SFN_ROLE_ARN"`
	Endpoint      string `env:"SFN_ENDPOINT"`
	JobQueue      string `env:"SFN_BATCH_JOB_QUEUE"`
	JobDefinition string `env:"SFN_BATCH_JOB_DEFINITION"`
}

// S3Config holds the code package bucket. An empty endpoint disables uploads.
type S3Config struct {
	Endpoint  string `env:"S3_ENDPOINT"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	Bucket    string `env:"S3_BUCKET" envDefault:"flowdeploy"`
	UseSSL    bool   `env:"S3_USE_SSL" envDefault:"true"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	StatusTimeout   time.Duration `env:"TIMEOUT_STATUS" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate deployer config
	if c.Deployer.FileReadTimeout <= 0 {
		return fmt.Errorf("file read timeout must be positive")
	}
	if c.Deployer.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Deployer.HealthInterval <= 0 {
		return fmt.Errorf("health interval must be positive")
	}
	if c.Deployer.DefaultBackend == "" {
		return fmt.Errorf("default backend is required")
	}

	// Validate Redis config
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		return fmt.Errorf("redis pool size must be at least 1")
	}
	if c.Redis.RecordTTL < 0 {
		return fmt.Errorf("redis record TTL must not be negative")
	}

	// Validate S3 config
	if c.S3.Endpoint != "" && c.S3.Bucket == "" {
		return fmt.Errorf("S3 bucket is required when S3_ENDPOINT is set")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// RedisEnabled reports whether records and events go to Redis
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

// MetadataEnabled reports whether run objects are read from the metadata service
func (c *Config) MetadataEnabled() bool {
	return c.Metadata.DSN != ""
}

// S3Enabled reports whether flow sources are uploaded on create
func (c *Config) S3Enabled() bool {
	return c.S3.Endpoint != ""
}
