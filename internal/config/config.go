package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all daemon configuration.
// Supports environment variables with sensible defaults.
//
// Environment Variables:
// HTTP:
// - HTTP_ADDR: listen address for the API (default: :52001)
//
// Store:
// - DB_PATH: sqlite database path (default: data/jobs.db)
// - MAX_JOBS: retained job bound; oldest terminal jobs are pruned past it (default: 1000)
//
// Workers:
// - TRANSCODE_CONCURRENCY: transcode worker pool size (default: 2)
// - PACKAGE_CONCURRENCY: package worker pool size (default: 2)
// - HEARTBEAT_INTERVAL: claimed-job heartbeat period (default: 5s)
//
// Executors:
// - TRANSCODE_CMD: external transcode executor command line (required)
// - PACKAGE_CMD: external package executor command line (required)
//
// Sweep:
// - SWEEP_CRON: maintenance sweep schedule (default: @every 1m)
// - HEARTBEAT_TIMEOUT: running jobs with an older heartbeat are requeued (default: 2m)
// - RETENTION_TTL: terminal jobs older than this are pruned (default: 24h)
//
// Logging:
// - LOG_LEVEL: debug|info|warn|error|fatal (default: info)
// - LOG_FILE: log sink file; stdout when empty
//
// UI:
// - UI_DIR: static dashboard directory; UI disabled when empty

type Config struct {
	HTTP      HTTPConfig     `json:"http"`
	Store     StoreConfig    `json:"store"`
	Workers   WorkerConfig   `json:"workers"`
	Executors ExecutorConfig `json:"executors"`
	Sweep     SweepConfig    `json:"sweep"`
	Log       LogConfig      `json:"log"`
	UI        UIConfig       `json:"ui"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type StoreConfig struct {
	DBPath  string `json:"db_path"`
	MaxJobs int    `json:"max_jobs"`
}

type WorkerConfig struct {
	TranscodeConcurrency int           `json:"transcode_concurrency"`
	PackageConcurrency   int           `json:"package_concurrency"`
	HeartbeatInterval    time.Duration `json:"heartbeat_interval"`
}

// ExecutorConfig names the external executor command lines. The daemon never
// transcodes or packages by itself.
type ExecutorConfig struct {
	TranscodeCmd string `json:"transcode_cmd"`
	PackageCmd   string `json:"package_cmd"`
}

type SweepConfig struct {
	Schedule         string        `json:"schedule"`
	HeartbeatTimeout time.Duration `json:"heartbeat_timeout"`
	RetentionTTL     time.Duration `json:"retention_ttl"`
}

type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

type UIConfig struct {
	StaticDir string `json:"static_dir"`
}

func (c UIConfig) Enabled() bool {
	return c.StaticDir != ""
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":52001"),
		},
		Store: StoreConfig{
			DBPath:  getEnvString("DB_PATH", "data/jobs.db"),
			MaxJobs: getEnvInt("MAX_JOBS", 1000),
		},
		Workers: WorkerConfig{
			TranscodeConcurrency: getEnvInt("TRANSCODE_CONCURRENCY", 2),
			PackageConcurrency:   getEnvInt("PACKAGE_CONCURRENCY", 2),
			HeartbeatInterval:    getEnvDuration("HEARTBEAT_INTERVAL", 5*time.Second),
		},
		Executors: ExecutorConfig{
			TranscodeCmd: getEnvString("TRANSCODE_CMD", ""),
			PackageCmd:   getEnvString("PACKAGE_CMD", ""),
		},
		Sweep: SweepConfig{
			Schedule:         getEnvString("SWEEP_CRON", "@every 1m"),
			HeartbeatTimeout: getEnvDuration("HEARTBEAT_TIMEOUT", 2*time.Minute),
			RetentionTTL:     getEnvDuration("RETENTION_TTL", 24*time.Hour),
		},
		Log: LogConfig{
			Level: getEnvString("LOG_LEVEL", "info"),
			File:  getEnvString("LOG_FILE", ""),
		},
		UI: UIConfig{
			StaticDir: getEnvString("UI_DIR", ""),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Executors.TranscodeCmd == "" {
		return fmt.Errorf("TRANSCODE_CMD is required")
	}
	if c.Executors.PackageCmd == "" {
		return fmt.Errorf("PACKAGE_CMD is required")
	}
	if c.Workers.TranscodeConcurrency <= 0 || c.Workers.PackageConcurrency <= 0 {
		return fmt.Errorf("worker concurrency must be positive")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment variables with default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
