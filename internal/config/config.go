package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv      = "CONTENTFORGE_CONFIG"
	databasePathEnv    = "CONTENTFORGE_DB_PATH"
	listenAddrEnv      = "CONTENTFORGE_ADDR"
	primaryAPIKeyEnv   = "CONTENTFORGE_PRIMARY_API_KEY"
	secondaryAPIKeyEnv = "CONTENTFORGE_SECONDARY_API_KEY"
	keywordAPIKeyEnv   = "CONTENTFORGE_KEYWORD_API_KEY"
	logLevelEnv        = "CONTENTFORGE_LOG_LEVEL"
)

// Config holds high-level settings required across the service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Queue     QueueConfig     `yaml:"queue"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Providers ProvidersConfig `yaml:"providers"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig describes the SQLite job store location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig bounds worker concurrency, dispatch rate and retries.
// Workers, DispatchIntervalMs and MaxAttempts are hot-reloadable.
type QueueConfig struct {
	Workers            int `yaml:"workers"`
	DispatchIntervalMs int `yaml:"dispatch_interval_ms"`
	MaxAttempts        int `yaml:"max_attempts"`
	RetryBackoffSec    int `yaml:"retry_backoff_sec"`
	LeaseSec           int `yaml:"lease_sec"`
	JobDeadlineMin     int `yaml:"job_deadline_min"`
}

// PipelineConfig bounds individual stage execution.
type PipelineConfig struct {
	StageMaxAttempts int `yaml:"stage_max_attempts"`
	StageBackoffMs   int `yaml:"stage_backoff_ms"`
	StageTimeoutSec  int `yaml:"stage_timeout_sec"`
	CallTimeoutSec   int `yaml:"call_timeout_sec"`
}

// ProvidersConfig groups all outbound collaborator endpoints.
type ProvidersConfig struct {
	Primary   GeneratorConfig `yaml:"primary"`
	Secondary GeneratorConfig `yaml:"secondary"`
	Keywords  EndpointConfig  `yaml:"keywords"`
	Entities  EndpointConfig  `yaml:"entities"`
	Citations EndpointConfig  `yaml:"citations"`
}

// GeneratorConfig defines how to contact one generation backend
// (OpenAI-compatible chat completion API).
type GeneratorConfig struct {
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"apiKey"`
}

// EndpointConfig is a plain URL+key pair for enrichment providers.
type EndpointConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"apiKey"`
}

// LoggingConfig selects the slog level for the service edge.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads YAML configuration (if present) and applies environment
// overrides on top of defaults.
func Load() Config {
	cfg := Default()

	path := os.Getenv(configPathEnv)
	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			cfg = Default()
		}
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	return cfg
}

// LoadFile parses one YAML config file over defaults. Used by the
// reload watcher.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyEnvOverrides()
	cfg.normalize()
	return cfg, nil
}

// Path returns the configured YAML file path, empty when unset.
func Path() string {
	return os.Getenv(configPathEnv)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(listenAddrEnv); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(primaryAPIKeyEnv); v != "" {
		c.Providers.Primary.APIKey = v
	}
	if v := os.Getenv(secondaryAPIKeyEnv); v != "" {
		c.Providers.Secondary.APIKey = v
	}
	if v := os.Getenv(keywordAPIKeyEnv); v != "" {
		c.Providers.Keywords.APIKey = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) normalize() {
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = Default().Queue.Workers
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = Default().Queue.MaxAttempts
	}
	if c.Queue.RetryBackoffSec <= 0 {
		c.Queue.RetryBackoffSec = Default().Queue.RetryBackoffSec
	}
	if c.Queue.LeaseSec <= 0 {
		c.Queue.LeaseSec = Default().Queue.LeaseSec
	}
	if c.Queue.JobDeadlineMin <= 0 {
		c.Queue.JobDeadlineMin = Default().Queue.JobDeadlineMin
	}
	if c.Pipeline.StageMaxAttempts <= 0 {
		c.Pipeline.StageMaxAttempts = Default().Pipeline.StageMaxAttempts
	}
	if c.Pipeline.StageBackoffMs <= 0 {
		c.Pipeline.StageBackoffMs = Default().Pipeline.StageBackoffMs
	}
	if c.Pipeline.StageTimeoutSec <= 0 {
		c.Pipeline.StageTimeoutSec = Default().Pipeline.StageTimeoutSec
	}
	if c.Pipeline.CallTimeoutSec <= 0 {
		c.Pipeline.CallTimeoutSec = Default().Pipeline.CallTimeoutSec
	}
}

// StageTimeout returns the per-stage deadline as a duration.
func (c PipelineConfig) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSec) * time.Second
}

// CallTimeout returns the per-provider-call deadline as a duration.
func (c PipelineConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSec) * time.Second
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8090"},
		Database: DatabaseConfig{Path: "contentforge.db"},
		Queue: QueueConfig{
			Workers:            4,
			DispatchIntervalMs: 200,
			MaxAttempts:        3,
			RetryBackoffSec:    5,
			LeaseSec:           600,
			JobDeadlineMin:     20,
		},
		Pipeline: PipelineConfig{
			StageMaxAttempts: 3,
			StageBackoffMs:   500,
			StageTimeoutSec:  120,
			CallTimeoutSec:   60,
		},
		Providers: ProvidersConfig{
			Primary: GeneratorConfig{
				Endpoint: "https://api.openai.com/v1/chat/completions",
				Model:    "gpt-4o",
			},
			Secondary: GeneratorConfig{
				Endpoint: "https://api.anthropic.com/v1/chat/completions",
				Model:    "claude-sonnet",
			},
			Keywords:  EndpointConfig{URL: "https://api.example.org/keywords"},
			Entities:  EndpointConfig{URL: "https://api.example.org/entities"},
			Citations: EndpointConfig{URL: "https://api.example.org/citations"},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}
