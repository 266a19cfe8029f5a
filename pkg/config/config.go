// Package config provides configuration file support for docsage.
// It handles loading, validation, and environment variable
// interpolation for docsage.yaml configuration files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the full docsage configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Rerank    RerankConfig    `mapstructure:"rerank"`
	Retriever RetrieverConfig `mapstructure:"retriever"`
	Redis     RedisConfig     `mapstructure:"redis"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Costs     CostsConfig     `mapstructure:"costs"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EmbeddingConfig holds embedding sidecar settings.
type EmbeddingConfig struct {
	URL          string        `mapstructure:"url"`
	BatchSize    int           `mapstructure:"batch_size"`
	CacheSize    int           `mapstructure:"cache_size"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	TimeoutBasis time.Duration `mapstructure:"timeout"`
}

// RerankConfig holds reranker sidecar settings.
type RerankConfig struct {
	URL  string `mapstructure:"url"`
	TopK int    `mapstructure:"top_k"`
}

// RetrieverConfig holds vector DB settings.
type RetrieverConfig struct {
	Host       string `mapstructure:"host"`
	GRPCPort   int    `mapstructure:"grpc_port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
	TopK       int    `mapstructure:"top_k"`
}

// RedisConfig holds job store settings. URL takes precedence over the
// host/port/db triple.
type RedisConfig struct {
	URL  string `mapstructure:"url"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	DB   int    `mapstructure:"db"`
}

// ProviderConfig holds one chat provider's settings.
type ProviderConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	URL      string `mapstructure:"url"`
}

// LLMConfig holds the provider pair and breaker settings.
type LLMConfig struct {
	Primary          ProviderConfig `mapstructure:"primary"`
	Fallback         ProviderConfig `mapstructure:"fallback"`
	FailureThreshold int            `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration  `mapstructure:"open_timeout"`
}

// JobsConfig holds worker pool settings.
type JobsConfig struct {
	Parallelism     int    `mapstructure:"parallelism"`
	SharedUploadDir string `mapstructure:"shared_upload_dir"`
}

// CostsConfig holds session cost tracker settings.
type CostsConfig struct {
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Insecure   bool    `mapstructure:"insecure"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8000,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 300 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Embedding: EmbeddingConfig{
			URL:       "http://localhost:8080",
			BatchSize: 16,
			CacheSize: 1000,
			CacheTTL:  time.Hour,
		},
		Rerank: RerankConfig{
			URL:  "http://localhost:8081",
			TopK: 3,
		},
		Retriever: RetrieverConfig{
			Host:       "localhost",
			GRPCPort:   6334,
			Collection: "documents",
			TopK:       20,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
			DB:   0,
		},
		LLM: LLMConfig{
			Primary: ProviderConfig{
				Provider: "mistral",
				Model:    "mistral-small-latest",
			},
			Fallback: ProviderConfig{
				Provider: "ollama",
				Model:    "llama3.2",
				URL:      "http://localhost:11434",
			},
			FailureThreshold: 3,
			OpenTimeout:      60 * time.Second,
		},
		Jobs: JobsConfig{
			Parallelism:     2,
			SharedUploadDir: "/tmp/docsage-uploads",
		},
		Costs: CostsConfig{
			SessionTTL: 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "otlp",
				Endpoint:   "localhost:4317",
				SampleRate: 1.0,
				Insecure:   true,
			},
		},
	}
}

// Load reads configuration from the given viper instance and returns
// a validated Config. Environment variables in string values are
// interpolated using ${VAR} syntax, then the recognized process
// environment variables are applied on top.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	interpolateConfig(cfg)
	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile reads a specific config file and returns a validated Config.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Load(v)
}

// Validate checks the configuration for errors and returns a
// descriptive error if any field is invalid.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port: must be between 0 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, "server.read_timeout: must be non-negative")
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, "server.write_timeout: must be non-negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level: unsupported level %q (supported: debug, info, warn, error)", cfg.Logging.Level))
	}

	if cfg.Embedding.URL == "" {
		errs = append(errs, "embedding.url: must be set")
	}
	if cfg.Embedding.BatchSize < 0 {
		errs = append(errs, "embedding.batch_size: must be non-negative")
	}

	if cfg.Retriever.Host == "" {
		errs = append(errs, "retriever.host: must be set")
	}
	if cfg.Retriever.TopK < 0 {
		errs = append(errs, "retriever.top_k: must be non-negative")
	}

	validProviders := map[string]bool{"mistral": true, "ollama": true, "": true}
	if !validProviders[cfg.LLM.Primary.Provider] {
		errs = append(errs, fmt.Sprintf("llm.primary.provider: unsupported provider %q (supported: mistral, ollama)", cfg.LLM.Primary.Provider))
	}
	if !validProviders[cfg.LLM.Fallback.Provider] {
		errs = append(errs, fmt.Sprintf("llm.fallback.provider: unsupported provider %q (supported: mistral, ollama)", cfg.LLM.Fallback.Provider))
	}
	if cfg.LLM.FailureThreshold < 0 {
		errs = append(errs, "llm.failure_threshold: must be non-negative")
	}

	if cfg.Jobs.Parallelism < 0 {
		errs = append(errs, "jobs.parallelism: must be non-negative")
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true, "": true}
	if !validExporters[cfg.Telemetry.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.exporter: unsupported exporter %q (supported: otlp, stdout, none)", cfg.Telemetry.Tracing.Exporter))
	}
	if cfg.Telemetry.Tracing.SampleRate < 0 || cfg.Telemetry.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.sample_rate: must be between 0 and 1, got %f", cfg.Telemetry.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnv replaces ${VAR} and ${VAR:-default} patterns in a
// string with the corresponding environment variable values.
func InterpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		if defaultVal != "" {
			return defaultVal
		}
		return match
	})
}

// interpolateConfig applies environment variable interpolation to all
// string fields in the config.
func interpolateConfig(cfg *Config) {
	cfg.Server.Host = InterpolateEnv(cfg.Server.Host)
	cfg.Embedding.URL = InterpolateEnv(cfg.Embedding.URL)
	cfg.Rerank.URL = InterpolateEnv(cfg.Rerank.URL)
	cfg.Retriever.Host = InterpolateEnv(cfg.Retriever.Host)
	cfg.Retriever.Collection = InterpolateEnv(cfg.Retriever.Collection)
	cfg.Retriever.APIKey = InterpolateEnv(cfg.Retriever.APIKey)
	cfg.Redis.URL = InterpolateEnv(cfg.Redis.URL)
	cfg.Redis.Host = InterpolateEnv(cfg.Redis.Host)
	cfg.LLM.Primary.APIKey = InterpolateEnv(cfg.LLM.Primary.APIKey)
	cfg.LLM.Primary.Model = InterpolateEnv(cfg.LLM.Primary.Model)
	cfg.LLM.Primary.URL = InterpolateEnv(cfg.LLM.Primary.URL)
	cfg.LLM.Fallback.APIKey = InterpolateEnv(cfg.LLM.Fallback.APIKey)
	cfg.LLM.Fallback.Model = InterpolateEnv(cfg.LLM.Fallback.Model)
	cfg.LLM.Fallback.URL = InterpolateEnv(cfg.LLM.Fallback.URL)
	cfg.Jobs.SharedUploadDir = InterpolateEnv(cfg.Jobs.SharedUploadDir)
	cfg.Telemetry.Tracing.Exporter = InterpolateEnv(cfg.Telemetry.Tracing.Exporter)
	cfg.Telemetry.Tracing.Endpoint = InterpolateEnv(cfg.Telemetry.Tracing.Endpoint)
}

// applyEnv overlays the recognized process environment variables onto
// the config. These take precedence over file values.
func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			*dst = val
		}
	}
	setInt := func(dst *int, key string) {
		if val, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(val); err == nil {
				*dst = n
			}
		}
	}

	setString(&cfg.LLM.Primary.Provider, "P_PROVIDER")
	setString(&cfg.LLM.Primary.APIKey, "P_API_KEY")
	setString(&cfg.LLM.Primary.Model, "P_MODEL")
	setString(&cfg.LLM.Primary.URL, "P_URL")
	setString(&cfg.LLM.Fallback.Provider, "F_PROVIDER")
	setString(&cfg.LLM.Fallback.APIKey, "F_API_KEY")
	setString(&cfg.LLM.Fallback.Model, "F_MODEL")
	setString(&cfg.LLM.Fallback.URL, "F_URL")

	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Redis.Host, "REDIS_HOST")
	setInt(&cfg.Redis.Port, "REDIS_PORT")
	setInt(&cfg.Redis.DB, "REDIS_DB")

	setString(&cfg.Retriever.Host, "QDRANT_HOST")
	setInt(&cfg.Retriever.GRPCPort, "QDRANT_PORT")

	setString(&cfg.Embedding.URL, "EMBEDDING_URL")
	setString(&cfg.Rerank.URL, "RERANK_URL")
	setString(&cfg.Jobs.SharedUploadDir, "SHARED_UPLOAD_DIR")
}

// GenerateTemplate returns a YAML template string with all available
// configuration options and their defaults, suitable for writing to
// a docsage.yaml file.
func GenerateTemplate() string {
	return `# docsage configuration

server:
  port: 8000
  host: 0.0.0.0
  read_timeout: 30s
  write_timeout: 300s

logging:
  level: info          # debug, info, warn, error
  format: json         # json or console

embedding:
  url: ${EMBEDDING_URL:-http://localhost:8080}
  batch_size: 16
  cache_size: 1000
  cache_ttl: 1h

rerank:
  url: ${RERANK_URL:-http://localhost:8081}
  top_k: 3

retriever:
  host: ${QDRANT_HOST:-localhost}
  grpc_port: 6334
  collection: documents
  api_key: ""
  use_tls: false
  top_k: 20

redis:
  url: ${REDIS_URL:-}
  host: ${REDIS_HOST:-localhost}
  port: 6379
  db: 0

llm:
  primary:
    provider: mistral
    api_key: ${P_API_KEY:-}
    model: ${P_MODEL:-mistral-small-latest}
    url: ${P_URL:-}
  fallback:
    provider: ollama
    model: ${F_MODEL:-llama3.2}
    url: ${F_URL:-http://localhost:11434}
  failure_threshold: 3
  open_timeout: 60s

jobs:
  parallelism: 2
  shared_upload_dir: ${SHARED_UPLOAD_DIR:-/tmp/docsage-uploads}

costs:
  session_ttl: 24h

telemetry:
  tracing:
    enabled: false
    exporter: otlp       # otlp, stdout, or none
    endpoint: localhost:4317
    sample_rate: 1.0     # 0.0 to 1.0
    insecure: true
`
}
