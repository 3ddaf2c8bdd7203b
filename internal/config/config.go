package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the recall daemon configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Cache     CacheConfig     `yaml:"cache"`
	Retry     RetryConfig     `yaml:"retry"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // valkey, redis (default: valkey)
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // openai (default)
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
}

// IndexConfig holds index schema and HNSW settings.
type IndexConfig struct {
	Name            string   `yaml:"name"`
	KeyPrefix       string   `yaml:"key_prefix"`
	VectorDim       int      `yaml:"vector_dim"`
	FilterFields    []string `yaml:"filter_fields"`
	HNSWM           int      `yaml:"hnsw_m"`
	HNSWEFConstruct int      `yaml:"hnsw_ef_construction"`
}

// CacheConfig holds cache capacities.
type CacheConfig struct {
	QueryCapacity int `yaml:"query_capacity"`
	ModelCapacity int `yaml:"model_capacity"`
}

// RetryConfig holds retry policy settings.
type RetryConfig struct {
	MaxAttempts   int     `yaml:"max_attempts"`
	InitialWaitMS int     `yaml:"initial_wait_ms"`
	MaxWaitMS     int     `yaml:"max_wait_ms"`
	Multiplier    float64 `yaml:"multiplier"`
}

// RerankConfig holds reranking pipeline settings.
type RerankConfig struct {
	Stages    []string `yaml:"stages"` // "relevance", "diversity"
	Model     string   `yaml:"model"`
	BatchSize int      `yaml:"batch_size"`
	Diversity float64  `yaml:"diversity"` // MMR lambda in [0,1]
}

// HeartbeatConfig holds background maintenance settings.
type HeartbeatConfig struct {
	IntervalSec  int      `yaml:"interval_sec"`
	WatchDirs    []string `yaml:"watch_dirs"`
	ManifestPath string   `yaml:"manifest_path"`
	WarmQueries  []string `yaml:"warm_queries"`
}

// Interval returns the heartbeat interval as a duration.
func (h HeartbeatConfig) Interval() time.Duration {
	return time.Duration(h.IntervalSec) * time.Second
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "valkey"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1536
	}
	if c.Index.Name == "" {
		c.Index.Name = "recall_idx"
	}
	if c.Index.KeyPrefix == "" {
		c.Index.KeyPrefix = "recall:doc:"
	}
	if c.Index.VectorDim <= 0 {
		c.Index.VectorDim = c.Embedding.Dimensions
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 32
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 400
	}
	if c.Cache.QueryCapacity <= 0 {
		c.Cache.QueryCapacity = 512
	}
	if c.Cache.ModelCapacity <= 0 {
		c.Cache.ModelCapacity = 2
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialWaitMS <= 0 {
		c.Retry.InitialWaitMS = 100
	}
	if c.Retry.MaxWaitMS <= 0 {
		c.Retry.MaxWaitMS = 2000
	}
	if c.Retry.Multiplier <= 1 {
		c.Retry.Multiplier = 2
	}
	if len(c.Rerank.Stages) == 0 {
		c.Rerank.Stages = []string{"relevance", "diversity"}
	}
	if c.Rerank.Model == "" {
		c.Rerank.Model = c.Embedding.Model
	}
	if c.Rerank.BatchSize <= 0 {
		c.Rerank.BatchSize = 32
	}
	if c.Rerank.Diversity <= 0 {
		c.Rerank.Diversity = 0.3
	}
	if c.Heartbeat.IntervalSec <= 0 {
		c.Heartbeat.IntervalSec = 60
	}
	if c.Heartbeat.ManifestPath == "" {
		c.Heartbeat.ManifestPath = "data/manifest.json"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	switch c.Database.Driver {
	case "valkey", "redis":
	default:
		return fmt.Errorf("database.driver must be \"valkey\" or \"redis\", got %q", c.Database.Driver)
	}
	if c.Heartbeat.IntervalSec < 10 {
		return fmt.Errorf("heartbeat.interval_sec must be at least 10, got %d", c.Heartbeat.IntervalSec)
	}
	if c.Rerank.Diversity < 0 || c.Rerank.Diversity > 1 {
		return fmt.Errorf("rerank.diversity must be in [0,1], got %g", c.Rerank.Diversity)
	}
	for _, stage := range c.Rerank.Stages {
		switch stage {
		case "relevance", "diversity":
		default:
			return fmt.Errorf("rerank.stages entry must be \"relevance\" or \"diversity\", got %q", stage)
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
