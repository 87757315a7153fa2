package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the embshift daemon configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Auth       AuthConfig       `yaml:"auth"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Cache      CacheConfig      `yaml:"cache"`
	Training   TrainingConfig   `yaml:"training"`
	Governance GovernanceConfig `yaml:"governance"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds admin API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider            string `yaml:"provider"`
	APIKey              string `yaml:"api_key"`
	BaseURL             string `yaml:"base_url"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	QueryInstruction    string `yaml:"query_instruction"`
	DocumentInstruction string `yaml:"document_instruction"`
	TimeoutSec          int    `yaml:"timeout_sec"`
}

// CacheConfig holds the valkey embedding cache. Empty Addrs disables the cache.
type CacheConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	KeyPrefix        string   `yaml:"key_prefix"`
	TTLSec           int      `yaml:"ttl_sec"` // 0 = no expiry
}

// Enabled reports whether a cache is configured.
func (c CacheConfig) Enabled() bool { return len(c.Addrs) > 0 }

const defaultCancelOutEpsilon = 1e-3

// Training result backends.
const (
	BackendFS = "fs"
	BackendKV = "kv"
)

// TrainingConfig holds learner options and where training results are stored.
type TrainingConfig struct {
	MaxL2Norm       float64 `yaml:"max_l2_norm"`
	DisableNormClip bool    `yaml:"disable_norm_clip"`
	HardNegTopK     int     `yaml:"hard_neg_top_k"`
	// CancelOutEpsilon is nil when unset; an explicit 0 disables the cancel-out gate.
	CancelOutEpsilon *float64 `yaml:"cancel_out_epsilon"`
	EvalK            int      `yaml:"eval_k"`
	ResultsRoot      string   `yaml:"results_root"`
	ResultsBackend   string   `yaml:"results_backend"` // fs (default) | kv
	Debug            bool     `yaml:"debug"`
}

// CancelOutEps returns the configured cancel-out threshold, or the default when unset.
func (c TrainingConfig) CancelOutEps() float64 {
	if c.CancelOutEpsilon == nil {
		return defaultCancelOutEpsilon
	}
	return *c.CancelOutEpsilon
}

// GovernanceConfig holds run discovery and promotion settings.
type GovernanceConfig struct {
	RunsRoot      string  `yaml:"runs_root"`
	DefaultMetric string  `yaml:"default_metric"`
	Epsilon       float64 `yaml:"epsilon"`
	HistoryLimit  int     `yaml:"history_limit"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// .env is optional; variables already set win
	_ = godotenv.Load()

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
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 30
	}
	if c.Cache.ReadinessTimeout <= 0 {
		c.Cache.ReadinessTimeout = 10
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "embshift:"
	}
	if c.Training.MaxL2Norm == 0 {
		c.Training.MaxL2Norm = 1.0
	}
	if c.Training.HardNegTopK == 0 {
		c.Training.HardNegTopK = 1
	}
	if c.Training.CancelOutEpsilon == nil {
		eps := defaultCancelOutEpsilon
		c.Training.CancelOutEpsilon = &eps
	}
	if c.Training.EvalK == 0 {
		c.Training.EvalK = 3
	}
	if c.Training.ResultsBackend == "" {
		c.Training.ResultsBackend = BackendFS
	}
	if c.Governance.DefaultMetric == "" {
		c.Governance.DefaultMetric = "ndcg@3"
	}
	if c.Governance.HistoryLimit <= 0 {
		c.Governance.HistoryLimit = 20
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Training.MaxL2Norm < 0 {
		return fmt.Errorf("training.max_l2_norm must be positive, got %g", c.Training.MaxL2Norm)
	}
	if c.Training.HardNegTopK < 0 {
		return fmt.Errorf("training.hard_neg_top_k must be positive, got %d", c.Training.HardNegTopK)
	}
	if eps := c.Training.CancelOutEps(); eps < 0 {
		return fmt.Errorf("training.cancel_out_epsilon must not be negative, got %g", eps)
	}
	if c.Training.EvalK < 0 {
		return fmt.Errorf("training.eval_k must be positive, got %d", c.Training.EvalK)
	}
	switch c.Training.ResultsBackend {
	case BackendFS:
		if c.Training.ResultsRoot == "" {
			return fmt.Errorf("training.results_root is required for the fs backend")
		}
	case BackendKV:
		if !c.Cache.Enabled() {
			return fmt.Errorf("training.results_backend kv requires cache.addrs")
		}
	default:
		return fmt.Errorf("training.results_backend must be %q or %q, got %q",
			BackendFS, BackendKV, c.Training.ResultsBackend)
	}
	if c.Governance.RunsRoot == "" {
		return fmt.Errorf("governance.runs_root is required")
	}
	if c.Governance.Epsilon < 0 {
		return fmt.Errorf("governance.epsilon must not be negative, got %g", c.Governance.Epsilon)
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
