package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func validConfig() Config {
	cfg := Config{
		HTTP:       HTTPConfig{Port: 8080},
		Embedding:  EmbeddingConfig{Dimensions: 1024},
		Training:   TrainingConfig{ResultsRoot: "/tmp/results"},
		Governance: GovernanceConfig{RunsRoot: "/tmp/runs"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.HTTP.Port = 0 }, "http.port"},
		{"no dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }, "embedding.dimensions"},
		{"negative max norm", func(c *Config) { c.Training.MaxL2Norm = -1 }, "training.max_l2_norm"},
		{"negative hard negatives", func(c *Config) { c.Training.HardNegTopK = -1 }, "training.hard_neg_top_k"},
		{"negative cancel epsilon", func(c *Config) { eps := -0.1; c.Training.CancelOutEpsilon = &eps }, "training.cancel_out_epsilon"},
		{"negative eval k", func(c *Config) { c.Training.EvalK = -3 }, "training.eval_k"},
		{"fs without root", func(c *Config) { c.Training.ResultsRoot = "" }, "training.results_root"},
		{"kv without cache", func(c *Config) { c.Training.ResultsBackend = BackendKV }, "cache.addrs"},
		{"unknown backend", func(c *Config) { c.Training.ResultsBackend = "s3" }, "training.results_backend"},
		{"no runs root", func(c *Config) { c.Governance.RunsRoot = "" }, "governance.runs_root"},
		{"negative epsilon", func(c *Config) { c.Governance.Epsilon = -0.01 }, "governance.epsilon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %q", tt.want, err.Error())
			}
		})
	}
}

func TestValidate_KVWithCache(t *testing.T) {
	cfg := validConfig()
	cfg.Training.ResultsBackend = BackendKV
	cfg.Training.ResultsRoot = ""
	cfg.Cache.Addrs = []string{"localhost:6379"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 60 {
		t.Errorf("expected WriteTimeoutSec=60, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.HTTP.ShutdownSec != 10 {
		t.Errorf("expected ShutdownSec=10, got %d", cfg.HTTP.ShutdownSec)
	}
	if cfg.Embedding.Provider != "openai" {
		t.Errorf("expected Provider=openai, got %q", cfg.Embedding.Provider)
	}
	if cfg.Cache.KeyPrefix != "embshift:" {
		t.Errorf("expected KeyPrefix='embshift:', got %q", cfg.Cache.KeyPrefix)
	}
	if cfg.Cache.Enabled() {
		t.Error("cache must be disabled without addrs")
	}
	if cfg.Training.MaxL2Norm != 1.0 || cfg.Training.HardNegTopK != 1 {
		t.Errorf("unexpected learner defaults %+v", cfg.Training)
	}
	if cfg.Training.CancelOutEps() != 1e-3 || cfg.Training.EvalK != 3 {
		t.Errorf("unexpected training defaults %+v", cfg.Training)
	}
	if cfg.Training.ResultsBackend != BackendFS {
		t.Errorf("expected fs backend, got %q", cfg.Training.ResultsBackend)
	}
	if cfg.Governance.DefaultMetric != "ndcg@3" || cfg.Governance.HistoryLimit != 20 {
		t.Errorf("unexpected governance defaults %+v", cfg.Governance)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:       HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 5},
		Cache:      CacheConfig{KeyPrefix: "custom:"},
		Training:   TrainingConfig{MaxL2Norm: 0.5, HardNegTopK: 4, ResultsBackend: BackendKV},
		Governance: GovernanceConfig{DefaultMetric: "mrr", HistoryLimit: 3},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 30 || cfg.HTTP.WriteTimeoutSec != 5 {
		t.Errorf("http timeouts overridden: %+v", cfg.HTTP)
	}
	if cfg.Cache.KeyPrefix != "custom:" {
		t.Errorf("expected KeyPrefix='custom:', got %q", cfg.Cache.KeyPrefix)
	}
	if cfg.Training.MaxL2Norm != 0.5 || cfg.Training.HardNegTopK != 4 || cfg.Training.ResultsBackend != BackendKV {
		t.Errorf("training overridden: %+v", cfg.Training)
	}
	if cfg.Governance.DefaultMetric != "mrr" || cfg.Governance.HistoryLimit != 3 {
		t.Errorf("governance overridden: %+v", cfg.Governance)
	}
}

func TestApplyDefaults_CancelOutEpsilon(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want float64
	}{
		{"unset", "training:\n  eval_k: 3\n", 1e-3},
		{"explicit zero", "training:\n  cancel_out_epsilon: 0\n", 0},
		{"explicit value", "training:\n  cancel_out_epsilon: 0.05\n", 0.05},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			if err := yaml.Unmarshal([]byte(tt.yaml), &cfg); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			cfg.ApplyDefaults()
			if cfg.Training.CancelOutEpsilon == nil {
				t.Fatal("expected epsilon to be set after defaults")
			}
			if got := cfg.Training.CancelOutEps(); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("EMBSHIFT_TEST_KEY", "secret")

	got := string(expandEnvVars([]byte("key: ${EMBSHIFT_TEST_KEY}\nroot: ${EMBSHIFT_TEST_UNSET:-/var/runs}\nempty: ${EMBSHIFT_TEST_UNSET}")))
	want := "key: secret\nroot: /var/runs\nempty: "
	if got != want {
		t.Errorf("unexpected expansion:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestLoad_FromConfigDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	yaml := `http:
  port: 9090
embedding:
  dimensions: ${EMBSHIFT_TEST_DIM:-8}
training:
  results_root: /data/results
governance:
  runs_root: /data/runs
  epsilon: 0.02
`
	if err := os.WriteFile(filepath.Join(dir, "config", "unittest.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Chdir(dir)

	cfg, err := Load("unittest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9090 || cfg.Embedding.Dimensions != 8 || cfg.Governance.Epsilon != 0.02 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Training.ResultsBackend != BackendFS {
		t.Errorf("defaults not applied: %+v", cfg.Training)
	}
}
