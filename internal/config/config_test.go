package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CREDIT_CONFIG", "PORT", "CREDIT_ALLOWED_ORIGINS", "CREDIT_DB_PATH",
		"CREDIT_DB_SILENT", "CREDIT_ACCOUNT_POLICY", "OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL",
		"OPENAI_TEMPERATURE", "OPENAI_MAX_TOKENS", "OPENAI_RPM", "DISABLE_AI",
		"CREDIT_KNOWLEDGE_PATH", "CREDIT_MAX_CONCURRENT", "CREDIT_MAX_QUEUE",
		"CREDIT_EXPLAIN_TIMEOUT", "CREDIT_LOG_LEVEL", "CREDIT_LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Default()
	if cfg.Server.Port != want.Server.Port || cfg.Analysis.MaxConcurrent != want.Analysis.MaxConcurrent {
		t.Fatalf("defaults drifted: %+v", cfg)
	}
	if cfg.Training.Epochs != want.Training.Epochs || cfg.Training.Samples != want.Training.Samples {
		t.Fatalf("training defaults drifted: %+v", cfg.Training)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: "9999"
  allowed_origins: ["https://app.example.com"]
store:
  path: /tmp/alt.db
  silent: true
schema:
  account_policy: bucket
explainer:
  model: gpt-4o-mini
  requests_per_minute: 12
analysis:
  max_concurrent: 3
  max_queue: 5
  explain_timeout: 45s
training:
  samples: 500
  eval_samples: 100
  epochs: 20
  lambda: 0.5
  groups:
    correlation: 0.8
    shares:
      - {label: metro, weight: 0.6}
      - {label: rural, weight: 0.4}
logging:
  level: debug
  json: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9999" || len(cfg.Server.AllowedOrigins) != 1 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Store.Path != "/tmp/alt.db" || !cfg.Store.Silent {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.Schema.AccountPolicy != "bucket" {
		t.Fatalf("account policy = %q", cfg.Schema.AccountPolicy)
	}
	if cfg.Explainer.Model != "gpt-4o-mini" || cfg.Explainer.RequestsPerMinute != 12 {
		t.Fatalf("explainer = %+v", cfg.Explainer)
	}
	if cfg.Analysis.ExplainTimeout != 45*time.Second || cfg.Analysis.MaxConcurrent != 3 {
		t.Fatalf("analysis = %+v", cfg.Analysis)
	}
	if cfg.Training.Epochs != 20 || cfg.Training.Lambda != 0.5 || cfg.Training.Samples != 500 {
		t.Fatalf("training = %+v", cfg.Training)
	}
	if cfg.Training.BatchSize != Default().Training.BatchSize {
		t.Fatalf("unset training field should keep its default, got %d", cfg.Training.BatchSize)
	}
	if len(cfg.Training.Groups.Shares) != 2 || cfg.Training.Groups.Shares[0].Label != "metro" {
		t.Fatalf("groups = %+v", cfg.Training.Groups)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.JSON {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
}

func TestLoadUsesConfigEnvPath(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server:\n  port: \"7001\"\n")
	t.Setenv("CREDIT_CONFIG", path)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "7001" {
		t.Fatalf("port = %q", cfg.Server.Port)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server:\n  port: \"7001\"\nexplainer:\n  model: file-model\n")
	t.Setenv("PORT", "7002")
	t.Setenv("OPENAI_API_KEY", "  sk-test  ")
	t.Setenv("OPENAI_MODEL", "env-model")
	t.Setenv("DISABLE_AI", "true")
	t.Setenv("CREDIT_EXPLAIN_TIMEOUT", "5s")
	t.Setenv("CREDIT_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com ,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "7002" {
		t.Fatalf("port = %q", cfg.Server.Port)
	}
	if cfg.Explainer.APIKey != "sk-test" || cfg.Explainer.Model != "env-model" || !cfg.Explainer.Disabled {
		t.Fatalf("explainer = %+v", cfg.Explainer)
	}
	if cfg.Analysis.ExplainTimeout != 5*time.Second {
		t.Fatalf("timeout = %v", cfg.Analysis.ExplainTimeout)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("origins = %+v", cfg.Server.AllowedOrigins)
	}
}

func TestAPIKeyComesOnlyFromEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "explainer:\n  api_key: from-file\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Explainer.APIKey != "" {
		t.Fatalf("api key leaked from file: %q", cfg.Explainer.APIKey)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"empty port", func(c *Config) { c.Server.Port = " " }, "port"},
		{"empty store path", func(c *Config) { c.Store.Path = "" }, "store path"},
		{"bad account policy", func(c *Config) { c.Schema.AccountPolicy = "drop" }, "account_policy"},
		{"zero concurrency", func(c *Config) { c.Analysis.MaxConcurrent = 0 }, "max_concurrent"},
		{"zero queue", func(c *Config) { c.Analysis.MaxQueue = 0 }, "max_queue"},
		{"zero timeout", func(c *Config) { c.Analysis.ExplainTimeout = 0 }, "explain_timeout"},
		{"zero samples", func(c *Config) { c.Training.Samples = 0 }, "samples"},
		{"zero eval samples", func(c *Config) { c.Training.EvalSamples = 0 }, "eval_samples"},
		{"zero epochs", func(c *Config) { c.Training.Epochs = 0 }, "epochs"},
		{"bad group weight", func(c *Config) { c.Training.Groups.Shares[0].Weight = -1 }, "weight"},
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }, "logging level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}
