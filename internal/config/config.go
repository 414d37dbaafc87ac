package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/krishkpatil/CreditUdaan/internal/model"
	"github.com/krishkpatil/CreditUdaan/internal/schema"
	"github.com/krishkpatil/CreditUdaan/internal/synth"
)

// Config captures every tunable for the scoring service and the training CLI.
// Values come from built-in defaults, then an optional YAML file, then
// environment overrides, in that order.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Schema    SchemaConfig    `yaml:"schema"`
	Explainer ExplainerConfig `yaml:"explainer"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Training  TrainingConfig  `yaml:"training"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StoreConfig controls the sqlite registry.
type StoreConfig struct {
	Path   string `yaml:"path"`
	Silent bool   `yaml:"silent"`
}

// SchemaConfig controls how report validation treats unknown account type
// labels: "reject" fails the request, "bucket" folds them into other.
type SchemaConfig struct {
	AccountPolicy string `yaml:"account_policy"`
}

// ExplainerConfig configures the upstream explanation service. The API key is
// env-only so config files stay safe to commit.
type ExplainerConfig struct {
	APIKey            string  `yaml:"-"`
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	Disabled          bool    `yaml:"disabled"`
	KnowledgePath     string  `yaml:"knowledge_path"`
}

// AnalysisConfig bounds the analyze pipeline.
type AnalysisConfig struct {
	MaxConcurrent  int           `yaml:"max_concurrent"`
	MaxQueue       int           `yaml:"max_queue"`
	ExplainTimeout time.Duration `yaml:"explain_timeout"`
}

// TrainingConfig holds the defaults a training run starts from. API requests
// and CLI flags override individual fields.
type TrainingConfig struct {
	model.TrainConfig `yaml:",inline"`

	Samples     int                     `yaml:"samples"`
	EvalSamples int                     `yaml:"eval_samples"`
	Groups      synth.GroupDistribution `yaml:"groups"`
}

// LoggingConfig controls logrus level and format.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and environment overrides. An
// empty path falls back to CREDIT_CONFIG, then to pure defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CREDIT_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port: "8080",
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			},
		},
		Store:  StoreConfig{Path: "data/creditudaan.db"},
		Schema: SchemaConfig{AccountPolicy: string(schema.PolicyReject)},
		Explainer: ExplainerConfig{
			Model:             "gpt-4.1-mini",
			BaseURL:           "https://api.openai.com/v1",
			Temperature:       0.2,
			MaxTokens:         1500,
			RequestsPerMinute: 60,
		},
		Analysis: AnalysisConfig{
			MaxConcurrent:  8,
			MaxQueue:       32,
			ExplainTimeout: 20 * time.Second,
		},
		Training: TrainingConfig{
			Samples:     10000,
			EvalSamples: 2000,
			TrainConfig: model.DefaultTrainConfig(),
			Groups:      synth.DefaultDistribution(),
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Validate checks the assembled configuration is bootable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Port) == "" {
		return errors.New("server port is empty")
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return errors.New("store path is empty")
	}
	switch schema.Policy(c.Schema.AccountPolicy) {
	case schema.PolicyReject, schema.PolicyBucket:
	default:
		return fmt.Errorf("schema account_policy %q is not reject or bucket", c.Schema.AccountPolicy)
	}
	if c.Analysis.MaxConcurrent <= 0 {
		return errors.New("analysis max_concurrent must be positive")
	}
	if c.Analysis.MaxQueue <= 0 {
		return errors.New("analysis max_queue must be positive")
	}
	if c.Analysis.ExplainTimeout <= 0 {
		return errors.New("analysis explain_timeout must be positive")
	}
	if c.Training.Samples <= 0 {
		return errors.New("training samples must be positive")
	}
	if c.Training.EvalSamples <= 0 {
		return errors.New("training eval_samples must be positive")
	}
	if err := c.Training.TrainConfig.Validate(); err != nil {
		return fmt.Errorf("training: %w", err)
	}
	if err := c.Training.Groups.Validate(); err != nil {
		return fmt.Errorf("training groups: %w", err)
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging level: %w", err)
	}
	return nil
}

// Apply configures the global logrus logger from the logging section.
func (l LoggingConfig) Apply() {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if l.JSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("CREDIT_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		if len(origins) > 0 {
			cfg.Server.AllowedOrigins = origins
		}
	}
	if v := os.Getenv("CREDIT_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CREDIT_DB_SILENT"); isTruthy(v) {
		cfg.Store.Silent = true
	}
	if v := os.Getenv("CREDIT_ACCOUNT_POLICY"); v != "" {
		cfg.Schema.AccountPolicy = v
	}

	cfg.Explainer.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.Explainer.Model = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.Explainer.BaseURL = v
	}
	if v := os.Getenv("OPENAI_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Explainer.Temperature = f
		}
	}
	if v := os.Getenv("OPENAI_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Explainer.MaxTokens = n
		}
	}
	if v := os.Getenv("OPENAI_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Explainer.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("DISABLE_AI"); isTruthy(v) {
		cfg.Explainer.Disabled = true
	}
	if v := os.Getenv("CREDIT_KNOWLEDGE_PATH"); v != "" {
		cfg.Explainer.KnowledgePath = v
	}

	if v := os.Getenv("CREDIT_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.MaxConcurrent = n
		}
	}
	if v := os.Getenv("CREDIT_MAX_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.MaxQueue = n
		}
	}
	if v := os.Getenv("CREDIT_EXPLAIN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Analysis.ExplainTimeout = d
		}
	}

	if v := os.Getenv("CREDIT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CREDIT_LOG_FORMAT"); strings.EqualFold(v, "json") {
		cfg.Logging.JSON = true
	}
}

func isTruthy(v string) bool {
	v = strings.TrimSpace(v)
	return strings.EqualFold(v, "true") || v == "1"
}
