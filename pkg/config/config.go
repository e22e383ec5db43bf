// Package config handles configuration for xpath-healer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/xpath-healer/pkg/core"
)

// DefaultAPIKeyEnv is read for the repair service key when repair.apiKeyEnv is unset.
const DefaultAPIKeyEnv = "XPATH_HEALER_API_KEY"

// Config represents the workspace configuration (config.yaml).
type Config struct {
	LogFile  string `yaml:"logFile"`
	LogLevel string `yaml:"logLevel" validate:"omitempty,oneof=debug info warn warning error"`

	// SQLite snapshot store; defaults to <home>/data/snapshots.db
	Store string `yaml:"store"`

	Engine EngineConfig `yaml:"engine"`
	Repair RepairConfig `yaml:"repair"`
}

// EngineConfig tunes evaluation notifications and stuck-state recovery.
type EngineConfig struct {
	SoftRecovery time.Duration `yaml:"softRecovery" validate:"gte=0"`
	HardRecovery time.Duration `yaml:"hardRecovery" validate:"gte=0,gtfield=SoftRecovery"`

	FrameInterval      time.Duration `yaml:"frameInterval" validate:"gte=0"`
	HighlightsDebounce time.Duration `yaml:"highlightsDebounce" validate:"gte=0"`
	CompleteDebounce   time.Duration `yaml:"completeDebounce" validate:"gte=0"`
	DefaultDebounce    time.Duration `yaml:"defaultDebounce" validate:"gte=0"`
	RedundantWindow    time.Duration `yaml:"redundantWindow" validate:"gte=0"`
}

// RepairConfig configures the repair service client and batch runner.
type RepairConfig struct {
	Endpoint  string        `yaml:"endpoint" validate:"omitempty,url"`
	APIKeyEnv string        `yaml:"apiKeyEnv"`
	Timeout   time.Duration `yaml:"timeout" validate:"gte=0"`

	ChunkSize  int `yaml:"chunkSize" validate:"gte=0,lte=100"`
	MaxRetries int `yaml:"maxRetries" validate:"gte=-1,lte=10"` // -1 disables retries

	BaseDelay         time.Duration `yaml:"baseDelay" validate:"gte=0"`
	MaxDelay          time.Duration `yaml:"maxDelay" validate:"gte=0"`
	Concurrency       int           `yaml:"concurrency" validate:"gte=0,lte=32"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" validate:"gte=0"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Store == "" {
		c.Store = GetStorePath()
	}

	e := &c.Engine
	setDuration(&e.SoftRecovery, time.Second)
	setDuration(&e.HardRecovery, 3*time.Second)
	setDuration(&e.FrameInterval, 16*time.Millisecond)
	setDuration(&e.HighlightsDebounce, 100*time.Millisecond)
	setDuration(&e.CompleteDebounce, 50*time.Millisecond)
	setDuration(&e.DefaultDebounce, 30*time.Millisecond)
	setDuration(&e.RedundantWindow, 300*time.Millisecond)

	r := &c.Repair
	if r.APIKeyEnv == "" {
		r.APIKeyEnv = DefaultAPIKeyEnv
	}
	if r.ChunkSize == 0 {
		r.ChunkSize = 10
	}
	if r.MaxRetries == 0 {
		r.MaxRetries = 3
	}
	if r.Concurrency == 0 {
		r.Concurrency = 1
	}
	setDuration(&r.Timeout, 2*time.Minute)
	setDuration(&r.BaseDelay, time.Second)
	setDuration(&r.MaxDelay, 30*time.Second)
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validatorInstance().Struct(c); err != nil {
		return convertValidationError(err)
	}
	return nil
}

// APIKey returns the repair service key from the configured environment variable.
func (c *Config) APIKey() string {
	env := c.Repair.APIKeyEnv
	if env == "" {
		env = DefaultAPIKeyEnv
	}
	return os.Getenv(env)
}

// Load loads configuration from a file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, core.ErrInvalidConfig.WithCause(err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"config.yaml", "config.yml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found, use defaults
	return Default(), nil
}

var validate = validator.New()

func validatorInstance() *validator.Validate {
	return validate
}

func convertValidationError(err error) error {
	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := yamlishFieldName(ve)
		return core.ErrInvalidConfig.
			WithMessage(fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())).
			WithDetails(map[string]interface{}{"field": field}).
			WithCause(err)
	}
	return core.ErrInvalidConfig.WithCause(err)
}

// yamlishFieldName turns Config.Repair.ChunkSize into repair.chunkSize.
func yamlishFieldName(fe validator.FieldError) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToLower(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, ".")
}
