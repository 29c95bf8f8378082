// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests. The pipeline
// receives a constructed Interface at run start; there is no module-level
// configuration singleton.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Verify() VerifyConfig
	Artifacts() ArtifactsConfig
	Guardrails() GuardrailsConfig

	// Verify setters (populated from CLI flags).
	SetVerifyTargetURL(string)
	SetVerifyExpectationsFile(string)
	SetArtifactsOutputDir(string)
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration. Private fields enforce
// access through the Interface's getter methods.
type Config struct {
	logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	verify     VerifyConfig     `mapstructure:"verify" yaml:"verify"`
	artifacts  ArtifactsConfig  `mapstructure:"artifacts" yaml:"artifacts"`
	guardrails GuardrailsConfig `mapstructure:"guardrails" yaml:"guardrails"`
}

// --- Interface Method Implementations ---

func (c *Config) Logger() LoggerConfig         { return c.logger }
func (c *Config) Database() DatabaseConfig     { return c.database }
func (c *Config) Browser() BrowserConfig       { return c.browser }
func (c *Config) Verify() VerifyConfig         { return c.verify }
func (c *Config) Artifacts() ArtifactsConfig   { return c.artifacts }
func (c *Config) Guardrails() GuardrailsConfig { return c.guardrails }

func (c *Config) SetVerifyTargetURL(u string)        { c.verify.TargetURL = u }
func (c *Config) SetVerifyExpectationsFile(p string) { c.verify.ExpectationsFile = p }
func (c *Config) SetArtifactsOutputDir(d string)     { c.artifacts.OutputDir = d }
func (c *Config) SetBrowserHeadless(b bool)          { c.browser.Headless = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the optional Postgres sink connection details. The
// sink is disabled when URL is empty.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	NavigationWait  time.Duration `mapstructure:"navigation_wait" yaml:"navigation_wait"`
	Args            []string      `mapstructure:"args" yaml:"args"`
}

// VerifyConfig tunes the observation-to-verdict pipeline. The durations are
// the source system's fixed constants, preserved as configurable defaults:
// no adaptive per-site calibration is attempted.
type VerifyConfig struct {
	TargetURL        string `mapstructure:"-" yaml:"-"`
	ExpectationsFile string `mapstructure:"-" yaml:"-"`

	// GlobalBudget is the wall-clock ceiling for the whole run. Checked
	// before each attempt; already-started attempts finish.
	GlobalBudget time.Duration `mapstructure:"global_budget" yaml:"global_budget"`
	// EffectWait bounds how long one interaction may wait for its promised
	// outcome to appear.
	EffectWait time.Duration `mapstructure:"effect_wait" yaml:"effect_wait"`
	// SettleDelay is the fixed pause between the action and the after-state
	// capture.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// CorrelationWindow is the closed interval after action start within
	// which a network request counts as caused by the action.
	CorrelationWindow time.Duration `mapstructure:"correlation_window" yaml:"correlation_window"`
	// AttemptsPerSecond paces interaction attempts.
	AttemptsPerSecond float64 `mapstructure:"attempts_per_second" yaml:"attempts_per_second"`
}

// ArtifactsConfig controls where and how run artifacts are persisted.
type ArtifactsConfig struct {
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	// Version is stamped into the poison marker and manifest.
	Version string `mapstructure:"version" yaml:"version"`
}

// GuardrailsConfig points at the declarative contradiction policy.
type GuardrailsConfig struct {
	PolicyFile string `mapstructure:"policy_file" yaml:"policy_file"`
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	cfg, err := NewConfigFromViper(v)
	if err != nil {
		// Cannot happen with defaults; fail loudly if it somehow does.
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "verity")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_wait", "90s")

	// -- Verify --
	v.SetDefault("verify.global_budget", "5m")
	v.SetDefault("verify.effect_wait", "3s")
	v.SetDefault("verify.settle_delay", "500ms")
	v.SetDefault("verify.correlation_window", "2500ms")
	v.SetDefault("verify.attempts_per_second", 2.0)

	// -- Artifacts --
	v.SetDefault("artifacts.output_dir", ".verity")
	v.SetDefault("artifacts.version", "0.1.0")

	// -- Guardrails --
	v.SetDefault("guardrails.policy_file", "")
}

// NewConfigFromViper creates a configuration instance from a viper object,
// rejecting invalid values at the boundary with zero side effects.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var raw struct {
		Logger     LoggerConfig     `mapstructure:"logger"`
		Database   DatabaseConfig   `mapstructure:"database"`
		Browser    BrowserConfig    `mapstructure:"browser"`
		Verify     VerifyConfig     `mapstructure:"verify"`
		Artifacts  ArtifactsConfig  `mapstructure:"artifacts"`
		Guardrails GuardrailsConfig `mapstructure:"guardrails"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg := &Config{
		logger:     raw.Logger,
		database:   raw.Database,
		browser:    raw.Browser,
		verify:     raw.Verify,
		artifacts:  raw.Artifacts,
		guardrails: raw.Guardrails,
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.verify.GlobalBudget <= 0 {
		return fmt.Errorf("verify.global_budget must be a positive duration")
	}
	if c.verify.EffectWait <= 0 {
		return fmt.Errorf("verify.effect_wait must be a positive duration")
	}
	if c.verify.SettleDelay < 0 {
		return fmt.Errorf("verify.settle_delay must not be negative")
	}
	if c.verify.CorrelationWindow <= 0 {
		return fmt.Errorf("verify.correlation_window must be a positive duration")
	}
	if c.verify.AttemptsPerSecond <= 0 {
		return fmt.Errorf("verify.attempts_per_second must be positive")
	}
	if c.artifacts.OutputDir == "" {
		return fmt.Errorf("artifacts.output_dir is a required configuration field")
	}
	return nil
}
