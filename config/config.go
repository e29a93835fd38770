// Package config loads the runtime configuration for the entitykit engine
// from YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/entitykit/entitykit/rules"
)

// LogConfig is the configuration for the engine logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"` // Zap level name (debug, info, warn, error)
}

// RulesConfig is the configuration for rule execution.
type RulesConfig struct {
	MaxCascadeRuns int           `mapstructure:"max_cascade_runs" yaml:"max_cascade_runs"` // Rule runs allowed per cascade; 0 disables the cap
	RunTimeout     time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`           // Upper bound for one rule run; 0 means unbounded
}

// FactoryConfig is the configuration for factory calls.
type FactoryConfig struct {
	RetryEnabled  bool `mapstructure:"retry_enabled" yaml:"retry_enabled"`   // Enables the retry for factory operations
	RetryAttempts uint `mapstructure:"retry_attempts" yaml:"retry_attempts"` // Attempts per factory operation when the retry is enabled
}

// StoreConfig is the configuration for the snapshot store.
type StoreConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"` // Postgres DSN; blank selects the in-memory store
}

// Config wraps the entire configuration for the entitykit engine.
type Config struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Rules   RulesConfig   `mapstructure:"rules" yaml:"rules"`
	Factory FactoryConfig `mapstructure:"factory" yaml:"factory"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
}

// DefaultConfig returns the configuration the engine runs with when no file
// or environment overrides are present.
func DefaultConfig() *Config {
	return &Config{
		Log:   LogConfig{Level: "info"},
		Rules: RulesConfig{MaxCascadeRuns: rules.DefaultMaxCascadeRuns},
		Factory: FactoryConfig{
			RetryEnabled:  false,
			RetryAttempts: 10,
		},
	}
}

// Validate checks the configuration for values the engine cannot run with.
// Errors name the offending field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Log.Level != "" {
		if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
			errs = append(errs, fmt.Errorf("log.level: %w", err))
		}
	}
	if c.Rules.MaxCascadeRuns < 0 {
		errs = append(errs, errors.New("rules.max_cascade_runs: must not be negative"))
	}
	if c.Rules.RunTimeout < 0 {
		errs = append(errs, errors.New("rules.run_timeout: must not be negative"))
	}
	if c.Factory.RetryEnabled && c.Factory.RetryAttempts == 0 {
		errs = append(errs, errors.New("factory.retry_attempts: must be positive when the retry is enabled"))
	}

	return errors.Join(errs...)
}

// Load loads the config from the file path, falling back to env vars if the
// file does not exist. If the file exists, any env vars that are set will
// override the values loaded from the file.
func Load(filePath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filePath)

	// Bind environment variables
	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	// If the config file exists, we continue to read it, otherwise we fallback
	// to using environment variables
	if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg)

	return cfg, err
}

// LoadEnv loads the config from the environment variables.
func LoadEnv() (*Config, error) {
	v := viper.New()

	// Bind environment variables
	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg)

	return cfg, err
}

// LoadFile loads the config from a file.
func LoadFile(filePath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filePath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg)

	return cfg, err
}

var (
	// envBindings defines how environment variables map to configuration keys
	// used by Viper. Each entry maps a config key (as used in the struct, e.g.
	// "store.dsn") to a list of environment variable names that can provide
	// its value.
	//
	// The first element is the preferred name; later elements are alternate
	// names honored for compatibility with common conventions. Viper checks
	// each listed variable in order and uses the first one that is set.
	envBindings = map[string][]string{
		"log.level":              {"ENTITYKIT_LOG_LEVEL"},
		"rules.max_cascade_runs": {"ENTITYKIT_RULES_MAX_CASCADE_RUNS"},
		"rules.run_timeout":      {"ENTITYKIT_RULES_RUN_TIMEOUT"},
		"factory.retry_enabled":  {"ENTITYKIT_FACTORY_RETRY_ENABLED"},
		"factory.retry_attempts": {"ENTITYKIT_FACTORY_RETRY_ATTEMPTS"},
		"store.dsn":              {"ENTITYKIT_STORE_DSN", "DATABASE_URL"},
	}
)

// bindEnvs binds the environment variables to the viper instance.
func bindEnvs(v *viper.Viper) error {
	// Bind environment variables mappings to the viper instance
	for key, envs := range envBindings {
		// Prepend the env key to the start of the arguments
		inputs := slices.Insert(envs, 0, key)

		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}

	return nil
}
