// Package config loads the configuration of the oprunner CLI.
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

	"github.com/smartcontractkit/operations-runner/operations"
	"github.com/smartcontractkit/operations-runner/operations/reportstore"
)

// LogConfig configures the CLI logger.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level" toml:"level"`                   // debug, info, warn or error
	Development bool   `mapstructure:"development" yaml:"development" toml:"development"` // Human readable console output
}

// RunnerConfig configures how flows are executed.
type RunnerConfig struct {
	Indeterminate bool          `mapstructure:"indeterminate" yaml:"indeterminate" toml:"indeterminate"`    // Report progress without a fraction
	Attempts      uint          `mapstructure:"attempts" yaml:"attempts" toml:"attempts"`                   // Total runs of a failing flow, including the first
	ResubmitDelay time.Duration `mapstructure:"resubmit_delay" yaml:"resubmit_delay" toml:"resubmit_delay"` // Pause between two attempts
}

// ResubmitPolicy returns the resubmission policy described by the config.
func (c RunnerConfig) ResubmitPolicy() operations.ResubmitPolicy {
	return operations.ResubmitPolicy{MaxAttempts: c.Attempts, Delay: c.ResubmitDelay}
}

// Config wraps the entire configuration of the CLI.
type Config struct {
	Log     LogConfig          `mapstructure:"log" yaml:"log" toml:"log"`
	Runner  RunnerConfig       `mapstructure:"runner" yaml:"runner" toml:"runner"`
	Reports reportstore.Config `mapstructure:"reports" yaml:"reports" toml:"reports"`
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("log: %w", err)
	}

	return lvl, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Runner.Attempts == 0 {
		errs = append(errs, errors.New("runner: attempts must be at least 1"))
	}
	if c.Runner.ResubmitDelay < 0 {
		errs = append(errs, errors.New("runner: resubmit_delay must not be negative"))
	}
	if err := c.Reports.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Load loads the config from the file path, falling back to env vars if the file does not exist.
// If the file exists, any env vars that are set will override the values loaded from the file.
// The file format is inferred from its extension (yaml, yml or toml).
func Load(filePath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(filePath)

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	// If the config file exists, we continue to read it, otherwise we fallback to using
	// environment variables
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
	v := newViper()

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg)

	return cfg, err
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("log.level", "info")
	v.SetDefault("runner.attempts", 1)
	v.SetDefault("runner.resubmit_delay", time.Second)
	v.SetDefault("reports.type", string(reportstore.TypeMemory))
	v.SetDefault("reports.format", string(reportstore.FormatYAML))

	return v
}

// envBindings maps config keys to the environment variables that can provide their value.
var envBindings = map[string][]string{
	"log.level":             {"OPRUNNER_LOG_LEVEL"},
	"log.development":       {"OPRUNNER_LOG_DEVELOPMENT"},
	"runner.indeterminate":  {"OPRUNNER_RUNNER_INDETERMINATE"},
	"runner.attempts":       {"OPRUNNER_RUNNER_ATTEMPTS"},
	"runner.resubmit_delay": {"OPRUNNER_RUNNER_RESUBMIT_DELAY"},
	"reports.type":          {"OPRUNNER_REPORTS_TYPE"},
	"reports.dir":           {"OPRUNNER_REPORTS_DIR"},
	"reports.format":        {"OPRUNNER_REPORTS_FORMAT"},
	"reports.dsn":           {"OPRUNNER_REPORTS_DSN"},
}

// bindEnvs binds the environment variables to the viper instance.
func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		// Prepend the config key to the start of the arguments
		inputs := slices.Insert(slices.Clone(envs), 0, key)

		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}

	return nil
}
