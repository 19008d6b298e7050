package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/operations-runner/operations"
	"github.com/smartcontractkit/operations-runner/operations/reportstore"
)

var (
	// fileCfg is the config that is loaded from the testdata/config.yml file.
	fileCfg = &Config{
		Log: LogConfig{Level: "debug", Development: true},
		Runner: RunnerConfig{
			Indeterminate: true,
			Attempts:      3,
			ResubmitDelay: 5 * time.Second,
		},
		Reports: reportstore.Config{
			Type:   reportstore.TypeFile,
			Dir:    "./reports",
			Format: reportstore.FormatJSON,
		},
	}

	// defaultCfg is the config produced when nothing is set.
	defaultCfg = &Config{
		Log:     LogConfig{Level: "info"},
		Runner:  RunnerConfig{Attempts: 1, ResubmitDelay: time.Second},
		Reports: reportstore.Config{Type: reportstore.TypeMemory, Format: reportstore.FormatYAML},
	}

	// envVars is the environment variables that used to set the config.
	envVars = map[string]string{
		"OPRUNNER_LOG_LEVEL":             "error",
		"OPRUNNER_LOG_DEVELOPMENT":       "false",
		"OPRUNNER_RUNNER_INDETERMINATE":  "false",
		"OPRUNNER_RUNNER_ATTEMPTS":       "5",
		"OPRUNNER_RUNNER_RESUBMIT_DELAY": "1m",
		"OPRUNNER_REPORTS_TYPE":          "postgres",
		"OPRUNNER_REPORTS_DIR":           "/var/lib/oprunner",
		"OPRUNNER_REPORTS_FORMAT":        "yaml",
		"OPRUNNER_REPORTS_DSN":           "postgres://localhost/reports",
	}

	// envCfg is the config that is loaded from the environment variables.
	envCfg = &Config{
		Log:    LogConfig{Level: "error"},
		Runner: RunnerConfig{Attempts: 5, ResubmitDelay: time.Minute},
		Reports: reportstore.Config{
			Type:   reportstore.TypeSQL,
			Dir:    "/var/lib/oprunner",
			Format: reportstore.FormatYAML,
			DSN:    "postgres://localhost/reports",
		},
	}
)

func Test_Load(t *testing.T) { //nolint:paralleltest // env vars are set per test
	tests := []struct {
		name       string
		beforeFunc func(t *testing.T)
		givePath   string
		want       *Config
		wantErr    string
	}{
		{
			name:     "load from yaml file",
			givePath: "./testdata/config.yml",
			want:     fileCfg,
		},
		{
			name:     "load from toml file",
			givePath: "./testdata/config.toml",
			want: &Config{
				Log:    LogConfig{Level: "warn"},
				Runner: RunnerConfig{Attempts: 2, ResubmitDelay: 250 * time.Millisecond},
				Reports: reportstore.Config{
					Type:   reportstore.TypeSQL,
					Format: reportstore.FormatYAML,
					DSN:    "postgres://runner@localhost:5432/reports?sslmode=disable",
				},
			},
		},
		{
			name:     "load from empty file uses defaults",
			givePath: "./testdata/empty.yml",
			want:     defaultCfg,
		},
		{
			name: "override with env",
			beforeFunc: func(t *testing.T) {
				t.Helper()

				setupEnvVars(t, envVars)
			},
			givePath: "./testdata/config.yml",
			want:     envCfg,
		},
		{
			name: "fallback to env when file not found",
			beforeFunc: func(t *testing.T) {
				t.Helper()

				setupEnvVars(t, envVars)
			},
			givePath: "./testdata/invalid.yml",
			want:     envCfg,
		},
	}

	for _, tt := range tests { //nolint:paralleltest // env vars are set per test
		t.Run(tt.name, func(t *testing.T) {
			if tt.beforeFunc != nil {
				tt.beforeFunc(t)
			}

			got, err := Load(tt.givePath)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorContains(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func Test_LoadEnv(t *testing.T) { //nolint:paralleltest // env vars are set per test
	setupEnvVars(t, envVars)

	got, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, envCfg, got)
}

func Test_Config_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		give    func(c *Config)
		wantErr []string
	}{
		{
			name: "defaults are valid",
			give: func(*Config) {},
		},
		{
			name: "invalid level",
			give: func(c *Config) { c.Log.Level = "loud" },
			wantErr: []string{
				`log: unrecognized level: "loud"`,
			},
		},
		{
			name: "errors are joined",
			give: func(c *Config) {
				c.Runner.Attempts = 0
				c.Runner.ResubmitDelay = -time.Second
				c.Reports = reportstore.Config{Type: reportstore.TypeFile}
			},
			wantErr: []string{
				"attempts must be at least 1",
				"resubmit_delay must not be negative",
				"dir is required",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := *defaultCfg
			tt.give(&cfg)

			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				require.NoError(t, err)
				return
			}
			for _, msg := range tt.wantErr {
				assert.ErrorContains(t, err, msg)
			}
		})
	}
}

func Test_Config_Accessors(t *testing.T) {
	t.Parallel()

	lvl, err := fileCfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)

	assert.Equal(t,
		operations.ResubmitPolicy{MaxAttempts: 3, Delay: 5 * time.Second},
		fileCfg.Runner.ResubmitPolicy(),
	)
}

func setupEnvVars(t *testing.T, envVars map[string]string) {
	t.Helper()

	for key, value := range envVars {
		t.Setenv(key, value)
	}
}
