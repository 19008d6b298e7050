package commands

import (
	"github.com/smartcontractkit/operations-runner/engine/config"
	"github.com/smartcontractkit/operations-runner/engine/flow"
	"github.com/smartcontractkit/operations-runner/operations/reportstore"
	"github.com/smartcontractkit/operations-runner/pkg/logger"
)

// ConfigLoaderFunc loads the CLI configuration from a file path.
type ConfigLoaderFunc func(path string) (*config.Config, error)

// LoggerFactoryFunc creates the logger of a run from the CLI configuration.
type LoggerFactoryFunc func(cfg *config.Config) (logger.Logger, error)

// FlowLoaderFunc loads a flow file.
type FlowLoaderFunc func(path string) (*flow.Flow, error)

// StoreOpenerFunc opens the report store.
type StoreOpenerFunc func(cfg reportstore.Config) (reportstore.Store, error)

// defaultLoggerFactory builds a zap logger from the log section of the config.
func defaultLoggerFactory(cfg *config.Config) (logger.Logger, error) {
	lvl, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}

	lc := logger.Config{Level: lvl, Development: cfg.Log.Development}

	return lc.New()
}

// Deps holds the injectable dependencies of the commands.
// All fields are optional; nil values will use production defaults.
type Deps struct {
	// ConfigLoader loads the CLI configuration.
	// Default: config.Load
	ConfigLoader ConfigLoaderFunc

	// LoggerFactory creates the logger passed to runners.
	// Default: a zap logger configured by the log section
	LoggerFactory LoggerFactoryFunc

	// FlowLoader loads flow files.
	// Default: flow.Load
	FlowLoader FlowLoaderFunc

	// StoreOpener opens the report store.
	// Default: reportstore.Open
	StoreOpener StoreOpenerFunc
}

// applyDefaults fills in nil dependencies with production defaults.
func (d *Deps) applyDefaults() {
	if d.ConfigLoader == nil {
		d.ConfigLoader = config.Load
	}
	if d.LoggerFactory == nil {
		d.LoggerFactory = defaultLoggerFactory
	}
	if d.FlowLoader == nil {
		d.FlowLoader = flow.Load
	}
	if d.StoreOpener == nil {
		d.StoreOpener = reportstore.Open
	}
}
