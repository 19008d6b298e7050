// Package commands provides the cobra commands of the oprunner CLI.
//
// The root command is built from a Config. Every field is optional, the Deps allow tests and
// embedding programs to replace how configuration, loggers, flows and report stores are loaded:
//
//	cmd, err := commands.NewRootCommand(commands.Config{
//	    Registry: myRegistry, // built-in steps plus custom kinds
//	})
//	if err != nil {
//	    return err
//	}
//	return cmd.ExecuteContext(ctx)
package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/smartcontractkit/operations-runner/engine/commands/flags"
	"github.com/smartcontractkit/operations-runner/engine/commands/text"
	"github.com/smartcontractkit/operations-runner/engine/config"
	"github.com/smartcontractkit/operations-runner/engine/steps"
	"github.com/smartcontractkit/operations-runner/operations"
)

var (
	rootShort = "Run operation flows"

	rootLong = text.LongDesc(`
		oprunner executes the steps of a flow file one after another and stops at the first failure.

		Every run is recorded as a report in the configured report store. The config file is
		optional, settings can also be provided with OPRUNNER_* environment variables.
	`)
)

// Config holds the configuration of the root command.
type Config struct {
	// Registry holds the step kinds flows can use. Defaults to a registry with the built-in steps.
	Registry *operations.OperationRegistry

	// Deps holds optional dependencies that can be overridden.
	// If fields are nil, production defaults are used.
	Deps Deps
}

// deps returns the Deps with defaults applied.
func (c *Config) deps() *Deps {
	c.Deps.applyDefaults()

	return &c.Deps
}

// NewRootCommand creates the oprunner command with all subcommands.
func NewRootCommand(cfg Config) (*cobra.Command, error) {
	if cfg.Registry == nil {
		cfg.Registry = operations.NewOperationRegistry()
		if err := steps.Register(cfg.Registry); err != nil {
			return nil, err
		}
	}

	cfg.deps()

	cmd := &cobra.Command{
		Use:          "oprunner",
		Short:        rootShort,
		Long:         rootLong,
		SilenceUsage: true,
	}
	flags.Config(cmd)

	cmd.AddCommand(newRunCmd(cfg))
	cmd.AddCommand(newReportsCmd(cfg))
	cmd.AddCommand(newStepsCmd(cfg))

	return cmd, nil
}

// ExitCode returns the process exit status for an error returned by the root command.
// A failed run exits with the outcome code of the failed operation and a cancelled command with
// OutcomeCancelled, anything else with 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return operations.OutcomeCancelled
	}
	if !errors.Is(err, operations.ErrRunFailed) {
		return 1
	}

	// codes above 125 are reserved by shells
	code := operations.OutcomeCode(err)
	if code < 1 || code > 125 {
		return 1
	}

	return code
}

// loadConfig loads and validates the file named by the --config flag.
func loadConfig(cmd *cobra.Command, deps *Deps) (*config.Config, error) {
	path := flags.MustString(cmd.Flags().GetString("config"))

	cfg, err := deps.ConfigLoader(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
