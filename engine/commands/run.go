package commands

import (
	"github.com/spf13/cobra"

	"github.com/smartcontractkit/operations-runner/engine/commands/flags"
	"github.com/smartcontractkit/operations-runner/engine/commands/text"
	"github.com/smartcontractkit/operations-runner/engine/console"
	"github.com/smartcontractkit/operations-runner/operations"
	"github.com/smartcontractkit/operations-runner/pkg/logger"
)

var (
	runShort = "Run a flow file"

	runLong = text.LongDesc(`
		Runs the steps of a flow file in order.

		The run stops at the first failed step, or at the first step whose precondition is not
		met. A failed run is submitted again from the first step when more than one attempt is
		configured. Each attempt is stored as a separate report.

		The command exits with the outcome code of the failed step.
	`)

	runExample = text.Examples(`
		# Run a flow
		oprunner run -f flows/provision.yaml

		# Run a failing flow up to three times
		oprunner run -f flows/provision.yaml --attempts 3

		# Validate a flow and print its steps without running them
		oprunner run -f flows/provision.yaml --dry-run
	`)
)

type runFlags struct {
	file     string
	attempts uint
	noColor  bool
	dryRun   bool
}

func newRunCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   runShort,
		Long:    runLong,
		Example: runExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := runFlags{
				file:     flags.MustString(cmd.Flags().GetString("file")),
				attempts: flags.MustUint(cmd.Flags().GetUint("attempts")),
				noColor:  flags.MustBool(cmd.Flags().GetBool("no-color")),
				dryRun:   flags.MustBool(cmd.Flags().GetBool("dry-run")),
			}

			return runFlow(cmd, cfg, f)
		},
	}

	flags.File(cmd, "Flow file to run (yaml or toml) (required)")
	cmd.Flags().Uint("attempts", 0, "Total runs of a failing flow, overrides runner.attempts")
	cmd.Flags().Bool("no-color", false, "Disable colour output")
	cmd.Flags().Bool("dry-run", false, "Validate the flow and print its steps without running them")

	return cmd
}

func runFlow(cmd *cobra.Command, cfg Config, f runFlags) error {
	deps := cfg.deps()

	appCfg, err := loadConfig(cmd, deps)
	if err != nil {
		return err
	}

	fl, err := deps.FlowLoader(f.file)
	if err != nil {
		return err
	}

	// Building once up front reports unknown step kinds and bad params before anything runs.
	planned, err := fl.BuildSteps(cfg.Registry)
	if err != nil {
		return err
	}
	if f.dryRun {
		cmd.Printf("Flow %s: %d steps\n", fl.Name, len(planned))
		for i, s := range fl.Steps {
			cmd.Printf("%3d. %s (%s)\n", i+1, s.Name, s.Uses)
		}

		return nil
	}

	lggr, err := deps.LoggerFactory(appCfg)
	if err != nil {
		return err
	}
	defer func() { _ = lggr.Sync() }()

	store, err := deps.StoreOpener(appCfg.Reports)
	if err != nil {
		return err
	}
	defer store.Close()

	lvl, _ := appCfg.LogLevel()
	printerOpts := []console.Option{console.WithLogLevel(lvl)}
	if f.noColor {
		printerOpts = append(printerOpts, console.WithoutColor())
	}
	printer := console.NewPrinter(cmd.OutOrStdout(), printerOpts...)

	policy := appCfg.Runner.ResubmitPolicy()
	if f.attempts > 0 {
		policy.MaxAttempts = f.attempts
	}

	// Each attempt gets its own dispatcher. The previous one is drained before the next attempt
	// starts so the output of two attempts never interleaves.
	var dispatcher *operations.Dispatcher
	drain := func() {
		if dispatcher != nil {
			<-dispatcher.Done()
		}
	}

	factory := func(attempt uint) (*operations.Runner, error) {
		drain()

		steps, err := fl.BuildSteps(cfg.Registry)
		if err != nil {
			return nil, err
		}

		opts := []operations.Option{
			operations.WithName(fl.Name),
			operations.WithLogger(logger.With(lggr, "flow", fl.Name, "attempt", attempt)),
			operations.WithLogLevel(lvl),
			operations.WithReporter(store),
		}
		if appCfg.Runner.Indeterminate {
			opts = append(opts, operations.WithIndeterminate())
		}

		r := operations.New(opts...)
		if err := r.Enqueue(steps...); err != nil {
			return nil, err
		}
		if attempt > 1 {
			cmd.Printf("Attempt %d of %d\n", attempt, policy.MaxAttempts)
		}
		dispatcher = operations.DispatchTo(printer)
		r.AddObserver(dispatcher)

		return r, nil
	}

	c, err := operations.Resubmit(cmd.Context(), lggr, factory, policy)
	drain()
	if c.RunID != "" {
		cmd.Printf("Report: %s\n", c.RunID)
	}

	return err
}
