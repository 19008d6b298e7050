package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/smartcontractkit/operations-runner/engine/commands/flags"
	"github.com/smartcontractkit/operations-runner/engine/commands/text"
	"github.com/smartcontractkit/operations-runner/operations"
)

var (
	reportsShort = "Inspect stored run reports"

	reportsLong = text.LongDesc(`
		Commands for reading the run reports of the configured report store.

		Reports are an audit trail of past runs. They are never used to resume a run.
	`)

	reportsListExample = text.Examples(`
		# List every stored report
		oprunner reports list

		# List the failed runs of one flow
		oprunner reports list --name provision --failed
	`)

	reportsShowExample = text.Examples(`
		# Show a report as yaml
		oprunner reports show 4f1c2a9e-3b1d-4a8e-9d55-1c1d2c3b4a5f

		# Show a report as json
		oprunner reports show 4f1c2a9e-3b1d-4a8e-9d55-1c1d2c3b4a5f -o json
	`)
)

func newReportsCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: reportsShort,
		Long:  reportsLong,
	}

	cmd.AddCommand(newReportsListCmd(cfg))
	cmd.AddCommand(newReportsShowCmd(cfg))

	return cmd
}

func newReportsListCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List run reports, oldest first",
		Example: reportsListExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name := flags.MustString(cmd.Flags().GetString("name"))
			failed := flags.MustBool(cmd.Flags().GetBool("failed"))

			return listReports(cmd, cfg, name, failed)
		},
	}

	cmd.Flags().String("name", "", "Only list reports of this flow")
	cmd.Flags().Bool("failed", false, "Only list failed runs")

	return cmd
}

func listReports(cmd *cobra.Command, cfg Config, name string, failed bool) error {
	reports, err := readReports(cmd, cfg)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTARTED\tRESULT\tCOMPLETED")
	for _, r := range reports {
		if name != "" && r.Name != name {
			continue
		}
		if failed && r.Succeeded {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Name, r.StartedAt.UTC().Format(time.RFC3339), result(r), completed(r.Statuses))
	}

	return w.Flush()
}

func newReportsShowCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "show <id>",
		Short:   "Show a run report",
		Example: reportsShowExample,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := flags.OutputFormat(cmd)
			if err != nil {
				return err
			}

			return showReport(cmd, cfg, args[0], format)
		},
	}

	flags.Output(cmd)

	return cmd
}

func showReport(cmd *cobra.Command, cfg Config, id, format string) error {
	deps := cfg.deps()

	appCfg, err := loadConfig(cmd, deps)
	if err != nil {
		return err
	}
	store, err := deps.StoreOpener(appCfg.Reports)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := store.GetReport(id)
	if err != nil {
		return fmt.Errorf("report %s: %w", id, err)
	}

	return writeReport(cmd.OutOrStdout(), report, format)
}

func readReports(cmd *cobra.Command, cfg Config) ([]operations.RunReport, error) {
	deps := cfg.deps()

	appCfg, err := loadConfig(cmd, deps)
	if err != nil {
		return nil, err
	}
	store, err := deps.StoreOpener(appCfg.Reports)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return store.GetReports()
}

func writeReport(w io.Writer, report operations.RunReport, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(report)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return err
	}

	return enc.Close()
}

func result(r operations.RunReport) string {
	if r.Succeeded {
		return "succeeded"
	}
	if r.Err != nil && r.Err.Operation != "" {
		return "failed at " + r.Err.Operation
	}

	return "failed"
}

func completed(statuses []operations.OperationStatus) string {
	done := 0
	for _, s := range statuses {
		if s.State == operations.Completed {
			done++
		}
	}

	return fmt.Sprintf("%d/%d", done, len(statuses))
}
