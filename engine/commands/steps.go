package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStepsCmd(cfg Config) *cobra.Command {
	return &cobra.Command{
		Use:   "steps",
		Short: "List the step kinds flows can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tVERSION\tDESCRIPTION")
			for _, def := range cfg.Registry.Definitions() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", def.Kind, def.Version, def.Description)
			}

			return w.Flush()
		},
	}
}
