// Package flags provides the flags shared by the oprunner commands.
//
// Command-specific flags are defined next to the command that uses them.
package flags

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// DefaultConfigFile is the config file read when --config is not given.
const DefaultConfigFile = "oprunner.yaml"

// OutputFormats lists the values accepted by --output.
var OutputFormats = []string{"yaml", "json"}

// MustString returns the string value, ignoring the error.
// Safe to use with registered flags where GetString cannot fail.
func MustString(s string, _ error) string { return s }

// MustBool returns the bool value, ignoring the error.
// Safe to use with registered flags where GetBool cannot fail.
func MustBool(b bool, _ error) bool { return b }

// MustUint returns the uint value, ignoring the error.
// Safe to use with registered flags where GetUint cannot fail.
func MustUint(u uint, _ error) uint { return u }

// Config adds the persistent --config/-c flag to a command. A missing file is not an error, the
// config is then read from the environment.
func Config(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("config", "c", DefaultConfigFile, "Config file (yaml or toml)")
}

// File adds the required --file/-f flag to a command.
func File(cmd *cobra.Command, usage string) {
	cmd.Flags().StringP("file", "f", "", usage)
	_ = cmd.MarkFlagRequired("file")
}

// Output adds the --output/-o flag selecting the format of printed documents.
// Retrieve the value with OutputFormat.
func Output(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", OutputFormats[0], fmt.Sprintf("Output format %v", OutputFormats))
}

// OutputFormat returns the validated value of the --output flag.
func OutputFormat(cmd *cobra.Command) (string, error) {
	format := MustString(cmd.Flags().GetString("output"))
	if !slices.Contains(OutputFormats, format) {
		return "", fmt.Errorf("unsupported output format %q, expected one of %v", format, OutputFormats)
	}

	return format, nil
}
