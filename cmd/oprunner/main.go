// Package main is the oprunner CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/smartcontractkit/operations-runner/engine/commands"
)

func main() {
	os.Exit(run())
}

func run() int {
	// An interrupt cancels the run context, the running step sees it and the run stops there.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, err := commands.NewRootCommand(commands.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if err := cmd.ExecuteContext(ctx); err != nil {
		return commands.ExitCode(err)
	}

	return 0
}
