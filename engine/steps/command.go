package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/smartcontractkit/operations-runner/operations"
)

// CommandParams are the params of a command step.
type CommandParams struct {
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Dir     string            `mapstructure:"dir"`
	Env     map[string]string `mapstructure:"env"`
	Timeout time.Duration     `mapstructure:"timeout"`
	// ExpectOutput fails the step when stdout does not contain it.
	ExpectOutput string `mapstructure:"expect_output"`
}

// CommandResult is the result of a command step.
type CommandResult struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

func newCommandFactory() operations.StepFactory {
	return func(name string, params map[string]any) (operations.Step, error) {
		var p CommandParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Command == "" {
			return nil, errors.New("command is required")
		}

		return NewCommand(name, p), nil
	}
}

// NewCommand creates a step running a process.
// A non-zero exit status fails the step with the exit status as outcome code.
func NewCommand(name string, p CommandParams) *operations.Operation[CommandResult] {
	return operations.NewOperation(name, func(ctx context.Context, rc *operations.RunContext) (CommandResult, error) {
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, p.Command, p.Args...) //nolint:gosec // commands come from the flow file
		cmd.Dir = p.Dir
		cmd.WaitDelay = time.Second
		if len(p.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range p.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}

		var outBuffer, errBuffer bytes.Buffer
		cmd.Stdout = &outBuffer
		cmd.Stderr = &errBuffer

		rc.Logger.Debugw("Executing command", "command", p.Command, "args", p.Args)
		err := cmd.Run()
		res := CommandResult{
			ExitCode: cmd.ProcessState.ExitCode(),
			Stdout:   outBuffer.String(),
			Stderr:   errBuffer.String(),
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, fmt.Errorf("command %s: %w", p.Command, ctxErr)
			}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return res, operations.NewCodedError(exitErr.ExitCode(),
					fmt.Errorf("command %s exited with status %d: %s", p.Command, exitErr.ExitCode(), strings.TrimSpace(res.Stderr)))
			}

			return res, fmt.Errorf("failed to run command %s: %w", p.Command, err)
		}

		return res, nil
	}).OnSuccessDo(func(rc *operations.RunContext, res CommandResult) error {
		if p.ExpectOutput != "" && !strings.Contains(res.Stdout, p.ExpectOutput) {
			return fmt.Errorf("output of %s does not contain %q", p.Command, p.ExpectOutput)
		}
		rc.Logger.Debugw("Command output", "stdout", strings.TrimSpace(res.Stdout))

		return nil
	})
}
