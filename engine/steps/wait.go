package steps

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/smartcontractkit/operations-runner/operations"
)

// WaitParams are the params of a wait step.
type WaitParams struct {
	Duration time.Duration `mapstructure:"duration"`
}

func newWaitFactory(clk clock.Clock) operations.StepFactory {
	return func(name string, params map[string]any) (operations.Step, error) {
		var p WaitParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Duration <= 0 {
			return nil, errors.New("duration must be positive")
		}

		return NewWait(name, clk, p.Duration), nil
	}
}

// NewWait creates a step that blocks for d or until the run context is cancelled.
func NewWait(name string, clk clock.Clock, d time.Duration) *operations.Operation[time.Duration] {
	return operations.NewOperation(name, func(ctx context.Context, rc *operations.RunContext) (time.Duration, error) {
		rc.Logger.Debugw("Waiting", "duration", d)

		timer := clk.Timer(d)
		defer timer.Stop()

		select {
		case <-timer.C:
			return d, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})
}
