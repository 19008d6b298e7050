package operations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/smartcontractkit/operations-runner/pkg/logger"
)

// ErrRunFailed is returned by Resubmit when the last attempt did not succeed.
var ErrRunFailed = errors.New("run failed")

// Run enqueues steps on r, starts it and blocks until the run completes.
// Business failures are reported through the Completion; the error is only set for programmer
// errors such as reusing a started Runner.
func Run(ctx context.Context, r *Runner, steps ...Step) (Completion, error) {
	if err := r.Enqueue(steps...); err != nil {
		return Completion{}, err
	}
	if err := r.Start(ctx); err != nil {
		return Completion{}, err
	}
	<-r.Done()

	c, _ := r.Completion()

	return c, nil
}

// RunnerFactory builds a fresh, fully enqueued Runner for the given attempt, starting at 1.
// Implementations may inspect external state to leave out steps that already succeeded.
type RunnerFactory func(attempt uint) (*Runner, error)

// ResubmitPolicy controls how often a failed run is submitted again.
type ResubmitPolicy struct {
	// MaxAttempts is the total number of runs, including the first one.
	MaxAttempts uint
	// Delay is the pause between two attempts.
	Delay time.Duration
}

// DefaultResubmitPolicy runs a flow at most 3 times, one second apart.
var DefaultResubmitPolicy = ResubmitPolicy{MaxAttempts: 3, Delay: time.Second}

// Resubmit runs the flow built by factory until a run succeeds or the policy is exhausted.
//
// Every attempt is a new Runner with a new RunContext, a run is never resumed. A run stopped by a
// precondition is not resubmitted since the rejection is deliberate. The completion of the last
// attempt is returned alongside the error.
func Resubmit(ctx context.Context, lggr logger.Logger, factory RunnerFactory, policy ResubmitPolicy) (Completion, error) {
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 1
	}

	var (
		attempt uint
		last    Completion
	)

	_, err := retry.DoWithData(
		func() (Completion, error) {
			attempt++
			r, err := factory(attempt)
			if err != nil {
				return Completion{}, retry.Unrecoverable(fmt.Errorf("build runner for attempt %d: %w", attempt, err))
			}

			c, err := Run(ctx, r)
			if err != nil {
				return Completion{}, retry.Unrecoverable(err)
			}
			last = c
			if c.Succeeded {
				return c, nil
			}

			runErr := fmt.Errorf("%w: %s: %w", ErrRunFailed, c.FailedOperation, c.Err)
			if errors.Is(c.Err, ErrPreconditionRejected) {
				return c, retry.Unrecoverable(runErr)
			}

			return c, runErr
		},
		retry.Attempts(policy.MaxAttempts),
		retry.Delay(policy.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			lggr.Infow("Run attempt failed. Resubmitting...", "attempt", n+1, "error", err)
		}),
	)

	return last, err
}
