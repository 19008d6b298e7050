package operations

import (
	"context"
	"fmt"

	"github.com/segmentio/ksuid"
)

// Step is the unit of work executed by a Runner.
//
// The Runner is the only caller of the behaviour methods and always calls them in the order
// Precondition → Action → (OnSuccess | OnFailure), on the run goroutine, one Step at a time.
// Most callers build steps with NewOperation instead of implementing Step directly.
type Step interface {
	// ID returns the identifier assigned when the step was constructed.
	ID() string
	// Name returns the human readable label used in logs and progress display.
	Name() string

	// Precondition reports whether the step, and every step after it, may run.
	Precondition(rc *RunContext) bool
	// Action performs the side effect of the step. It may block on network I/O.
	Action(ctx context.Context, rc *RunContext) (any, error)
	// OnSuccess folds the result of Action into shared state. Returning an error fails the step.
	OnSuccess(rc *RunContext, result any) error
	// OnFailure returns the user facing message for err. It must not panic.
	OnFailure(rc *RunContext, err error) string
}

// ActionFunc is the function signature of an operation action.
type ActionFunc[OUT any] func(ctx context.Context, rc *RunContext) (OUT, error)

// Operation is a Step built from function values.
// Use NewOperation to create a new operation and the chained setters to attach handlers.
type Operation[OUT any] struct {
	id           string
	name         string
	action       ActionFunc[OUT]
	precondition func(rc *RunContext) bool
	onSuccess    func(rc *RunContext, result OUT) error
	onFailure    func(rc *RunContext, err error) string
}

var _ Step = (*Operation[any])(nil)

// NewOperation creates a new operation with a fresh unique ID.
// The operation runs unconditionally, ignores its result and reports failures with
// DefaultFailureMessage until the corresponding handlers are set.
func NewOperation[OUT any](name string, action ActionFunc[OUT]) *Operation[OUT] {
	return &Operation[OUT]{
		id:     ksuid.New().String(),
		name:   name,
		action: action,
	}
}

// When sets the precondition of the operation.
func (o *Operation[OUT]) When(precondition func(rc *RunContext) bool) *Operation[OUT] {
	o.precondition = precondition
	return o
}

// OnSuccessDo sets the success handler of the operation.
func (o *Operation[OUT]) OnSuccessDo(fn func(rc *RunContext, result OUT) error) *Operation[OUT] {
	o.onSuccess = fn
	return o
}

// OnFailureDo sets the failure handler of the operation.
func (o *Operation[OUT]) OnFailureDo(fn func(rc *RunContext, err error) string) *Operation[OUT] {
	o.onFailure = fn
	return o
}

// ID returns the operation ID.
func (o *Operation[OUT]) ID() string {
	return o.id
}

// Name returns the operation name.
func (o *Operation[OUT]) Name() string {
	return o.name
}

// Precondition implements Step.
func (o *Operation[OUT]) Precondition(rc *RunContext) bool {
	if o.precondition == nil {
		return true
	}

	return o.precondition(rc)
}

// Action implements Step.
func (o *Operation[OUT]) Action(ctx context.Context, rc *RunContext) (any, error) {
	if o.action == nil {
		return nil, fmt.Errorf("operation %q has no action", o.name)
	}

	return o.action(ctx, rc)
}

// OnSuccess implements Step.
func (o *Operation[OUT]) OnSuccess(rc *RunContext, result any) error {
	if o.onSuccess == nil {
		return nil
	}

	var typed OUT
	if result != nil {
		var ok bool
		if typed, ok = result.(OUT); !ok {
			return fmt.Errorf("operation %q: result type mismatch: got %T", o.name, result)
		}
	}

	return o.onSuccess(rc, typed)
}

// OnFailure implements Step.
func (o *Operation[OUT]) OnFailure(rc *RunContext, err error) string {
	if o.onFailure == nil {
		return DefaultFailureMessage(o.name, err)
	}

	return o.onFailure(rc, err)
}

// DefaultFailureMessage is the status message used when an operation has no failure handler.
func DefaultFailureMessage(name string, err error) string {
	return fmt.Sprintf("%s failed: %v", name, err)
}

// Always is a precondition that never rejects.
func Always(*RunContext) bool { return true }

// PreviousSucceeded is a precondition that only lets the operation run when the previously
// executed operation completed.
func PreviousSucceeded(rc *RunContext) bool {
	return rc.LastOutcomeCode() == OutcomeSuccess
}

// AfterCompleted returns a precondition that requires every named operation to have completed
// earlier in the run.
func AfterCompleted(names ...string) func(rc *RunContext) bool {
	return func(rc *RunContext) bool {
		for _, name := range names {
			if _, ok := rc.ResultByName(name); !ok {
				return false
			}
		}

		return true
	}
}
