package operations

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/smartcontractkit/operations-runner/pkg/logger"
)

// Outcome codes stored in the RunContext after each operation.
const (
	OutcomeSuccess   = 0
	OutcomeFailed    = 1
	OutcomePanic     = 2
	OutcomeCancelled = 3
)

// Coder is implemented by errors that carry their own outcome code.
type Coder interface {
	Code() int
}

// CodedError attaches an outcome code to an error.
type CodedError struct {
	code int
	err  error
}

// NewCodedError wraps err with the given outcome code.
// A zero code is replaced with OutcomeFailed since zero means success.
func NewCodedError(code int, err error) *CodedError {
	if code == OutcomeSuccess {
		code = OutcomeFailed
	}

	return &CodedError{code: code, err: err}
}

func (e *CodedError) Error() string { return e.err.Error() }
func (e *CodedError) Unwrap() error { return e.err }
func (e *CodedError) Code() int     { return e.code }

// PanicError is the error recorded when an action or success handler panics.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// OutcomeCode maps an error to the nonzero outcome code stored in the RunContext.
func OutcomeCode(err error) int {
	if err == nil {
		return OutcomeSuccess
	}

	var coder Coder
	if errors.As(err, &coder) && coder.Code() != OutcomeSuccess {
		return coder.Code()
	}

	var pe *PanicError
	if errors.As(err, &pe) {
		return OutcomePanic
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeCancelled
	}

	return OutcomeFailed
}

// RunContext is the state shared by all operations of a single run.
//
// It is owned by the Runner and handed to one operation at a time. Operations must not retain it
// beyond their own invocation. The accessors are safe to call from goroutines spawned by an action.
type RunContext struct {
	// Logger writes to the run logger and to the run log stream, tagged with the current operation.
	Logger logger.Logger

	runID string

	mu              sync.RWMutex
	lastOutcomeCode int
	outcomes        map[string]int
	results         map[string]any
	names           map[string]string // operation name -> id of its latest completion
}

func newRunContext(runID string, lggr logger.Logger) *RunContext {
	return &RunContext{
		Logger:   lggr,
		runID:    runID,
		outcomes: make(map[string]int),
		results:  make(map[string]any),
		names:    make(map[string]string),
	}
}

// RunID returns the identifier of the run this context belongs to.
func (rc *RunContext) RunID() string {
	return rc.runID
}

// LastOutcomeCode returns the outcome code of the most recently executed operation.
// Zero means it completed successfully.
func (rc *RunContext) LastOutcomeCode() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	return rc.lastOutcomeCode
}

// Outcome returns the outcome code recorded for the operation with the given id.
func (rc *RunContext) Outcome(id string) (int, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	code, ok := rc.outcomes[id]

	return code, ok
}

// Result returns the result of the completed operation with the given id.
func (rc *RunContext) Result(id string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	res, ok := rc.results[id]

	return res, ok
}

// ResultByName returns the result of the latest completed operation with the given name.
func (rc *RunContext) ResultByName(name string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	id, ok := rc.names[name]
	if !ok {
		return nil, false
	}
	res, ok := rc.results[id]

	return res, ok
}

func (rc *RunContext) recordSuccess(step Step, result any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.lastOutcomeCode = OutcomeSuccess
	rc.outcomes[step.ID()] = OutcomeSuccess
	rc.results[step.ID()] = result
	rc.names[step.Name()] = step.ID()
}

func (rc *RunContext) recordFailure(step Step, code int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.lastOutcomeCode = code
	rc.outcomes[step.ID()] = code
}

// ResultAs returns the result of the latest completed operation with the given name as T.
func ResultAs[T any](rc *RunContext, name string) (T, bool) {
	var zero T

	res, ok := rc.ResultByName(name)
	if !ok {
		return zero, false
	}
	typed, ok := res.(T)

	return typed, ok
}
