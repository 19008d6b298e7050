// Package optest provides utilities for operations testing.
package optest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/operations-runner/operations"
	"github.com/smartcontractkit/operations-runner/pkg/logger"
)

// DefaultTimeout bounds how long RunAndWait waits for a run.
const DefaultTimeout = 10 * time.Second

// NewRunner creates a new runner for testing with a test logger and a debug level log stream.
// Extra options are applied after the defaults.
func NewRunner(t *testing.T, opts ...operations.Option) *operations.Runner {
	t.Helper()

	defaults := []operations.Option{
		operations.WithLogger(logger.Test(t)),
		operations.WithLogLevel(zapcore.DebugLevel),
	}

	return operations.New(append(defaults, opts...)...)
}

// RunAndWait enqueues steps, starts r and waits for the completion.
func RunAndWait(t *testing.T, r *operations.Runner, steps ...operations.Step) operations.Completion {
	t.Helper()

	require.NoError(t, r.Enqueue(steps...))
	require.NoError(t, r.Start(t.Context()))

	ctx, cancel := context.WithTimeout(t.Context(), DefaultTimeout)
	defer cancel()

	c, err := r.Wait(ctx)
	require.NoError(t, err, "run did not complete in time")

	return c
}

// Succeeds returns an operation whose action returns result.
func Succeeds[T any](name string, result T) *operations.Operation[T] {
	return operations.NewOperation(name, func(context.Context, *operations.RunContext) (T, error) {
		return result, nil
	})
}

// Fails returns an operation whose action returns err.
func Fails(name string, err error) *operations.Operation[any] {
	return operations.NewOperation(name, func(context.Context, *operations.RunContext) (any, error) {
		return nil, err
	})
}

// Recorder is an Observer that records every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []operations.Event
}

var _ operations.Observer = (*Recorder)(nil)

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) OnStatus(ev operations.StatusEvent) {
	r.add(operations.Event{Kind: operations.EventStatus, Status: ev})
}

func (r *Recorder) OnLog(ev operations.LogEvent) {
	r.add(operations.Event{Kind: operations.EventLog, Log: ev})
}

func (r *Recorder) OnComplete(c operations.Completion) {
	r.add(operations.Event{Kind: operations.EventCompletion, Completion: c})
}

func (r *Recorder) add(ev operations.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
}

// Events returns every recorded event in order.
func (r *Recorder) Events() []operations.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]operations.Event(nil), r.events...)
}

// Transitions returns the recorded status transitions formatted as "name:State".
func (r *Recorder) Transitions() []string {
	var out []string
	for _, ev := range r.Events() {
		if ev.Kind == operations.EventStatus {
			out = append(out, fmt.Sprintf("%s:%s", ev.Status.Status.Name, ev.Status.Status.State))
		}
	}

	return out
}

// Logs returns the recorded log events.
func (r *Recorder) Logs() []operations.LogEvent {
	var out []operations.LogEvent
	for _, ev := range r.Events() {
		if ev.Kind == operations.EventLog {
			out = append(out, ev.Log)
		}
	}

	return out
}

// Completions returns the recorded completions.
func (r *Recorder) Completions() []operations.Completion {
	var out []operations.Completion
	for _, ev := range r.Events() {
		if ev.Kind == operations.EventCompletion {
			out = append(out, ev.Completion)
		}
	}

	return out
}

// States returns the states of statuses in order.
func States(statuses []operations.OperationStatus) []operations.State {
	out := make([]operations.State, len(statuses))
	for i, s := range statuses {
		out[i] = s.State
	}

	return out
}
