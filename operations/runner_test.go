package operations_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/operations-runner/operations"
	"github.com/smartcontractkit/operations-runner/operations/optest"
	"github.com/smartcontractkit/operations-runner/pkg/logger"
)

func Test_Runner_Ordering(t *testing.T) {
	t.Parallel()

	rec := optest.NewRecorder()
	r := optest.NewRunner(t, operations.WithObserver(rec))

	var steps []operations.Step
	var want []string
	for i := 1; i <= 5; i++ {
		name := fmt.Sprintf("op%d", i)
		steps = append(steps, optest.Succeeds(name, i))
		want = append(want, name+":InProgress", name+":Completed")
	}

	c := optest.RunAndWait(t, r, steps...)

	assert.True(t, c.Succeeded)
	assert.Equal(t, want, rec.Transitions())
	assert.Equal(t, operations.RunSucceeded, r.State())
}

func Test_Runner_Scenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		build         func(calls *atomic.Int32, failures *[]string) []operations.Step
		wantStates    []operations.State
		wantSucceeded bool
		wantCalls     int32
		wantFailures  []string
	}{
		{
			name: "A: every operation succeeds",
			build: func(calls *atomic.Int32, _ *[]string) []operations.Step {
				return []operations.Step{
					counting("op1", calls, nil),
					counting("op2", calls, nil),
				}
			},
			wantStates:    []operations.State{operations.Completed, operations.Completed},
			wantSucceeded: true,
			wantCalls:     2,
		},
		{
			name: "B: first operation fails",
			build: func(calls *atomic.Int32, failures *[]string) []operations.Step {
				op1 := optest.Fails("op1", errors.New("x")).
					OnFailureDo(func(_ *operations.RunContext, err error) string {
						*failures = append(*failures, err.Error())
						return "op1 failed"
					})

				return []operations.Step{op1, counting("op2", calls, nil)}
			},
			wantStates:    []operations.State{operations.Failed, operations.Skipped},
			wantSucceeded: false,
			wantCalls:     0,
			wantFailures:  []string{"x"},
		},
		{
			name: "C: precondition rejects the only operation",
			build: func(calls *atomic.Int32, _ *[]string) []operations.Step {
				return []operations.Step{
					counting("op1", calls, func(*operations.RunContext) bool { return false }),
				}
			},
			wantStates:    []operations.State{operations.Skipped},
			wantSucceeded: false,
			wantCalls:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var (
				calls    atomic.Int32
				failures []string
			)
			r := optest.NewRunner(t)

			c := optest.RunAndWait(t, r, tt.build(&calls, &failures)...)

			assert.Equal(t, tt.wantSucceeded, c.Succeeded)
			assert.Equal(t, tt.wantStates, optest.States(c.Statuses))
			assert.Equal(t, tt.wantStates, optest.States(r.Snapshot()))
			assert.Equal(t, tt.wantCalls, calls.Load())
			assert.Equal(t, tt.wantFailures, failures)
		})
	}
}

func Test_Runner_FailFast(t *testing.T) {
	t.Parallel()

	rec := optest.NewRecorder()
	r := optest.NewRunner(t, operations.WithObserver(rec))

	var calls atomic.Int32
	c := optest.RunAndWait(t, r,
		counting("op1", &calls, nil),
		optest.Fails("op2", errors.New("boom")),
		counting("op3", &calls, nil),
		counting("op4", &calls, nil),
	)

	require.False(t, c.Succeeded)
	assert.Equal(t, "op2", c.FailedOperation)
	assert.Equal(t, "op2 failed: boom", c.Message)
	require.EqualError(t, c.Err, "boom")
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []string{
		"op1:InProgress", "op1:Completed",
		"op2:InProgress", "op2:Failed",
		"op3:Skipped", "op4:Skipped",
	}, rec.Transitions())
	assert.Equal(t, operations.RunFailed, r.State())

	// the failure surfaces as an error log event for the failed operation
	var found bool
	for _, l := range rec.Logs() {
		if l.Level == zapcore.ErrorLevel && l.Operation == "op2" && l.Message == "Operation failed" {
			found = true
			assert.Equal(t, "boom", l.Fields["error"])
		}
	}
	assert.True(t, found, "missing error log for op2")
}

func Test_Runner_FailedStatusPublishedBeforeErrorLog(t *testing.T) {
	t.Parallel()

	rec := optest.NewRecorder()
	optest.RunAndWait(t, optest.NewRunner(t, operations.WithObserver(rec)), optest.Fails("op", errors.New("boom")))

	var order []string
	for _, ev := range rec.Events() {
		switch {
		case ev.Kind == operations.EventStatus && ev.Status.Status.State == operations.Failed:
			order = append(order, "status:Failed")
		case ev.Kind == operations.EventLog && ev.Log.Message == "Operation failed":
			order = append(order, "log:Operation failed")
		}
	}
	assert.Equal(t, []string{"status:Failed", "log:Operation failed"}, order)
}

func Test_Runner_ObserverCannotMutateRunState(t *testing.T) {
	t.Parallel()

	mutate := operations.ObserverFuncs{
		Status: func(ev operations.StatusEvent) {
			ev.Status.FinishedAt = time.Time{}
			ev.Status.StartedAt = time.Time{}
			ev.Status.Message = "tampered"
		},
		Complete: func(c operations.Completion) {
			for i := range c.Statuses {
				c.Statuses[i].State = operations.Failed
				c.Statuses[i].FinishedAt = time.Time{}
			}
		},
	}

	r := optest.NewRunner(t, operations.WithObserver(mutate))
	optest.RunAndWait(t, r, optest.Succeeds("op1", 1), optest.Succeeds("op2", 2))

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 2)
	for _, s := range snapshot {
		assert.Equal(t, operations.Completed, s.State)
		assert.Empty(t, s.Message)
		assert.False(t, s.StartedAt.IsZero())
		assert.False(t, s.FinishedAt.IsZero())
	}

	c, ok := r.Completion()
	require.True(t, ok)
	assert.Equal(t, []operations.State{operations.Completed, operations.Completed}, optest.States(c.Statuses))
	assert.False(t, c.Statuses[1].FinishedAt.IsZero())
}

// externalLogger hides the concrete logger type, like a Logger implemented outside pkg/logger.
type externalLogger struct {
	logger.Logger
}

func Test_Runner_ExternalLoggerReceivesActionLogs(t *testing.T) {
	t.Parallel()

	base, observed := logger.TestObserved(t, zapcore.DebugLevel)
	rec := optest.NewRecorder()
	op := operations.NewOperation("talkative", func(_ context.Context, rc *operations.RunContext) (int, error) {
		rc.Logger.Infow("hello from action")
		return 1, nil
	})

	r := optest.NewRunner(t, operations.WithLogger(externalLogger{base}), operations.WithObserver(rec))
	c := optest.RunAndWait(t, r, op)
	require.True(t, c.Succeeded)

	assert.Equal(t, 1, observed.FilterMessage("hello from action").Len())
	assert.Equal(t, 1, observed.FilterMessage("Run succeeded").Len())

	var streamed bool
	for _, l := range rec.Logs() {
		if l.Message == "hello from action" {
			streamed = true
			assert.Equal(t, "talkative", l.Operation)
		}
	}
	assert.True(t, streamed, "action log missing from the run log stream")
}

func Test_Runner_PreconditionShortCircuit(t *testing.T) {
	t.Parallel()

	rec := optest.NewRecorder()
	r := optest.NewRunner(t, operations.WithObserver(rec))

	var calls atomic.Int32
	c := optest.RunAndWait(t, r,
		counting("op1", &calls, nil),
		counting("op2", &calls, func(*operations.RunContext) bool { return false }),
		counting("op3", &calls, nil),
	)

	assert.False(t, c.Succeeded)
	assert.Equal(t, "op2", c.FailedOperation)
	require.ErrorIs(t, c.Err, operations.ErrPreconditionRejected)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []string{
		"op1:InProgress", "op1:Completed",
		"op2:Skipped", "op3:Skipped",
	}, rec.Transitions())
}

func Test_Runner_SuccessHandlerFailure(t *testing.T) {
	t.Parallel()

	var failureCalls atomic.Int32
	op := operations.NewOperation("validate", func(context.Context, *operations.RunContext) (int, error) {
		return 503, nil
	}).
		OnSuccessDo(func(_ *operations.RunContext, status int) error {
			if status != 200 {
				return fmt.Errorf("unexpected status %d", status)
			}

			return nil
		}).
		OnFailureDo(func(_ *operations.RunContext, err error) string {
			failureCalls.Add(1)
			return "validation failed: " + err.Error()
		})

	r := optest.NewRunner(t)
	c := optest.RunAndWait(t, r, op, optest.Succeeds("next", 1))

	assert.False(t, c.Succeeded)
	assert.Equal(t, []operations.State{operations.Failed, operations.Skipped}, optest.States(c.Statuses))
	assert.Equal(t, "validation failed: unexpected status 503", c.Statuses[0].Message)
	assert.Equal(t, int32(1), failureCalls.Load())
}

func Test_Runner_PanicsAreFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		op   operations.Step
	}{
		{
			name: "action panics",
			op: operations.NewOperation("panics", func(context.Context, *operations.RunContext) (int, error) {
				panic("kaboom")
			}),
		},
		{
			name: "success handler panics",
			op: optest.Succeeds("panics", 1).
				OnSuccessDo(func(*operations.RunContext, int) error { panic("kaboom") }),
		},
		{
			name: "precondition panics",
			op: optest.Succeeds("panics", 1).
				When(func(*operations.RunContext) bool { panic("kaboom") }),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := optest.NewRunner(t)
			c := optest.RunAndWait(t, r, tt.op)

			assert.False(t, c.Succeeded)
			assert.Equal(t, operations.Failed, c.Statuses[0].State)

			var pe *operations.PanicError
			require.ErrorAs(t, c.Err, &pe)
			assert.Equal(t, "kaboom", pe.Value)
			assert.Equal(t, operations.OutcomePanic, operations.OutcomeCode(c.Err))
		})
	}
}

func Test_Runner_FailureHandlerPanicUsesDefaultMessage(t *testing.T) {
	t.Parallel()

	op := optest.Fails("op", errors.New("x")).
		OnFailureDo(func(*operations.RunContext, error) string { panic("bad handler") })

	c := optest.RunAndWait(t, optest.NewRunner(t), op)

	assert.False(t, c.Succeeded)
	assert.Equal(t, "op failed: x", c.Message)
}

func Test_Runner_OutcomeCodes(t *testing.T) {
	t.Parallel()

	var seen []int
	record := func(rc *operations.RunContext, _ error) string {
		seen = append(seen, rc.LastOutcomeCode())
		return ""
	}

	c := optest.RunAndWait(t, optest.NewRunner(t),
		optest.Fails("coded", operations.NewCodedError(42, errors.New("quota"))).OnFailureDo(record),
	)
	require.False(t, c.Succeeded)

	c = optest.RunAndWait(t, optest.NewRunner(t),
		optest.Fails("plain", errors.New("plain")).OnFailureDo(record),
	)
	require.False(t, c.Succeeded)

	assert.Equal(t, []int{42, operations.OutcomeFailed}, seen)
}

func Test_Runner_ResultsFlowBetweenOperations(t *testing.T) {
	t.Parallel()

	var got string
	producer := optest.Succeeds("create group", "rg-123")
	consumer := operations.NewOperation("assign policy", func(_ context.Context, rc *operations.RunContext) (bool, error) {
		id, ok := operations.ResultAs[string](rc, "create group")
		if !ok {
			return false, errors.New("group id missing")
		}
		got = id

		return true, nil
	}).When(operations.AfterCompleted("create group"))

	c := optest.RunAndWait(t, optest.NewRunner(t), producer, consumer)

	require.True(t, c.Succeeded)
	assert.Equal(t, "rg-123", got)
}

func Test_Runner_ProgrammerErrors(t *testing.T) {
	t.Parallel()

	r := optest.NewRunner(t)

	require.ErrorIs(t, r.Enqueue(optest.Succeeds("ok", 1), nil), operations.ErrNilStep)
	assert.Empty(t, r.Snapshot(), "a rejected batch is not partially enqueued")

	require.NoError(t, r.Enqueue(optest.Succeeds("ok", 1)))
	require.NoError(t, r.Start(t.Context()))

	require.ErrorIs(t, r.Start(t.Context()), operations.ErrAlreadyStarted)
	require.ErrorIs(t, r.Enqueue(optest.Succeeds("late", 1)), operations.ErrAlreadyStarted)

	<-r.Done()
	assert.Len(t, r.Snapshot(), 1)
}

func Test_Runner_CancelledContextFailsNextOperation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	var calls atomic.Int32
	first := operations.NewOperation("first", func(context.Context, *operations.RunContext) (int, error) {
		cancel()
		return 1, nil
	})

	r := optest.NewRunner(t)
	require.NoError(t, r.Enqueue(first, counting("second", &calls, nil)))
	require.NoError(t, r.Start(ctx))
	<-r.Done()

	c, ok := r.Completion()
	require.True(t, ok)
	assert.False(t, c.Succeeded)
	assert.Equal(t, []operations.State{operations.Completed, operations.Failed}, optest.States(c.Statuses))
	require.ErrorIs(t, c.Err, context.Canceled)
	assert.Equal(t, operations.OutcomeCancelled, operations.OutcomeCode(c.Err))
	assert.Equal(t, int32(0), calls.Load())
}

func Test_Runner_SnapshotDuringRun(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	blocking := operations.NewOperation("blocking", func(context.Context, *operations.RunContext) (int, error) {
		close(started)
		<-release

		return 1, nil
	})

	r := optest.NewRunner(t, operations.WithIndeterminate())
	require.NoError(t, r.Enqueue(blocking, optest.Succeeds("after", 2)))
	assert.Equal(t, operations.RunIdle, r.State())
	assert.Equal(t, []operations.State{operations.NotStarted, operations.NotStarted}, optest.States(r.Snapshot()))

	require.NoError(t, r.Start(t.Context()))
	<-started

	assert.Equal(t, operations.RunRunning, r.State())
	assert.Equal(t, []operations.State{operations.InProgress, operations.NotStarted}, optest.States(r.Snapshot()))
	p := r.Progress()
	assert.True(t, p.Indeterminate)
	assert.Equal(t, 0, p.Done)
	assert.Zero(t, p.Fraction())

	close(release)
	<-r.Done()

	first := r.Snapshot()
	second := r.Snapshot()
	assert.Equal(t, first, second)
	assert.Equal(t, 2, r.Progress().Done)
}

func Test_Runner_EmptyQueue(t *testing.T) {
	t.Parallel()

	rec := optest.NewRecorder()
	c := optest.RunAndWait(t, optest.NewRunner(t, operations.WithObserver(rec)))

	assert.True(t, c.Succeeded)
	assert.Empty(t, c.Statuses)
	assert.Len(t, rec.Completions(), 1)
}

func Test_Runner_CompletionFiresOnce(t *testing.T) {
	t.Parallel()

	rec := optest.NewRecorder()
	r := optest.NewRunner(t, operations.WithObserver(rec))
	optest.RunAndWait(t, r, optest.Fails("op", errors.New("x")))

	require.Len(t, rec.Completions(), 1)
	events := rec.Events()
	assert.Equal(t, operations.EventCompletion, events[len(events)-1].Kind, "completion is the last event")
}

func Test_Runner_ActionLogsReachStream(t *testing.T) {
	t.Parallel()

	rec := optest.NewRecorder()
	op := operations.NewOperation("talkative", func(_ context.Context, rc *operations.RunContext) (int, error) {
		rc.Logger.Infow("provisioned", "resource", "kv-1")
		rc.Logger.Debugw("details")

		return 1, nil
	})

	r := optest.NewRunner(t, operations.WithObserver(rec), operations.WithLogLevel(zapcore.InfoLevel))
	optest.RunAndWait(t, r, op)

	var messages []string
	for _, l := range rec.Logs() {
		assert.Equal(t, r.ID(), l.RunID)
		if l.Operation == "talkative" {
			messages = append(messages, l.Message)
		}
	}
	assert.Equal(t, []string{"Executing operation", "provisioned", "Operation completed"}, messages)
}

func Test_Runner_StatusTimestampsUseClock(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	c := optest.RunAndWait(t, optest.NewRunner(t, operations.WithClock(mock)), optest.Succeeds("op", 1))

	require.Len(t, c.Statuses, 1)
	assert.Equal(t, mock.Now(), c.Statuses[0].StartedAt)
	assert.Equal(t, mock.Now(), c.Statuses[0].FinishedAt)
	assert.Equal(t, mock.Now(), c.StartedAt)
	assert.Equal(t, mock.Now(), c.FinishedAt)
	assert.Zero(t, c.Elapsed())
}

func Test_Runner_StoresReport(t *testing.T) {
	t.Parallel()

	reporter := operations.NewMemoryReporter()
	r := optest.NewRunner(t, operations.WithReporter(reporter), operations.WithName("provision"))
	optest.RunAndWait(t, r, optest.Succeeds("op1", 1), optest.Fails("op2", errors.New("denied")))

	report, err := reporter.GetReport(r.ID())
	require.NoError(t, err)
	assert.Equal(t, "provision", report.Name)
	assert.False(t, report.Succeeded)
	require.NotNil(t, report.Err)
	assert.Equal(t, "op2: denied", report.Err.Error())
	assert.Equal(t, []operations.State{operations.Completed, operations.Failed}, optest.States(report.Statuses))
	assert.NotEmpty(t, report.Logs)
}

func Test_Runner_ProgressSink(t *testing.T) {
	t.Parallel()

	sink := operations.NewStatusList()
	optest.RunAndWait(t, optest.NewRunner(t, operations.WithProgressSink(sink)),
		optest.Succeeds("op1", 1), optest.Succeeds("op2", 2))

	assert.Equal(t, []operations.State{operations.Completed, operations.Completed}, optest.States(sink.Snapshot()))
}

func Test_Runner_Subscribe(t *testing.T) {
	t.Parallel()

	r := optest.NewRunner(t)
	events := r.Subscribe(t.Context())

	require.NoError(t, r.Enqueue(optest.Succeeds("op1", 1)))
	require.NoError(t, r.Start(t.Context()))

	var kinds []operations.EventKind
	var transitions []string
	for ev := range events {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == operations.EventStatus {
			transitions = append(transitions, ev.Status.Status.State.String())
		}
	}

	require.NotEmpty(t, kinds)
	assert.Equal(t, operations.EventCompletion, kinds[len(kinds)-1])
	assert.Equal(t, []string{"InProgress", "Completed"}, transitions)
}

func Test_Runner_SubscribeAfterCompletion(t *testing.T) {
	t.Parallel()

	r := optest.NewRunner(t)
	optest.RunAndWait(t, r, optest.Succeeds("op1", 1))

	var got []operations.Event
	for ev := range r.Subscribe(t.Context()) {
		got = append(got, ev)
	}

	require.Len(t, got, 1)
	assert.Equal(t, operations.EventCompletion, got[0].Kind)
	assert.True(t, got[0].Completion.Succeeded)
}

func Test_Run(t *testing.T) {
	t.Parallel()

	r := optest.NewRunner(t)
	c, err := operations.Run(t.Context(), r, optest.Succeeds("op1", 1))
	require.NoError(t, err)
	assert.True(t, c.Succeeded)

	_, err = operations.Run(t.Context(), r, optest.Succeeds("op2", 1))
	require.ErrorIs(t, err, operations.ErrAlreadyStarted)
}

// counting returns an operation that increments calls when its action runs.
func counting(name string, calls *atomic.Int32, precondition func(*operations.RunContext) bool) *operations.Operation[int] {
	op := operations.NewOperation(name, func(context.Context, *operations.RunContext) (int, error) {
		return int(calls.Add(1)), nil
	})
	if precondition != nil {
		op.When(precondition)
	}

	return op
}
