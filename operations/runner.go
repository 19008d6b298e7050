package operations

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/operations-runner/pkg/logger"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice or a step is enqueued after Start.
	ErrAlreadyStarted = errors.New("runner already started")
	// ErrNilStep is returned when a nil step is enqueued.
	ErrNilStep = errors.New("step is nil")
	// ErrPreconditionRejected is the completion error of a run stopped by a precondition.
	ErrPreconditionRejected = errors.New("precondition rejected")
)

// RunState is the lifecycle state of a Runner.
type RunState int

const (
	RunIdle RunState = iota
	RunRunning
	RunSucceeded
	RunFailed
)

func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "Idle"
	case RunRunning:
		return "Running"
	case RunSucceeded:
		return "Succeeded"
	case RunFailed:
		return "Failed"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}

// Option is a functional option for configuring a Runner.
type Option func(*Runner)

// WithLogger sets the logger the run writes to. Defaults to a no-op logger.
func WithLogger(lggr logger.Logger) Option {
	return func(r *Runner) {
		r.lggr = lggr
	}
}

// WithName sets a human readable name for the run, recorded in its report.
func WithName(name string) Option {
	return func(r *Runner) {
		r.name = name
	}
}

// WithIndeterminate marks the run progress as indeterminate.
func WithIndeterminate() Option {
	return func(r *Runner) {
		r.indeterminate = true
	}
}

// WithProgressSink adds a sink that receives every status change.
func WithProgressSink(sink ProgressSink) Option {
	return func(r *Runner) {
		r.sinks = append(r.sinks, sink)
	}
}

// WithObserver adds an observer notified on the run goroutine.
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		r.observers = append(r.observers, o)
	}
}

// WithReporter sets the Reporter that stores the run report once the run completes.
func WithReporter(reporter Reporter) Option {
	return func(r *Runner) {
		r.reporter = reporter
	}
}

// WithClock sets the clock used for status and report timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) {
		r.clock = c
	}
}

// WithLogLevel sets the minimum level of entries forwarded to the log stream. Defaults to Info.
func WithLogLevel(level zapcore.Level) Option {
	return func(r *Runner) {
		r.logLevel = level
	}
}

// Runner executes queued steps sequentially on a background goroutine.
//
// A Runner performs at most one run. Steps are enqueued before Start; once started, the queue is
// drained in order until it is empty, a step fails, or a precondition rejects continuation.
// Building a fresh Runner is the only way to execute the steps again.
type Runner struct {
	id            string
	name          string
	lggr          logger.Logger
	clock         clock.Clock
	logLevel      zapcore.Level
	indeterminate bool
	reporter      Reporter
	sinks         []ProgressSink
	statuses      *StatusList

	mu         sync.Mutex
	queue      []Step
	observers  []Observer
	state      RunState
	logs       []LogEvent
	completion *Completion
	done       chan struct{}
}

// New creates an idle Runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		id:       uuid.New().String(),
		lggr:     logger.Nop(),
		clock:    clock.New(),
		logLevel: zapcore.InfoLevel,
		statuses: NewStatusList(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// ID returns the run identifier.
func (r *Runner) ID() string {
	return r.id
}

// Name returns the run name.
func (r *Runner) Name() string {
	return r.name
}

// Enqueue appends steps to the queue. It must be called before Start.
func (r *Runner) Enqueue(steps ...Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RunIdle {
		return ErrAlreadyStarted
	}
	for i, s := range steps {
		if s == nil {
			return fmt.Errorf("enqueue step %d: %w", i, ErrNilStep)
		}
	}
	r.queue = append(r.queue, steps...)

	return nil
}

// AddObserver registers an observer. Observers added after Start only see later events.
func (r *Runner) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.observers = append(r.observers, o)
}

// Subscribe returns a channel receiving every subsequent event of the run, in order.
// The channel is closed after the completion event, or once ctx is done.
func (r *Runner) Subscribe(ctx context.Context) <-chan Event {
	d, ch := channelDispatcher(ctx)
	r.AddObserver(d)

	r.mu.Lock()
	completion := r.completion
	r.mu.Unlock()
	if completion != nil {
		d.OnComplete(*completion)
	}

	return ch
}

// Start begins the run on a new goroutine and returns immediately.
// The context is passed to every action; the runner itself never cancels it.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != RunIdle {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	steps := slices.Clone(r.queue)
	statuses := make([]OperationStatus, len(steps))
	for i, s := range steps {
		statuses[i] = OperationStatus{ID: s.ID(), Name: s.Name(), State: NotStarted}
	}
	r.statuses.Publish(statuses)
	r.state = RunRunning
	r.mu.Unlock()

	for _, sink := range r.sinks {
		sink.Publish(slices.Clone(statuses))
	}

	base := logger.With(logger.WithHook(r.lggr, r.logLevel, r.onLogEntry), "runId", r.id)
	rc := newRunContext(r.id, base)

	go r.run(ctx, rc, steps, statuses, base)

	return nil
}

// Snapshot returns the ordered statuses of the run.
// Before Start it lists the queued steps as NotStarted.
func (r *Runner) Snapshot() []OperationStatus {
	r.mu.Lock()
	if r.state == RunIdle {
		statuses := make([]OperationStatus, len(r.queue))
		for i, s := range r.queue {
			statuses[i] = OperationStatus{ID: s.ID(), Name: s.Name(), State: NotStarted}
		}
		r.mu.Unlock()

		return statuses
	}
	r.mu.Unlock()

	return r.statuses.Snapshot()
}

// Progress returns the aggregate progress of the run.
func (r *Runner) Progress() Progress {
	return progressOf(r.Snapshot(), r.indeterminate)
}

// State returns the lifecycle state of the runner.
func (r *Runner) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

// Done is closed once the run has completed and every observer was notified.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Completion returns the completion of the run, if it has completed.
func (r *Runner) Completion() (Completion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.completion == nil {
		return Completion{}, false
	}

	return r.completion.clone(), true
}

// Wait blocks until the run completes or ctx is done.
func (r *Runner) Wait(ctx context.Context) (Completion, error) {
	select {
	case <-r.done:
		c, _ := r.Completion()
		return c, nil
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	}
}

func (r *Runner) run(ctx context.Context, rc *RunContext, steps []Step, statuses []OperationStatus, base logger.Logger) {
	startedAt := r.clock.Now()
	base.Infow("Executing run", "name", r.name, "operations", len(steps))

	var (
		stoppedAt = len(steps)
		failedOp  string
		message   string
		runErr    error
	)

	for i, step := range steps {
		opLggr := logger.With(base, "operation", step.Name())
		rc.Logger = opLggr

		if err := ctx.Err(); err != nil {
			message = r.fail(rc, statuses, i, step, err, opLggr)
			stoppedAt, failedOp, runErr = i+1, step.Name(), err

			break
		}

		pass, err := r.precondition(rc, step)
		if err != nil {
			message = r.fail(rc, statuses, i, step, err, opLggr)
			stoppedAt, failedOp, runErr = i+1, step.Name(), err

			break
		}
		if !pass {
			message = "precondition not met"
			r.setStatus(statuses, i, Skipped, message)
			opLggr.Warnw("Operation skipped, abandoning remaining operations", "id", step.ID())
			stoppedAt, failedOp, runErr = i+1, step.Name(), ErrPreconditionRejected

			break
		}

		r.setStatus(statuses, i, InProgress, "")
		opLggr.Infow("Executing operation", "id", step.ID())

		result, err := r.action(ctx, rc, step)
		if err == nil {
			err = r.success(rc, step, result)
		}
		if err != nil {
			message = r.fail(rc, statuses, i, step, err, opLggr)
			stoppedAt, failedOp, runErr = i+1, step.Name(), err

			break
		}

		rc.recordSuccess(step, result)
		r.setStatus(statuses, i, Completed, "")
		opLggr.Infow("Operation completed", "id", step.ID())
	}

	for i := stoppedAt; i < len(steps); i++ {
		r.setStatus(statuses, i, Skipped, "")
	}
	rc.Logger = base

	succeeded := true
	for _, s := range statuses {
		if s.State != Completed {
			succeeded = false
			break
		}
	}
	if succeeded {
		base.Infow("Run succeeded", "name", r.name)
	} else {
		base.Errorw("Run failed", "name", r.name, "failedOperation", failedOp, "error", runErr)
	}

	completion := Completion{
		RunID:           r.id,
		Succeeded:       succeeded,
		FailedOperation: failedOp,
		Message:         message,
		Err:             runErr,
		Statuses:        slices.Clone(statuses),
		StartedAt:       startedAt,
		FinishedAt:      r.clock.Now(),
	}
	r.complete(completion, base)
}

// precondition evaluates the step precondition. A panic is reported as an error.
func (r *Runner) precondition(rc *RunContext, step Step) (pass bool, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v}
		}
	}()

	return step.Precondition(rc), nil
}

func (r *Runner) action(ctx context.Context, rc *RunContext, step Step) (result any, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v}
		}
	}()

	return step.Action(ctx, rc)
}

func (r *Runner) success(rc *RunContext, step Step, result any) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v}
		}
	}()

	return step.OnSuccess(rc, result)
}

// fail records the failure in the RunContext, publishes the Failed status and then logs it.
// It returns the message of the failure handler.
func (r *Runner) fail(rc *RunContext, statuses []OperationStatus, i int, step Step, err error, lggr logger.Logger) string {
	code := OutcomeCode(err)
	rc.recordFailure(step, code)

	message := r.failureMessage(rc, step, err, lggr)
	r.setStatus(statuses, i, Failed, message)
	lggr.Errorw("Operation failed", "id", step.ID(), "code", code, "error", err, "message", message)

	return message
}

func (r *Runner) failureMessage(rc *RunContext, step Step, err error, lggr logger.Logger) (message string) {
	defer func() {
		if v := recover(); v != nil {
			lggr.Warnw("Failure handler panicked", "id", step.ID(), "panic", v)
			message = DefaultFailureMessage(step.Name(), err)
		}
	}()

	return step.OnFailure(rc, err)
}

func (r *Runner) setStatus(statuses []OperationStatus, i int, state State, message string) {
	now := r.clock.Now()
	s := statuses[i]
	s.State = state
	s.Message = message
	switch state {
	case InProgress:
		s.StartedAt = now
	case Completed, Failed:
		s.FinishedAt = now
	case Skipped:
		if !s.StartedAt.IsZero() {
			s.FinishedAt = now
		}
	}
	statuses[i] = s

	r.statuses.Update(i, s)
	for _, sink := range r.sinks {
		sink.Update(i, s)
	}
	r.emit(Event{Kind: EventStatus, Status: StatusEvent{RunID: r.id, Index: i, Status: s}})
}

// onLogEntry converts logger entries into log events.
func (r *Runner) onLogEntry(e logger.Entry) {
	ev := LogEvent{
		RunID:     r.id,
		Level:     e.Level,
		Message:   e.Message,
		Timestamp: e.Time,
	}
	if op, ok := e.Fields["operation"].(string); ok {
		ev.Operation = op
	}
	for k, v := range e.Fields {
		if k == "operation" || k == "runId" {
			continue
		}
		if ev.Fields == nil {
			ev.Fields = make(map[string]any, len(e.Fields))
		}
		ev.Fields[k] = v
	}

	r.mu.Lock()
	r.logs = append(r.logs, ev)
	r.mu.Unlock()

	r.emit(Event{Kind: EventLog, Log: ev})
}

func (r *Runner) emit(ev Event) {
	r.mu.Lock()
	observers := slices.Clone(r.observers)
	r.mu.Unlock()

	for _, o := range observers {
		deliver(o, ev.clone())
	}
}

func (r *Runner) complete(c Completion, lggr logger.Logger) {
	r.mu.Lock()
	logs := slices.Clone(r.logs)
	r.mu.Unlock()

	if r.reporter != nil {
		report := NewRunReport(r.name, c, logs)
		if err := r.reporter.AddReport(report); err != nil {
			lggr.Warnw("Failed to store run report", "error", err)
		}
	}

	r.mu.Lock()
	if c.Succeeded {
		r.state = RunSucceeded
	} else {
		r.state = RunFailed
	}
	r.completion = &c
	r.mu.Unlock()

	r.emit(Event{Kind: EventCompletion, Completion: c})
	close(r.done)
}
