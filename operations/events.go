package operations

import (
	"maps"
	"slices"
	"time"

	"go.uber.org/zap/zapcore"
)

// LogEvent is a single entry of the run log stream.
type LogEvent struct {
	RunID     string         `json:"runId" yaml:"runId"`
	Operation string         `json:"operation,omitempty" yaml:"operation,omitempty"`
	Level     zapcore.Level  `json:"level" yaml:"level"`
	Message   string         `json:"message" yaml:"message"`
	Fields    map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
}

func (e LogEvent) clone() LogEvent {
	e.Fields = maps.Clone(e.Fields)
	return e
}

// Completion is emitted exactly once per run, after the last operation finished or the run aborted.
type Completion struct {
	RunID string
	// Succeeded is true iff every queued operation ended Completed.
	Succeeded bool
	// FailedOperation is the name of the operation that failed or was rejected by its precondition.
	FailedOperation string
	// Message is the failure handler message of the failed operation.
	Message string
	// Err is the error of the failed operation, nil otherwise.
	Err        error
	Statuses   []OperationStatus
	StartedAt  time.Time
	FinishedAt time.Time
}

// Elapsed returns the wall time of the run.
func (c Completion) Elapsed() time.Duration {
	return c.FinishedAt.Sub(c.StartedAt)
}

func (c Completion) clone() Completion {
	c.Statuses = slices.Clone(c.Statuses)
	return c
}

// StatusEvent is a single status transition.
type StatusEvent struct {
	RunID  string
	Index  int
	Status OperationStatus
}

// EventKind discriminates the payload of an Event.
type EventKind int

const (
	EventStatus EventKind = iota
	EventLog
	EventCompletion
)

// Event is the union delivered on subscription channels.
type Event struct {
	Kind       EventKind
	Status     StatusEvent
	Log        LogEvent
	Completion Completion
}

func (e Event) clone() Event {
	e.Log = e.Log.clone()
	e.Completion = e.Completion.clone()

	return e
}

// Observer receives run notifications.
//
// The Runner calls observers on the run goroutine, in the order the events are produced.
// Observers owning state bound to another goroutine (a UI loop) should be wrapped in a Dispatcher.
type Observer interface {
	OnStatus(ev StatusEvent)
	OnLog(ev LogEvent)
	OnComplete(c Completion)
}

// ObserverFuncs adapts plain functions to Observer. Nil functions are ignored.
type ObserverFuncs struct {
	Status   func(ev StatusEvent)
	Log      func(ev LogEvent)
	Complete func(c Completion)
}

var _ Observer = ObserverFuncs{}

func (o ObserverFuncs) OnStatus(ev StatusEvent) {
	if o.Status != nil {
		o.Status(ev)
	}
}

func (o ObserverFuncs) OnLog(ev LogEvent) {
	if o.Log != nil {
		o.Log(ev)
	}
}

func (o ObserverFuncs) OnComplete(c Completion) {
	if o.Complete != nil {
		o.Complete(c)
	}
}

// deliver routes an event to the matching Observer method.
func deliver(o Observer, ev Event) {
	switch ev.Kind {
	case EventStatus:
		o.OnStatus(ev.Status)
	case EventLog:
		o.OnLog(ev.Log)
	case EventCompletion:
		o.OnComplete(ev.Completion)
	}
}
