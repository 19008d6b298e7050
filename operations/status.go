package operations

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// State is the lifecycle state of a single operation within a run.
type State int

const (
	NotStarted State = iota
	InProgress
	Completed
	Failed
	Skipped
)

var stateNames = map[State]string{
	NotStarted: "NotStarted",
	InProgress: "InProgress",
	Completed:  "Completed",
	Failed:     "Failed",
	Skipped:    "Skipped",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	name, ok := stateNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown state %d", int(s))
	}

	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}

	return fmt.Errorf("unknown state %q", string(text))
}

// Terminal reports whether the operation will not change state again within the run.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Skipped
}

// OperationStatus is the progress record of one operation.
type OperationStatus struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	State      State      `json:"state" yaml:"state"`
	Message    string     `json:"message,omitempty" yaml:"message,omitempty"`
	StartedAt  time.Time `json:"startedAt,omitzero" yaml:"startedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitzero" yaml:"finishedAt,omitempty"`
}

// ProgressSink is a passive list-like target the Runner writes statuses into.
//
// Publish is called once, when the run starts, with every operation in NotStarted.
// Update is then called with the index of the operation whose status changed.
// Both are called on the run goroutine and must not block.
type ProgressSink interface {
	Publish(statuses []OperationStatus)
	Update(index int, status OperationStatus)
}

// StatusList is a ProgressSink holding the ordered statuses of a run.
// It is safe for concurrent use.
type StatusList struct {
	mu       sync.RWMutex
	statuses []OperationStatus
}

var _ ProgressSink = (*StatusList)(nil)

// NewStatusList creates an empty StatusList.
func NewStatusList() *StatusList {
	return &StatusList{}
}

// Publish replaces the list.
func (l *StatusList) Publish(statuses []OperationStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.statuses = slices.Clone(statuses)
}

// Update replaces the status at index. Out of range indexes are ignored.
func (l *StatusList) Update(index int, status OperationStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index < 0 || index >= len(l.statuses) {
		return
	}
	l.statuses[index] = status
}

// Snapshot returns a copy of the ordered statuses.
func (l *StatusList) Snapshot() []OperationStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return slices.Clone(l.statuses)
}

// Progress is the aggregate progress of a run.
type Progress struct {
	Done          int
	Total         int
	Indeterminate bool
}

// Fraction returns the completed fraction in [0, 1]. Indeterminate progress reports 0.
func (p Progress) Fraction() float64 {
	if p.Indeterminate || p.Total == 0 {
		return 0
	}

	return float64(p.Done) / float64(p.Total)
}

func progressOf(statuses []OperationStatus, indeterminate bool) Progress {
	p := Progress{Total: len(statuses), Indeterminate: indeterminate}
	for _, s := range statuses {
		if s.State.Terminal() {
			p.Done++
		}
	}

	return p
}
