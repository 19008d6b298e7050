package operations

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// RunReport is the record of a completed run.
// It contains the final status of every operation and the log stream of the run.
type RunReport struct {
	ID         string            `json:"id" yaml:"id"`
	Name       string            `json:"name,omitempty" yaml:"name,omitempty"`
	StartedAt  time.Time         `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt" yaml:"finishedAt"`
	Succeeded  bool              `json:"succeeded" yaml:"succeeded"`
	Err        *ReportError      `json:"error,omitempty" yaml:"error,omitempty"`
	Statuses   []OperationStatus `json:"statuses" yaml:"statuses"`
	Logs       []LogEvent        `json:"logs,omitempty" yaml:"logs,omitempty"`
}

// NewRunReport creates the report of a completed run. The report ID is the run ID.
func NewRunReport(name string, c Completion, logs []LogEvent) RunReport {
	r := RunReport{
		ID:         c.RunID,
		Name:       name,
		StartedAt:  c.StartedAt,
		FinishedAt: c.FinishedAt,
		Succeeded:  c.Succeeded,
		Statuses:   slices.Clone(c.Statuses),
		Logs:       make([]LogEvent, 0, len(logs)),
	}
	for _, l := range logs {
		r.Logs = append(r.Logs, l.clone())
	}
	if c.Err != nil {
		r.Err = &ReportError{Operation: c.FailedOperation, Message: c.Err.Error()}
	}

	return r
}

// ReportError represents an error in the RunReport.
// Its purpose is to have exported fields for marshalling as the
// native error cant be marshaled to JSON.
type ReportError struct {
	Operation string `json:"operation,omitempty" yaml:"operation,omitempty"`
	Message   string `json:"message" yaml:"message"`
}

// Error implements the error interface.
func (o ReportError) Error() string {
	if o.Operation == "" {
		return o.Message
	}

	return o.Operation + ": " + o.Message
}

var ErrReportNotFound = errors.New("report not found")

// Reporter stores run reports. It can store them in memory, in the FS, in a database, etc.
// Reports are an audit trail; they are never used to resume a run.
type Reporter interface {
	GetReport(id string) (RunReport, error)
	GetReports() ([]RunReport, error)
	AddReport(report RunReport) error
}

// MemoryReporter stores reports in memory.
// This is thread-safe and can be used in a multi-threaded environment.
type MemoryReporter struct {
	reports []RunReport
	mu      sync.RWMutex
}

type MemoryReporterOption func(*MemoryReporter)

// WithReports is an option to initialize the MemoryReporter with a list of reports.
func WithReports(reports []RunReport) MemoryReporterOption {
	return func(mr *MemoryReporter) {
		mr.reports = reports
	}
}

// NewMemoryReporter creates a new MemoryReporter.
// It can be initialized with a list of reports using the WithReports option.
func NewMemoryReporter(options ...MemoryReporterOption) *MemoryReporter {
	reporter := &MemoryReporter{}
	for _, opt := range options {
		opt(reporter)
	}

	return reporter
}

// AddReport adds a report to the memory reporter.
func (e *MemoryReporter) AddReport(report RunReport) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.reports = append(e.reports, report)

	return nil
}

// GetReports returns all reports in insertion order.
func (e *MemoryReporter) GetReports() ([]RunReport, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	// Create a copy to avoid data races after returning
	reports := make([]RunReport, len(e.reports))
	copy(reports, e.reports)

	return reports, nil
}

// GetReport returns a report by ID.
// Returns ErrReportNotFound if the report is not found.
func (e *MemoryReporter) GetReport(id string) (RunReport, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, report := range e.reports {
		if report.ID == id {
			return report, nil
		}
	}

	return RunReport{}, fmt.Errorf("report_id %s: %w", id, ErrReportNotFound)
}
