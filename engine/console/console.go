// Package console renders run progress on a terminal.
package console

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/fatih/color"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/operations-runner/operations"
)

// Printer is an Observer writing one line per status transition, log entry and completion.
// Wrap it with operations.DispatchTo so a slow terminal does not hold up the run.
type Printer struct {
	w        io.Writer
	logLevel zapcore.Level

	mu      sync.Mutex
	success *color.Color
	info    *color.Color
	warn    *color.Color
	error   *color.Color
	faint   *color.Color
}

var _ operations.Observer = (*Printer)(nil)

// Option is a functional option for configuring a Printer.
type Option func(*Printer)

// WithoutColor disables colour output.
func WithoutColor() Option {
	return func(p *Printer) {
		for _, c := range p.colors() {
			c.DisableColor()
		}
	}
}

// WithLogLevel sets the minimum level of log entries that are printed. Defaults to Info.
func WithLogLevel(level zapcore.Level) Option {
	return func(p *Printer) {
		p.logLevel = level
	}
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer, opts ...Option) *Printer {
	p := &Printer{
		w:        w,
		logLevel: zapcore.InfoLevel,
		success:  color.New(color.FgGreen, color.Bold),
		info:     color.New(color.FgBlue, color.Bold),
		warn:     color.New(color.FgYellow, color.Bold),
		error:    color.New(color.FgRed, color.Bold),
		faint:    color.New(color.Faint),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Printer) colors() []*color.Color {
	return []*color.Color{p.success, p.info, p.warn, p.error, p.faint}
}

// OnStatus prints a line for every status transition.
func (p *Printer) OnStatus(ev operations.StatusEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := ev.Status
	switch s.State {
	case operations.InProgress:
		p.info.Fprint(p.w, "==> ")
		fmt.Fprintln(p.w, s.Name)
	case operations.Completed:
		p.success.Fprint(p.w, " OK ")
		fmt.Fprintln(p.w, s.Name)
	case operations.Failed:
		p.error.Fprint(p.w, "FAIL ")
		fmt.Fprintln(p.w, withMessage(s.Name, s.Message))
	case operations.Skipped:
		p.warn.Fprint(p.w, "SKIP ")
		fmt.Fprintln(p.w, withMessage(s.Name, s.Message))
	case operations.NotStarted:
	}
}

// OnLog prints log entries at or above the configured level.
func (p *Printer) OnLog(ev operations.LogEvent) {
	if !p.logLevel.Enabled(ev.Level) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var c *color.Color
	switch {
	case ev.Level >= zapcore.ErrorLevel:
		c = p.error
	case ev.Level == zapcore.WarnLevel:
		c = p.warn
	default:
		c = p.faint
	}

	line := "    " + strings.ToUpper(ev.Level.String()) + " " + ev.Message
	if f := formatFields(ev.Fields); f != "" {
		line += " " + f
	}
	c.Fprintln(p.w, line)
}

// OnComplete prints the run summary.
func (p *Printer) OnComplete(c operations.Completion) {
	p.mu.Lock()
	defer p.mu.Unlock()

	done := 0
	for _, s := range c.Statuses {
		if s.State == operations.Completed {
			done++
		}
	}

	if c.Succeeded {
		p.success.Fprintf(p.w, "Run succeeded: %d/%d operations completed in %s\n", done, len(c.Statuses), c.Elapsed())
		return
	}
	p.error.Fprintf(p.w, "Run failed at %s: %d/%d operations completed\n", c.FailedOperation, done, len(c.Statuses))
	if c.Message != "" {
		fmt.Fprintln(p.w, "    "+c.Message)
	}
}

func withMessage(name, message string) string {
	if message == "" {
		return name
	}

	return name + ": " + message
}

// formatFields renders fields as sorted key=value pairs.
func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}

	parts := make([]string, 0, len(fields))
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}

	return strings.Join(parts, " ")
}
