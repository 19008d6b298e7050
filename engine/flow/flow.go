// Package flow loads flow files and turns them into runners.
//
// A flow file lists named steps in execution order. Each step references a registered step kind
// with `uses: kind@constraint`, passes its params in `with` and may gate itself with `when`:
//
//	name: rotate-keys
//	steps:
//	  - name: check api
//	    uses: http@^1
//	    with:
//	      url: https://example.com/health
//	  - name: rotate
//	    uses: command
//	    with:
//	      command: ./rotate.sh
//	    when: completed:check api
package flow

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/smartcontractkit/operations-runner/operations"
)

// Flow is a named, ordered list of steps.
type Flow struct {
	Name        string `yaml:"name" toml:"name"`
	Description string `yaml:"description,omitempty" toml:"description,omitempty"`
	Steps       []Step `yaml:"steps" toml:"steps"`
}

// Step is the declaration of a single step of a flow.
type Step struct {
	Name string         `yaml:"name" toml:"name"`
	Uses string         `yaml:"uses" toml:"uses"`
	With map[string]any `yaml:"with,omitempty" toml:"with,omitempty"`
	// When is the precondition of the step: always, previous, env:NAME or completed:step[,step].
	When string `yaml:"when,omitempty" toml:"when,omitempty"`
}

// Load reads the flow file at path. The format is inferred from the extension.
func Load(path string) (*Flow, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}

	f, err := Parse(b, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("flow file %s: %w", path, err)
	}

	return f, nil
}

// Parse decodes a flow in the format named by ext (.yaml, .yml or .toml) and validates it.
// Unknown fields are rejected.
func Parse(b []byte, ext string) (*Flow, error) {
	var f Flow

	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("failed to decode yaml: %w", err)
		}
	case "toml":
		dec := toml.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("failed to decode toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported flow format %q", ext)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	return &f, nil
}

// Validate checks that the flow is well formed. It does not check that step kinds are registered.
func (f *Flow) Validate() error {
	if f.Name == "" {
		return errors.New("flow name is required")
	}

	var errs []error
	seen := make(map[string]bool, len(f.Steps))
	for i, s := range f.Steps {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("step %d: name is required", i))
		case seen[s.Name]:
			errs = append(errs, fmt.Errorf("step %d: duplicate name %q", i, s.Name))
		}
		if kind, _ := operations.ParseUses(s.Uses); kind == "" {
			errs = append(errs, fmt.Errorf("step %q: uses is required", s.Name))
		}
		if _, err := parseWhen(s.When, seen); err != nil {
			errs = append(errs, fmt.Errorf("step %q: %w", s.Name, err))
		}
		seen[s.Name] = true
	}

	return errors.Join(errs...)
}

// BuildSteps builds the steps of the flow from the registry.
// Each call returns new steps, so a flow can be built again for every run attempt.
func (f *Flow) BuildSteps(reg *operations.OperationRegistry) ([]operations.Step, error) {
	steps := make([]operations.Step, 0, len(f.Steps))
	seen := make(map[string]bool, len(f.Steps))
	for _, s := range f.Steps {
		when, err := parseWhen(s.When, seen)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", s.Name, err)
		}
		step, err := reg.Build(s.Uses, s.Name, s.With)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", s.Name, err)
		}
		if when != nil {
			step = &gatedStep{Step: step, when: when}
		}
		steps = append(steps, step)
		seen[s.Name] = true
	}

	return steps, nil
}

// Build creates a Runner named after the flow with every step of the flow enqueued.
func (f *Flow) Build(reg *operations.OperationRegistry, opts ...operations.Option) (*operations.Runner, error) {
	steps, err := f.BuildSteps(reg)
	if err != nil {
		return nil, err
	}

	r := operations.New(append([]operations.Option{operations.WithName(f.Name)}, opts...)...)
	if err := r.Enqueue(steps...); err != nil {
		return nil, err
	}

	return r, nil
}

// gatedStep adds a flow precondition in front of the precondition of the built step.
type gatedStep struct {
	operations.Step
	when func(rc *operations.RunContext) bool
}

func (s *gatedStep) Precondition(rc *operations.RunContext) bool {
	return s.when(rc) && s.Step.Precondition(rc)
}

// parseWhen returns the precondition described by when, or nil when the step always runs.
// Steps named by completed: must be declared earlier in the flow.
func parseWhen(when string, earlier map[string]bool) (func(rc *operations.RunContext) bool, error) {
	kind, arg, _ := strings.Cut(strings.TrimSpace(when), ":")
	switch kind {
	case "", "always":
		return nil, nil
	case "previous":
		return operations.PreviousSucceeded, nil
	case "env":
		name := strings.TrimSpace(arg)
		if name == "" {
			return nil, errors.New("when env: requires a variable name")
		}

		return func(*operations.RunContext) bool {
			v, ok := os.LookupEnv(name)
			if !ok {
				return false
			}
			b, err := strconv.ParseBool(v)

			return err == nil && b
		}, nil
	case "completed":
		var names []string
		for _, n := range strings.Split(arg, ",") {
			n = strings.TrimSpace(n)
			if n == "" {
				continue
			}
			if !earlier[n] {
				return nil, fmt.Errorf("when completed: unknown earlier step %q", n)
			}
			names = append(names, n)
		}
		if len(names) == 0 {
			return nil, errors.New("when completed: requires at least one step name")
		}

		return operations.AfterCompleted(names...), nil
	default:
		return nil, fmt.Errorf("unknown when condition %q", when)
	}
}
