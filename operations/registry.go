package operations

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
)

var (
	ErrOperationNotFound   = errors.New("operation not found in registry")
	ErrOperationRegistered = errors.New("operation already registered")
)

// Definition is the metadata of a registered step kind.
// Kind and Version together form the key of a registry entry.
type Definition struct {
	Kind        string          `json:"kind"`
	Version     *semver.Version `json:"version"`
	Description string          `json:"description"`
}

func (d Definition) String() string {
	return d.Kind + "@" + d.Version.String()
}

// StepFactory builds a named step from its parameters.
type StepFactory func(name string, params map[string]any) (Step, error)

type registryEntry struct {
	def     Definition
	factory StepFactory
}

// OperationRegistry is a store of step factories that allows retrieval by kind and version constraint.
// It is safe for concurrent use.
type OperationRegistry struct {
	mu      sync.RWMutex
	entries []registryEntry
}

// NewOperationRegistry creates an empty OperationRegistry.
func NewOperationRegistry() *OperationRegistry {
	return &OperationRegistry{}
}

// Register adds a factory for the given definition.
func (r *OperationRegistry) Register(def Definition, factory StepFactory) error {
	if def.Kind == "" || def.Version == nil {
		return errors.New("definition requires a kind and a version")
	}
	if factory == nil {
		return fmt.Errorf("definition %s: factory is nil", def)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.def.Kind == def.Kind && e.def.Version.Equal(def.Version) {
			return fmt.Errorf("definition %s: %w", def, ErrOperationRegistered)
		}
	}
	r.entries = append(r.entries, registryEntry{def: def, factory: factory})

	return nil
}

// MustRegister is like Register but panics on error. Use it for static registrations.
func (r *OperationRegistry) MustRegister(def Definition, factory StepFactory) {
	if err := r.Register(def, factory); err != nil {
		panic(err)
	}
}

// Retrieve returns the highest registered version of kind satisfying constraint.
// An empty constraint matches any version.
func (r *OperationRegistry) Retrieve(kind, constraint string) (Definition, StepFactory, error) {
	if constraint == "" {
		constraint = "*"
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return Definition{}, nil, fmt.Errorf("kind %s: invalid version constraint %q: %w", kind, constraint, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *registryEntry
	for i, e := range r.entries {
		if e.def.Kind != kind || !c.Check(e.def.Version) {
			continue
		}
		if best == nil || e.def.Version.GreaterThan(best.def.Version) {
			best = &r.entries[i]
		}
	}
	if best == nil {
		return Definition{}, nil, fmt.Errorf("%s@%s: %w", kind, constraint, ErrOperationNotFound)
	}

	return best.def, best.factory, nil
}

// Build retrieves the factory referenced by uses and builds a step with it.
func (r *OperationRegistry) Build(uses, name string, params map[string]any) (Step, error) {
	kind, constraint := ParseUses(uses)
	def, factory, err := r.Retrieve(kind, constraint)
	if err != nil {
		return nil, err
	}

	step, err := factory(name, params)
	if err != nil {
		return nil, fmt.Errorf("build %q with %s: %w", name, def, err)
	}

	return step, nil
}

// Definitions returns every registered definition ordered by kind then version.
func (r *OperationRegistry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.def)
	}
	slices.SortFunc(defs, func(a, b Definition) int {
		if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}

		return a.Version.Compare(b.Version)
	})

	return defs
}

// ParseUses splits a "kind@constraint" reference. A missing constraint is returned empty.
func ParseUses(uses string) (kind, constraint string) {
	kind, constraint, _ = strings.Cut(strings.TrimSpace(uses), "@")
	return kind, constraint
}
