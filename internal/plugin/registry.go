package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/mod/semver"

	"neurolab/internal/dataset"
)

var (
	// ErrDuplicateRegistration is returned when the exact (name, version)
	// pair is already registered.
	ErrDuplicateRegistration = errors.New("plugin: duplicate registration")
	// ErrUnknownPlugin is returned when resolution finds no match.
	ErrUnknownPlugin = errors.New("plugin: unknown plugin")
)

// DatasetView is the read-only surface a plugin receives. *dataset.Dataset
// satisfies it; plugins get no way to reach mutable pipeline state.
type DatasetView interface {
	NumRows() int
	ColumnNames() []string
	ColumnType(name string) (dataset.Type, bool)
	Value(col string, row int) (any, bool)
	Float(col string, row int) (float64, bool)
	FloatColumn(name string) ([]float64, []bool, bool)
	Fingerprint() string
}

// Plugin is user-supplied analysis code. Execute returns the payload the
// run record will persist; it must conform to the registered output
// contract. Implementations should honor ctx: the executor abandons
// executions whose deadline passes, it cannot stop them.
type Plugin interface {
	Execute(ctx context.Context, view DatasetView, cfg map[string]any) (any, error)
}

// Func adapts a plain function to the Plugin interface.
type Func func(ctx context.Context, view DatasetView, cfg map[string]any) (any, error)

func (f Func) Execute(ctx context.Context, view DatasetView, cfg map[string]any) (any, error) {
	return f(ctx, view, cfg)
}

// Descriptor identifies a plugin version and its capability contracts.
type Descriptor struct {
	Name           string   `json:"name"`
	Version        string   `json:"version"` // semantic version, e.g. "1.2.0"
	InputContract  Contract `json:"input_contract"`
	OutputContract Contract `json:"output_contract"`
}

// LatestVersion requests the highest registered version of a plugin.
const LatestVersion = "latest"

type registration struct {
	desc Descriptor
	impl Plugin
}

// Registry maps (name, version) to plugin registrations. Safe for
// concurrent use. Registration is explicit: there is no discovery or
// runtime introspection.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]map[string]registration{}}
}

// Register adds a plugin under (desc.Name, desc.Version).
//
// Errors:
//   - empty name, nil implementation
//   - version that is not a valid semantic version
//   - malformed input or output contract (structural check)
//   - ErrDuplicateRegistration when the exact pair exists
func (r *Registry) Register(desc Descriptor, impl Plugin) error {
	if desc.Name == "" {
		return fmt.Errorf("plugin: registration with empty name")
	}
	if impl == nil {
		return fmt.Errorf("plugin %s: nil implementation", desc.Name)
	}
	if !semver.IsValid("v" + desc.Version) {
		return fmt.Errorf("plugin %s: invalid version %q", desc.Name, desc.Version)
	}
	if !desc.InputContract.Empty() {
		if err := desc.InputContract.Check(); err != nil {
			return fmt.Errorf("plugin %s@%s: input contract: %w", desc.Name, desc.Version, err)
		}
	}
	if err := desc.OutputContract.Check(); err != nil {
		return fmt.Errorf("plugin %s@%s: output contract: %w", desc.Name, desc.Version, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.entries[desc.Name]
	if versions == nil {
		versions = map[string]registration{}
		r.entries[desc.Name] = versions
	}
	if _, exists := versions[desc.Version]; exists {
		return fmt.Errorf("%w: %s@%s", ErrDuplicateRegistration, desc.Name, desc.Version)
	}
	versions[desc.Version] = registration{desc: desc, impl: impl}
	return nil
}

// Resolve returns the registration for (name, version). Version "latest"
// (or empty) picks the highest version by semantic ordering.
func (r *Registry) Resolve(name, version string) (Descriptor, Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.entries[name]
	if len(versions) == 0 {
		return Descriptor{}, nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	if version == "" || version == LatestVersion {
		best := ""
		for v := range versions {
			if best == "" || semver.Compare("v"+v, "v"+best) > 0 {
				best = v
			}
		}
		reg := versions[best]
		return reg.desc, reg.impl, nil
	}
	reg, ok := versions[version]
	if !ok {
		return Descriptor{}, nil, fmt.Errorf("%w: %s@%s", ErrUnknownPlugin, name, version)
	}
	return reg.desc, reg.impl, nil
}

// List returns all registered descriptors ordered by name, then by
// descending semantic version.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Descriptor
	for _, versions := range r.entries {
		for _, reg := range versions {
			out = append(out, reg.desc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return semver.Compare("v"+out[i].Version, "v"+out[j].Version) > 0
	})
	return out
}
