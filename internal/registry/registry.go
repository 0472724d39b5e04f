package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Purity classifies how a tool interacts with the outside world. It is the
// contract that makes caching and concurrent execution safe.
type Purity string

const (
	// Pure tools are deterministic functions of their input. Results are
	// cacheable indefinitely and calls may run concurrently.
	Pure Purity = "pure"
	// ReadOnly tools observe external state but never mutate it. Results
	// are cacheable up to the tool's TTL and calls may run concurrently.
	ReadOnly Purity = "read_only"
	// Impure tools mutate external state. Never cached, never reordered.
	Impure Purity = "impure"
)

func (p Purity) Valid() bool {
	return p == Pure || p == ReadOnly || p == Impure
}

// Parallelizable reports whether calls to a tool of this purity may run
// concurrently with other steps.
func (p Purity) Parallelizable() bool {
	return p == Pure || p == ReadOnly
}

// ToolSpec describes a registered tool: its input shape, purity class, and
// caching policy.
type ToolSpec struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Purity      Purity  `yaml:"purity" json:"purity"`
	CacheTTL    int     `yaml:"cache_ttl_s,omitempty" json:"cache_ttl_s,omitempty"`
	Input       []Field `yaml:"input,omitempty" json:"input,omitempty"`
	// Script is set for Lua-backed tools: path to the script file.
	Script string `yaml:"script,omitempty" json:"script,omitempty"`
}

type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q already registered", e.Name)
}

type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("tool %q not registered", e.Name)
}

// Registry is the single source of truth for what tools exist and how they
// may be invoked. It is populated once at startup and read concurrently
// thereafter; Register is not called after construction completes.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]ToolSpec
}

func New() *Registry {
	return &Registry{specs: make(map[string]ToolSpec)}
}

func (r *Registry) Register(spec ToolSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if !spec.Purity.Valid() {
		return fmt.Errorf("tool %q: invalid purity %q", spec.Name, spec.Purity)
	}
	if spec.CacheTTL < 0 {
		return fmt.Errorf("tool %q: cache_ttl_s must be >= 0", spec.Name)
	}
	if spec.Purity == Impure && spec.CacheTTL != 0 {
		return fmt.Errorf("tool %q: impure tools cannot set cache_ttl_s", spec.Name)
	}
	if err := validateFields(spec.Name, spec.Input); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.Name]; exists {
		return &DuplicateToolError{Name: spec.Name}
	}
	r.specs[spec.Name] = spec
	return nil
}

func (r *Registry) Lookup(name string) (ToolSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	if !ok {
		return ToolSpec{}, &UnknownToolError{Name: name}
	}
	return spec, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.specs[name]
	return ok
}

// Names returns registered tool names in ascending order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.specs))
	for _, name := range r.names() {
		specs = append(specs, r.specs[name])
	}
	return specs
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
