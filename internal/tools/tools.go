package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/toolplan/toolplan/internal/policy"
	"github.com/toolplan/toolplan/internal/registry"
)

// Func is the implementation behind a registered tool. Failures are reported
// as error values; a *policy.ToolError carries the failure code and whether a
// retry could help.
type Func func(ctx context.Context, input map[string]any) (any, error)

// Dispatcher maps tool names to their implementations. Registration happens
// at startup; Invoke is safe for concurrent use afterwards.
type Dispatcher struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{funcs: make(map[string]Func)}
}

func (d *Dispatcher) Handle(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("tools: tool name is required")
	}
	if fn == nil {
		return fmt.Errorf("tools: nil func for tool %q", name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.funcs[name]; dup {
		return fmt.Errorf("tools: tool %q already handled", name)
	}
	d.funcs[name] = fn
	return nil
}

// Invoke runs the named tool. An unknown name is a fatal failure: the
// registry should have rejected the plan before execution got here.
func (d *Dispatcher) Invoke(ctx context.Context, name string, input map[string]any) (any, error) {
	d.mu.RLock()
	fn, ok := d.funcs[name]
	d.mu.RUnlock()
	if !ok {
		return nil, policy.Fatal(policy.CodeToolFailure, "no implementation for tool %q", name)
	}
	return fn(ctx, input)
}

func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.funcs))
	for name := range d.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterBuiltins declares the built-in tool set in the registry and binds
// the implementations. Task tools share the given store.
func RegisterBuiltins(reg *registry.Registry, d *Dispatcher, store *TaskStore) error {
	numberField := func(name string) registry.Field {
		return registry.Field{Name: name, Type: registry.TypeNumber, Required: true}
	}
	specs := []struct {
		spec registry.ToolSpec
		fn   Func
	}{
		{
			spec: registry.ToolSpec{
				Name:        "add_numbers",
				Description: "Add two numbers",
				Purity:      registry.Pure,
				Input:       []registry.Field{numberField("a"), numberField("b")},
			},
			fn: addNumbers,
		},
		{
			spec: registry.ToolSpec{
				Name:        "multiply_numbers",
				Description: "Multiply two numbers",
				Purity:      registry.Pure,
				Input:       []registry.Field{numberField("a"), numberField("b")},
			},
			fn: multiplyNumbers,
		},
		{
			spec: registry.ToolSpec{
				Name:        "calculate_percentage",
				Description: "Compute part/whole as a percentage",
				Purity:      registry.Pure,
				Input:       []registry.Field{numberField("part"), numberField("whole")},
			},
			fn: calculatePercentage,
		},
		{
			spec: registry.ToolSpec{
				Name:        "get_current_time",
				Description: "Current time in RFC 3339",
				Purity:      registry.ReadOnly,
				CacheTTL:    1,
			},
			fn: currentTime,
		},
		{
			spec: registry.ToolSpec{
				Name:        "add_task",
				Description: "Add a task to the task list",
				Purity:      registry.Impure,
				Input: []registry.Field{
					{Name: "description", Type: registry.TypeString, Required: true},
				},
			},
			fn: store.addTask,
		},
		{
			spec: registry.ToolSpec{
				Name:        "list_tasks",
				Description: "List all tasks",
				Purity:      registry.ReadOnly,
				CacheTTL:    5,
				Input: []registry.Field{
					{Name: "include_done", Type: registry.TypeBoolean},
				},
			},
			fn: store.listTasks,
		},
		{
			spec: registry.ToolSpec{
				Name:        "complete_task",
				Description: "Mark a task as done",
				Purity:      registry.Impure,
				Input: []registry.Field{
					{Name: "id", Type: registry.TypeInteger, Required: true},
				},
			},
			fn: store.completeTask,
		},
		{
			spec: registry.ToolSpec{
				Name:        "delete_task",
				Description: "Delete a task",
				Purity:      registry.Impure,
				Input: []registry.Field{
					{Name: "id", Type: registry.TypeInteger, Required: true},
				},
			},
			fn: store.deleteTask,
		},
	}
	for _, s := range specs {
		if err := reg.Register(s.spec); err != nil {
			return err
		}
		if err := d.Handle(s.spec.Name, s.fn); err != nil {
			return err
		}
	}
	return nil
}

// numArg extracts a numeric input value. Step output references resolve to
// whatever the upstream tool produced, so every numeric kind is accepted.
func numArg(input map[string]any, name string) (float64, error) {
	v, ok := input[name]
	if !ok {
		return 0, policy.Fatal(policy.CodeToolFailure, "missing argument %q", name)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, policy.Fatal(policy.CodeToolFailure, "argument %q is not a number (%T)", name, v)
}
