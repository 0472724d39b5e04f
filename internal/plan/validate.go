package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/toolplan/toolplan/internal/registry"
)

// Validate gate-keeps a plan before execution. Checks run in a fixed order
// and fail fast on the first violation: tool existence, input schema,
// dependency references, acyclicity. On success it returns the steps in a
// deterministic topological order; ties among unordered steps break by
// ascending step id. Validation is all-or-nothing.
func Validate(reg *registry.Registry, p *Plan) ([]Step, error) {
	if p == nil || len(p.Steps) == 0 {
		return nil, &ValidationError{Code: CodeEmpty, Detail: "plan has no steps"}
	}

	byID := make(map[string]Step, len(p.Steps))
	for _, s := range p.Steps {
		if s.ID == "" {
			return nil, &ValidationError{Code: CodeSchema, Detail: "step id is required"}
		}
		if _, dup := byID[s.ID]; dup {
			return nil, &ValidationError{Code: CodeDupID, StepID: s.ID, Detail: "duplicate step id"}
		}
		byID[s.ID] = s
	}

	// Tool existence for every step is settled before any input is checked,
	// so a schema problem never masks an unknown tool later in the plan.
	specs := make(map[string]registry.ToolSpec, len(p.Steps))
	for _, s := range p.Steps {
		spec, err := reg.Lookup(s.Tool)
		if err != nil {
			return nil, &ValidationError{
				Code:   CodeToolUnknown,
				StepID: s.ID,
				Detail: fmt.Sprintf("unknown tool %q", s.Tool),
			}
		}
		specs[s.ID] = spec
	}

	for _, s := range p.Steps {
		input, verr := checkRefs(s, byID)
		if verr != nil {
			return nil, verr
		}
		if err := registry.ValidateInput(specs[s.ID], input); err != nil {
			return nil, &ValidationError{
				Code:   CodeSchema,
				StepID: s.ID,
				Detail: fmt.Sprintf("input for tool %q: %v", s.Tool, err),
			}
		}
	}

	for _, s := range p.Steps {
		for _, dep := range s.After {
			if _, ok := byID[dep]; !ok {
				return nil, &ValidationError{
					Code:   CodeDanglingRef,
					StepID: s.ID,
					Detail: fmt.Sprintf("after references unknown step %q", dep),
				}
			}
			if dep == s.ID {
				return nil, &ValidationError{
					Code:   CodeCycle,
					StepID: s.ID,
					Detail: "step depends on itself",
				}
			}
		}
	}

	if cycle := findCycle(p.Steps); cycle != nil {
		return nil, &ValidationError{
			Code:   CodeCycle,
			Detail: "dependency cycle: " + strings.Join(cycle, " -> "),
		}
	}

	return topoSort(p.Steps, byID), nil
}

// checkRefs verifies every output reference in a step's input names an
// existing step listed in the step's own After set, and returns the input
// with reference values replaced by the any-type placeholder so the schema
// check can run on what remains.
func checkRefs(s Step, byID map[string]Step) (map[string]any, *ValidationError) {
	var resolved map[string]any
	for name, v := range s.Input {
		target, ok := ParseRef(v)
		if !ok {
			continue
		}
		if _, exists := byID[target]; !exists {
			return nil, &ValidationError{
				Code:   CodeDanglingRef,
				StepID: s.ID,
				Detail: fmt.Sprintf("input %q references unknown step %q", name, target),
			}
		}
		inAfter := false
		for _, dep := range s.After {
			if dep == target {
				inAfter = true
				break
			}
		}
		if !inAfter {
			return nil, &ValidationError{
				Code:   CodeSchema,
				StepID: s.ID,
				Detail: fmt.Sprintf("input %q references step %q which is not listed in after", name, target),
			}
		}
		if resolved == nil {
			resolved = make(map[string]any, len(s.Input))
			for k, val := range s.Input {
				resolved[k] = val
			}
		}
		resolved[name] = registry.AnyValue
	}
	if resolved == nil {
		return s.Input, nil
	}
	return resolved, nil
}

// findCycle runs a depth-first traversal over the After edges with an
// explicit recursion stack and returns the cycle path if one exists.
func findCycle(steps []Step) []string {
	const (
		white = iota // unvisited
		gray         // on the recursion stack
		black        // done
	)
	// Edges point dependency -> dependent.
	next := make(map[string][]string, len(steps))
	for _, s := range steps {
		next[s.ID] = nil
	}
	for _, s := range steps {
		for _, dep := range s.After {
			next[dep] = append(next[dep], s.ID)
		}
	}

	color := make(map[string]int, len(steps))
	var stack []string
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, v := range next[id] {
			switch color[v] {
			case white:
				if dfs(v) {
					return true
				}
			case gray:
				// Back edge: the cycle is the stack suffix starting at v.
				for i, u := range stack {
					if u == v {
						cycle = append(append([]string{}, stack[i:]...), v)
						return true
					}
				}
			}
		}
		color[id] = black
		stack = stack[:len(stack)-1]
		return false
	}

	ids := make([]string, 0, len(steps))
	for _, s := range steps {
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white && dfs(id) {
			return cycle
		}
	}
	return nil
}

// topoSort orders steps consistent with After using Kahn's algorithm. The
// zero-indegree frontier is kept sorted so re-validating the same plan
// always yields the same order. Callers must have rejected cycles first.
func topoSort(steps []Step, byID map[string]Step) []Step {
	indeg := make(map[string]int, len(steps))
	next := make(map[string][]string, len(steps))
	for _, s := range steps {
		indeg[s.ID] += 0
		for _, dep := range s.After {
			next[dep] = append(next[dep], s.ID)
			indeg[s.ID]++
		}
	}

	var frontier []string
	for id, d := range indeg {
		if d == 0 {
			frontier = append(frontier, id)
		}
	}
	sort.Strings(frontier)

	ordered := make([]Step, 0, len(steps))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		ordered = append(ordered, byID[id])
		for _, v := range next[id] {
			indeg[v]--
			if indeg[v] == 0 {
				frontier = append(frontier, v)
			}
		}
		sort.Strings(frontier)
	}
	return ordered
}
