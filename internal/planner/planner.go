package planner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/toolplan/toolplan/internal/plan"
)

// Strategy turns a natural-language request into an executable plan.
// Implementations must be deterministic: the same request always yields the
// same plan.
type Strategy interface {
	Plan(request string) (*plan.Plan, error)
}

// RuleBased is a keyword planner over the built-in tool set. It covers the
// demo-grade request shapes; anything it does not recognize falls back to
// listing tasks.
type RuleBased struct{}

func NewRuleBased() *RuleBased {
	return &RuleBased{}
}

var (
	addTaskPattern      = regexp.MustCompile(`(?i)add (?:a )?task(?: to| for)? (.+?)(?:\.|,| then | and then |$)`)
	completeTaskPattern = regexp.MustCompile(`(?i)(?:complete|finish|mark done) task #?(\d+)`)
	deleteTaskPattern   = regexp.MustCompile(`(?i)(?:delete|remove) task #?(\d+)`)
	arithmeticPattern   = regexp.MustCompile(`(?i)(?:calculate|compute|what is)\s+(\d+(?:\.\d+)?)\s*([+x*])\s*(\d+(?:\.\d+)?)`)
	percentagePattern   = regexp.MustCompile(`(?i)what percent(?:age)? is (\d+(?:\.\d+)?) of (\d+(?:\.\d+)?)`)
)

// Plan matches the request against each rule in a fixed order and emits one
// step per match, chained sequentially. Step ids are s1, s2, ... in emission
// order.
func (r *RuleBased) Plan(request string) (*plan.Plan, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, fmt.Errorf("planner: empty request")
	}
	lower := strings.ToLower(request)

	b := &builder{}

	if m := addTaskPattern.FindStringSubmatch(request); m != nil {
		b.step("add_task", map[string]any{"description": strings.TrimSpace(m[1])})
	}
	if m := completeTaskPattern.FindStringSubmatch(request); m != nil {
		id, _ := strconv.Atoi(m[1])
		b.step("complete_task", map[string]any{"id": id})
	}
	if m := deleteTaskPattern.FindStringSubmatch(request); m != nil {
		id, _ := strconv.Atoi(m[1])
		b.step("delete_task", map[string]any{"id": id})
	}
	if strings.Contains(lower, "list") && (strings.Contains(lower, "task") || strings.Contains(lower, "all")) {
		input := map[string]any{}
		for _, word := range []string{"completed", "done", "finished", "all"} {
			if strings.Contains(lower, word) {
				input["include_done"] = true
				break
			}
		}
		b.step("list_tasks", input)
	}
	if m := arithmeticPattern.FindStringSubmatch(request); m != nil {
		a, _ := strconv.ParseFloat(m[1], 64)
		c, _ := strconv.ParseFloat(m[3], 64)
		tool := "add_numbers"
		if m[2] == "*" || strings.EqualFold(m[2], "x") {
			tool = "multiply_numbers"
		}
		b.step(tool, map[string]any{"a": a, "b": c})
	}
	if m := percentagePattern.FindStringSubmatch(request); m != nil {
		part, _ := strconv.ParseFloat(m[1], 64)
		whole, _ := strconv.ParseFloat(m[2], 64)
		b.step("calculate_percentage", map[string]any{"part": part, "whole": whole})
	}
	if strings.Contains(lower, "time") {
		b.step("get_current_time", map[string]any{})
	}

	if len(b.steps) == 0 {
		b.step("list_tasks", map[string]any{})
	}
	return &plan.Plan{Steps: b.steps}, nil
}

// builder chains steps sequentially: each new step runs after the previous
// one so a single request reads as one ordered routine.
type builder struct {
	steps []plan.Step
}

func (b *builder) step(tool string, input map[string]any) {
	id := fmt.Sprintf("s%d", len(b.steps)+1)
	var after []string
	if n := len(b.steps); n > 0 {
		after = []string{b.steps[n-1].ID}
	}
	b.steps = append(b.steps, plan.Step{ID: id, Tool: tool, Input: input, After: after})
}
