package planner

import (
	"reflect"
	"testing"
)

func TestPlanAddTask(t *testing.T) {
	p, err := NewRuleBased().Plan("add a task to buy milk")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Steps) != 1 {
		t.Fatalf("steps = %d, want 1", len(p.Steps))
	}
	s := p.Steps[0]
	if s.Tool != "add_task" || s.ID != "s1" {
		t.Errorf("step = %+v", s)
	}
	if s.Input["description"] != "buy milk" {
		t.Errorf("description = %q", s.Input["description"])
	}
}

func TestPlanAddAndListChains(t *testing.T) {
	p, err := NewRuleBased().Plan("add task water plants, then list my tasks")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(p.Steps))
	}
	if p.Steps[0].Tool != "add_task" || p.Steps[1].Tool != "list_tasks" {
		t.Errorf("tools = [%s %s]", p.Steps[0].Tool, p.Steps[1].Tool)
	}
	if !reflect.DeepEqual(p.Steps[1].After, []string{"s1"}) {
		t.Errorf("second step after = %v, want [s1]", p.Steps[1].After)
	}
}

func TestPlanArithmetic(t *testing.T) {
	cases := []struct {
		request string
		tool    string
		a, b    float64
	}{
		{"calculate 2 + 3", "add_numbers", 2, 3},
		{"what is 5 * 10", "multiply_numbers", 5, 10},
		{"compute 4 x 6", "multiply_numbers", 4, 6},
	}
	for _, tc := range cases {
		p, err := NewRuleBased().Plan(tc.request)
		if err != nil {
			t.Fatal(err)
		}
		if len(p.Steps) != 1 {
			t.Fatalf("%q: steps = %d, want 1", tc.request, len(p.Steps))
		}
		s := p.Steps[0]
		if s.Tool != tc.tool {
			t.Errorf("%q: tool = %s, want %s", tc.request, s.Tool, tc.tool)
		}
		if s.Input["a"] != tc.a || s.Input["b"] != tc.b {
			t.Errorf("%q: input = %v", tc.request, s.Input)
		}
	}
}

func TestPlanPercentage(t *testing.T) {
	p, err := NewRuleBased().Plan("what percent is 25 of 200")
	if err != nil {
		t.Fatal(err)
	}
	s := p.Steps[0]
	if s.Tool != "calculate_percentage" {
		t.Fatalf("tool = %s", s.Tool)
	}
	if s.Input["part"] != 25.0 || s.Input["whole"] != 200.0 {
		t.Errorf("input = %v", s.Input)
	}
}

func TestPlanCompleteAndDelete(t *testing.T) {
	p, err := NewRuleBased().Plan("complete task #2 and then delete task 3")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(p.Steps))
	}
	if p.Steps[0].Tool != "complete_task" || p.Steps[0].Input["id"] != 2 {
		t.Errorf("first = %+v", p.Steps[0])
	}
	if p.Steps[1].Tool != "delete_task" || p.Steps[1].Input["id"] != 3 {
		t.Errorf("second = %+v", p.Steps[1])
	}
}

func TestPlanCurrentTime(t *testing.T) {
	p, err := NewRuleBased().Plan("what time is it")
	if err != nil {
		t.Fatal(err)
	}
	if p.Steps[0].Tool != "get_current_time" {
		t.Errorf("tool = %s", p.Steps[0].Tool)
	}
}

func TestPlanListIncludesDone(t *testing.T) {
	p, err := NewRuleBased().Plan("list all tasks including completed ones")
	if err != nil {
		t.Fatal(err)
	}
	if p.Steps[0].Tool != "list_tasks" || p.Steps[0].Input["include_done"] != true {
		t.Errorf("step = %+v", p.Steps[0])
	}
}

func TestPlanFallback(t *testing.T) {
	p, err := NewRuleBased().Plan("do something unrecognizable")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Steps) != 1 || p.Steps[0].Tool != "list_tasks" {
		t.Errorf("fallback = %+v", p.Steps)
	}
}

func TestPlanDeterministic(t *testing.T) {
	const request = "add task call Bob, then list tasks"
	first, err := NewRuleBased().Plan(request)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := NewRuleBased().Plan(request)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("plan differs between runs: %+v vs %+v", first, again)
		}
	}
}

func TestPlanEmptyRequest(t *testing.T) {
	if _, err := NewRuleBased().Plan("   "); err == nil {
		t.Fatal("empty request must error")
	}
}
