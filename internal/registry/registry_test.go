package registry

import (
	"errors"
	"testing"
)

func calcSpec() ToolSpec {
	return ToolSpec{
		Name:   "add_numbers",
		Purity: Pure,
		Input: []Field{
			{Name: "a", Type: TypeNumber, Required: true},
			{Name: "b", Type: TypeNumber, Required: true},
		},
	}
}

func TestRegisterAndLookup(t *testing.T) {
	reg := New()
	if err := reg.Register(calcSpec()); err != nil {
		t.Fatal(err)
	}

	spec, err := reg.Lookup("add_numbers")
	if err != nil {
		t.Fatal(err)
	}
	if spec.Purity != Pure {
		t.Errorf("Purity = %q, want pure", spec.Purity)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := New()
	if err := reg.Register(calcSpec()); err != nil {
		t.Fatal(err)
	}
	err := reg.Register(calcSpec())
	var dup *DuplicateToolError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateToolError, got %v", err)
	}
	if dup.Name != "add_numbers" {
		t.Errorf("Name = %q", dup.Name)
	}
}

func TestLookupUnknown(t *testing.T) {
	reg := New()
	_, err := reg.Lookup("nope")
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownToolError, got %v", err)
	}
}

func TestRegisterRejectsInvalidSpecs(t *testing.T) {
	tests := []struct {
		name string
		spec ToolSpec
	}{
		{"empty name", ToolSpec{Purity: Pure}},
		{"bad purity", ToolSpec{Name: "t", Purity: "sometimes"}},
		{"negative ttl", ToolSpec{Name: "t", Purity: ReadOnly, CacheTTL: -1}},
		{"impure with ttl", ToolSpec{Name: "t", Purity: Impure, CacheTTL: 60}},
		{"duplicate field", ToolSpec{Name: "t", Purity: Pure, Input: []Field{
			{Name: "x", Type: TypeString}, {Name: "x", Type: TypeString},
		}}},
		{"unknown field type", ToolSpec{Name: "t", Purity: Pure, Input: []Field{
			{Name: "x", Type: "decimal"},
		}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := New().Register(tc.spec); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNamesSorted(t *testing.T) {
	reg := New()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(ToolSpec{Name: name, Purity: Pure}); err != nil {
			t.Fatal(err)
		}
	}
	names := reg.Names()
	want := []string{"alpha", "mid", "zeta"}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}
}

func TestValidateInput(t *testing.T) {
	spec := ToolSpec{
		Name:   "add_task",
		Purity: Impure,
		Input: []Field{
			{Name: "description", Type: TypeString, Required: true},
			{Name: "priority", Type: TypeInteger},
			{Name: "tags", Type: TypeArray},
		},
	}

	tests := []struct {
		name  string
		input map[string]any
		ok    bool
	}{
		{"valid", map[string]any{"description": "buy milk"}, true},
		{"all fields", map[string]any{"description": "x", "priority": 2, "tags": []any{"home"}}, true},
		{"json integer", map[string]any{"description": "x", "priority": float64(3)}, true},
		{"missing required", map[string]any{"priority": 1}, false},
		{"wrong type", map[string]any{"description": 42}, false},
		{"fractional integer", map[string]any{"description": "x", "priority": 1.5}, false},
		{"undeclared field", map[string]any{"description": "x", "due": "tomorrow"}, false},
		{"null required", map[string]any{"description": nil}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateInput(spec, tc.input)
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidateInputNoSchema(t *testing.T) {
	spec := ToolSpec{Name: "free", Purity: Pure}
	if err := ValidateInput(spec, map[string]any{"anything": "goes"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseCatalog(t *testing.T) {
	data := []byte(`
version: 1
tools:
  - name: add_numbers
    purity: pure
    input:
      - name: a
        type: number
        required: true
      - name: b
        type: number
        required: true
  - name: get_current_time
    purity: read_only
    cache_ttl_s: 5
  - name: add_task
    purity: impure
    input:
      - name: description
        type: string
        required: true
`)
	reg, err := ParseCatalog(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(reg.Names()) != 3 {
		t.Fatalf("expected 3 tools, got %v", reg.Names())
	}
	spec, err := reg.Lookup("get_current_time")
	if err != nil {
		t.Fatal(err)
	}
	if spec.CacheTTL != 5 {
		t.Errorf("CacheTTL = %d, want 5", spec.CacheTTL)
	}
}

func TestParseCatalogExpandsScriptEnv(t *testing.T) {
	t.Setenv("TOOLS_DIR", "/opt/tools")
	data := []byte(`
tools:
  - name: greet
    purity: pure
    script: ${TOOLS_DIR}/greet.lua
`)
	reg, err := ParseCatalog(data)
	if err != nil {
		t.Fatal(err)
	}
	spec, _ := reg.Lookup("greet")
	if spec.Script != "/opt/tools/greet.lua" {
		t.Errorf("Script = %q", spec.Script)
	}
}

func TestParseCatalogErrors(t *testing.T) {
	if _, err := ParseCatalog([]byte("tools: []")); err == nil {
		t.Error("expected error for empty catalog")
	}
	if _, err := ParseCatalog([]byte("{{not yaml")); err == nil {
		t.Error("expected error for bad yaml")
	}
	dup := []byte("tools:\n  - name: a\n    purity: pure\n  - name: a\n    purity: pure\n")
	if _, err := ParseCatalog(dup); err == nil {
		t.Error("expected error for duplicate tool")
	}
}
