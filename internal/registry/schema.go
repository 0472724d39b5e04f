package registry

import (
	"fmt"
)

// Field describes one input field of a tool.
type Field struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeAny     = "any"
)

func validTypeName(t string) bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray, TypeAny:
		return true
	}
	return false
}

func validateFields(tool string, fields []Field) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return fmt.Errorf("tool %q: input field name is required", tool)
		}
		if seen[f.Name] {
			return fmt.Errorf("tool %q: duplicate input field %q", tool, f.Name)
		}
		seen[f.Name] = true
		if f.Type == "" {
			continue // untyped fields accept anything
		}
		if !validTypeName(f.Type) {
			return fmt.Errorf("tool %q: field %q has unknown type %q", tool, f.Name, f.Type)
		}
	}
	return nil
}

// ValidateInput checks a proposed input mapping against the tool's declared
// fields: required fields present, no undeclared fields, values of the
// declared type. Tools with no declared fields accept any input.
func ValidateInput(spec ToolSpec, input map[string]any) error {
	if len(spec.Input) == 0 {
		return nil
	}
	declared := make(map[string]Field, len(spec.Input))
	for _, f := range spec.Input {
		declared[f.Name] = f
	}
	for _, f := range spec.Input {
		v, ok := input[f.Name]
		if !ok {
			if f.Required {
				return fmt.Errorf("missing required field %q", f.Name)
			}
			continue
		}
		if err := checkType(f, v); err != nil {
			return err
		}
	}
	for name := range input {
		if _, ok := declared[name]; !ok {
			return fmt.Errorf("undeclared field %q", name)
		}
	}
	return nil
}

// AnyValue marks an input value whose concrete type is only known at
// execution time (e.g. a step output reference); it satisfies every
// declared field type.
var AnyValue any = anyValue{}

type anyValue struct{}

func checkType(f Field, v any) error {
	if f.Type == "" || f.Type == TypeAny {
		return nil
	}
	if _, ok := v.(anyValue); ok {
		return nil
	}
	if v == nil {
		return fmt.Errorf("field %q: null is not a valid %s", f.Name, f.Type)
	}
	switch f.Type {
	case TypeString:
		if _, ok := v.(string); !ok {
			return typeError(f, v)
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return typeError(f, v)
		}
	case TypeNumber:
		if !isNumber(v) {
			return typeError(f, v)
		}
	case TypeInteger:
		if !isInteger(v) {
			return typeError(f, v)
		}
	case TypeObject:
		if _, ok := v.(map[string]any); !ok {
			return typeError(f, v)
		}
	case TypeArray:
		if _, ok := v.([]any); !ok {
			return typeError(f, v)
		}
	}
	return nil
}

func typeError(f Field, v any) error {
	return fmt.Errorf("field %q: expected %s, got %T", f.Name, f.Type, v)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, float32, float64:
		return true
	}
	return false
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64:
		return true
	case float64:
		// JSON and YAML decode whole numbers as float64.
		return n == float64(int64(n))
	case float32:
		return n == float32(int64(n))
	}
	return false
}
