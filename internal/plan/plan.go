package plan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Step is one tool invocation in a plan. After lists step ids that must
// complete before this step runs. Steps are never mutated after validation.
type Step struct {
	ID    string         `yaml:"id" json:"id"`
	Tool  string         `yaml:"tool" json:"tool"`
	Input map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
	After []string       `yaml:"after,omitempty" json:"after,omitempty"`
}

// Plan is a set of steps whose After relation must form a DAG.
type Plan struct {
	Steps []Step `yaml:"steps" json:"steps"`
}

// Load reads a plan from a YAML file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", path, err)
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	return &p, nil
}
