package registry

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Catalog is the on-disk form of the registry: a static list of tool specs
// loaded once at startup.
type Catalog struct {
	Version int        `yaml:"version,omitempty"`
	Tools   []ToolSpec `yaml:"tools"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// LoadCatalog reads a YAML tool catalog and returns a populated registry.
func LoadCatalog(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses YAML catalog data and registers every tool it lists.
// Script paths may reference environment variables as ${VAR}.
func ParseCatalog(data []byte) (*Registry, error) {
	reg := New()
	if err := parseCatalogInto(reg, data); err != nil {
		return nil, err
	}
	return reg, nil
}

// LoadCatalogInto reads a YAML catalog and adds its tools to an existing
// registry, alongside whatever is already registered.
func LoadCatalogInto(reg *Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return parseCatalogInto(reg, data)
}

func parseCatalogInto(reg *Registry, data []byte) error {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return fmt.Errorf("parsing catalog: %w", err)
	}
	if len(cat.Tools) == 0 {
		return fmt.Errorf("catalog lists no tools")
	}
	for _, spec := range cat.Tools {
		spec.Script = expandEnv(spec.Script)
		if err := reg.Register(spec); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
	}
	return nil
}
