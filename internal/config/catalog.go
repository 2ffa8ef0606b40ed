package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed activities.yaml
var defaultCatalog []byte

// CatalogActivity is one seeded activity as written in the catalog file.
type CatalogActivity struct {
	Description     string   `yaml:"description" json:"description"`
	Schedule        string   `yaml:"schedule" json:"schedule"`
	MaxParticipants int      `yaml:"max_participants" json:"max_participants"`
	Participants    []string `yaml:"participants" json:"participants"`
}

// Catalog is the static seed table of activities, keyed by activity name.
type Catalog struct {
	Activities map[string]CatalogActivity `yaml:"activities" json:"activities"`
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog, FormatYAML)
}

// LoadCatalog reads a catalog file. An empty path returns DefaultCatalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	format := FormatYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = FormatJSON
	}
	cat, err := ParseCatalog(data, format)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}

// ParseCatalog decodes and validates catalog bytes. JSON is a subset of YAML,
// so both formats go through the YAML decoder, which also rejects duplicate
// activity names.
func ParseCatalog(data []byte, format ConfigFormat) (*Catalog, error) {
	if format != FormatYAML && format != FormatJSON {
		return nil, fmt.Errorf("unsupported catalog format %q", format)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate enforces the invariants the registry relies on.
func (c *Catalog) Validate() error {
	if len(c.Activities) == 0 {
		return fmt.Errorf("catalog has no activities")
	}
	for name, a := range c.Activities {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("catalog contains an activity with an empty name")
		}
		if a.MaxParticipants <= 0 {
			return fmt.Errorf("activity %q: max_participants must be positive, got %d", name, a.MaxParticipants)
		}
		seen := make(map[string]struct{}, len(a.Participants))
		for _, email := range a.Participants {
			if _, dup := seen[email]; dup {
				return fmt.Errorf("activity %q: participant %q listed twice", name, email)
			}
			seen[email] = struct{}{}
		}
	}
	return nil
}
