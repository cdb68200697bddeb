package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/attendance/internal/geo"
)

// Sections holds optional per-section settings loaded from YAML. Sections
// not listed use defaults, so the file only needs entries for overrides.
type Sections struct {
	Sections []Section `yaml:"sections"`
}

// Section overrides settings for a single class section.
type Section struct {
	Name string `yaml:"name"`

	// MaxDistanceMeters widens or narrows the proximity gate, e.g. for
	// lecture halls where 10m is too tight.
	MaxDistanceMeters float64 `yaml:"maxDistanceMeters"`
}

// Load reads a sections file. An empty path yields an empty registry, which
// answers every lookup with defaults.
func Load(path string) (*Sections, error) {
	if path == "" {
		return &Sections{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sections config: %w", err)
	}

	var cfg Sections
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse sections config: %w", err)
	}

	return &cfg, nil
}

// MaxDistanceFor returns the proximity threshold for a section, falling
// back to the global default.
func (s *Sections) MaxDistanceFor(name string) float64 {
	for _, sec := range s.Sections {
		if sec.Name == name && sec.MaxDistanceMeters > 0 {
			return sec.MaxDistanceMeters
		}
	}
	return geo.DefaultMaxDistanceMeters
}
