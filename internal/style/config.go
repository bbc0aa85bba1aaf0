package style

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config selects which OSM elements feed each extract
type Config struct {
	// GreenAreas selects polygon-like green-space features
	GreenAreas *FilterConfig `yaml:"green_areas,omitempty"`
	// Routing selects the ways of the routing network
	Routing *FilterConfig `yaml:"routing,omitempty"`
}

// FilterConfig defines filtering rules for one extract
type FilterConfig struct {
	// Include specifies which tag keys/values to include
	// If empty, all tags are included (no filtering)
	Include map[string][]string `yaml:"include,omitempty"`
	// Exclude specifies which tag keys/values to exclude
	// Applied after include rules
	Exclude map[string][]string `yaml:"exclude,omitempty"`
	// RequireAny specifies that at least one of these tags must be present
	RequireAny []string `yaml:"require_any,omitempty"`
	// Relations also selects matching relations, not only ways
	Relations bool `yaml:"relations,omitempty"`
}

// LoadConfig loads a style configuration from a YAML file.
// Sections missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse style YAML: %w", err)
	}

	def := DefaultConfig()
	if cfg.GreenAreas == nil {
		cfg.GreenAreas = def.GreenAreas
	}
	if cfg.Routing == nil {
		cfg.Routing = def.Routing
	}
	return &cfg, nil
}

// DefaultConfig returns the green-space and walkable/driveable network selection
func DefaultConfig() *Config {
	return &Config{
		GreenAreas: &FilterConfig{
			Include: map[string][]string{
				"leisure": {"park", "garden", "playground", "nature_reserve", "recreation_ground", "dog_park"},
				"landuse": {"forest", "grass", "village_green", "allotments", "recreation_ground"},
				"natural": {"wood", "grassland", "scrub", "heath", "fell"},
			},
			Relations: true,
		},
		Routing: &FilterConfig{
			Include: map[string][]string{
				"highway": {
					"motorway", "motorway_link", "trunk", "trunk_link", "primary", "primary_link",
					"secondary", "secondary_link", "tertiary", "tertiary_link", "unclassified",
					"residential", "living_street", "service", "road", "track", "bus_guideway",
					"escape", "raceway", "footway", "bridleway", "steps", "corridor", "path",
					"cycleway", "pedestrian",
				},
			},
		},
	}
}

// IncludeKeys returns the include tag keys in sorted order
func (c *FilterConfig) IncludeKeys() []string {
	if c == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Include))
	for k := range c.Include {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Filter checks if tags match the filter configuration
type Filter struct {
	cfg *FilterConfig
}

// NewFilter creates a filter from configuration
func NewFilter(cfg *FilterConfig) *Filter {
	if cfg == nil {
		return &Filter{cfg: &FilterConfig{}}
	}
	return &Filter{cfg: cfg}
}

// Config returns the underlying filter configuration
func (f *Filter) Config() *FilterConfig {
	return f.cfg
}

// Match checks if the given tags match the filter rules
// Returns true if the feature should be included
func (f *Filter) Match(tags map[string]string) bool {
	if f.cfg == nil {
		return true
	}

	if len(f.cfg.RequireAny) > 0 {
		found := false
		for _, key := range f.cfg.RequireAny {
			if _, ok := tags[key]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.cfg.Include) > 0 && !anyValueMatches(f.cfg.Include, tags) {
		return false
	}

	if len(f.cfg.Exclude) > 0 && anyValueMatches(f.cfg.Exclude, tags) {
		return false
	}

	return true
}

// anyValueMatches reports whether a tag matches a rule set.
// A key with no values (or "*") matches any value.
func anyValueMatches(rules map[string][]string, tags map[string]string) bool {
	for key, values := range rules {
		tagValue, ok := tags[key]
		if !ok {
			continue
		}
		if len(values) == 0 {
			return true
		}
		for _, v := range values {
			if v == tagValue || v == "*" {
				return true
			}
		}
	}
	return false
}

// MatchOSMTags is a convenience method for osm.Tags
func (f *Filter) MatchOSMTags(tags interface{ Map() map[string]string }) bool {
	return f.Match(tags.Map())
}

// HasFilter returns true if filtering is enabled
func (f *Filter) HasFilter() bool {
	if f.cfg == nil {
		return false
	}
	return len(f.cfg.Include) > 0 || len(f.cfg.Exclude) > 0 || len(f.cfg.RequireAny) > 0
}
