package style

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultGreenAreaFilter(t *testing.T) {
	f := NewFilter(DefaultConfig().GreenAreas)

	tests := []struct {
		name string
		tags map[string]string
		want bool
	}{
		{"park", map[string]string{"leisure": "park", "name": "Jardim"}, true},
		{"forest landuse", map[string]string{"landuse": "forest"}, true},
		{"heath", map[string]string{"natural": "heath"}, true},
		{"stadium", map[string]string{"leisure": "stadium"}, false},
		{"building", map[string]string{"building": "yes"}, false},
		{"no tags", map[string]string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Match(tt.tags); got != tt.want {
				t.Errorf("Match(%v) = %v, want %v", tt.tags, got, tt.want)
			}
		})
	}
}

func TestDefaultRoutingFilter(t *testing.T) {
	f := NewFilter(DefaultConfig().Routing)
	if !f.Match(map[string]string{"highway": "footway"}) {
		t.Error("footway should be routable")
	}
	if f.Match(map[string]string{"highway": "proposed"}) {
		t.Error("proposed road should not be routable")
	}
	if DefaultConfig().Routing.Relations {
		t.Error("routing extract should not select relations")
	}
}

func TestExcludeAndRequireAny(t *testing.T) {
	f := NewFilter(&FilterConfig{
		Include:    map[string][]string{"leisure": {"*"}},
		Exclude:    map[string][]string{"access": {"private"}},
		RequireAny: []string{"name"},
	})

	if !f.Match(map[string]string{"leisure": "garden", "name": "A"}) {
		t.Error("expected match")
	}
	if f.Match(map[string]string{"leisure": "garden"}) {
		t.Error("expected require_any to reject unnamed")
	}
	if f.Match(map[string]string{"leisure": "garden", "name": "A", "access": "private"}) {
		t.Error("expected exclude to reject private")
	}
}

func TestNilFilterMatchesEverything(t *testing.T) {
	f := NewFilter(nil)
	if f.HasFilter() {
		t.Error("nil config should not filter")
	}
	if !f.Match(map[string]string{"any": "thing"}) {
		t.Error("nil config should match")
	}
}

func TestLoadConfigKeepsMissingSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "style.yaml")
	content := `
green_areas:
  include:
    leisure: [park]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if keys := cfg.GreenAreas.IncludeKeys(); len(keys) != 1 || keys[0] != "leisure" {
		t.Errorf("green area keys = %v", keys)
	}
	if cfg.Routing == nil || len(cfg.Routing.Include["highway"]) == 0 {
		t.Error("routing section should fall back to defaults")
	}
}
