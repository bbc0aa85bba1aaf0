package classify

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"village_green", "Village green"},
		{"park", "Park"},
		{"FOREST", "Forest"},
		{"recreation_ground", "Recreation ground"},
		{"  nature__reserve ", "Nature reserve"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		tags     map[string]string
		wantName string
		named    bool
		category string
	}{
		{
			name:     "unnamed garden maps to park",
			tags:     map[string]string{"leisure": "garden"},
			wantName: "Unnamed",
			category: "Park",
		},
		{
			name:     "named garden keeps raw category",
			tags:     map[string]string{"leisure": "garden", "name": "Jardim da Estrela"},
			wantName: "Jardim da Estrela",
			named:    true,
			category: "Garden",
		},
		{
			name:     "leisure wins over landuse",
			tags:     map[string]string{"landuse": "forest", "leisure": "park", "name": "Monsanto"},
			wantName: "Monsanto",
			named:    true,
			category: "Park",
		},
		{
			name:     "empty leisure falls through",
			tags:     map[string]string{"leisure": "", "natural": "heath"},
			wantName: "Unnamed",
			category: "Grassland",
		},
		{
			name:     "unnamed scrub maps to forest",
			tags:     map[string]string{"natural": "scrub"},
			wantName: "Unnamed",
			category: "Forest",
		},
		{
			name:     "unmapped type passes through",
			tags:     map[string]string{"landuse": "allotments"},
			wantName: "Unnamed",
			category: "Allotments",
		},
		{
			name:     "no category tags",
			tags:     map[string]string{"name": "Somewhere"},
			wantName: "Somewhere",
			named:    true,
			category: "Unknown",
		},
		{
			name:     "literal Unnamed is not a name",
			tags:     map[string]string{"name": "Unnamed", "landuse": "village_green"},
			wantName: "Unnamed",
			category: "Park",
		},
		{
			name:     "named village green",
			tags:     map[string]string{"name": "Largo", "landuse": "village_green"},
			wantName: "Largo",
			named:    true,
			category: "Village green",
		},
	}

	c := New(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.tags)
			if got.Name != tt.wantName || got.Named != tt.named || got.Category != tt.category {
				t.Errorf("Classify(%v) = %+v, want name %q named %v category %q",
					tt.tags, got, tt.wantName, tt.named, tt.category)
			}
		})
	}
}

func TestCustomPriority(t *testing.T) {
	c := New([]string{"natural", "leisure"}, nil)
	if got := c.RawCategory(map[string]string{"leisure": "park", "natural": "wood"}); got != "wood" {
		t.Errorf("RawCategory = %q, want wood", got)
	}
}

type stubHook struct {
	category string
	ok       bool
	err      error
}

func (h stubHook) Classify(map[string]string) (string, bool, error) {
	return h.category, h.ok, h.err
}

func TestHookOverridesAndFallsBack(t *testing.T) {
	tags := map[string]string{"leisure": "garden"}

	c := New(nil, stubHook{category: "wood", ok: true})
	if got := c.Classify(tags).Category; got != "Forest" {
		t.Errorf("override category = %q, want Forest", got)
	}

	c = New(nil, stubHook{ok: false})
	if got := c.Classify(tags).Category; got != "Park" {
		t.Errorf("kept category = %q, want Park", got)
	}

	c = New(nil, stubHook{err: errors.New("boom")})
	if got := c.Classify(tags).Category; got != "Park" {
		t.Errorf("fallback category = %q, want Park", got)
	}
	if c.HookErrors() != 1 {
		t.Errorf("HookErrors = %d, want 1", c.HookErrors())
	}
}

func TestLuaScript(t *testing.T) {
	s, err := LoadScriptString(`
function classify(tags)
  if tags.leisure == "dog_park" then
    return "park"
  end
  if tags.bad then
    return 42
  end
  return nil
end
`)
	if err != nil {
		t.Fatalf("LoadScriptString error: %v", err)
	}
	defer s.Close()

	got, ok, err := s.Classify(map[string]string{"leisure": "dog_park"})
	if err != nil || !ok || got != "park" {
		t.Errorf("Classify(dog_park) = %q, %v, %v", got, ok, err)
	}

	_, ok, err = s.Classify(map[string]string{"leisure": "garden"})
	if err != nil || ok {
		t.Errorf("Classify(garden) ok = %v, err = %v; want default", ok, err)
	}

	if _, _, err = s.Classify(map[string]string{"bad": "yes"}); err == nil {
		t.Error("expected error for non-string result")
	}

	c := New(nil, s)
	if got := c.Classify(map[string]string{"leisure": "dog_park"}).Category; got != "Park" {
		t.Errorf("category = %q, want Park", got)
	}
}

func TestLuaScriptWithoutFunction(t *testing.T) {
	if _, err := LoadScriptString(`x = 1`); err == nil {
		t.Error("expected error when classify is missing")
	}
	if _, err := LoadScriptString(`this is not lua`); err == nil {
		t.Error("expected syntax error")
	}
}
