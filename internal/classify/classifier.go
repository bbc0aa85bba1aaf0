// Package classify derives a display category for green-area features.
package classify

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/wegman-software/gsa-etl-go/internal/logger"
)

const (
	// Unknown is the raw category of a feature with none of the priority tags
	Unknown = "unknown"
	// Unnamed is the name given to features without a name tag
	Unnamed = "Unnamed"
)

// DefaultTagPriority lists the tag keys consulted for the raw category
var DefaultTagPriority = []string{"leisure", "landuse", "natural"}

// supertypes collapses fine-grained raw categories of unnamed features
var supertypes = map[string]string{
	"park":              "park",
	"garden":            "park",
	"grass":             "park",
	"village_green":     "park",
	"playground":        "park",
	"recreation_ground": "park",
	"forest":            "forest",
	"wood":              "forest",
	"scrub":             "forest",
	"nature_reserve":    "forest",
	"grassland":         "grassland",
	"heath":             "grassland",
	"fell":              "grassland",
}

// Hook may override the raw category; ok is false to keep the default
type Hook interface {
	Classify(tags map[string]string) (category string, ok bool, err error)
}

// Result is the classification of one feature
type Result struct {
	Name     string
	Named    bool
	Raw      string // Raw category before supertype mapping
	Category string // Display label
}

// Classifier assigns names and display categories
type Classifier struct {
	priority   []string
	hook       Hook
	hookErrors int
}

// New creates a classifier. An empty priority uses DefaultTagPriority.
func New(priority []string, hook Hook) *Classifier {
	if len(priority) == 0 {
		priority = DefaultTagPriority
	}
	return &Classifier{priority: priority, hook: hook}
}

// HookErrors returns how many hook calls failed and fell back to the default
func (c *Classifier) HookErrors() int {
	return c.hookErrors
}

// RawCategory returns the first non-empty priority tag value, or Unknown
func (c *Classifier) RawCategory(tags map[string]string) string {
	for _, key := range c.priority {
		if v := strings.TrimSpace(tags[key]); v != "" {
			return v
		}
	}
	return Unknown
}

// Classify names and categorizes a feature from its tags.
// Unnamed features are mapped to their supertype; named ones keep the raw category.
func (c *Classifier) Classify(tags map[string]string) Result {
	name := strings.TrimSpace(tags["name"])
	if name == "" {
		name = Unnamed
	}
	named := IsNamed(name)

	raw := c.RawCategory(tags)
	if c.hook != nil {
		override, ok, err := c.hook.Classify(tags)
		switch {
		case err != nil:
			c.hookErrors++
			logger.Get().Warn("Classification hook failed, using default", zap.Error(err))
		case ok && strings.TrimSpace(override) != "":
			raw = strings.TrimSpace(override)
		}
	}

	category := raw
	if !named {
		category = Supertype(raw)
	}

	return Result{
		Name:     name,
		Named:    named,
		Raw:      raw,
		Category: Normalize(category),
	}
}

// IsNamed reports whether name is a real name rather than the placeholder
func IsNamed(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && name != Unnamed
}

// Supertype maps a raw category to its coarser group, passing unknown values through
func Supertype(raw string) string {
	if s, ok := supertypes[raw]; ok {
		return s
	}
	return raw
}

// Normalize renders a category for display: underscores become spaces, the
// first letter is upper-cased and the rest lower-cased ("village_green" ->
// "Village green").
func Normalize(s string) string {
	s = strings.Join(strings.Fields(strings.ReplaceAll(s, "_", " ")), " ")
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
