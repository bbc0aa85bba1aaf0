// Package feed provides raw map-feature extracts for a region.
//
// Extracts come from an Overpass interpreter, from JSON files saved by an
// earlier run, or from a local .osm.pbf file. All sources produce the same
// Overpass "out geom" shaped Extract.
package feed

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// Kind identifies one of the two extracts a run needs
type Kind string

const (
	KindGreenAreas Kind = "green_areas"
	KindRouting    Kind = "routing"
)

// Kinds lists the extracts in the order a run fetches them
var Kinds = []Kind{KindGreenAreas, KindRouting}

// ParseKind converts a string into a Kind
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown extract kind %q", s)
}

// Source produces an extract of the requested kind
type Source interface {
	Fetch(ctx context.Context, kind Kind) (*Extract, error)
}

// Point is a WGS84 coordinate as Overpass reports it
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Member is a relation member with its resolved geometry
type Member struct {
	Type     osm.Type `json:"type"`
	Ref      int64    `json:"ref"`
	Role     string   `json:"role"`
	Geometry []Point  `json:"geometry,omitempty"`
}

// Element is a raw map feature: a way with its node ids and coordinates,
// or a relation with member geometries
type Element struct {
	Type     osm.Type          `json:"type"`
	ID       int64             `json:"id"`
	Tags     map[string]string `json:"tags,omitempty"`
	Geometry []Point           `json:"geometry,omitempty"`
	Nodes    []int64           `json:"nodes,omitempty"`
	Members  []Member          `json:"members,omitempty"`
}

// Extract is the full result of one query
type Extract struct {
	Version   float64   `json:"version,omitempty"`
	Generator string    `json:"generator,omitempty"`
	Remark    string    `json:"remark,omitempty"`
	Elements  []Element `json:"elements"`
}

// Len returns the element count of a possibly nil extract
func (e *Extract) Len() int {
	if e == nil {
		return 0
	}
	return len(e.Elements)
}

// LineString returns the element coordinates as lon/lat points
func (e *Element) LineString() orb.LineString {
	return toLineString(e.Geometry)
}

// LineString returns the member coordinates as lon/lat points
func (m *Member) LineString() orb.LineString {
	return toLineString(m.Geometry)
}

// Tag returns a tag value or "" when absent
func (e *Element) Tag(key string) string {
	if e.Tags == nil {
		return ""
	}
	return e.Tags[key]
}

func toLineString(pts []Point) orb.LineString {
	if len(pts) == 0 {
		return nil
	}
	ls := make(orb.LineString, len(pts))
	for i, p := range pts {
		ls[i] = orb.Point{p.Lon, p.Lat}
	}
	return ls
}
