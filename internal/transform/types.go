// Package transform turns parsed green-area polygons into the final
// non-overlapping, merged feature set and its type registry.
package transform

import (
	"github.com/paulmach/orb"
	"github.com/twpayne/go-geos"
)

// Feature is a classified polygon in Web Mercator meters
type Feature struct {
	SourceID int64
	Name     string
	Named    bool
	Category string
	Geom     *geos.Geom
	Index    int // Position in the input, the final tie-break
}

// GreenArea is a merged output feature in WGS84
type GreenArea struct {
	ID       int64
	SourceID int64 // Smallest source id of the merged group
	Name     string
	Category string
	TypeID   int64
	Geometry orb.MultiPolygon
}

// TypeEntry is one row of the category registry
type TypeEntry struct {
	ID    int64
	Label string
}
