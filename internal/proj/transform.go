package proj

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// SRID constants for common projections
const (
	SRID4326 = 4326 // WGS84 (lat/lon)
	SRID3857 = 3857 // Web Mercator
)

// Transformer handles coordinate transformations between projections
type Transformer struct {
	SourceSRID int
	TargetSRID int
}

// NewTransformer creates a transformer between 4326 and 3857 in either direction
func NewTransformer(sourceSRID, targetSRID int) (*Transformer, error) {
	if !supported(sourceSRID) {
		return nil, fmt.Errorf("unsupported source SRID: %d (supported: 4326, 3857)", sourceSRID)
	}
	if !supported(targetSRID) {
		return nil, fmt.Errorf("unsupported target SRID: %d (supported: 4326, 3857)", targetSRID)
	}

	return &Transformer{
		SourceSRID: sourceSRID,
		TargetSRID: targetSRID,
	}, nil
}

func supported(srid int) bool {
	return srid == SRID4326 || srid == SRID3857
}

// Transform converts a coordinate from source to target projection
func (t *Transformer) Transform(x, y float64) (float64, float64) {
	switch {
	case t.SourceSRID == t.TargetSRID:
		return x, y
	case t.SourceSRID == SRID4326 && t.TargetSRID == SRID3857:
		return lonLatToWebMercator(x, y)
	case t.SourceSRID == SRID3857 && t.TargetSRID == SRID4326:
		return webMercatorToLonLat(x, y)
	}
	return x, y
}

// Projection returns the transformation as an orb.Projection
func (t *Transformer) Projection() orb.Projection {
	return func(p orb.Point) orb.Point {
		x, y := t.Transform(p[0], p[1])
		return orb.Point{x, y}
	}
}

// Geometry returns a projected copy of g; g itself is left untouched
func (t *Transformer) Geometry(g orb.Geometry) orb.Geometry {
	if g == nil {
		return nil
	}
	c := orb.Clone(g)
	if !t.NeedsTransform() {
		return c
	}
	return project.Geometry(c, t.Projection())
}

// NeedsTransform returns true if transformation is required
func (t *Transformer) NeedsTransform() bool {
	return t.SourceSRID != t.TargetSRID
}

// ToWGS84 projects a Web Mercator geometry back to lon/lat degrees
func ToWGS84(g orb.Geometry) orb.Geometry {
	return (&Transformer{SourceSRID: SRID3857, TargetSRID: SRID4326}).Geometry(g)
}

// Web Mercator constants
const (
	// Semi-major axis of WGS84 ellipsoid in meters
	earthRadius = 6378137.0
	// Maximum extent of Web Mercator
	maxExtent = 20037508.342789244
	// Latitudes beyond this are clamped
	maxLat = 85.06
)

// lonLatToWebMercator converts WGS84 (lon, lat) to Web Mercator (x, y)
func lonLatToWebMercator(lon, lat float64) (x, y float64) {
	if lat > maxLat {
		lat = maxLat
	} else if lat < -maxLat {
		lat = -maxLat
	}

	x = lon * maxExtent / 180.0

	// y = R * ln(tan(π/4 + φ/2))
	latRad := lat * math.Pi / 180.0
	y = math.Log(math.Tan(math.Pi/4.0+latRad/2.0)) * earthRadius

	return x, y
}

// webMercatorToLonLat converts Web Mercator (x, y) to WGS84 (lon, lat)
func webMercatorToLonLat(x, y float64) (lon, lat float64) {
	lon = x * 180.0 / maxExtent
	// φ = 2·atan(exp(y/R)) − π/2
	lat = (2.0*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2.0) * 180.0 / math.Pi
	return lon, lat
}
