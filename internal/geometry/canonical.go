package geometry

import (
	"github.com/paulmach/orb"
	"github.com/twpayne/go-geos"
)

// Canonicalize normalizes a geometry to a multipolygon.
//
// A polygon becomes a one-element multipolygon, a multipolygon passes through
// without its empty members, and a collection is flattened to its polygonal
// members. Anything else, or an empty result, yields nil. Canonicalize is
// idempotent.
func Canonicalize(g orb.Geometry) orb.MultiPolygon {
	var out orb.MultiPolygon
	collect(g, &out)
	if len(out) == 0 {
		return nil
	}
	return out
}

func collect(g orb.Geometry, out *orb.MultiPolygon) {
	switch v := g.(type) {
	case orb.Polygon:
		if !emptyPolygon(v) {
			*out = append(*out, v)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			if !emptyPolygon(p) {
				*out = append(*out, p)
			}
		}
	case orb.Collection:
		for _, m := range v {
			collect(m, out)
		}
	}
}

func emptyPolygon(p orb.Polygon) bool {
	return len(p) == 0 || len(p[0]) == 0
}

// CanonicalizeGeom converts a GEOS geometry to its canonical multipolygon
func CanonicalizeGeom(g *geos.Geom) (orb.MultiPolygon, error) {
	if IsEmpty(g) {
		return nil, nil
	}
	og, err := ToOrb(g)
	if err != nil {
		return nil, err
	}
	return Canonicalize(og), nil
}
