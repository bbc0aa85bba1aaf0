package geometry

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/twpayne/go-geos"
)

// guard runs a GEOS operation, turning a panic or a nil result into an OpError
func guard(op string, fn func() *geos.Geom) (g *geos.Geom, err error) {
	defer func() {
		if r := recover(); r != nil {
			g, err = nil, &OpError{Op: op, Cause: r}
		}
	}()
	g = fn()
	if g == nil {
		return nil, &OpError{Op: op, Cause: "nil result"}
	}
	return g, nil
}

// FromOrb converts an orb geometry into a GEOS geometry via WKB
func FromOrb(g orb.Geometry) (out *geos.Geom, err error) {
	data, err := wkb.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to encode wkb: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &OpError{Op: "from_wkb", Cause: r}
		}
	}()
	out, err = geos.NewGeomFromWKB(data)
	if err != nil {
		return nil, &OpError{Op: "from_wkb", Cause: err}
	}
	return out, nil
}

// ToOrb converts a GEOS geometry into an orb geometry via WKB
func ToOrb(g *geos.Geom) (orb.Geometry, error) {
	var data []byte
	_, err := guard("to_wkb", func() *geos.Geom {
		data = g.ToWKB()
		return g
	})
	if err != nil {
		return nil, err
	}
	out, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode wkb: %w", err)
	}
	return out, nil
}

// MakeValid repairs an invalid geometry
func MakeValid(g *geos.Geom) (*geos.Geom, error) {
	return guard("make_valid", g.MakeValid)
}

// Buffer grows (or shrinks, for negative width) a geometry
func Buffer(g *geos.Geom, width float64, quadSegs int) (*geos.Geom, error) {
	return guard("buffer", func() *geos.Geom { return g.Buffer(width, quadSegs) })
}

// Difference returns a minus b
func Difference(a, b *geos.Geom) (*geos.Geom, error) {
	return guard("difference", func() *geos.Geom { return a.Difference(b) })
}

// Union returns the union of a and b
func Union(a, b *geos.Geom) (*geos.Geom, error) {
	return guard("union", func() *geos.Geom { return a.Union(b) })
}

// UnionAll folds the geometries into one by pairwise union.
// It returns nil for an empty input.
func UnionAll(geoms []*geos.Geom) (*geos.Geom, error) {
	var acc *geos.Geom
	for _, g := range geoms {
		if g == nil {
			continue
		}
		if acc == nil {
			acc = g
			continue
		}
		u, err := Union(acc, g)
		if err != nil {
			return nil, err
		}
		acc = u
	}
	return acc, nil
}

// Intersects reports whether a and b share any point
func Intersects(a, b *geos.Geom) (bool, error) {
	var hit bool
	_, err := guard("intersects", func() *geos.Geom {
		hit = a.Intersects(b)
		return a
	})
	return hit, err
}

// IsValid reports GEOS validity, treating a failed check as invalid
func IsValid(g *geos.Geom) bool {
	valid := false
	_, err := guard("is_valid", func() *geos.Geom {
		valid = g.IsValid()
		return g
	})
	return err == nil && valid
}

// IsEmpty reports whether g is nil or has no points
func IsEmpty(g *geos.Geom) bool {
	return g == nil || g.IsEmpty()
}

// Polygonal keeps only the polygonal parts of g, unioned into one geometry.
// It returns nil when g has none.
func Polygonal(g *geos.Geom) (*geos.Geom, error) {
	if IsEmpty(g) {
		return nil, nil
	}
	switch g.TypeID() {
	case geos.TypeIDPolygon, geos.TypeIDMultiPolygon:
		return g, nil
	case geos.TypeIDGeometryCollection:
		var parts []*geos.Geom
		for i := 0; i < g.NumGeometries(); i++ {
			p, err := Polygonal(g.Geometry(i))
			if err != nil {
				return nil, err
			}
			if p != nil {
				parts = append(parts, p)
			}
		}
		return UnionAll(parts)
	}
	return nil, nil
}

// Parts splits a polygonal geometry into its individual polygons
func Parts(g *geos.Geom) []*geos.Geom {
	if IsEmpty(g) {
		return nil
	}
	switch g.TypeID() {
	case geos.TypeIDPolygon:
		return []*geos.Geom{g}
	case geos.TypeIDMultiPolygon, geos.TypeIDGeometryCollection:
		var out []*geos.Geom
		for i := 0; i < g.NumGeometries(); i++ {
			out = append(out, Parts(g.Geometry(i))...)
		}
		return out
	}
	return nil
}
