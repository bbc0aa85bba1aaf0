package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/twpayne/go-geos"
	"go.uber.org/zap"

	"github.com/wegman-software/gsa-etl-go/internal/feed"
	"github.com/wegman-software/gsa-etl-go/internal/logger"
)

// Stats counts parser outcomes
type Stats struct {
	Parsed   int
	Repaired int
	Failed   map[Reason]int
}

// TotalFailed returns the number of dropped features
func (s Stats) TotalFailed() int {
	n := 0
	for _, c := range s.Failed {
		n += c
	}
	return n
}

// Parser turns raw feed elements into valid canonical multipolygons.
// Coordinates are passed through the projection (if any) before any geometry
// work, so areas and buffers are computed in the projected units.
type Parser struct {
	project orb.Projection
	stats   Stats
}

// NewParser creates a parser; a nil projection keeps lon/lat coordinates
func NewParser(project orb.Projection) *Parser {
	return &Parser{
		project: project,
		stats:   Stats{Failed: make(map[Reason]int)},
	}
}

// Stats returns the counts accumulated so far
func (p *Parser) Stats() Stats {
	out := p.stats
	out.Failed = make(map[Reason]int, len(p.stats.Failed))
	for k, v := range p.stats.Failed {
		out.Failed[k] = v
	}
	return out
}

// Parse dispatches on the element type
func (p *Parser) Parse(el *feed.Element) (orb.MultiPolygon, error) {
	switch el.Type {
	case osm.TypeWay:
		return p.ParseWay(el)
	case osm.TypeRelation:
		return p.ParseRelation(el)
	}
	return nil, p.fail(&ParseError{SourceID: el.ID, Reason: ReasonUnsupportedType})
}

// ParseWay builds a polygon from a way's closed (or closable) ring
func (p *Parser) ParseWay(el *feed.Element) (orb.MultiPolygon, error) {
	g, repaired, err := p.ring(el.ID, el.LineString())
	if err != nil {
		return nil, p.fail(err)
	}

	mp, err := CanonicalizeGeom(g)
	if err != nil {
		return nil, p.fail(&ParseError{SourceID: el.ID, Reason: ReasonUnrepairable, Err: err})
	}
	if mp == nil {
		return nil, p.fail(&ParseError{SourceID: el.ID, Reason: ReasonEmpty})
	}
	p.ok(repaired)
	return mp, nil
}

// ParseRelation parses every member ring on its own, drops the ones that fail
// and unions the rest. Member roles are not distinguished.
func (p *Parser) ParseRelation(el *feed.Element) (orb.MultiPolygon, error) {
	var parts []*geos.Geom
	rings := 0
	repaired := false
	for i := range el.Members {
		ls := el.Members[i].LineString()
		if len(ls) == 0 {
			continue
		}
		rings++
		g, rep, err := p.ring(el.ID, ls)
		if err != nil {
			logger.Get().Debug("Dropping relation member",
				zap.Int64("relation", el.ID),
				zap.Int64("member", el.Members[i].Ref),
				zap.Error(err))
			continue
		}
		repaired = repaired || rep
		parts = append(parts, g)
	}

	if rings == 0 {
		return nil, p.fail(&ParseError{SourceID: el.ID, Reason: ReasonEmpty})
	}
	if len(parts) == 0 {
		return nil, p.fail(&ParseError{SourceID: el.ID, Reason: ReasonNoPolygonalParts})
	}

	u, err := UnionAll(parts)
	if err != nil {
		return nil, p.fail(&ParseError{SourceID: el.ID, Reason: ReasonUnrepairable, Err: err})
	}
	poly, err := Polygonal(u)
	if err != nil {
		return nil, p.fail(&ParseError{SourceID: el.ID, Reason: ReasonUnrepairable, Err: err})
	}
	mp, err := CanonicalizeGeom(poly)
	if err != nil {
		return nil, p.fail(&ParseError{SourceID: el.ID, Reason: ReasonUnrepairable, Err: err})
	}
	if mp == nil {
		return nil, p.fail(&ParseError{SourceID: el.ID, Reason: ReasonEmpty})
	}
	p.ok(repaired)
	return mp, nil
}

// ring closes pts, builds a polygon and repairs it when invalid. The result is
// valid, polygonal and non-empty.
func (p *Parser) ring(id int64, pts orb.LineString) (*geos.Geom, bool, error) {
	if len(pts) < 3 {
		return nil, false, &ParseError{SourceID: id, Reason: ReasonTooFewPoints}
	}

	r := make(orb.Ring, len(pts), len(pts)+1)
	for i, pt := range pts {
		if p.project != nil {
			pt = p.project(pt)
		}
		r[i] = pt
	}
	if !r.Closed() {
		r = append(r, r[0])
	}
	if len(r) < 4 {
		return nil, false, &ParseError{SourceID: id, Reason: ReasonTooFewPoints}
	}

	g, err := FromOrb(orb.Polygon{r})
	if err != nil {
		return nil, false, &ParseError{SourceID: id, Reason: ReasonUnrepairable, Err: err}
	}

	if IsValid(g) {
		if IsEmpty(g) {
			return nil, false, &ParseError{SourceID: id, Reason: ReasonEmpty}
		}
		return g, false, nil
	}

	fixed, err := repair(id, g)
	if err != nil {
		return nil, false, err
	}
	return fixed, true, nil
}

// repair tries MakeValid first and a zero-width buffer second, keeping the
// polygonal parts of whichever succeeds
func repair(id int64, g *geos.Geom) (*geos.Geom, error) {
	var lastErr error
	sawEmpty := false

	attempts := []func() (*geos.Geom, error){
		func() (*geos.Geom, error) { return MakeValid(g) },
		func() (*geos.Geom, error) { return Buffer(g, 0, 8) },
	}
	for _, attempt := range attempts {
		fixed, err := attempt()
		if err != nil {
			lastErr = err
			continue
		}
		if IsEmpty(fixed) {
			sawEmpty = true
			continue
		}
		poly, err := Polygonal(fixed)
		if err != nil {
			lastErr = err
			continue
		}
		if IsEmpty(poly) || !IsValid(poly) {
			continue
		}
		return poly, nil
	}

	switch {
	case lastErr != nil:
		return nil, &ParseError{SourceID: id, Reason: ReasonUnrepairable, Err: lastErr}
	case sawEmpty:
		return nil, &ParseError{SourceID: id, Reason: ReasonEmpty}
	}
	return nil, &ParseError{SourceID: id, Reason: ReasonNoPolygonalParts}
}

func (p *Parser) ok(repaired bool) {
	p.stats.Parsed++
	if repaired {
		p.stats.Repaired++
	}
}

// fail records a parse failure once and returns it
func (p *Parser) fail(err error) error {
	if pe, ok := err.(*ParseError); ok {
		p.stats.Failed[pe.Reason]++
		logger.Get().Debug("Dropping feature",
			zap.Int64("source_id", pe.SourceID),
			zap.String("reason", string(pe.Reason)),
			zap.Error(pe.Err))
	}
	return err
}
