package routing

import (
	"context"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/osm"
	"go.uber.org/zap"

	"github.com/wegman-software/gsa-etl-go/internal/feed"
	"github.com/wegman-software/gsa-etl-go/internal/logger"
	"github.com/wegman-software/gsa-etl-go/internal/proj"
)

// SkipReason says why a way contributed no edges
type SkipReason string

const (
	SkipNotWay        SkipReason = "not_way"
	SkipNoNodes       SkipReason = "no_nodes"
	SkipNoCoordinates SkipReason = "no_coordinates"
	SkipCountMismatch SkipReason = "count_mismatch"
	SkipTooFewNodes   SkipReason = "too_few_nodes"
)

// Stats holds graph build statistics
type Stats struct {
	Ways      int
	Used      int
	Skipped   map[SkipReason]int
	Junctions  int
	Vertices   int
	Edges      int
	DeadEnds   int // Vertices touched by a single edge
	Components int
	LengthM    float64
	Duration   time.Duration
}

// TotalSkipped returns the number of skipped elements
func (s *Stats) TotalSkipped() int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

// Builder builds a routing graph from way records
type Builder struct {
	toMercator *proj.Transformer
	alloc      *VertexAllocator
	stats      *Stats
}

// NewBuilder creates a builder with a fresh vertex allocator
func NewBuilder() *Builder {
	t, _ := proj.NewTransformer(proj.SRID4326, proj.SRID3857)
	return &Builder{
		toMercator: t,
		alloc:      NewVertexAllocator(),
		stats:      &Stats{Skipped: make(map[SkipReason]int)},
	}
}

// Stats returns the statistics of the last build
func (b *Builder) Stats() *Stats {
	return b.stats
}

// Build splits every usable way at its junctions. A junction is a node
// referenced more than once across all ways; a way with k internal junctions
// yields k+1 edges. Unusable ways are skipped and counted.
func (b *Builder) Build(ctx context.Context, ext *feed.Extract) (*Graph, error) {
	log := logger.Stage("routing")
	start := time.Now()
	b.stats.Ways = ext.Len()

	ways := make([]*feed.Element, 0, ext.Len())
	for i := 0; i < ext.Len(); i++ {
		el := &ext.Elements[i]
		if reason, ok := usable(el); !ok {
			b.stats.Skipped[reason]++
			log.Debug("Skipping way", zap.Int64("way_id", el.ID), zap.String("reason", string(reason)))
			continue
		}
		ways = append(ways, el)
	}
	b.stats.Used = len(ways)

	counts := make(map[int64]int)
	for _, w := range ways {
		for _, n := range w.Nodes {
			counts[n]++
		}
	}
	for _, c := range counts {
		if c > 1 {
			b.stats.Junctions++
		}
	}

	g := &Graph{}
	for i, w := range ways {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		g.Edges = b.split(w, counts, g.Edges)
	}
	g.Vertices = b.alloc.Vertices()

	b.stats.Vertices = b.alloc.Len()
	b.stats.Edges = len(g.Edges)
	for _, d := range g.Degree() {
		if d == 1 {
			b.stats.DeadEnds++
		}
	}
	b.stats.Components = g.Components()
	b.stats.Duration = time.Since(start)

	log.Info("Routing graph complete",
		zap.Int("ways", b.stats.Ways),
		zap.Int("skipped", b.stats.TotalSkipped()),
		zap.Int("junctions", b.stats.Junctions),
		zap.Int("vertices", b.stats.Vertices),
		zap.Int("edges", b.stats.Edges),
		zap.Int("dead_ends", b.stats.DeadEnds),
		zap.Int("components", b.stats.Components),
		zap.Float64("length_km", b.stats.LengthM/1000),
		zap.Duration("duration", b.stats.Duration.Round(time.Millisecond)))

	return g, nil
}

// split walks one way, closing a segment at every junction and at the last node
func (b *Builder) split(w *feed.Element, counts map[int64]int, edges []Edge) []Edge {
	coords := w.LineString()
	last := len(w.Nodes) - 1

	startIdx := 0
	for i := 1; i <= last; i++ {
		if counts[w.Nodes[i]] <= 1 && i != last {
			continue
		}

		src := b.alloc.Vertex(w.Nodes[startIdx], coords[startIdx])
		dst := b.alloc.Vertex(w.Nodes[i], coords[i])

		line := make(orb.LineString, i-startIdx+1)
		copy(line, coords[startIdx:i+1])
		length := planar.Length(b.toMercator.Geometry(line))

		edges = append(edges, Edge{
			ID:          int64(len(edges) + 1),
			WayID:       w.ID,
			Source:      src,
			Target:      dst,
			Geometry:    line,
			LengthM:     length,
			Cost:        length,
			ReverseCost: length,
		})
		b.stats.LengthM += length
		startIdx = i
	}
	return edges
}

func usable(el *feed.Element) (SkipReason, bool) {
	switch {
	case el.Type != osm.TypeWay:
		return SkipNotWay, false
	case len(el.Nodes) == 0:
		return SkipNoNodes, false
	case len(el.Geometry) == 0:
		return SkipNoCoordinates, false
	case len(el.Nodes) != len(el.Geometry):
		return SkipCountMismatch, false
	case len(el.Nodes) < 2:
		return SkipTooFewNodes, false
	}
	return "", true
}
