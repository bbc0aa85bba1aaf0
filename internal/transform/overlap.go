package transform

import (
	"fmt"
	"sort"
	"time"

	"github.com/twpayne/go-geos"
	"go.uber.org/zap"

	"github.com/wegman-software/gsa-etl-go/internal/geometry"
	"github.com/wegman-software/gsa-etl-go/internal/logger"
)

// OverlapStats holds overlap resolution statistics
type OverlapStats struct {
	Input        int
	Survivors    int
	Subtractions int // Differences actually applied
	Retries      int // Differences retried on zero-width buffered operands
	Failed       int // Features dropped because a difference kept failing
	Emptied      int // Features fully covered by higher-priority ones
	AreaBefore   float64
	AreaAfter    float64
	Duration     time.Duration
}

// difference is the overlay used by subtract; tests swap it to force failures
var difference = geometry.Difference

// higherPriority orders features: named first, then smaller area, then lower
// source id, then earlier input position
func higherPriority(a, b *Feature, areaA, areaB float64) bool {
	if a.Named != b.Named {
		return a.Named
	}
	if areaA != areaB {
		return areaA < areaB
	}
	if a.SourceID != b.SourceID {
		return a.SourceID < b.SourceID
	}
	return a.Index < b.Index
}

// ResolveOverlaps removes overlaps by subtracting every feature from all
// lower-priority features it intersects. Survivors are pairwise
// interior-disjoint and returned in priority order; features reduced to
// nothing are dropped. Input geometries are never modified.
func ResolveOverlaps(features []*Feature, quadSegs int) ([]*Feature, *OverlapStats, error) {
	log := logger.Stage("overlap")
	start := time.Now()
	stats := &OverlapStats{Input: len(features)}

	n := len(features)
	if n == 0 {
		return nil, stats, nil
	}

	areas := make([]float64, n)
	for i, f := range features {
		areas[i] = f.Geom.Area()
		stats.AreaBefore += areas[i]
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		return higherPriority(features[ia], features[ib], areas[ia], areas[ib])
	})

	// live[r] is the current geometry of the feature ranked r
	live := make([]*geos.Geom, n)
	tree := geos.NewSTRtree(10)
	for r, idx := range order {
		live[r] = features[idx].Geom
		// Original envelopes contain every later, smaller state of the geometry
		if err := tree.Insert(features[idx].Geom, r); err != nil {
			return nil, nil, fmt.Errorf("failed to index feature %d: %w", features[idx].SourceID, err)
		}
	}

	var candidates []int
	for i := 0; i < n; i++ {
		gi := live[i]
		if geometry.IsEmpty(gi) {
			continue
		}

		candidates = candidates[:0]
		tree.Query(gi, func(v any) {
			if j := v.(int); j > i {
				candidates = append(candidates, j)
			}
		})
		sort.Ints(candidates)

		for _, j := range candidates {
			gj := live[j]
			if geometry.IsEmpty(gj) {
				continue
			}
			hit, err := geometry.Intersects(gi, gj)
			if err == nil && !hit {
				continue
			}
			if err != nil {
				log.Debug("Intersection test failed, subtracting anyway",
					zap.Int64("source_id", features[order[j]].SourceID),
					zap.Error(err))
			}

			diff, err := subtract(gj, gi, quadSegs, stats)
			if err != nil {
				// Dropping keeps the survivors disjoint
				stats.Failed++
				live[j] = nil
				log.Warn("Dropping feature after failed difference",
					zap.Int64("source_id", features[order[j]].SourceID),
					zap.Int64("subtrahend", features[order[i]].SourceID),
					zap.Error(err))
				continue
			}
			stats.Subtractions++
			if geometry.IsEmpty(diff) {
				stats.Emptied++
			}
			live[j] = diff
		}
	}

	out := make([]*Feature, 0, n)
	for r, g := range live {
		if geometry.IsEmpty(g) {
			continue
		}
		f := *features[order[r]]
		f.Geom = g
		stats.AreaAfter += g.Area()
		out = append(out, &f)
	}
	stats.Survivors = len(out)
	stats.Duration = time.Since(start)

	log.Info("Overlap resolution complete",
		zap.Int("input", stats.Input),
		zap.Int("survivors", stats.Survivors),
		zap.Int("subtractions", stats.Subtractions),
		zap.Int("retries", stats.Retries),
		zap.Int("failed", stats.Failed),
		zap.Float64("area_before_m2", stats.AreaBefore),
		zap.Float64("area_after_m2", stats.AreaAfter),
		zap.Duration("duration", stats.Duration.Round(time.Millisecond)))

	return out, stats, nil
}

// subtract returns a minus b, retrying once on zero-width buffered operands
func subtract(a, b *geos.Geom, quadSegs int, stats *OverlapStats) (*geos.Geom, error) {
	diff, err := difference(a, b)
	if err == nil {
		return geometry.Polygonal(diff)
	}

	stats.Retries++
	ca, errA := geometry.Buffer(a, 0, quadSegs)
	if errA != nil {
		return nil, errA
	}
	cb, errB := geometry.Buffer(b, 0, quadSegs)
	if errB != nil {
		return nil, errB
	}
	diff, err = difference(ca, cb)
	if err != nil {
		return nil, err
	}
	return geometry.Polygonal(diff)
}
