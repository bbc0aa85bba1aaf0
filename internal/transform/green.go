package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/wegman-software/gsa-etl-go/internal/classify"
	"github.com/wegman-software/gsa-etl-go/internal/feed"
	"github.com/wegman-software/gsa-etl-go/internal/geometry"
	"github.com/wegman-software/gsa-etl-go/internal/logger"
	"github.com/wegman-software/gsa-etl-go/internal/proj"
)

// Options configures the green-area transform
type Options struct {
	TagPriority []string
	Hook        classify.Hook
	Merge       MergeOptions
}

// Stats holds green-area transform statistics
type Stats struct {
	Elements      int
	Parsed        int
	Repaired      int
	ParseFailures map[geometry.Reason]int
	Overlap       *OverlapStats
	Merge         *MergeStats
	HookErrors    int
	Types         int
	Areas         int
	Duration      time.Duration
}

// Result is the transformed green-area output
type Result struct {
	Types []TypeEntry
	Areas []GreenArea
	Stats *Stats
}

// Transformer runs parse, classify, overlap resolution, merge and registry
// building over a green-area extract
type Transformer struct {
	opts Options
}

// NewTransformer creates a transformer
func NewTransformer(opts Options) *Transformer {
	if opts.Merge.QuadSegs <= 0 {
		opts.Merge.QuadSegs = 8
	}
	return &Transformer{opts: opts}
}

// Run transforms every element of ext. Unparseable elements are counted and
// skipped; the returned areas are in WGS84 with ids 1..N.
func (t *Transformer) Run(ctx context.Context, ext *feed.Extract) (*Result, error) {
	log := logger.Get()
	start := time.Now()
	stats := &Stats{Elements: ext.Len()}

	toMercator, err := proj.NewTransformer(proj.SRID4326, proj.SRID3857)
	if err != nil {
		return nil, err
	}
	parser := geometry.NewParser(toMercator.Projection())
	classifier := classify.New(t.opts.TagPriority, t.opts.Hook)

	features, err := t.features(ctx, ext, parser, classifier)
	if err != nil {
		return nil, err
	}
	ps := parser.Stats()
	stats.Parsed = ps.Parsed
	stats.Repaired = ps.Repaired
	stats.ParseFailures = ps.Failed
	stats.HookErrors = classifier.HookErrors()

	log.Info("Parsing complete",
		zap.Int("elements", stats.Elements),
		zap.Int("parsed", ps.Parsed),
		zap.Int("repaired", ps.Repaired),
		zap.Int("failed", ps.TotalFailed()))
	for reason, n := range ps.Failed {
		log.Info("Parse failures", zap.String("reason", string(reason)), zap.Int("count", n))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resolved, overlapStats, err := ResolveOverlaps(features, t.opts.Merge.QuadSegs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve overlaps: %w", err)
	}
	stats.Overlap = overlapStats

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	merged, mergeStats, err := Merge(resolved, t.opts.Merge)
	if err != nil {
		return nil, fmt.Errorf("failed to merge features: %w", err)
	}
	stats.Merge = mergeStats

	labels := make([]string, len(merged))
	for i, m := range merged {
		labels[i] = m.Category
	}
	types, lookup := BuildRegistry(labels)

	areas := make([]GreenArea, 0, len(merged))
	for _, m := range merged {
		wgs := proj.ToWGS84(m.Geometry).(orb.MultiPolygon)
		areas = append(areas, GreenArea{
			ID:       int64(len(areas) + 1),
			SourceID: m.SourceID,
			Name:     m.Name,
			Category: m.Category,
			TypeID:   lookup[m.Category],
			Geometry: wgs,
		})
	}

	stats.Types = len(types)
	stats.Areas = len(areas)
	stats.Duration = time.Since(start)
	log.Info("Green area transform complete",
		zap.Int("types", stats.Types),
		zap.Int("areas", stats.Areas),
		zap.Duration("duration", stats.Duration.Round(time.Millisecond)))

	return &Result{Types: types, Areas: areas, Stats: stats}, nil
}

func (t *Transformer) features(ctx context.Context, ext *feed.Extract, parser *geometry.Parser, classifier *classify.Classifier) ([]*Feature, error) {
	features := make([]*Feature, 0, ext.Len())
	for i := 0; i < ext.Len(); i++ {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		el := &ext.Elements[i]
		mp, err := parser.Parse(el)
		if err != nil {
			// Counted by the parser
			continue
		}
		g, err := geometry.FromOrb(mp)
		if err != nil {
			logger.Get().Warn("Dropping feature", zap.Int64("source_id", el.ID), zap.Error(err))
			continue
		}

		c := classifier.Classify(el.Tags)
		features = append(features, &Feature{
			SourceID: el.ID,
			Name:     c.Name,
			Named:    c.Named,
			Category: c.Category,
			Geom:     g,
			Index:    i,
		})
	}
	return features, nil
}
