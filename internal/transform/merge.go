package transform

import (
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-geos"
	"go.uber.org/zap"

	"github.com/wegman-software/gsa-etl-go/internal/geometry"
	"github.com/wegman-software/gsa-etl-go/internal/logger"
)

// DefaultMergeTolerance is the gap, in projected meters, bridged between
// features of the same name and category
const DefaultMergeTolerance = 3.0

// MergeOptions configures the semantic merge
type MergeOptions struct {
	Tolerance          float64
	CategoryTolerances map[string]float64 // Keyed by lower-cased display category
	QuadSegs           int
}

// ToleranceFor returns the tolerance applied to a category
func (o MergeOptions) ToleranceFor(category string) float64 {
	if t, ok := o.CategoryTolerances[strings.ToLower(category)]; ok {
		return t
	}
	return o.Tolerance
}

// Merged is one output record of the merge in projected coordinates
type Merged struct {
	SourceID int64
	Name     string
	Category string
	Geometry orb.MultiPolygon
}

// MergeStats holds semantic merge statistics
type MergeStats struct {
	Input     int
	Groups    int
	Records   int
	Fallbacks int // Groups whose buffered dissolve failed and used a plain union
	Failed    int // Groups that could not be unioned at all and were kept per feature
	Overrides int // Groups merged with a per-category tolerance
	Duration  time.Duration
}

type groupKey struct {
	name     string
	category string
}

// Merge dissolves features sharing (name, category) across gaps up to the
// tolerance and splits each dissolved group into one record per polygon part.
//
// Per group: buffer every member by t and union; shrink the union by t; union
// the result with the original members so nothing the inputs covered is lost;
// explode into parts. Records are sorted by name, then category, then part
// order, and carry the smallest source id of their group.
func Merge(features []*Feature, opts MergeOptions) ([]Merged, *MergeStats, error) {
	log := logger.Stage("merge")
	start := time.Now()
	stats := &MergeStats{Input: len(features)}

	if opts.QuadSegs <= 0 {
		opts.QuadSegs = 8
	}

	groups := make(map[groupKey][]*Feature)
	for _, f := range features {
		k := groupKey{f.Name, f.Category}
		groups[k] = append(groups[k], f)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].category < keys[j].category
	})
	stats.Groups = len(keys)

	var out []Merged
	for _, k := range keys {
		members := groups[k]
		minID := members[0].SourceID
		for _, m := range members[1:] {
			if m.SourceID < minID {
				minID = m.SourceID
			}
		}

		t := opts.ToleranceFor(k.category)
		if _, ok := opts.CategoryTolerances[strings.ToLower(k.category)]; ok {
			stats.Overrides++
			log.Debug("Category tolerance applied",
				zap.String("name", k.name),
				zap.String("category", k.category),
				zap.Float64("tolerance_m", t))
		}
		dissolved, err := dissolve(members, t, opts.QuadSegs)
		if err != nil {
			stats.Fallbacks++
			log.Warn("Buffered dissolve failed, using plain union",
				zap.String("name", k.name),
				zap.String("category", k.category),
				zap.Error(err))
			dissolved, err = geometry.UnionAll(geoms(members))
		}

		var parts []*geos.Geom
		if err != nil {
			stats.Failed++
			log.Warn("Union failed, keeping features separate",
				zap.String("name", k.name),
				zap.String("category", k.category),
				zap.Error(err))
			for _, m := range members {
				parts = append(parts, geometry.Parts(m.Geom)...)
			}
		} else {
			parts = geometry.Parts(dissolved)
		}

		for _, part := range parts {
			mp, err := geometry.CanonicalizeGeom(part)
			if err != nil {
				log.Warn("Dropping unconvertible part", zap.String("name", k.name), zap.Error(err))
				continue
			}
			if mp == nil {
				continue
			}
			out = append(out, Merged{
				SourceID: minID,
				Name:     k.name,
				Category: k.category,
				Geometry: mp,
			})
		}
	}

	stats.Records = len(out)
	stats.Duration = time.Since(start)
	log.Info("Semantic merge complete",
		zap.Int("input", stats.Input),
		zap.Int("groups", stats.Groups),
		zap.Int("records", stats.Records),
		zap.Int("fallbacks", stats.Fallbacks),
		zap.Float64("tolerance_m", opts.Tolerance),
		zap.Any("category_tolerances_m", opts.CategoryTolerances),
		zap.Int("overridden_groups", stats.Overrides),
		zap.Duration("duration", stats.Duration.Round(time.Millisecond)))

	return out, stats, nil
}

// dissolve runs the buffer, union, unbuffer, union-with-originals sequence
func dissolve(members []*Feature, t float64, quadSegs int) (*geos.Geom, error) {
	originals, err := geometry.UnionAll(geoms(members))
	if err != nil {
		return nil, err
	}
	if t <= 0 {
		return geometry.Polygonal(originals)
	}

	grown := make([]*geos.Geom, 0, len(members))
	for _, m := range members {
		b, err := geometry.Buffer(m.Geom, t, quadSegs)
		if err != nil {
			return nil, err
		}
		grown = append(grown, b)
	}
	joined, err := geometry.UnionAll(grown)
	if err != nil {
		return nil, err
	}
	shrunk, err := geometry.Buffer(joined, -t, quadSegs)
	if err != nil {
		return nil, err
	}

	result := originals
	if !geometry.IsEmpty(shrunk) {
		if result, err = geometry.Union(shrunk, originals); err != nil {
			return nil, err
		}
	}
	return geometry.Polygonal(result)
}

func geoms(fs []*Feature) []*geos.Geom {
	out := make([]*geos.Geom, len(fs))
	for i, f := range fs {
		out[i] = f.Geom
	}
	return out
}
