package feed

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"go.uber.org/zap"

	"github.com/wegman-software/gsa-etl-go/internal/config"
	"github.com/wegman-software/gsa-etl-go/internal/logger"
	"github.com/wegman-software/gsa-etl-go/internal/nodeindex"
	"github.com/wegman-software/gsa-etl-go/internal/style"
)

// PBFStats holds scan statistics for one PBF extract
type PBFStats struct {
	Relations    int64
	Ways         int64
	Nodes        int64
	MissingNodes int64 // Ways dropped because a node had no coordinates
	OutsideBBox  int64
}

// PBFSource builds extracts from a local .osm.pbf file.
//
// The file is scanned three times: relations first to learn which member ways
// are needed, then ways to learn which nodes are needed, then nodes into a
// memory-mapped coordinate index.
type PBFSource struct {
	path    string
	bbox    *config.BBox
	style   *style.Config
	workDir string
	procs   int

	lastStats PBFStats
}

// NewPBFSource creates a PBF source. The node index is written under workDir.
func NewPBFSource(path string, bbox *config.BBox, st *style.Config, workDir string, procs int) *PBFSource {
	if st == nil {
		st = style.DefaultConfig()
	}
	if procs <= 0 {
		procs = runtime.NumCPU()
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &PBFSource{path: path, bbox: bbox, style: st, workDir: workDir, procs: procs}
}

// Stats returns the statistics of the last Fetch
func (s *PBFSource) Stats() PBFStats {
	return s.lastStats
}

// Fetch scans the PBF file for elements of kind
func (s *PBFSource) Fetch(ctx context.Context, kind Kind) (*Extract, error) {
	log := logger.Get()
	start := time.Now()

	fc, err := filterFor(s.style, kind)
	if err != nil {
		return nil, &ExtractionError{Kind: kind, Err: err}
	}
	filter := style.NewFilter(fc)
	s.lastStats = PBFStats{}

	// Pass 1: relations and the ways they reference
	var relations []*osm.Relation
	memberWays := make(map[osm.WayID]bool)
	if fc != nil && fc.Relations {
		relations, err = s.scanRelations(ctx, filter, memberWays)
		if err != nil {
			return nil, &ExtractionError{Kind: kind, Attempts: 1, Err: err}
		}
		log.Debug("PBF relation pass complete", zap.Int("relations", len(relations)), zap.Int("member_ways", len(memberWays)))
	}

	// Pass 2: matching ways plus relation members
	matched, members, err := s.scanWays(ctx, filter, memberWays)
	if err != nil {
		return nil, &ExtractionError{Kind: kind, Attempts: 1, Err: err}
	}

	// Pass 3: coordinates of every referenced node
	idx, err := s.indexNodes(ctx, matched, members)
	if err != nil {
		return nil, &ExtractionError{Kind: kind, Attempts: 1, Err: err}
	}
	defer idx.Remove()

	ext := &Extract{Generator: "gsa-etl-go pbf"}
	for _, w := range matched {
		el, ok := s.wayElement(w, idx)
		if ok {
			ext.Elements = append(ext.Elements, el)
		}
	}
	for _, r := range relations {
		el, ok := s.relationElement(r, members, idx)
		if ok {
			ext.Elements = append(ext.Elements, el)
		}
	}

	log.Info("PBF extract complete",
		zap.String("kind", string(kind)),
		zap.Int("elements", len(ext.Elements)),
		zap.Int64("relations", s.lastStats.Relations),
		zap.Int64("ways", s.lastStats.Ways),
		zap.Int64("nodes", s.lastStats.Nodes),
		zap.Int64("missing_nodes", s.lastStats.MissingNodes),
		zap.Int64("outside_bbox", s.lastStats.OutsideBBox),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))

	return ext, nil
}

// scan runs fn over every object the scanner yields
func (s *PBFSource) scan(ctx context.Context, configure func(*osmpbf.Scanner), fn func(osm.Object)) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open pbf file: %w", err)
	}
	defer f.Close()

	scanner := osmpbf.New(ctx, f, s.procs)
	defer scanner.Close()
	configure(scanner)

	for scanner.Scan() {
		fn(scanner.Object())
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("failed to scan pbf file: %w", err)
	}
	return nil
}

func (s *PBFSource) scanRelations(ctx context.Context, filter *style.Filter, memberWays map[osm.WayID]bool) ([]*osm.Relation, error) {
	var out []*osm.Relation
	err := s.scan(ctx, func(sc *osmpbf.Scanner) {
		sc.SkipNodes = true
		sc.SkipWays = true
	}, func(o osm.Object) {
		r, ok := o.(*osm.Relation)
		if !ok {
			return
		}
		s.lastStats.Relations++
		if !filter.MatchOSMTags(r.Tags) {
			return
		}
		out = append(out, r)
		for _, m := range r.Members {
			if m.Type == osm.TypeWay {
				memberWays[osm.WayID(m.Ref)] = true
			}
		}
	})
	return out, err
}

func (s *PBFSource) scanWays(ctx context.Context, filter *style.Filter, memberWays map[osm.WayID]bool) ([]*osm.Way, map[osm.WayID]*osm.Way, error) {
	var matched []*osm.Way
	members := make(map[osm.WayID]*osm.Way, len(memberWays))
	err := s.scan(ctx, func(sc *osmpbf.Scanner) {
		sc.SkipNodes = true
		sc.SkipRelations = true
	}, func(o osm.Object) {
		w, ok := o.(*osm.Way)
		if !ok {
			return
		}
		s.lastStats.Ways++
		if memberWays[w.ID] {
			members[w.ID] = w
		}
		if filter.MatchOSMTags(w.Tags) {
			matched = append(matched, w)
		}
	})
	return matched, members, err
}

func (s *PBFSource) indexNodes(ctx context.Context, matched []*osm.Way, members map[osm.WayID]*osm.Way) (*nodeindex.MmapIndex, error) {
	needed := make(map[osm.NodeID]bool)
	var maxID int64
	add := func(w *osm.Way) {
		for _, n := range w.Nodes {
			needed[n.ID] = true
			if int64(n.ID) > maxID {
				maxID = int64(n.ID)
			}
		}
	}
	for _, w := range matched {
		add(w)
	}
	for _, w := range members {
		add(w)
	}

	if err := os.MkdirAll(s.workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	idx, err := nodeindex.NewMmapIndex(filepath.Join(s.workDir, "node_index.bin"), maxID)
	if err != nil {
		return nil, err
	}

	err = s.scan(ctx, func(sc *osmpbf.Scanner) {
		sc.SkipWays = true
		sc.SkipRelations = true
	}, func(o osm.Object) {
		n, ok := o.(*osm.Node)
		if !ok {
			return
		}
		s.lastStats.Nodes++
		if needed[n.ID] {
			idx.Put(int64(n.ID), n.Lat, n.Lon)
		}
	})
	if err != nil {
		idx.Remove()
		return nil, err
	}
	return idx, nil
}

// resolve returns way coordinates and node ids, false if any node is unknown
func resolve(w *osm.Way, idx *nodeindex.MmapIndex) ([]Point, []int64, bool) {
	pts := make([]Point, 0, len(w.Nodes))
	ids := make([]int64, 0, len(w.Nodes))
	for _, n := range w.Nodes {
		lat, lon, ok := idx.Get(int64(n.ID))
		if !ok {
			return nil, nil, false
		}
		pts = append(pts, Point{Lat: lat, Lon: lon})
		ids = append(ids, int64(n.ID))
	}
	return pts, ids, true
}

func (s *PBFSource) inBBox(pts []Point) bool {
	for _, p := range pts {
		if s.bbox.Contains(p.Lat, p.Lon) {
			return true
		}
	}
	return false
}

func (s *PBFSource) wayElement(w *osm.Way, idx *nodeindex.MmapIndex) (Element, bool) {
	pts, ids, ok := resolve(w, idx)
	if !ok {
		s.lastStats.MissingNodes++
		return Element{}, false
	}
	if !s.inBBox(pts) {
		s.lastStats.OutsideBBox++
		return Element{}, false
	}
	return Element{
		Type:     osm.TypeWay,
		ID:       int64(w.ID),
		Tags:     w.Tags.Map(),
		Geometry: pts,
		Nodes:    ids,
	}, true
}

func (s *PBFSource) relationElement(r *osm.Relation, members map[osm.WayID]*osm.Way, idx *nodeindex.MmapIndex) (Element, bool) {
	el := Element{
		Type: osm.TypeRelation,
		ID:   int64(r.ID),
		Tags: r.Tags.Map(),
	}
	inside := false
	for _, m := range r.Members {
		if m.Type != osm.TypeWay {
			continue
		}
		member := Member{Type: osm.TypeWay, Ref: m.Ref, Role: m.Role}
		if w, ok := members[osm.WayID(m.Ref)]; ok {
			if pts, _, ok := resolve(w, idx); ok {
				member.Geometry = pts
				inside = inside || s.inBBox(pts)
			}
		}
		el.Members = append(el.Members, member)
	}
	if !inside {
		s.lastStats.OutsideBBox++
		return Element{}, false
	}
	return el, true
}
