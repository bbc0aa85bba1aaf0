package transform

import (
	"context"
	"math"
	"reflect"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/osm"
	"github.com/twpayne/go-geos"

	"github.com/wegman-software/gsa-etl-go/internal/feed"
	"github.com/wegman-software/gsa-etl-go/internal/geometry"
)

func squareGeom(t *testing.T, x, y, size float64) *geos.Geom {
	t.Helper()
	g, err := geometry.FromOrb(orb.Polygon{{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}})
	if err != nil {
		t.Fatalf("FromOrb: %v", err)
	}
	return g
}

func feature(t *testing.T, id int64, name string, x, y, size float64) *Feature {
	t.Helper()
	named := name != "" && name != "Unnamed"
	if name == "" {
		name = "Unnamed"
	}
	return &Feature{
		SourceID: id,
		Name:     name,
		Named:    named,
		Category: "Park",
		Geom:     squareGeom(t, x, y, size),
		Index:    int(id),
	}
}

func assertDisjoint(t *testing.T, fs []*Feature) {
	t.Helper()
	for i := range fs {
		for j := i + 1; j < len(fs); j++ {
			if a := fs[i].Geom.Intersection(fs[j].Geom).Area(); a > 1e-9 {
				t.Errorf("features %d and %d overlap by %v", fs[i].SourceID, fs[j].SourceID, a)
			}
		}
	}
}

func stubDifference(t *testing.T, fn func(a, b *geos.Geom) (*geos.Geom, error)) {
	t.Helper()
	orig := difference
	difference = fn
	t.Cleanup(func() { difference = orig })
}

func TestResolveOverlapsRetriesInvalidOperand(t *testing.T) {
	// Self-intersecting at (2,2)
	bowTie, err := geometry.FromOrb(orb.Polygon{{{0, 0}, {4, 4}, {4, 0}, {0, 4}, {0, 0}}})
	if err != nil {
		t.Fatal(err)
	}
	named := &Feature{SourceID: 1, Name: "Jardim", Named: true, Category: "Garden", Geom: bowTie, Index: 0}
	big := feature(t, 2, "", -3, -3, 10)

	calls := 0
	stubDifference(t, func(a, b *geos.Geom) (*geos.Geom, error) {
		calls++
		if !geometry.IsValid(a) || !geometry.IsValid(b) {
			return nil, &geometry.OpError{Op: "difference", Cause: "self-intersection"}
		}
		return geometry.Difference(a, b)
	})

	out, stats, err := ResolveOverlaps([]*Feature{big, named}, 8)
	if err != nil {
		t.Fatalf("ResolveOverlaps error: %v", err)
	}
	if stats.Retries != 1 || stats.Failed != 0 || calls != 2 {
		t.Errorf("retries = %d failed = %d calls = %d, want 1/0/2", stats.Retries, stats.Failed, calls)
	}
	if len(out) != 2 || out[1].SourceID != 2 {
		t.Fatalf("survivors = %d, want both with the square last", len(out))
	}
	if a := out[1].Geom.Area(); a >= 100 || a < 90 {
		t.Errorf("square area = %v, want the repaired bow tie removed", a)
	}
}

func TestResolveOverlapsDropsAfterFailedRetry(t *testing.T) {
	stubDifference(t, func(a, b *geos.Geom) (*geos.Geom, error) {
		return nil, &geometry.OpError{Op: "difference", Cause: "topology exception"}
	})

	big := feature(t, 1, "", 0, 0, 10)
	small := feature(t, 2, "Jardim", 2, 2, 2)
	apart := feature(t, 3, "", 20, 20, 1)

	out, stats, err := ResolveOverlaps([]*Feature{big, small, apart}, 8)
	if err != nil {
		t.Fatalf("ResolveOverlaps error: %v", err)
	}
	if stats.Retries != 1 || stats.Failed != 1 {
		t.Errorf("retries = %d failed = %d, want 1/1", stats.Retries, stats.Failed)
	}
	var ids []int64
	for _, f := range out {
		ids = append(ids, f.SourceID)
	}
	if !reflect.DeepEqual(ids, []int64{2, 3}) {
		t.Errorf("survivors = %v, want the overlapped square dropped", ids)
	}
}

func TestResolveOverlapsNamedWins(t *testing.T) {
	big := feature(t, 1, "", 0, 0, 10)
	small := feature(t, 2, "Jardim", 2, 2, 2)

	out, stats, err := ResolveOverlaps([]*Feature{big, small}, 8)
	if err != nil {
		t.Fatalf("ResolveOverlaps error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("survivors = %d, want 2", len(out))
	}
	if out[0].SourceID != 2 {
		t.Errorf("named feature should rank first, got %d", out[0].SourceID)
	}
	if a := out[0].Geom.Area(); math.Abs(a-4) > 1e-9 {
		t.Errorf("named area = %v, want 4", a)
	}
	if a := out[1].Geom.Area(); math.Abs(a-96) > 1e-9 {
		t.Errorf("unnamed area = %v, want 96", a)
	}
	if stats.AreaAfter > stats.AreaBefore {
		t.Errorf("area grew: %v -> %v", stats.AreaBefore, stats.AreaAfter)
	}
	if big.Geom.Area() != 100 {
		t.Error("input geometry was modified")
	}
	assertDisjoint(t, out)
}

func TestResolveOverlapsSmallerWinsAmongUnnamed(t *testing.T) {
	large := feature(t, 1, "", 0, 0, 4)
	small := feature(t, 2, "", 3, 3, 2)

	out, _, err := ResolveOverlaps([]*Feature{large, small}, 8)
	if err != nil {
		t.Fatal(err)
	}
	if out[0].SourceID != 2 || math.Abs(out[0].Geom.Area()-4) > 1e-9 {
		t.Errorf("smaller feature should be untouched: %+v area %v", out[0], out[0].Geom.Area())
	}
	if math.Abs(out[1].Geom.Area()-15) > 1e-9 {
		t.Errorf("larger feature area = %v, want 15", out[1].Geom.Area())
	}
}

func TestResolveOverlapsTieBreakOnSourceID(t *testing.T) {
	a := feature(t, 9, "", 0, 0, 2)
	b := feature(t, 3, "", 1, 0, 2)

	out, _, err := ResolveOverlaps([]*Feature{a, b}, 8)
	if err != nil {
		t.Fatal(err)
	}
	if out[0].SourceID != 3 {
		t.Errorf("lower source id should win the tie, got %d first", out[0].SourceID)
	}
	if math.Abs(out[1].Geom.Area()-2) > 1e-9 {
		t.Errorf("loser area = %v, want 2", out[1].Geom.Area())
	}
}

func TestResolveOverlapsDropsCovered(t *testing.T) {
	inner := feature(t, 1, "Named", 0, 0, 5)
	covered := feature(t, 2, "", 1, 1, 2)

	out, stats, err := ResolveOverlaps([]*Feature{inner, covered}, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].SourceID != 1 {
		t.Errorf("covered feature should be dropped, got %d survivors", len(out))
	}
	if stats.Emptied != 1 {
		t.Errorf("Emptied = %d, want 1", stats.Emptied)
	}
}

func TestResolveOverlapsGridIsDisjoint(t *testing.T) {
	var fs []*Feature
	id := int64(1)
	for x := 0.0; x < 5; x++ {
		for y := 0.0; y < 5; y++ {
			fs = append(fs, feature(t, id, "", x*1.5, y*1.5, 1+math.Mod(x+y, 3)))
			id++
		}
	}
	before := 0.0
	for _, f := range fs {
		before += f.Geom.Area()
	}

	out, stats, err := ResolveOverlaps(fs, 8)
	if err != nil {
		t.Fatal(err)
	}
	assertDisjoint(t, out)
	if stats.AreaAfter > before+1e-9 {
		t.Errorf("total area grew: %v -> %v", before, stats.AreaAfter)
	}
	for _, f := range out {
		orig := fs[f.SourceID-1].Geom.Area()
		if f.Geom.Area() > orig+1e-9 {
			t.Errorf("feature %d grew: %v -> %v", f.SourceID, orig, f.Geom.Area())
		}
	}
}

func TestMergeToleranceScenario(t *testing.T) {
	tests := []struct {
		name      string
		tolerance float64
		records   int
	}{
		{"bridged at t=3", 3, 1},
		{"separate at t=1", 1, 2},
		{"separate without tolerance", 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := feature(t, 5, "Alpha", 0, 0, 1)
			b := feature(t, 4, "Alpha", 3, 0, 1)

			out, stats, err := Merge([]*Feature{a, b}, MergeOptions{Tolerance: tt.tolerance, QuadSegs: 8})
			if err != nil {
				t.Fatalf("Merge error: %v", err)
			}
			if len(out) != tt.records {
				t.Fatalf("records = %d, want %d", len(out), tt.records)
			}
			if stats.Groups != 1 {
				t.Errorf("groups = %d, want 1", stats.Groups)
			}
			total := 0.0
			for _, m := range out {
				if m.SourceID != 4 {
					t.Errorf("SourceID = %d, want smallest id 4", m.SourceID)
				}
				if m.Name != "Alpha" || m.Category != "Park" {
					t.Errorf("unexpected record %+v", m)
				}
				if len(m.Geometry) != 1 {
					t.Errorf("each record should hold one polygon, got %d", len(m.Geometry))
				}
				total += planar.Area(m.Geometry)
			}
			// Never smaller than the inputs
			if total < 2-1e-6 {
				t.Errorf("merged area %v lost input coverage", total)
			}
		})
	}
}

func TestMergeKeepsGroupsApart(t *testing.T) {
	a := feature(t, 1, "Alpha", 0, 0, 1)
	b := feature(t, 2, "Beta", 1.5, 0, 1)
	c := feature(t, 3, "Alpha", 1.5, 2, 1)
	c.Category = "Forest"

	out, stats, err := Merge([]*Feature{b, c, a}, MergeOptions{Tolerance: 3})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Groups != 3 || len(out) != 3 {
		t.Fatalf("groups = %d records = %d, want 3/3", stats.Groups, len(out))
	}
	got := [][2]string{}
	for _, m := range out {
		got = append(got, [2]string{m.Name, m.Category})
	}
	want := [][2]string{{"Alpha", "Forest"}, {"Alpha", "Park"}, {"Beta", "Park"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestMergeCategoryTolerance(t *testing.T) {
	a := feature(t, 1, "Alpha", 0, 0, 1)
	b := feature(t, 2, "Alpha", 3, 0, 1)

	opts := MergeOptions{Tolerance: 3, CategoryTolerances: map[string]float64{"park": 1}}
	if got := opts.ToleranceFor("Park"); got != 1 {
		t.Fatalf("ToleranceFor(Park) = %v, want 1", got)
	}
	out, stats, err := Merge([]*Feature{a, b}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Errorf("records = %d, want 2 with the tighter park tolerance", len(out))
	}
	if stats.Overrides != 1 {
		t.Errorf("overridden groups = %d, want 1", stats.Overrides)
	}

	opts.CategoryTolerances = map[string]float64{"forest": 10}
	_, stats, err = Merge([]*Feature{a, b}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Overrides != 0 {
		t.Errorf("overridden groups = %d, want 0 when no category matches", stats.Overrides)
	}
}

func TestBuildRegistry(t *testing.T) {
	entries, lookup := BuildRegistry([]string{"Park", "Forest", "Park"})
	want := []TypeEntry{{ID: 1, Label: "Forest"}, {ID: 2, Label: "Park"}}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("entries = %v, want %v", entries, want)
	}
	if lookup["Park"] != 2 || lookup["Forest"] != 1 {
		t.Errorf("lookup = %v", lookup)
	}

	if entries, _ := BuildRegistry(nil); len(entries) != 0 {
		t.Errorf("empty input gave %v", entries)
	}
}

func TestTransformerRun(t *testing.T) {
	ring := func(lon, lat, d float64) []feed.Point {
		return []feed.Point{
			{Lon: lon, Lat: lat}, {Lon: lon + d, Lat: lat}, {Lon: lon + d, Lat: lat + d}, {Lon: lon, Lat: lat + d}, {Lon: lon, Lat: lat},
		}
	}
	ext := &feed.Extract{Elements: []feed.Element{
		{Type: osm.TypeWay, ID: 100, Tags: map[string]string{"leisure": "park"}, Geometry: ring(-9.20, 38.70, 0.01)},
		{Type: osm.TypeWay, ID: 101, Tags: map[string]string{"leisure": "garden", "name": "Jardim"}, Geometry: ring(-9.195, 38.705, 0.002)},
		{Type: osm.TypeWay, ID: 102, Tags: map[string]string{"natural": "wood"}, Geometry: ring(-9.15, 38.75, 0.005)},
		{Type: osm.TypeWay, ID: 103, Tags: map[string]string{"leisure": "park"}, Geometry: ring(-9.1, 38.7, 0)[:2]},
	}}

	res, err := NewTransformer(Options{Merge: MergeOptions{Tolerance: DefaultMergeTolerance}}).Run(context.Background(), ext)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if res.Stats.Parsed != 3 || res.Stats.ParseFailures[geometry.ReasonTooFewPoints] != 1 {
		t.Errorf("parse stats = %+v", res.Stats)
	}

	labels := map[string]bool{}
	for _, e := range res.Types {
		labels[e.Label] = true
	}
	if !labels["Garden"] || !labels["Park"] || !labels["Forest"] || len(res.Types) != 3 {
		t.Errorf("types = %v", res.Types)
	}

	if len(res.Areas) != 3 {
		t.Fatalf("areas = %d, want 3", len(res.Areas))
	}
	for i, a := range res.Areas {
		if a.ID != int64(i+1) {
			t.Errorf("area %d has id %d", i, a.ID)
		}
		if a.TypeID < 1 || a.TypeID > int64(len(res.Types)) || res.Types[a.TypeID-1].Label != a.Category {
			t.Errorf("area %d type id %d does not match %q", a.ID, a.TypeID, a.Category)
		}
		b := a.Geometry.Bound()
		if b.Min[0] < -9.3 || b.Max[0] > -9.0 || b.Min[1] < 38.6 || b.Max[1] > 38.8 {
			t.Errorf("area %d not in WGS84 around Lisbon: %v", a.ID, b)
		}
	}

	// The named garden was cut out of the unnamed park
	for _, a := range res.Areas {
		if a.SourceID == 100 && len(a.Geometry[0]) != 2 {
			t.Errorf("park should have a hole where the garden is, rings = %d", len(a.Geometry[0]))
		}
	}
}

func TestTransformerRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTransformer(Options{}).Run(ctx, &feed.Extract{Elements: make([]feed.Element, 1)})
	if err == nil {
		t.Error("expected context error")
	}
}
