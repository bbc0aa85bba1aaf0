package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/osm"

	"github.com/wegman-software/gsa-etl-go/internal/config"
	"github.com/wegman-software/gsa-etl-go/internal/style"
)

const sampleResponse = `{
  "version": 0.6,
  "elements": [
    {"type": "way", "id": 10, "tags": {"leisure": "park", "name": "Jardim"},
     "nodes": [1, 2, 3, 1],
     "geometry": [{"lat": 38.70, "lon": -9.20}, {"lat": 38.70, "lon": -9.19}, {"lat": 38.71, "lon": -9.19}, {"lat": 38.70, "lon": -9.20}]},
    {"type": "way", "id": 11, "tags": {"leisure": "park", "access": "private"},
     "geometry": [{"lat": 38.70, "lon": -9.20}]},
    {"type": "relation", "id": 20, "tags": {"landuse": "forest"},
     "members": [{"type": "way", "ref": 30, "role": "outer", "geometry": [{"lat": 38.72, "lon": -9.15}]}]}
  ]
}`

func testOptions(url string) OverpassOptions {
	bbox := &config.BBox{MinLon: -9.229, MinLat: 38.691, MaxLon: -9.091, MaxLat: 38.796, IsSet: true}
	return OverpassOptions{
		URL:     url,
		BBox:    bbox,
		Timeout: 25,
		Retry: RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			Multiplier:   2,
		},
	}
}

func TestOverpassRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if !strings.Contains(r.PostForm.Get("data"), "out geom") {
			t.Errorf("query missing out geom: %q", r.PostForm.Get("data"))
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	src := NewOverpassSource(testOptions(srv.URL))
	ext, err := src.Fetch(context.Background(), KindGreenAreas)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if ext.Len() != 3 {
		t.Fatalf("elements = %d, want 3", ext.Len())
	}
	if ext.Elements[0].Type != osm.TypeWay || ext.Elements[0].ID != 10 {
		t.Errorf("first element = %+v", ext.Elements[0])
	}
	if got := ext.Elements[2].Members[0].Ref; got != 30 {
		t.Errorf("member ref = %d, want 30", got)
	}
}

func TestOverpassExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	_, err := NewOverpassSource(testOptions(srv.URL)).Fetch(context.Background(), KindRouting)
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if extErr.Attempts != 3 || extErr.StatusCode != http.StatusGatewayTimeout || extErr.Kind != KindRouting {
		t.Errorf("unexpected error fields: %+v", extErr)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestOverpassClientErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewOverpassSource(testOptions(srv.URL)).Fetch(context.Background(), KindGreenAreas)
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if calls.Load() != 1 || extErr.Attempts != 1 {
		t.Errorf("calls = %d attempts = %d, want 1", calls.Load(), extErr.Attempts)
	}
}

func TestOverpassAppliesExcludeRules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	st := style.DefaultConfig()
	st.GreenAreas.Exclude = map[string][]string{"access": {"private"}}
	opts := testOptions(srv.URL)
	opts.Style = st

	ext, err := NewOverpassSource(opts).Fetch(context.Background(), KindGreenAreas)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	for _, el := range ext.Elements {
		if el.ID == 11 {
			t.Error("private park should be filtered")
		}
	}
}

func TestBuildQuery(t *testing.T) {
	bbox := &config.BBox{MinLon: -9.229, MinLat: 38.691, MaxLon: -9.091, MaxLat: 38.796, IsSet: true}
	q, err := BuildQuery(style.DefaultConfig().GreenAreas, bbox, 180)
	if err != nil {
		t.Fatalf("BuildQuery error: %v", err)
	}

	want := []string{
		"[out:json][timeout:180];",
		`way["leisure"~"^(park|garden|playground|nature_reserve|recreation_ground|dog_park)$"](38.691,-9.229,38.796,-9.091);`,
		`relation["natural"~"^(wood|grassland|scrub|heath|fell)$"](38.691,-9.229,38.796,-9.091);`,
		"out geom;",
	}
	for _, w := range want {
		if !strings.Contains(q, w) {
			t.Errorf("query missing %q:\n%s", w, q)
		}
	}

	routing, err := BuildQuery(style.DefaultConfig().Routing, bbox, 180)
	if err != nil {
		t.Fatalf("BuildQuery error: %v", err)
	}
	if strings.Contains(routing, "relation") {
		t.Errorf("routing query should not select relations:\n%s", routing)
	}

	if _, err := BuildQuery(&style.FilterConfig{}, bbox, 180); err == nil {
		t.Error("expected error for empty filter")
	}
}

func TestFileSourceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ext := &Extract{Elements: []Element{{
		Type:     osm.TypeWay,
		ID:       7,
		Tags:     map[string]string{"highway": "footway"},
		Nodes:    []int64{1, 2},
		Geometry: []Point{{Lat: 1, Lon: 2}, {Lat: 3, Lon: 4}},
	}}}
	if err := WriteExtract(Path(dir, KindRouting), ext); err != nil {
		t.Fatalf("WriteExtract error: %v", err)
	}

	got, err := NewFileSource(dir).Fetch(context.Background(), KindRouting)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if got.Len() != 1 || got.Elements[0].ID != 7 || got.Elements[0].Tag("highway") != "footway" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	ls := got.Elements[0].LineString()
	if ls[1][0] != 4 || ls[1][1] != 3 {
		t.Errorf("LineString should be lon/lat, got %v", ls)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "none")).Fetch(context.Background(), KindGreenAreas)
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("routing"); err != nil || k != KindRouting {
		t.Errorf("ParseKind(routing) = %v, %v", k, err)
	}
	if _, err := ParseKind("buildings"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
