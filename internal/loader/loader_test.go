package loader

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTruncateSQLReverseOrder(t *testing.T) {
	got := truncateSQL("gsa")
	want := `TRUNCATE "gsa"."vertices", "gsa"."ways", "gsa"."green_areas", "gsa"."types" RESTART IDENTITY CASCADE`
	if got != want {
		t.Errorf("truncateSQL =\n%s\nwant\n%s", got, want)
	}
}

func TestCreateTableSQL(t *testing.T) {
	tests := []struct {
		table    string
		contains []string
	}{
		{TableTypes, []string{`"public"."types"`, "type TEXT NOT NULL UNIQUE"}},
		{TableGreenAreas, []string{`REFERENCES "public".types (id)`, "GEOMETRY(MultiPolygon, 4326)"}},
		{TableWays, []string{"GEOMETRY(LineString, 4326)", "reverse_cost DOUBLE PRECISION"}},
		{TableVertices, []string{"GEOMETRY(Point, 4326)"}},
	}

	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			sql, err := createTableSQL("public", tt.table)
			if err != nil {
				t.Fatal(err)
			}
			for _, s := range tt.contains {
				if !strings.Contains(sql, s) {
					t.Errorf("missing %q in\n%s", s, sql)
				}
			}
		})
	}

	if _, err := createTableSQL("public", "nope"); err == nil {
		t.Error("expected error for unknown table")
	}
}

func TestStagingSQL(t *testing.T) {
	b := &TableBatch{
		Name: TableVertices,
		Columns: []Column{
			{Name: "id", Type: ColumnInt64},
			{Name: "geometry", Type: ColumnGeometry},
		},
		SRID: 4326,
	}

	if got := tempTableSQL(b); got != `CREATE TEMP TABLE "vertices_load_tmp" ("id" BIGINT, "geometry" BYTEA) ON COMMIT DROP` {
		t.Errorf("tempTableSQL = %s", got)
	}
	want := `INSERT INTO "gsa"."vertices" ("id", "geometry") SELECT "id", ST_SetSRID(ST_GeomFromEWKB("geometry"), 4326) FROM "vertices_load_tmp"`
	if got := insertSQL("gsa", b); got != want {
		t.Errorf("insertSQL =\n%s\nwant\n%s", got, want)
	}
}

func TestIndexSQL(t *testing.T) {
	stmts := indexSQL("public", TableWays)
	if len(stmts) != 3 {
		t.Fatalf("ways indexes = %d, want 3", len(stmts))
	}
	if stmts[0] != `CREATE INDEX IF NOT EXISTS "ways_geometry_idx" ON "public"."ways" USING GIST (geometry)` {
		t.Errorf("gist index = %s", stmts[0])
	}
	if len(indexSQL("public", TableTypes)) != 0 {
		t.Error("types should have no extra indexes")
	}
}

func TestOrderBatches(t *testing.T) {
	mk := func(name string) TableBatch {
		return TableBatch{Name: name, Columns: []Column{{Name: "id", Type: ColumnInt64}}, Rows: [][]any{{int64(1)}}}
	}

	ordered, err := orderBatches([]TableBatch{mk(TableVertices), mk(TableTypes), mk(TableWays), mk(TableGreenAreas)})
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, b := range ordered {
		names = append(names, b.Name)
	}
	if fmt.Sprint(names) != fmt.Sprint(LoadOrder) {
		t.Errorf("order = %v, want %v", names, LoadOrder)
	}

	tests := []struct {
		name    string
		batches []TableBatch
	}{
		{"unknown", []TableBatch{mk("other")}},
		{"duplicate", []TableBatch{mk(TableTypes), mk(TableTypes)}},
		{"ragged row", []TableBatch{{Name: TableTypes, Columns: []Column{{Name: "id"}}, Rows: [][]any{{1, 2}}}}},
		{"no columns", []TableBatch{{Name: TableTypes}}},
		{"missing routing tables", []TableBatch{mk(TableTypes), mk(TableGreenAreas)}},
		{"missing types", []TableBatch{mk(TableGreenAreas), mk(TableWays), mk(TableVertices)}},
		{"empty set", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := orderBatches(tt.batches); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRowSource(t *testing.T) {
	src := &rowSource{rows: [][]any{{1}, {2}}, idx: -1}
	var got []any
	for src.Next() {
		v, err := src.Values()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, v[0])
	}
	if len(got) != 2 || got[1] != 2 {
		t.Errorf("rows = %v", got)
	}
}

func TestLoadErrorUnwrap(t *testing.T) {
	cause := errors.New("fk violation")
	var err error = fmt.Errorf("replace: %w", &LoadError{Table: TableGreenAreas, Rows: 12, Err: cause})

	var le *LoadError
	if !errors.As(err, &le) || le.Table != TableGreenAreas || le.Rows != 12 {
		t.Errorf("errors.As failed: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable")
	}
	if !strings.Contains(err.Error(), "green_areas after 12 rows") {
		t.Errorf("message = %s", err)
	}
}
