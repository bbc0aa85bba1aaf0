package loader

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Destination table names, in load order
const (
	TableTypes      = "types"
	TableGreenAreas = "green_areas"
	TableWays       = "ways"
	TableVertices   = "vertices"
)

// LoadOrder is the order tables are filled in; truncation runs in reverse
var LoadOrder = []string{TableTypes, TableGreenAreas, TableWays, TableVertices}

type tableDef struct {
	columns string   // %[1]s is the schema
	indexes []string // Index name suffix -> definition, "name:definition"
}

var tableDefs = map[string]tableDef{
	TableTypes: {
		columns: `id BIGINT PRIMARY KEY,
			type TEXT NOT NULL UNIQUE`,
	},
	TableGreenAreas: {
		columns: `id BIGINT PRIMARY KEY,
			osm_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			type_id BIGINT NOT NULL REFERENCES %[1]s.types (id),
			geometry GEOMETRY(MultiPolygon, 4326) NOT NULL`,
		indexes: []string{
			"geometry_idx:USING GIST (geometry)",
			"type_id_idx:(type_id)",
		},
	},
	TableWays: {
		columns: `id BIGINT PRIMARY KEY,
			osm_id BIGINT NOT NULL,
			source BIGINT NOT NULL,
			target BIGINT NOT NULL,
			geometry GEOMETRY(LineString, 4326) NOT NULL,
			length_m DOUBLE PRECISION NOT NULL,
			cost DOUBLE PRECISION NOT NULL,
			reverse_cost DOUBLE PRECISION NOT NULL`,
		indexes: []string{
			"geometry_idx:USING GIST (geometry)",
			"source_idx:(source)",
			"target_idx:(target)",
		},
	},
	TableVertices: {
		columns: `id BIGINT PRIMARY KEY,
			geometry GEOMETRY(Point, 4326) NOT NULL`,
		indexes: []string{
			"geometry_idx:USING GIST (geometry)",
		},
	},
}

func qualified(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// createTableSQL returns the CREATE TABLE statement for a destination table
func createTableSQL(schema, table string) (string, error) {
	def, ok := tableDefs[table]
	if !ok {
		return "", fmt.Errorf("unknown table %q", table)
	}
	cols := def.columns
	if strings.Contains(cols, "%[1]s") {
		cols = fmt.Sprintf(cols, pgx.Identifier{schema}.Sanitize())
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t\t\t%s\n\t\t)", qualified(schema, table), cols), nil
}

// truncateSQL empties every destination table and resets identities
func truncateSQL(schema string) string {
	names := make([]string, 0, len(LoadOrder))
	for i := len(LoadOrder) - 1; i >= 0; i-- {
		names = append(names, qualified(schema, LoadOrder[i]))
	}
	return fmt.Sprintf("TRUNCATE %s RESTART IDENTITY CASCADE", strings.Join(names, ", "))
}

func tempTableName(table string) string {
	return table + "_load_tmp"
}

// tempTableSQL creates the staging table COPY writes into
func tempTableSQL(b *TableBatch) string {
	cols := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		cols[i] = fmt.Sprintf("%s %s", pgx.Identifier{c.Name}.Sanitize(), c.Type)
	}
	return fmt.Sprintf("CREATE TEMP TABLE %s (%s) ON COMMIT DROP",
		pgx.Identifier{tempTableName(b.Name)}.Sanitize(), strings.Join(cols, ", "))
}

// insertSQL moves staged rows into the destination, decoding geometries
func insertSQL(schema string, b *TableBatch) string {
	names := make([]string, len(b.Columns))
	exprs := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		id := pgx.Identifier{c.Name}.Sanitize()
		names[i] = id
		exprs[i] = id
		if c.Type == ColumnGeometry {
			if b.SRID > 0 {
				exprs[i] = fmt.Sprintf("ST_SetSRID(ST_GeomFromEWKB(%s), %d)", id, b.SRID)
			} else {
				exprs[i] = fmt.Sprintf("ST_GeomFromEWKB(%s)", id)
			}
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		qualified(schema, b.Name),
		strings.Join(names, ", "),
		strings.Join(exprs, ", "),
		pgx.Identifier{tempTableName(b.Name)}.Sanitize())
}

// indexSQL returns the post-load index statements of a table
func indexSQL(schema, table string) []string {
	def := tableDefs[table]
	stmts := make([]string, 0, len(def.indexes))
	for _, idx := range def.indexes {
		name, body, _ := strings.Cut(idx, ":")
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s %s",
			pgx.Identifier{table + "_" + name}.Sanitize(), qualified(schema, table), body))
	}
	return stmts
}

// orderBatches sorts batches into load order and rejects unknown or
// duplicate tables. Replace truncates every table, so a set that leaves
// one out is rejected too.
func orderBatches(batches []TableBatch) ([]TableBatch, error) {
	byName := make(map[string]TableBatch, len(batches))
	for _, b := range batches {
		if _, ok := tableDefs[b.Name]; !ok {
			return nil, fmt.Errorf("unknown table %q", b.Name)
		}
		if _, dup := byName[b.Name]; dup {
			return nil, fmt.Errorf("duplicate batch for table %q", b.Name)
		}
		if err := b.Validate(); err != nil {
			return nil, err
		}
		byName[b.Name] = b
	}

	ordered := make([]TableBatch, 0, len(batches))
	var missing []string
	for _, name := range LoadOrder {
		b, ok := byName[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		ordered = append(ordered, b)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("no batch for table %s", strings.Join(missing, ", "))
	}
	return ordered, nil
}
