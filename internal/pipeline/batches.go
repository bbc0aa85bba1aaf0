package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/wegman-software/gsa-etl-go/internal/loader"
	"github.com/wegman-software/gsa-etl-go/internal/parquet"
	"github.com/wegman-software/gsa-etl-go/internal/routing"
	"github.com/wegman-software/gsa-etl-go/internal/wkb"
)

var (
	typesColumns = []loader.Column{
		{Name: "id", Type: loader.ColumnInt64},
		{Name: "type", Type: loader.ColumnText},
	}
	greenAreaColumns = []loader.Column{
		{Name: "id", Type: loader.ColumnInt64},
		{Name: "osm_id", Type: loader.ColumnInt64},
		{Name: "name", Type: loader.ColumnText},
		{Name: "type_id", Type: loader.ColumnInt64},
		{Name: "geometry", Type: loader.ColumnGeometry},
	}
	wayColumns = []loader.Column{
		{Name: "id", Type: loader.ColumnInt64},
		{Name: "osm_id", Type: loader.ColumnInt64},
		{Name: "source", Type: loader.ColumnInt64},
		{Name: "target", Type: loader.ColumnInt64},
		{Name: "geometry", Type: loader.ColumnGeometry},
		{Name: "length_m", Type: loader.ColumnFloat64},
		{Name: "cost", Type: loader.ColumnFloat64},
		{Name: "reverse_cost", Type: loader.ColumnFloat64},
	}
	vertexColumns = []loader.Column{
		{Name: "id", Type: loader.ColumnInt64},
		{Name: "geometry", Type: loader.ColumnGeometry},
	}
)

// Batches converts run artifacts into table batches in load order.
// Geometries are encoded as EWKB with SRID 4326; empty or degenerate
// geometries are rejected here rather than by the database.
func Batches(a *Artifacts) ([]loader.TableBatch, error) {
	enc := wkb.NewEncoderWithSRID(1024, wkb.SRID4326)
	var batches []loader.TableBatch

	if a.GreenAreas != nil {
		types := loader.TableBatch{Name: loader.TableTypes, Columns: typesColumns}
		for _, t := range a.GreenAreas.Types {
			types.Rows = append(types.Rows, []any{t.ID, t.Label})
		}

		areas := loader.TableBatch{Name: loader.TableGreenAreas, Columns: greenAreaColumns, SRID: enc.SRID()}
		for _, ga := range a.GreenAreas.Areas {
			geom, err := enc.EncodeMultiPolygon(ga.Geometry)
			if err != nil {
				return nil, fmt.Errorf("green area %d: %w", ga.ID, err)
			}
			areas.Rows = append(areas.Rows, []any{ga.ID, ga.SourceID, ga.Name, ga.TypeID, bytes.Clone(geom)})
		}
		batches = append(batches, types, areas)
	}

	if a.Graph != nil {
		ways, err := wayBatch(enc, a.Graph.Edges)
		if err != nil {
			return nil, err
		}
		vertices, err := vertexBatch(enc, a.Graph.Vertices)
		if err != nil {
			return nil, err
		}
		batches = append(batches, ways, vertices)
	}

	return batches, nil
}

func wayBatch(enc *wkb.Encoder, edges []routing.Edge) (loader.TableBatch, error) {
	b := loader.TableBatch{Name: loader.TableWays, Columns: wayColumns, SRID: enc.SRID()}
	for _, e := range edges {
		geom, err := enc.EncodeLineString(e.Geometry)
		if err != nil {
			return b, fmt.Errorf("edge %d: %w", e.ID, err)
		}
		b.Rows = append(b.Rows, []any{e.ID, e.WayID, e.Source, e.Target, bytes.Clone(geom), e.LengthM, e.Cost, e.ReverseCost})
	}
	return b, nil
}

func vertexBatch(enc *wkb.Encoder, vertices []routing.Vertex) (loader.TableBatch, error) {
	b := loader.TableBatch{Name: loader.TableVertices, Columns: vertexColumns, SRID: enc.SRID()}
	for _, v := range vertices {
		geom, err := enc.EncodePoint(v.Point)
		if err != nil {
			return b, fmt.Errorf("vertex %d: %w", v.ID, err)
		}
		b.Rows = append(b.Rows, []any{v.ID, bytes.Clone(geom)})
	}
	return b, nil
}

// WriteArtifacts writes each batch to <dir>/<table>.parquet
func WriteArtifacts(dir string, batches []loader.TableBatch, batchSize int) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for i := range batches {
		if err := parquet.WriteBatch(parquet.Path(dir, batches[i].Name), &batches[i], batchSize); err != nil {
			return err
		}
	}
	return nil
}

// ReadArtifacts reads the artifact of every table in load order. A directory
// with no artifacts yields EmptyResultError; one missing only some tables is
// rejected, since loading it would truncate the missing tables.
func ReadArtifacts(ctx context.Context, dir string) ([]loader.TableBatch, error) {
	var missing []string
	for _, table := range loader.LoadOrder {
		if _, err := os.Stat(parquet.Path(dir, table)); errors.Is(err, os.ErrNotExist) {
			missing = append(missing, table)
		}
	}
	switch {
	case len(missing) == len(loader.LoadOrder):
		return nil, &EmptyResultError{Stage: StageLoad, What: "artifacts in " + dir}
	case len(missing) > 0:
		return nil, fmt.Errorf("incomplete artifacts in %s: missing %s", dir, strings.Join(missing, ", "))
	}

	batches := make([]loader.TableBatch, 0, len(loader.LoadOrder))
	for _, table := range loader.LoadOrder {
		path := parquet.Path(dir, table)
		b, err := parquet.ReadBatch(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		b.Name = table
		if err := checkGeometries(b); err != nil {
			return nil, fmt.Errorf("invalid artifact %s: %w", path, err)
		}
		batches = append(batches, *b)
	}
	return batches, nil
}

// checkGeometries decodes every geometry value and verifies its SRID
func checkGeometries(b *loader.TableBatch) error {
	for ci, col := range b.Columns {
		if col.Type != loader.ColumnGeometry {
			continue
		}
		for ri, row := range b.Rows {
			data, ok := row[ci].([]byte)
			if !ok {
				return fmt.Errorf("row %d: %s is %T, want EWKB bytes", ri, col.Name, row[ci])
			}
			_, srid, err := wkb.Decode(data)
			if err != nil {
				return fmt.Errorf("row %d: %w", ri, err)
			}
			if srid != b.SRID {
				return fmt.Errorf("row %d: srid %d, want %d", ri, srid, b.SRID)
			}
		}
	}
	return nil
}
