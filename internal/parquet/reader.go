package parquet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/wegman-software/gsa-etl-go/internal/loader"
)

// Path returns the artifact path of a table inside dir
func Path(dir, table string) string {
	return filepath.Join(dir, table+".parquet")
}

// ReadBatch reads a Parquet artifact back into a table batch. The table name
// and SRID come from the schema metadata when present, the file name otherwise.
func ReadBatch(ctx context.Context, path string) (*loader.TableBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer f.Close()

	pf, err := file.NewParquetReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pf.Close()

	arrowReader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	tbl, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	defer tbl.Release()

	schema := tbl.Schema()
	b := &loader.TableBatch{
		Name: strings.TrimSuffix(filepath.Base(path), ".parquet"),
	}
	md := schema.Metadata()
	if i := md.FindKey(metaTable); i >= 0 {
		b.Name = md.Values()[i]
	}
	if i := md.FindKey(metaSRID); i >= 0 {
		if srid, err := strconv.Atoi(md.Values()[i]); err == nil {
			b.SRID = srid
		}
	}

	for _, field := range schema.Fields() {
		ct, err := columnType(field.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", field.Name, err)
		}
		b.Columns = append(b.Columns, loader.Column{Name: field.Name, Type: ct})
	}

	n := int(tbl.NumRows())
	b.Rows = make([][]any, n)
	for i := range b.Rows {
		b.Rows[i] = make([]any, len(b.Columns))
	}

	for c := range b.Columns {
		row := 0
		for _, chunk := range tbl.Column(c).Data().Chunks() {
			for i := 0; i < chunk.Len(); i++ {
				b.Rows[row][c] = value(chunk, i)
				row++
			}
		}
	}

	return b, nil
}

func columnType(dt arrow.DataType) (loader.ColumnType, error) {
	switch dt.ID() {
	case arrow.INT64:
		return loader.ColumnInt64, nil
	case arrow.FLOAT64:
		return loader.ColumnFloat64, nil
	case arrow.STRING:
		return loader.ColumnText, nil
	case arrow.BINARY:
		return loader.ColumnGeometry, nil
	}
	return 0, fmt.Errorf("unsupported arrow type %s", dt)
}

// value copies element i out of arr so it outlives the table
func value(arr arrow.Array, i int) any {
	switch a := arr.(type) {
	case *array.Int64:
		return a.Value(i)
	case *array.Float64:
		return a.Value(i)
	case *array.String:
		return strings.Clone(a.Value(i))
	case *array.Binary:
		v := a.Value(i)
		out := make([]byte, len(v))
		copy(out, v)
		return out
	}
	return nil
}
