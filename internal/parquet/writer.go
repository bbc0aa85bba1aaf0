package parquet

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/wegman-software/gsa-etl-go/internal/loader"
)

// Schema metadata keys
const (
	metaTable = "gsa.table"
	metaSRID  = "gsa.srid"
)

// arrowType maps a batch column to its Arrow storage type
func arrowType(t loader.ColumnType) (arrow.DataType, error) {
	switch t {
	case loader.ColumnInt64:
		return arrow.PrimitiveTypes.Int64, nil
	case loader.ColumnFloat64:
		return arrow.PrimitiveTypes.Float64, nil
	case loader.ColumnText:
		return arrow.BinaryTypes.String, nil
	case loader.ColumnGeometry:
		return arrow.BinaryTypes.Binary, nil
	}
	return nil, fmt.Errorf("unsupported column type %v", t)
}

// Schema builds the Arrow schema of a batch
func Schema(b *loader.TableBatch) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(b.Columns))
	for i, c := range b.Columns {
		dt, err := arrowType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		fields[i] = arrow.Field{Name: c.Name, Type: dt, Nullable: false}
	}
	md := arrow.NewMetadata(
		[]string{metaTable, metaSRID},
		[]string{b.Name, strconv.Itoa(b.SRID)},
	)
	return arrow.NewSchema(fields, &md), nil
}

// BatchWriter writes the rows of one table batch to Parquet
type BatchWriter struct {
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	columns   []loader.Column
	batchSize int
	count     int
	total     int64
}

// NewBatchWriter creates a Parquet writer for tables shaped like b
func NewBatchWriter(path string, b *loader.TableBatch, batchSize int) (*BatchWriter, error) {
	schema, err := Schema(b)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 10000
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(schema, f, writerProps, arrowProps)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &BatchWriter{
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, schema),
		columns:   b.Columns,
		batchSize: batchSize,
	}, nil
}

// Write appends one row; values must match the column types
func (w *BatchWriter) Write(row []any) error {
	if len(row) != len(w.columns) {
		return fmt.Errorf("row has %d values, want %d", len(row), len(w.columns))
	}
	// Check the whole row first so a bad value never leaves columns uneven
	for i, c := range w.columns {
		if err := checkValue(c, row[i]); err != nil {
			return err
		}
	}
	for i, c := range w.columns {
		appendValue(w.builder.Field(i), c.Type, row[i])
	}

	w.count++
	w.total++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

func checkValue(c loader.Column, v any) error {
	var ok bool
	switch c.Type {
	case loader.ColumnInt64:
		_, ok = v.(int64)
	case loader.ColumnFloat64:
		_, ok = v.(float64)
	case loader.ColumnText:
		_, ok = v.(string)
	case loader.ColumnGeometry:
		_, ok = v.([]byte)
	default:
		return fmt.Errorf("column %s: unsupported type %v", c.Name, c.Type)
	}
	if !ok {
		return fmt.Errorf("column %s: %T does not fit %v", c.Name, v, c.Type)
	}
	return nil
}

func appendValue(b array.Builder, t loader.ColumnType, v any) {
	switch t {
	case loader.ColumnInt64:
		b.(*array.Int64Builder).Append(v.(int64))
	case loader.ColumnFloat64:
		b.(*array.Float64Builder).Append(v.(float64))
	case loader.ColumnText:
		b.(*array.StringBuilder).Append(v.(string))
	case loader.ColumnGeometry:
		b.(*array.BinaryBuilder).Append(v.([]byte))
	}
}

func (w *BatchWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	err := w.writer.Write(rec)
	w.count = 0
	return err
}

// Count returns the rows written so far
func (w *BatchWriter) Count() int64 {
	return w.total
}

// Close closes the writer
func (w *BatchWriter) Close() error {
	defer w.builder.Release()
	if err := w.flush(); err != nil {
		w.writer.Close()
		return err
	}
	if err := w.writer.Close(); err != nil {
		return err
	}
	// The Parquet writer may already have closed the file
	if err := w.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// WriteBatch writes a whole batch to path
func WriteBatch(path string, b *loader.TableBatch, batchSize int) error {
	w, err := NewBatchWriter(path, b, batchSize)
	if err != nil {
		return fmt.Errorf("failed to create writer for %s: %w", b.Name, err)
	}
	for i, row := range b.Rows {
		if err := w.Write(row); err != nil {
			w.Close()
			return fmt.Errorf("failed to write %s row %d: %w", b.Name, i, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}
