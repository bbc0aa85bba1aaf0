package loader

import (
	"context"
	"fmt"
	"time"
)

// ColumnType is the storage type of a batch column
type ColumnType int

const (
	ColumnInt64 ColumnType = iota
	ColumnFloat64
	ColumnText
	ColumnGeometry // EWKB bytes
)

// String returns the Postgres type used for the column while staging
func (t ColumnType) String() string {
	switch t {
	case ColumnInt64:
		return "BIGINT"
	case ColumnFloat64:
		return "DOUBLE PRECISION"
	case ColumnText:
		return "TEXT"
	case ColumnGeometry:
		return "BYTEA"
	}
	return fmt.Sprintf("ColumnType(%d)", int(t))
}

// Column describes one batch column
type Column struct {
	Name string
	Type ColumnType
}

// TableBatch is the full content of one destination table
type TableBatch struct {
	Name    string
	Columns []Column
	SRID    int
	Rows    [][]any
}

// ColumnNames returns the batch column names in order
func (b *TableBatch) ColumnNames() []string {
	names := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		names[i] = c.Name
	}
	return names
}

// Validate checks that every row matches the column layout
func (b *TableBatch) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("batch has no table name")
	}
	if len(b.Columns) == 0 {
		return fmt.Errorf("batch %s has no columns", b.Name)
	}
	for i, row := range b.Rows {
		if len(row) != len(b.Columns) {
			return fmt.Errorf("batch %s row %d has %d values, want %d", b.Name, i, len(row), len(b.Columns))
		}
	}
	return nil
}

// Sink replaces all destination tables with the given batches
type Sink interface {
	Replace(ctx context.Context, batches []TableBatch) (*Stats, error)
}

// Stats holds loader statistics
type Stats struct {
	RowsLoaded    int64
	Tables        map[string]int64
	LoadDuration  time.Duration
	IndexDuration time.Duration
}

// LoadError reports a failed table load. The transaction is rolled back, so
// no table of the set was replaced.
type LoadError struct {
	Table string
	Rows  int64 // Rows copied before the failure
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s after %d rows: %v", e.Table, e.Rows, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
