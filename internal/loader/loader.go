package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/gsa-etl-go/internal/config"
	"github.com/wegman-software/gsa-etl-go/internal/logger"
)

var _ Sink = (*Loader)(nil)

// Loader replaces the destination tables in PostgreSQL
type Loader struct {
	pool          *pgxpool.Pool
	schema        string
	createIndexes bool
	workers       int
}

// NewLoader creates a new PostgreSQL loader
func NewLoader(ctx context.Context, cfg *config.Config) (*Loader, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	// One connection holds the load transaction, the rest build indexes
	poolConfig.MaxConns = int32(workers + 1)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	return &Loader{
		pool:          pool,
		schema:        cfg.DBSchema,
		createIndexes: cfg.CreateIndexes,
		workers:       workers,
	}, nil
}

// Close closes connections
func (l *Loader) Close() error {
	l.pool.Close()
	return nil
}

// Replace truncates every destination table and loads the batches in one
// transaction, then builds indexes. A failed load leaves the previous
// contents untouched.
func (l *Loader) Replace(ctx context.Context, batches []TableBatch) (*Stats, error) {
	log := logger.Stage("load")
	stats := &Stats{Tables: make(map[string]int64)}

	ordered, err := orderBatches(batches)
	if err != nil {
		return nil, err
	}

	if err := l.ensureSchema(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, truncateSQL(l.schema)); err != nil {
		return nil, fmt.Errorf("failed to truncate tables: %w", err)
	}

	for i := range ordered {
		b := &ordered[i]
		log.Info("Loading table", zap.String("table", b.Name), zap.Int("rows", len(b.Rows)))
		n, err := l.loadTable(ctx, tx, b)
		if err != nil {
			return nil, &LoadError{Table: b.Name, Rows: n, Err: err}
		}
		stats.Tables[b.Name] = n
		stats.RowsLoaded += n
		log.Info("Table loaded", zap.String("table", b.Name), zap.Int64("rows", n))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	stats.LoadDuration = time.Since(start)

	if l.createIndexes {
		start = time.Now()
		if err := l.buildIndexes(ctx, ordered); err != nil {
			return nil, fmt.Errorf("failed to create indexes: %w", err)
		}
		stats.IndexDuration = time.Since(start)
		log.Info("All indexes created", zap.Duration("duration", stats.IndexDuration.Round(time.Millisecond)))
	}

	return stats, nil
}

func (l *Loader) ensureSchema(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS postgis"); err != nil {
		return fmt.Errorf("failed to create PostGIS extension: %w", err)
	}
	if l.schema != "public" {
		if _, err := l.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{l.schema}.Sanitize())); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	for _, table := range LoadOrder {
		stmt, err := createTableSQL(l.schema, table)
		if err != nil {
			return err
		}
		if _, err := l.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
	}
	return nil
}

// loadTable stages one batch with COPY and moves it into the destination
func (l *Loader) loadTable(ctx context.Context, tx pgx.Tx, b *TableBatch) (int64, error) {
	if len(b.Rows) == 0 {
		return 0, nil
	}
	if _, err := tx.Exec(ctx, tempTableSQL(b)); err != nil {
		return 0, fmt.Errorf("failed to create temp table: %w", err)
	}

	src := &rowSource{rows: b.Rows, idx: -1}
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{tempTableName(b.Name)}, b.ColumnNames(), src)
	if err != nil {
		return int64(max(src.idx, 0)), fmt.Errorf("COPY failed: %w", err)
	}

	tag, err := tx.Exec(ctx, insertSQL(l.schema, b))
	if err != nil {
		return copied, fmt.Errorf("failed to insert from temp table: %w", err)
	}
	return tag.RowsAffected(), nil
}

// buildIndexes creates indexes and refreshes planner statistics, one
// connection per statement
func (l *Loader) buildIndexes(ctx context.Context, tables []TableBatch) error {
	log := logger.Stage("load")
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)

	for _, b := range tables {
		table := b.Name
		for _, stmt := range indexSQL(l.schema, table) {
			stmt := stmt
			g.Go(func() error {
				log.Debug("Creating index", zap.String("sql", stmt))
				if _, err := l.pool.Exec(gctx, stmt); err != nil {
					return fmt.Errorf("%s: %w", table, err)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var errs []error
	for _, b := range tables {
		if _, err := l.pool.Exec(ctx, "ANALYZE "+qualified(l.schema, b.Name)); err != nil {
			errs = append(errs, fmt.Errorf("failed to analyze %s: %w", b.Name, err))
		}
	}
	return errors.Join(errs...)
}

// rowSource implements pgx.CopyFromSource over in-memory rows
type rowSource struct {
	rows [][]any
	idx  int
}

func (r *rowSource) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *rowSource) Values() ([]any, error) {
	return r.rows[r.idx], nil
}

func (r *rowSource) Err() error {
	return nil
}
