package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/gsa-etl-go/internal/feed"
	"github.com/wegman-software/gsa-etl-go/internal/loader"
	"github.com/wegman-software/gsa-etl-go/internal/logger"
	"github.com/wegman-software/gsa-etl-go/internal/metrics"
	"github.com/wegman-software/gsa-etl-go/internal/routing"
	"github.com/wegman-software/gsa-etl-go/internal/transform"
)

// Options holds pipeline-specific configuration
type Options struct {
	Transform       transform.Options
	DryRun          bool          // Skip the sink
	ArtifactDir     string        // Also write Parquet artifacts here when set
	BatchSize       int           // Parquet row group size
	MetricsInterval time.Duration // Zero disables the collector
}

// scanStatser is implemented by sources that scan a local file
type scanStatser interface {
	Stats() feed.PBFStats
}

// Coordinator runs extract, transform, routing and load in sequence, each
// stage consuming the previous stage's output in full
type Coordinator struct {
	source    feed.Source
	sink      loader.Sink
	opts      Options
	collector *metrics.Collector
}

// NewCoordinator creates a new pipeline coordinator. sink may be nil in
// dry-run mode.
func NewCoordinator(source feed.Source, sink loader.Sink, opts Options) *Coordinator {
	return &Coordinator{source: source, sink: sink, opts: opts}
}

// Run executes the whole run. Every fatal error is a *StageError; the sink
// is never called unless both transforms produced records.
func (c *Coordinator) Run(ctx context.Context) (*RunStats, error) {
	log := logger.Get()
	start := time.Now()
	stats := newRunStats()

	if c.opts.MetricsInterval > 0 {
		metricsCtx, cancelMetrics := context.WithCancel(ctx)
		defer cancelMetrics()

		c.collector = metrics.NewCollector(c.opts.MetricsInterval, log)
		go c.collector.Start(metricsCtx)
		log.Info("System metrics collection started",
			zap.Duration("interval", c.opts.MetricsInterval))
	}

	extracts, err := c.Extract(ctx, stats)
	if err != nil {
		return stats, err
	}

	artifacts, err := c.Transform(ctx, extracts, stats)
	if err != nil {
		return stats, err
	}

	batches, err := Batches(artifacts)
	if err != nil {
		return stats, &StageError{Stage: StageExport, Err: err}
	}
	for _, b := range batches {
		stats.Rows[b.Name] = len(b.Rows)
	}

	if c.opts.ArtifactDir != "" {
		st := startStage(StageExport, len(batches), stats, c.collector)
		if err := WriteArtifacts(c.opts.ArtifactDir, batches, c.opts.BatchSize); err != nil {
			return stats, &StageError{Stage: StageExport, Err: err}
		}
		st.done(len(batches))
	}

	if c.opts.DryRun || c.sink == nil {
		log.Info("Dry run, skipping load")
	} else {
		if stats.Load, err = c.Load(ctx, batches, stats); err != nil {
			return stats, err
		}
	}

	stats.Total = time.Since(start)
	c.logSummary(stats)
	return stats, nil
}

// Extract fetches both extracts sequentially. An empty extract is fatal.
func (c *Coordinator) Extract(ctx context.Context, stats *RunStats) (*Extracts, error) {
	st := startStage(StageExtract, len(feed.Kinds), stats, c.collector)
	out := &Extracts{}
	fetched := 0

	for _, kind := range feed.Kinds {
		ext, err := c.source.Fetch(ctx, kind)
		if err != nil {
			return nil, &StageError{Stage: StageExtract, Processed: fetched, Err: err}
		}
		if ext.Len() == 0 {
			return nil, &StageError{Stage: StageExtract, Processed: fetched,
				Err: &EmptyResultError{Stage: StageExtract, What: string(kind) + " elements"}}
		}
		stats.Elements[kind] = ext.Len()
		fetched += ext.Len()
		if ss, ok := c.source.(scanStatser); ok {
			stats.Scans[kind] = ss.Stats()
		}

		switch kind {
		case feed.KindGreenAreas:
			out.GreenAreas = ext
		case feed.KindRouting:
			out.Routing = ext
		}
	}

	st.done(fetched)
	return out, nil
}

// Transform builds the green-area feature set and the routing graph. A stage
// that yields no records is fatal.
func (c *Coordinator) Transform(ctx context.Context, in *Extracts, stats *RunStats) (*Artifacts, error) {
	out := &Artifacts{}

	st := startStage(StageTransform, in.GreenAreas.Len(), stats, c.collector)
	res, err := transform.NewTransformer(c.opts.Transform).Run(ctx, in.GreenAreas)
	if err != nil {
		return nil, &StageError{Stage: StageTransform, Err: err}
	}
	stats.Transform = res.Stats
	if len(res.Areas) == 0 {
		return nil, &StageError{Stage: StageTransform, Processed: in.GreenAreas.Len(),
			Err: &EmptyResultError{Stage: StageTransform, What: "green areas"}}
	}
	st.done(len(res.Areas))
	out.GreenAreas = res

	st = startStage(StageRouting, in.Routing.Len(), stats, c.collector)
	builder := routing.NewBuilder()
	graph, err := builder.Build(ctx, in.Routing)
	stats.Routing = builder.Stats()
	if err != nil {
		return nil, &StageError{Stage: StageRouting, Err: err}
	}
	if len(graph.Edges) == 0 {
		return nil, &StageError{Stage: StageRouting, Processed: in.Routing.Len(),
			Err: &EmptyResultError{Stage: StageRouting, What: "edges"}}
	}
	st.done(len(graph.Edges))
	out.Graph = graph

	return out, nil
}

// Load hands the batches to the sink
func (c *Coordinator) Load(ctx context.Context, batches []loader.TableBatch, stats *RunStats) (*loader.Stats, error) {
	rows := 0
	for _, b := range batches {
		rows += len(b.Rows)
	}

	st := startStage(StageLoad, rows, stats, c.collector)
	ls, err := c.sink.Replace(ctx, batches)
	if err != nil {
		processed := 0
		var le *loader.LoadError
		if errors.As(err, &le) {
			processed = int(le.Rows)
		}
		return nil, &StageError{Stage: StageLoad, Processed: processed, Err: err}
	}
	st.done(int(ls.RowsLoaded))
	return ls, nil
}

func (c *Coordinator) logSummary(stats *RunStats) {
	fields := []zap.Field{
		zap.Int("green_area_elements", stats.Elements[feed.KindGreenAreas]),
		zap.Int("routing_elements", stats.Elements[feed.KindRouting]),
	}
	for name, n := range stats.Rows {
		fields = append(fields, zap.Int(name, n))
	}
	for _, kind := range feed.Kinds {
		if scan, ok := stats.Scans[kind]; ok {
			fields = append(fields,
				zap.Int64(string(kind)+"_missing_nodes", scan.MissingNodes),
				zap.Int64(string(kind)+"_outside_bbox", scan.OutsideBBox))
		}
	}
	if t := stats.Transform; t != nil {
		fields = append(fields,
			zap.Int("parse_failed", t.Elements-t.Parsed),
			zap.Int("repaired", t.Repaired),
			zap.Int("hook_errors", t.HookErrors))
	}
	if r := stats.Routing; r != nil {
		fields = append(fields,
			zap.Int("ways_skipped", r.TotalSkipped()),
			zap.Int("graph_components", r.Components))
	}
	if c.collector != nil {
		fields = append(fields, zap.String("peak_rss", metrics.FormatBytes(c.collector.PeakRSS())))
	}
	fields = append(fields, zap.String("duration", FormatDuration(stats.Total)))

	logger.Get().Info("Run complete", fields...)
}

// LoadArtifacts reads Parquet artifacts from dir and replaces the tables
func LoadArtifacts(ctx context.Context, dir string, sink loader.Sink) (*loader.Stats, error) {
	batches, err := ReadArtifacts(ctx, dir)
	if err != nil {
		return nil, &StageError{Stage: StageLoad, Err: err}
	}
	c := &Coordinator{sink: sink}
	return c.Load(ctx, batches, newRunStats())
}

// Describe summarises a run error for CLI output
func Describe(err error) string {
	var se *StageError
	if !errors.As(err, &se) {
		return err.Error()
	}
	var ee *EmptyResultError
	if errors.As(err, &ee) {
		return fmt.Sprintf("%s: nothing to load (%s)", se.Stage, ee)
	}
	var fe *feed.ExtractionError
	if errors.As(err, &fe) {
		return fmt.Sprintf("%s: %s", se.Stage, fe)
	}
	return se.Error()
}
