package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wegman-software/gsa-etl-go/internal/classify"
	"github.com/wegman-software/gsa-etl-go/internal/feed"
	"github.com/wegman-software/gsa-etl-go/internal/logger"
	"github.com/wegman-software/gsa-etl-go/internal/pipeline"
	"github.com/wegman-software/gsa-etl-go/internal/style"
	"github.com/wegman-software/gsa-etl-go/internal/transform"
)

// newSource picks the extract source: saved JSON, a PBF file or Overpass
func newSource() (feed.Source, error) {
	log := logger.Get()

	st := style.DefaultConfig()
	if cfg.StyleFile != "" {
		var err error
		if st, err = style.LoadConfig(cfg.StyleFile); err != nil {
			return nil, fmt.Errorf("failed to load style: %w", err)
		}
	}

	switch {
	case cfg.InputDir != "":
		log.Info("Using saved extracts", zap.String("dir", cfg.InputDir))
		return feed.NewFileSource(cfg.InputDir), nil
	case cfg.PBFFile != "":
		log.Info("Using PBF file", zap.String("file", cfg.PBFFile), zap.String("bbox", cfg.BBox.String()))
		return feed.NewPBFSource(cfg.PBFFile, cfg.BBox, st, cfg.OutputDir, cfg.Workers), nil
	default:
		log.Info("Using Overpass", zap.String("url", cfg.OverpassURL), zap.String("bbox", cfg.BBox.String()))
		return feed.NewOverpassSourceFromConfig(cfg, st), nil
	}
}

// pipelineOptions builds the run options. The returned func releases the
// classification script, if any.
func pipelineOptions() (pipeline.Options, func(), error) {
	opts := pipeline.Options{
		Transform: transform.Options{
			TagPriority: cfg.TagPriority,
			Merge: transform.MergeOptions{
				Tolerance:          cfg.MergeTolerance,
				CategoryTolerances: cfg.CategoryTolerances,
				QuadSegs:           cfg.BufferQuadSegs,
			},
		},
		DryRun:          cfg.DryRun,
		BatchSize:       cfg.BatchSize,
		MetricsInterval: cfg.MetricsInterval,
	}

	if cfg.ClassifyScript == "" {
		return opts, func() {}, nil
	}
	script, err := classify.LoadScript(cfg.ClassifyScript)
	if err != nil {
		return opts, nil, fmt.Errorf("failed to load classify script: %w", err)
	}
	opts.Transform.Hook = script
	logger.Get().Info("Classification script loaded", zap.String("script", cfg.ClassifyScript))
	return opts, script.Close, nil
}
