package cmd

import (
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/gsa-etl-go/internal/logger"
	"github.com/wegman-software/gsa-etl-go/internal/pipeline"
)

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Transform saved extracts into Parquet artifacts",
	Long: `Read the saved extracts and build the output tables without touching
the database.

This stage performs:
  1. Geometry repair and classification of green areas
  2. Priority-based overlap removal
  3. Gap-tolerant merge of same-name areas
  4. Routing graph construction split at junctions
  5. Output to types/green_areas/ways/vertices .parquet (EWKB geometries)

Extracts are read from --input-dir, or from --output-dir when unset.`,
	Run: runTransform,
}

func init() {
	rootCmd.AddCommand(transformCmd)
}

func runTransform(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx, cancel := signalContext()
	defer cancel()

	if cfg.InputDir == "" && cfg.PBFFile == "" {
		cfg.InputDir = cfg.OutputDir
	}
	source, err := newSource()
	if err != nil {
		exitWithError("failed to create source", err)
	}

	opts, release, err := pipelineOptions()
	if err != nil {
		exitWithError("invalid transform options", err)
	}
	defer release()
	opts.DryRun = true
	opts.ArtifactDir = cfg.OutputDir

	log.Info("Starting transformation",
		zap.String("output_dir", cfg.OutputDir),
		zap.Float64("merge_tolerance", cfg.MergeTolerance))

	start := time.Now()
	stats, err := pipeline.NewCoordinator(source, nil, opts).Run(ctx)
	if err != nil {
		exitWithError("transformation failed", err)
	}

	log.Info("Transformation complete",
		zap.Duration("duration", time.Since(start).Round(time.Second)),
		zap.Any("rows", stats.Rows))
}
