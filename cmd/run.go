package cmd

import (
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/gsa-etl-go/internal/loader"
	"github.com/wegman-software/gsa-etl-go/internal/logger"
	"github.com/wegman-software/gsa-etl-go/internal/pipeline"
)

var writeArtifacts bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run extract, transform and load in one process",
	Long: `Run the complete ETL: extract, transform, build the routing graph and
replace the database tables.

Each stage consumes the previous one in full. An empty extract, or a stage
that yields no records, stops the run before anything is loaded.

Use --dry-run to stop before the database, and --artifacts to also keep the
Parquet output in --output-dir.`,
	Run: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&cfg.DryRun, "dry-run", false, "Transform only, skip the database")
	runCmd.Flags().BoolVar(&writeArtifacts, "artifacts", false, "Also write Parquet artifacts to --output-dir")
	runCmd.Flags().BoolVar(&cfg.CreateIndexes, "create-indexes", cfg.CreateIndexes, "Create indexes after loading")
}

func runRun(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx, cancel := signalContext()
	defer cancel()

	source, err := newSource()
	if err != nil {
		exitWithError("failed to create source", err)
	}

	opts, release, err := pipelineOptions()
	if err != nil {
		exitWithError("invalid transform options", err)
	}
	defer release()
	if writeArtifacts {
		opts.ArtifactDir = cfg.OutputDir
	}

	var sink loader.Sink
	if !cfg.DryRun {
		ldr, err := loader.NewLoader(ctx, cfg)
		if err != nil {
			exitWithError("failed to create loader", err)
		}
		defer ldr.Close()
		sink = ldr
	}

	log.Info("Starting ETL run",
		zap.String("bbox", cfg.BBox.String()),
		zap.Bool("dry_run", cfg.DryRun),
		zap.String("database", cfg.DBName),
		zap.String("schema", cfg.DBSchema))

	start := time.Now()
	stats, err := pipeline.NewCoordinator(source, sink, opts).Run(ctx)
	if err != nil {
		exitWithError("run failed", err)
	}

	log.Info("ETL complete",
		zap.Duration("duration", time.Since(start).Round(time.Second)),
		zap.Any("rows", stats.Rows))
}
