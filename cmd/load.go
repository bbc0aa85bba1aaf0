package cmd

import (
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/gsa-etl-go/internal/loader"
	"github.com/wegman-software/gsa-etl-go/internal/logger"
	"github.com/wegman-software/gsa-etl-go/internal/pipeline"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Replace the PostGIS tables with the Parquet artifacts",
	Long: `Bulk load the Parquet artifacts written by transform into PostgreSQL/PostGIS.

This stage:
  1. Creates the PostGIS extension, schema and tables if absent
  2. Truncates all tables and loads them with COPY in one transaction
  3. Creates spatial and join indexes, then analyzes the tables

A failed load rolls back, leaving the previous tables intact.`,
	Run: runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)

	loadCmd.Flags().BoolVar(&cfg.CreateIndexes, "create-indexes", cfg.CreateIndexes, "Create indexes after loading")
}

func runLoad(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx, cancel := signalContext()
	defer cancel()

	log.Info("Starting PostgreSQL load",
		zap.String("input_dir", cfg.OutputDir),
		zap.String("database", cfg.DBName),
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("user", cfg.DBUser),
		zap.String("schema", cfg.DBSchema),
	)

	start := time.Now()

	ldr, err := loader.NewLoader(ctx, cfg)
	if err != nil {
		exitWithError("failed to create loader", err)
	}
	defer ldr.Close()

	stats, err := pipeline.LoadArtifacts(ctx, cfg.OutputDir, ldr)
	if err != nil {
		exitWithError("load failed", err)
	}

	elapsed := time.Since(start)

	log.Info("Load complete",
		zap.Duration("duration", elapsed.Round(time.Second)),
		zap.Int64("rows", stats.RowsLoaded),
		zap.Float64("throughput_rows_s", float64(stats.RowsLoaded)/elapsed.Seconds()),
	)
}
