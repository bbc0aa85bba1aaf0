package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/gsa-etl-go/internal/config"
	"github.com/wegman-software/gsa-etl-go/internal/logger"
	"github.com/wegman-software/gsa-etl-go/internal/pipeline"
)

var (
	cfg                = config.DefaultConfig()
	configFile         string
	bboxFlag           string
	categoryTolerances string
)

var rootCmd = &cobra.Command{
	Use:   "gsa-etl",
	Short: "Green-space accessibility ETL",
	Long: `gsa-etl builds the green-space accessibility dataset for a region.

It extracts green areas and the walkable way network (Overpass, saved JSON
extracts or a local PBF file), then:
  - repairs polygon topology and classifies each area
  - removes overlaps by priority (named first, then smaller)
  - merges same-name areas across small gaps
  - splits the way network into a routing graph at junctions
  - replaces the PostGIS tables types, green_areas, ways and vertices`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfg.LogFile != "" {
			logger.InitWithFile(cfg.Verbose, cfg.LogFile)
		} else {
			logger.Init(cfg.Verbose)
		}

		if err := config.Load(configFile, cfg, cmd.Flags().Changed); err != nil {
			return err
		}
		if cmd.Flags().Changed("bbox") {
			bbox, err := config.ParseBBox(bboxFlag)
			if err != nil {
				return fmt.Errorf("invalid --bbox: %w", err)
			}
			cfg.BBox = bbox
		}
		if cmd.Flags().Changed("category-tolerances") {
			m, err := config.ParseTolerances(categoryTolerances)
			if err != nil {
				return fmt.Errorf("invalid --category-tolerances: %w", err)
			}
			cfg.CategoryTolerances = m
		}
		return cfg.Validate()
	},
}

func Execute() error {
	defer logger.Sync()
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()

	// Global flags
	pf.StringVar(&configFile, "config", "", "Config file (YAML, TOML or JSON); GSA_* env vars also apply")
	pf.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	pf.StringVarP(&cfg.OutputDir, "output-dir", "o", cfg.OutputDir, "Directory for extracts and Parquet artifacts")
	pf.IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Number of parallel workers")
	pf.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Rows per Parquet row group")

	// Source flags
	pf.StringVar(&bboxFlag, "bbox", cfg.BBox.String(), "Region as minlon,minlat,maxlon,maxlat")
	pf.StringVar(&cfg.OverpassURL, "overpass-url", cfg.OverpassURL, "Overpass interpreter URL")
	pf.IntVar(&cfg.QueryTimeout, "query-timeout", cfg.QueryTimeout, "Overpass query timeout in seconds")
	pf.IntVar(&cfg.FetchAttempts, "fetch-attempts", cfg.FetchAttempts, "Attempts per extract before giving up")
	pf.DurationVar(&cfg.RetryDelay, "retry-delay", cfg.RetryDelay, "Initial delay between attempts (doubles each retry)")
	pf.Float64Var(&cfg.RequestsPerSecond, "requests-per-second", cfg.RequestsPerSecond, "Overpass request rate limit (0 = unlimited)")
	pf.StringVar(&cfg.InputDir, "input-dir", "", "Read saved JSON extracts from this directory")
	pf.StringVar(&cfg.PBFFile, "pbf", "", "Read green areas and ways from a local .osm.pbf file")
	pf.StringVar(&cfg.StyleFile, "style", "", "YAML tag filter file")

	// Transform flags
	pf.StringSliceVar(&cfg.TagPriority, "tag-priority", cfg.TagPriority, "Tag keys consulted for the category, in order")
	pf.Float64Var(&cfg.MergeTolerance, "merge-tolerance", cfg.MergeTolerance, "Gap in meters bridged when merging same-name areas")
	pf.StringVar(&categoryTolerances, "category-tolerances", "", "Per-category merge tolerance, e.g. park=5,forest=10")
	pf.IntVar(&cfg.BufferQuadSegs, "quad-segs", cfg.BufferQuadSegs, "Buffer segments per quarter circle")
	pf.StringVar(&cfg.ClassifyScript, "classify-script", "", "Lua script defining classify(tags)")

	// Logging and metrics flags
	pf.StringVar(&cfg.LogFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	pf.DurationVar(&cfg.MetricsInterval, "metrics-interval", cfg.MetricsInterval, "Interval for system metrics logging (0 disables)")

	// Database flags
	pf.StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host")
	pf.IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port")
	pf.StringVarP(&cfg.DBName, "db-name", "d", cfg.DBName, "PostgreSQL database name")
	pf.StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user")
	pf.StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password (or GSA_DB_PASSWORD / POSTGRES_PASSWORD)")
	pf.StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema")
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Get().Info("Received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.String("cause", pipeline.Describe(err)), zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
