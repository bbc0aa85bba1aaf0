package cmd

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/gsa-etl-go/internal/feed"
	"github.com/wegman-software/gsa-etl-go/internal/logger"
)

var extractKinds []string

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Fetch green areas and the way network and save them as JSON",
	Long: `Fetch both extracts for the configured region and save them to the
output directory, for offline transform runs:

  - green_areas.json (leisure/landuse/natural ways and relations)
  - routing.json     (highway ways with node ids)

Sources, in order of precedence: --input-dir, --pbf, Overpass. Overpass
requests are rate limited and retried with exponential backoff.

Use --kind to fetch only one extract.`,
	Run: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringSliceVar(&extractKinds, "kind", nil, "Extracts to fetch: green_areas, routing (default all)")
}

// selectedKinds returns the extract kinds named by --kind, or all of them
func selectedKinds() ([]feed.Kind, error) {
	if len(extractKinds) == 0 {
		return feed.Kinds, nil
	}
	kinds := make([]feed.Kind, 0, len(extractKinds))
	for _, s := range extractKinds {
		k, err := feed.ParseKind(s)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func runExtract(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx, cancel := signalContext()
	defer cancel()

	kinds, err := selectedKinds()
	if err != nil {
		exitWithError("invalid --kind", err)
	}
	source, err := newSource()
	if err != nil {
		exitWithError("failed to create source", err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		exitWithError("failed to create output directory", err)
	}

	start := time.Now()
	for _, kind := range kinds {
		ext, err := source.Fetch(ctx, kind)
		if err != nil {
			exitWithError("extraction failed", err)
		}
		path := feed.Path(cfg.OutputDir, kind)
		if err := feed.WriteExtract(path, ext); err != nil {
			exitWithError("failed to save extract", err)
		}
		log.Info("Extract saved",
			zap.String("kind", string(kind)),
			zap.Int("elements", ext.Len()),
			zap.String("path", path))
	}

	log.Info("Extraction complete",
		zap.Duration("duration", time.Since(start).Round(time.Second)))
}
