package pipeline

import (
	"fmt"
	"time"

	"github.com/wegman-software/gsa-etl-go/internal/feed"
	"github.com/wegman-software/gsa-etl-go/internal/loader"
	"github.com/wegman-software/gsa-etl-go/internal/routing"
	"github.com/wegman-software/gsa-etl-go/internal/transform"
)

// Stage names used in errors, logs and metrics
const (
	StageExtract   = "extract"
	StageTransform = "transform"
	StageRouting   = "routing"
	StageExport    = "export"
	StageLoad      = "load"
)

// StageError wraps a fatal error with the stage it stopped and how many
// records that stage had processed
type StageError struct {
	Stage     string
	Processed int
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed after %d records: %v", e.Stage, e.Processed, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// EmptyResultError reports a stage that produced nothing to load
type EmptyResultError struct {
	Stage string
	What  string
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("%s stage produced no %s", e.Stage, e.What)
}

// Extracts holds the raw input of one run
type Extracts struct {
	GreenAreas *feed.Extract
	Routing    *feed.Extract
}

// Artifacts holds the transformed output of one run
type Artifacts struct {
	GreenAreas *transform.Result
	Graph      *routing.Graph
}

// RunStats holds combined run statistics
type RunStats struct {
	Elements  map[feed.Kind]int
	Scans     map[feed.Kind]feed.PBFStats // Only for PBF sources
	Transform *transform.Stats
	Routing   *routing.Stats
	Load      *loader.Stats
	Rows      map[string]int
	Stages    map[string]time.Duration
	Total     time.Duration
}

func newRunStats() *RunStats {
	return &RunStats{
		Elements: make(map[feed.Kind]int),
		Scans:    make(map[feed.Kind]feed.PBFStats),
		Rows:     make(map[string]int),
		Stages:   make(map[string]time.Duration),
	}
}
