package config

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// BBox represents a geographic bounding box
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
	IsSet                          bool
}

// Contains checks if a point is within the bounding box
func (b *BBox) Contains(lat, lon float64) bool {
	if b == nil || !b.IsSet {
		return true
	}
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Overpass returns the bbox in Overpass QL order: south,west,north,east
func (b *BBox) Overpass() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// String returns the bbox in "minlon,minlat,maxlon,maxlat" format
func (b *BBox) String() string {
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// ParseBBox parses a bbox string in format "minlon,minlat,maxlon,maxlat"
func ParseBBox(s string) (*BBox, error) {
	if s == "" {
		return &BBox{IsSet: false}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values: minlon,minlat,maxlon,maxlat")
	}

	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox coordinate %q: %w", p, err)
		}
		coords[i] = v
	}

	bbox := &BBox{
		MinLon: coords[0],
		MinLat: coords[1],
		MaxLon: coords[2],
		MaxLat: coords[3],
		IsSet:  true,
	}

	if bbox.MinLon > bbox.MaxLon {
		return nil, fmt.Errorf("minlon (%f) must be <= maxlon (%f)", bbox.MinLon, bbox.MaxLon)
	}
	if bbox.MinLat > bbox.MaxLat {
		return nil, fmt.Errorf("minlat (%f) must be <= maxlat (%f)", bbox.MinLat, bbox.MaxLat)
	}

	return bbox, nil
}

// ParseTolerances parses per-category merge tolerances in format "park=3,forest=10".
// Category keys are matched against display labels case-insensitively.
func ParseTolerances(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid tolerance %q: want category=meters", pair)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid tolerance value %q: %w", v, err)
		}
		if f < 0 {
			return nil, fmt.Errorf("tolerance for %q must be >= 0", k)
		}
		out[strings.ToLower(strings.TrimSpace(k))] = f
	}
	return out, nil
}

// Config holds the global configuration for an ETL run
type Config struct {
	// Source settings
	BBox              *BBox  // Region to extract
	OverpassURL       string // Overpass interpreter endpoint
	QueryTimeout      int    // Overpass [timeout:N] in seconds
	FetchAttempts     int    // Attempts per extract before giving up
	RetryDelay        time.Duration
	MaxRetryDelay     time.Duration
	RequestsPerSecond float64
	InputDir          string // Directory with saved JSON extracts (file source)
	PBFFile           string // Local .osm.pbf file (PBF source)
	StyleFile         string // YAML tag filter file

	// Output settings
	OutputDir string // Directory for extracts and Parquet artifacts

	// Database settings
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSchema   string

	// Transform settings
	TagPriority        []string           // Tag keys consulted for the raw category, in order
	MergeTolerance     float64            // Gap tolerance in projected meters
	CategoryTolerances map[string]float64 // Per-category overrides of MergeTolerance
	BufferQuadSegs     int                // Segments per quarter circle for buffering
	ClassifyScript     string             // Optional Lua classification script

	// Processing settings
	Workers   int
	BatchSize int

	// Feature flags
	DryRun        bool
	CreateIndexes bool
	Verbose       bool

	// Logging and metrics
	LogFile         string        // Path to log file (empty = no file logging)
	MetricsInterval time.Duration // Interval for system metrics logging
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		BBox: &BBox{ // Lisbon
			MinLon: -9.229,
			MinLat: 38.691,
			MaxLon: -9.091,
			MaxLat: 38.796,
			IsSet:  true,
		},
		OverpassURL:        "https://overpass-api.de/api/interpreter",
		QueryTimeout:       180,
		FetchAttempts:      3,
		RetryDelay:         5 * time.Second,
		MaxRetryDelay:      60 * time.Second,
		RequestsPerSecond:  0.5,
		OutputDir:          "./gsa_data",
		DBHost:             "localhost",
		DBPort:             5432,
		DBName:             "gsa_db",
		DBUser:             "postgres",
		DBPassword:         "",
		DBSchema:           "public",
		TagPriority:        []string{"leisure", "landuse", "natural"},
		MergeTolerance:     3.0,
		CategoryTolerances: map[string]float64{},
		BufferQuadSegs:     8,
		Workers:            runtime.NumCPU(),
		BatchSize:          10000,
		CreateIndexes:      true,
		MetricsInterval:    30 * time.Second,
	}
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.BBox == nil || !c.BBox.IsSet {
		return fmt.Errorf("bbox is required")
	}
	if c.FetchAttempts < 1 {
		return fmt.Errorf("fetch attempts must be at least 1")
	}
	if c.MergeTolerance < 0 {
		return fmt.Errorf("merge tolerance must be >= 0")
	}
	if c.BufferQuadSegs < 1 {
		return fmt.Errorf("buffer quadrant segments must be at least 1")
	}
	if len(c.TagPriority) == 0 {
		return fmt.Errorf("tag priority must name at least one key")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if c.InputDir != "" && c.PBFFile != "" {
		return fmt.Errorf("input dir and pbf file are mutually exclusive")
	}
	return nil
}
