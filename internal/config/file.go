package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables recognised by Load
const EnvPrefix = "GSA"

// Load overlays values from an optional config file (YAML, TOML or JSON) and
// GSA_* environment variables onto cfg. Keys use the CLI flag names
// ("db-host", "merge-tolerance", ...). Keys for which explicit returns true
// were set on the command line and are left untouched.
func Load(path string, cfg *Config, explicit func(key string) bool) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if explicit == nil {
		explicit = func(string) bool { return false }
	}

	for _, b := range bindings(cfg) {
		if explicit(b.key) || !v.IsSet(b.key) {
			continue
		}
		if err := b.apply(v); err != nil {
			return fmt.Errorf("invalid value for %s: %w", b.key, err)
		}
	}

	// The original deployment passed the database password this way
	if cfg.DBPassword == "" {
		cfg.DBPassword = os.Getenv("POSTGRES_PASSWORD")
	}

	return nil
}

type binding struct {
	key   string
	apply func(v *viper.Viper) error
}

func bindings(cfg *Config) []binding {
	str := func(key string, dst *string) binding {
		return binding{key, func(v *viper.Viper) error { *dst = v.GetString(key); return nil }}
	}
	integer := func(key string, dst *int) binding {
		return binding{key, func(v *viper.Viper) error { *dst = v.GetInt(key); return nil }}
	}
	float := func(key string, dst *float64) binding {
		return binding{key, func(v *viper.Viper) error { *dst = v.GetFloat64(key); return nil }}
	}

	return []binding{
		str("overpass-url", &cfg.OverpassURL),
		integer("query-timeout", &cfg.QueryTimeout),
		integer("fetch-attempts", &cfg.FetchAttempts),
		float("requests-per-second", &cfg.RequestsPerSecond),
		str("input-dir", &cfg.InputDir),
		str("pbf", &cfg.PBFFile),
		str("style", &cfg.StyleFile),
		str("output-dir", &cfg.OutputDir),
		str("db-host", &cfg.DBHost),
		integer("db-port", &cfg.DBPort),
		str("db-name", &cfg.DBName),
		str("db-user", &cfg.DBUser),
		str("db-password", &cfg.DBPassword),
		str("db-schema", &cfg.DBSchema),
		float("merge-tolerance", &cfg.MergeTolerance),
		integer("quad-segs", &cfg.BufferQuadSegs),
		str("classify-script", &cfg.ClassifyScript),
		integer("batch-size", &cfg.BatchSize),
		{"retry-delay", func(v *viper.Viper) error {
			cfg.RetryDelay = v.GetDuration("retry-delay")
			return nil
		}},
		{"bbox", func(v *viper.Viper) error {
			bbox, err := ParseBBox(v.GetString("bbox"))
			if err != nil {
				return err
			}
			cfg.BBox = bbox
			return nil
		}},
		{"tag-priority", func(v *viper.Viper) error {
			keys := v.GetStringSlice("tag-priority")
			// Environment values arrive as a single comma separated string
			if len(keys) == 1 && strings.Contains(keys[0], ",") {
				keys = strings.Split(keys[0], ",")
			}
			cfg.TagPriority = cfg.TagPriority[:0]
			for _, k := range keys {
				if k = strings.TrimSpace(k); k != "" {
					cfg.TagPriority = append(cfg.TagPriority, k)
				}
			}
			return nil
		}},
		{"category-tolerances", func(v *viper.Viper) error {
			switch raw := v.Get("category-tolerances").(type) {
			case string:
				m, err := ParseTolerances(raw)
				if err != nil {
					return err
				}
				cfg.CategoryTolerances = m
			case map[string]interface{}:
				m := make(map[string]float64, len(raw))
				for k := range raw {
					m[strings.ToLower(k)] = v.GetFloat64("category-tolerances." + k)
				}
				cfg.CategoryTolerances = m
			default:
				return fmt.Errorf("unsupported type %T", raw)
			}
			return nil
		}},
	}
}
