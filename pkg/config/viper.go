package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/keel/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the KEEL_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (KEEL_STORAGE_DRIVER, KEEL_EXTRACTOR_PROVIDER, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: KEEL_STORAGE_SQLITE_PATH, KEEL_EXTRACTOR_MODEL, etc.
	v.SetEnvPrefix("KEEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// ConfigFromViper materializes a Config from the resolved viper state,
// honoring the full precedence chain (flag > env > file > default).
func ConfigFromViper(v *viper.Viper) *Config {
	return &Config{
		Version: v.GetInt("version"),
		Storage: StorageConfig{
			Driver:        v.GetString("storage.driver"),
			SQLitePath:    v.GetString("storage.sqlite_path"),
			SnapshotDir:   v.GetString("storage.snapshot_dir"),
			RetentionDays: v.GetUint("storage.retention_days"),
		},
		Extractor: ExtractorConfig{
			Provider: v.GetString("extractor.provider"),
			BaseURL:  v.GetString("extractor.base_url"),
			Model:    v.GetString("extractor.model"),
		},
		Graph: GraphConfig{
			EdgeHalfLifeHours: v.GetUint("graph.edge_half_life_hours"),
		},
		Classifier: ClassifierConfig{
			RecencyWindowMinutes: v.GetUint("classifier.recency_window_minutes"),
			ScoreFloor:           v.GetFloat64("classifier.score_floor"),
			QuietAttempts:        v.GetUint("classifier.quiet_attempts"),
			MaxCandidates:        v.GetUint("classifier.max_candidates"),
		},
		Retry: RetryConfig{
			SimilarityThreshold: v.GetFloat64("retry.similarity_threshold"),
		},
		Composer: ComposerConfig{
			TokenBudget: v.GetUint("composer.token_budget"),
		},
		Watch: WatchConfig{
			DebounceMs: v.GetUint("watch.debounce_ms"),
		},
	}
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Storage
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.snapshot_dir", d.Storage.SnapshotDir)
	v.SetDefault("storage.retention_days", d.Storage.RetentionDays)

	// Extractor
	v.SetDefault("extractor.provider", d.Extractor.Provider)
	v.SetDefault("extractor.base_url", d.Extractor.BaseURL)
	v.SetDefault("extractor.model", d.Extractor.Model)

	// Graph
	v.SetDefault("graph.edge_half_life_hours", d.Graph.EdgeHalfLifeHours)

	// Classifier
	v.SetDefault("classifier.recency_window_minutes", d.Classifier.RecencyWindowMinutes)
	v.SetDefault("classifier.score_floor", d.Classifier.ScoreFloor)
	v.SetDefault("classifier.quiet_attempts", d.Classifier.QuietAttempts)
	v.SetDefault("classifier.max_candidates", d.Classifier.MaxCandidates)

	// Retry
	v.SetDefault("retry.similarity_threshold", d.Retry.SimilarityThreshold)

	// Composer
	v.SetDefault("composer.token_budget", d.Composer.TokenBudget)

	// Watch
	v.SetDefault("watch.debounce_ms", d.Watch.DebounceMs)
}
