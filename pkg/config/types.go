package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent keel configuration stored as config.toml
// in the .keel/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version    int              `toml:"version"`
	Storage    StorageConfig    `toml:"storage"`
	Extractor  ExtractorConfig  `toml:"extractor"`
	Graph      GraphConfig      `toml:"graph"`
	Classifier ClassifierConfig `toml:"classifier"`
	Retry      RetryConfig      `toml:"retry"`
	Composer   ComposerConfig   `toml:"composer"`
	Watch      WatchConfig      `toml:"watch"`
}

// StorageConfig holds knowledge store persistence settings.
type StorageConfig struct {
	// Driver selects the snapshot backend: "sqlite", "file", or "memory".
	Driver        string `toml:"driver,omitempty"`
	SQLitePath    string `toml:"sqlite_path,omitempty"`
	SnapshotDir   string `toml:"snapshot_dir,omitempty"`
	RetentionDays uint   `toml:"retention_days,omitempty"`
}

// ExtractorConfig holds AI extraction provider settings. The API key is
// deliberately not a config key; it comes from the environment.
type ExtractorConfig struct {
	Provider string `toml:"provider,omitempty"`
	BaseURL  string `toml:"base_url,omitempty"`
	Model    string `toml:"model,omitempty"`
}

// GraphConfig holds concept graph settings.
type GraphConfig struct {
	EdgeHalfLifeHours uint `toml:"edge_half_life_hours,omitempty"`
}

// ClassifierConfig holds failure classification settings.
type ClassifierConfig struct {
	RecencyWindowMinutes uint    `toml:"recency_window_minutes,omitempty"`
	ScoreFloor           float64 `toml:"score_floor,omitempty"`
	QuietAttempts        uint    `toml:"quiet_attempts,omitempty"`
	MaxCandidates        uint    `toml:"max_candidates,omitempty"`
}

// RetryConfig holds retry-prevention settings.
type RetryConfig struct {
	SimilarityThreshold float64 `toml:"similarity_threshold,omitempty"`
}

// ComposerConfig holds context composition settings.
type ComposerConfig struct {
	TokenBudget uint `toml:"token_budget,omitempty"`
}

// WatchConfig holds filesystem watcher settings.
type WatchConfig struct {
	DebounceMs uint `toml:"debounce_ms,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.driver": {
		get: func(c *Config) string { return c.Storage.Driver },
		set: func(c *Config, v string) error { c.Storage.Driver = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.snapshot_dir": {
		get: func(c *Config) string { return c.Storage.SnapshotDir },
		set: func(c *Config, v string) error { c.Storage.SnapshotDir = v; return nil },
	},
	"storage.retention_days": {
		get: func(c *Config) string { return uintValue(c.Storage.RetentionDays) },
		set: func(c *Config, v string) error {
			return setUint("storage.retention_days", &c.Storage.RetentionDays, v)
		},
	},
	"extractor.provider": {
		get: func(c *Config) string { return c.Extractor.Provider },
		set: func(c *Config, v string) error { c.Extractor.Provider = v; return nil },
	},
	"extractor.base_url": {
		get: func(c *Config) string { return c.Extractor.BaseURL },
		set: func(c *Config, v string) error { c.Extractor.BaseURL = v; return nil },
	},
	"extractor.model": {
		get: func(c *Config) string { return c.Extractor.Model },
		set: func(c *Config, v string) error { c.Extractor.Model = v; return nil },
	},
	"graph.edge_half_life_hours": {
		get: func(c *Config) string { return uintValue(c.Graph.EdgeHalfLifeHours) },
		set: func(c *Config, v string) error {
			return setUint("graph.edge_half_life_hours", &c.Graph.EdgeHalfLifeHours, v)
		},
	},
	"classifier.recency_window_minutes": {
		get: func(c *Config) string { return uintValue(c.Classifier.RecencyWindowMinutes) },
		set: func(c *Config, v string) error {
			return setUint("classifier.recency_window_minutes", &c.Classifier.RecencyWindowMinutes, v)
		},
	},
	"classifier.score_floor": {
		get: func(c *Config) string { return floatValue(c.Classifier.ScoreFloor) },
		set: func(c *Config, v string) error {
			return setFloat("classifier.score_floor", &c.Classifier.ScoreFloor, v)
		},
	},
	"classifier.quiet_attempts": {
		get: func(c *Config) string { return uintValue(c.Classifier.QuietAttempts) },
		set: func(c *Config, v string) error {
			return setUint("classifier.quiet_attempts", &c.Classifier.QuietAttempts, v)
		},
	},
	"classifier.max_candidates": {
		get: func(c *Config) string { return uintValue(c.Classifier.MaxCandidates) },
		set: func(c *Config, v string) error {
			return setUint("classifier.max_candidates", &c.Classifier.MaxCandidates, v)
		},
	},
	"retry.similarity_threshold": {
		get: func(c *Config) string { return floatValue(c.Retry.SimilarityThreshold) },
		set: func(c *Config, v string) error {
			return setFloat("retry.similarity_threshold", &c.Retry.SimilarityThreshold, v)
		},
	},
	"composer.token_budget": {
		get: func(c *Config) string { return uintValue(c.Composer.TokenBudget) },
		set: func(c *Config, v string) error {
			return setUint("composer.token_budget", &c.Composer.TokenBudget, v)
		},
	},
	"watch.debounce_ms": {
		get: func(c *Config) string { return uintValue(c.Watch.DebounceMs) },
		set: func(c *Config, v string) error {
			return setUint("watch.debounce_ms", &c.Watch.DebounceMs, v)
		},
	},
}

func uintValue(v uint) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatUint(uint64(v), 10)
}

func floatValue(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func setUint(key string, target *uint, v string) error {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*target = uint(n)
	return nil
}

func setFloat(key string, target *float64, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*target = f
	return nil
}
