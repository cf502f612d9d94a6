package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --provider
// on both "keel watch" and "keel init").
type Flag struct {
	// Name is the long flag name (e.g. "provider").
	Name string

	// Shorthand is the one-letter short flag (e.g. "p"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "extractor.provider").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddUintFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagStorageDriver = "storage-driver"
	FlagSQLite        = "sqlite"
	FlagSnapshotDir   = "snapshot-dir"
	FlagRetentionDays = "retention-days"
	FlagProvider      = "provider"
	FlagBaseURL       = "base-url"
	FlagModel         = "model"
	FlagTokenBudget   = "token-budget"
	FlagDebounceMs    = "debounce-ms"
	FlagQuietAttempts = "quiet-attempts"
	FlagHalfLifeHours = "half-life-hours"
)

// DefaultFlagSet returns the shared flag registry for keel commands.
func DefaultFlagSet() FlagSet {
	return FlagSet{
		FlagStorageDriver: {
			Name:        "storage-driver",
			ViperKey:    "storage.driver",
			Description: "snapshot backend: sqlite, file, or memory",
		},
		FlagSQLite: {
			Name:        "sqlite",
			ViperKey:    "storage.sqlite_path",
			Description: "path to the sqlite snapshot database",
		},
		FlagSnapshotDir: {
			Name:        "snapshot-dir",
			ViperKey:    "storage.snapshot_dir",
			Description: "directory for file snapshot storage",
		},
		FlagRetentionDays: {
			Name:        "retention-days",
			ViperKey:    "storage.retention_days",
			Description: "resolved-failure retention before compaction",
		},
		FlagProvider: {
			Name:        "provider",
			Shorthand:   "p",
			ViperKey:    "extractor.provider",
			Description: "extraction provider: anthropic, openai, or nop",
		},
		FlagBaseURL: {
			Name:        "base-url",
			ViperKey:    "extractor.base_url",
			Description: "extraction provider base URL override",
		},
		FlagModel: {
			Name:        "model",
			Shorthand:   "m",
			ViperKey:    "extractor.model",
			Description: "extraction model name",
		},
		FlagTokenBudget: {
			Name:        "token-budget",
			ViperKey:    "composer.token_budget",
			Description: "context package token budget",
		},
		FlagDebounceMs: {
			Name:        "debounce-ms",
			ViperKey:    "watch.debounce_ms",
			Description: "filesystem watch debounce in milliseconds",
		},
		FlagQuietAttempts: {
			Name:        "quiet-attempts",
			ViperKey:    "classifier.quiet_attempts",
			Description: "quiet attempts before a failure resolves",
		},
		FlagHalfLifeHours: {
			Name:        "half-life-hours",
			ViperKey:    "graph.edge_half_life_hours",
			Description: "concept edge weight decay half-life in hours",
		},
	}
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddUintFlag registers a uint flag on cmd from the given FlagSet.
func AddUintFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *uint) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultUint(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().UintVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().UintVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultUint returns the default uint value for a viper key from NewDefaultConfig.
func defaultUint(viperKey string) uint {
	v := viper.New()
	setViperDefaults(v)
	return v.GetUint(viperKey)
}
