package config

const (
	defaultStorageDriver = "sqlite"
	defaultRetentionDays = 30

	defaultExtractorProvider = "nop"

	defaultEdgeHalfLifeHours = 168

	defaultRecencyWindowMinutes = 30
	defaultScoreFloor           = 0.25
	defaultQuietAttempts        = 3
	defaultMaxCandidates        = 5

	defaultSimilarityThreshold = 0.6

	defaultTokenBudget = 4000

	defaultDebounceMs = 500
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Driver:        defaultStorageDriver,
			RetentionDays: defaultRetentionDays,
		},
		Extractor: ExtractorConfig{
			Provider: defaultExtractorProvider,
		},
		Graph: GraphConfig{
			EdgeHalfLifeHours: defaultEdgeHalfLifeHours,
		},
		Classifier: ClassifierConfig{
			RecencyWindowMinutes: defaultRecencyWindowMinutes,
			ScoreFloor:           defaultScoreFloor,
			QuietAttempts:        defaultQuietAttempts,
			MaxCandidates:        defaultMaxCandidates,
		},
		Retry: RetryConfig{
			SimilarityThreshold: defaultSimilarityThreshold,
		},
		Composer: ComposerConfig{
			TokenBudget: defaultTokenBudget,
		},
		Watch: WatchConfig{
			DebounceMs: defaultDebounceMs,
		},
	}
}
