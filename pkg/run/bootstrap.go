package run

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/keel/pkg/classifier"
	"github.com/papercomputeco/keel/pkg/config"
	"github.com/papercomputeco/keel/pkg/dotdir"
	"github.com/papercomputeco/keel/pkg/engine"
	"github.com/papercomputeco/keel/pkg/git"
	"github.com/papercomputeco/keel/pkg/events"
	"github.com/papercomputeco/keel/pkg/llm/provider"
	"github.com/papercomputeco/keel/pkg/retry"
	"github.com/papercomputeco/keel/pkg/store"
	"github.com/papercomputeco/keel/pkg/store/memory"
	"github.com/papercomputeco/keel/pkg/store/snapshotfile"
	"github.com/papercomputeco/keel/pkg/store/sqlite"
)

// ResolveProject loads the project identity from the .keel/ directory,
// creating one when the project was never initialized.
func ResolveProject(configDir string) (*dotdir.ProjectState, error) {
	ddm := dotdir.NewManager()

	state, err := ddm.LoadProjectState(configDir)
	if err != nil {
		return nil, err
	}
	if state != nil {
		return state, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}
	root := git.RepoRoot(cwd)

	state = &dotdir.ProjectState{
		ProjectID: uuid.NewString(),
		Name:      filepath.Base(root),
		Root:      root,
		CreatedAt: time.Now().UTC(),
	}
	if err := ddm.SaveProjectState(state, configDir); err != nil {
		return nil, err
	}
	return state, nil
}

// OpenStore builds the configured snapshot driver and opens the store.
func OpenStore(ctx context.Context, projectID string, cfg *config.Config, keelDir string, log *slog.Logger) (*store.Store, error) {
	driver, err := buildDriver(cfg, keelDir)
	if err != nil {
		return nil, err
	}

	st := store.New(projectID, driver,
		store.WithLogger(log),
		store.WithRetention(time.Duration(cfg.Storage.RetentionDays)*24*time.Hour),
	)
	if err := st.Open(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

// BuildEngine opens the store and assembles the engine per config.
func BuildEngine(ctx context.Context, projectID string, cfg *config.Config, keelDir string, log *slog.Logger, pub events.Publisher) (*engine.Engine, error) {
	st, err := OpenStore(ctx, projectID, cfg, keelDir, log)
	if err != nil {
		return nil, err
	}

	extractor, err := provider.New(cfg.Extractor.Provider, provider.Config{
		APIKey:  apiKeyFor(cfg.Extractor.Provider),
		BaseURL: cfg.Extractor.BaseURL,
		Model:   cfg.Extractor.Model,
	})
	if err != nil {
		return nil, err
	}

	ccfg := classifier.DefaultConfig()
	if cfg.Classifier.RecencyWindowMinutes > 0 {
		ccfg.RecencyWindow = time.Duration(cfg.Classifier.RecencyWindowMinutes) * time.Minute
	}
	if cfg.Classifier.ScoreFloor > 0 {
		ccfg.ScoreFloor = cfg.Classifier.ScoreFloor
	}
	if cfg.Classifier.QuietAttempts > 0 {
		ccfg.QuietAttempts = int(cfg.Classifier.QuietAttempts)
	}
	if cfg.Classifier.MaxCandidates > 0 {
		ccfg.MaxCandidates = int(cfg.Classifier.MaxCandidates)
	}

	rcfg := retry.DefaultConfig()
	if cfg.Retry.SimilarityThreshold > 0 {
		rcfg.SimilarityThreshold = cfg.Retry.SimilarityThreshold
	}

	return engine.New(projectID, st, engine.Options{
		Publisher:        pub,
		Logger:           log,
		Extractor:        extractor,
		ClassifierConfig: &ccfg,
		RetryConfig:      &rcfg,
		GraphHalfLife:    time.Duration(cfg.Graph.EdgeHalfLifeHours) * time.Hour,
	}), nil
}

func buildDriver(cfg *config.Config, keelDir string) (store.Driver, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return memory.NewDriver(), nil

	case "file":
		dir := cfg.Storage.SnapshotDir
		if dir == "" {
			dir = filepath.Join(keelDir, "snapshots")
		}
		return snapshotfile.NewDriver(dir)

	case "sqlite", "":
		path := cfg.Storage.SQLitePath
		if path == "" {
			path = filepath.Join(keelDir, "keel.db")
		}
		return sqlite.NewDriver(path)

	default:
		return nil, fmt.Errorf("unknown storage driver: %q (supported: sqlite, file, memory)", cfg.Storage.Driver)
	}
}

// apiKeyFor reads the conventional environment variable for a provider.
// Keys never live in config files.
func apiKeyFor(providerType string) string {
	switch providerType {
	case provider.Anthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case provider.OpenAI:
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}
