// Package watchcmder provides the watch command for running the keel
// knowledge engine against a live project tree.
package watchcmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/keel/pkg/cliui"
	"github.com/papercomputeco/keel/pkg/config"
	"github.com/papercomputeco/keel/pkg/events"
	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/logger"
	"github.com/papercomputeco/keel/pkg/run"
	"github.com/papercomputeco/keel/pkg/watch"
)

const watchLongDesc string = `Watch the project tree and ingest code changes.

Runs the knowledge engine in the foreground: file changes are debounced,
turned into change events, and ingested into the concept graph and
assumption lifecycle. Deletes archive the knowledge anchored at the
removed file. Logs go to stdout and to .keel/watch.log.

Only one watcher may run per project; a second invocation reports the
existing session and exits.

Examples:
  keel watch
  keel watch --debug`

const watchShortDesc string = "Watch the project and ingest changes"

// maxRawBytes caps how much file content is handed to the extractor.
const maxRawBytes = 64 * 1024

type watchCommander struct {
	debug     bool
	configDir string
	cfg       *config.Config

	storageDriver string
	provider      string
	model         string
	baseURL       string
	debounceMs    uint
}

// watchFlagKeys lists the registry flags the watch command exposes and
// binds into the viper precedence chain.
var watchFlagKeys = []string{
	config.FlagStorageDriver,
	config.FlagProvider,
	config.FlagModel,
	config.FlagBaseURL,
	config.FlagDebounceMs,
}

func NewWatchCmd() *cobra.Command {
	cmder := &watchCommander{}
	fs := config.DefaultFlagSet()

	cmd := &cobra.Command{
		Use:   "watch",
		Short: watchShortDesc,
		Long:  watchLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			cmder.configDir, err = cmd.Flags().GetString("config-dir")
			if err != nil {
				return fmt.Errorf("could not get config-dir flag: %w", err)
			}

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(v, cmd, fs, watchFlagKeys)
			cmder.cfg = config.ConfigFromViper(v)

			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, fs, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, fs, config.FlagProvider, &cmder.provider)
	config.AddStringFlag(cmd, fs, config.FlagModel, &cmder.model)
	config.AddStringFlag(cmd, fs, config.FlagBaseURL, &cmder.baseURL)
	config.AddUintFlag(cmd, fs, config.FlagDebounceMs, &cmder.debounceMs)

	return cmd
}

func (c *watchCommander) run(ctx context.Context) error {
	manager, err := run.NewManager(c.configDir)
	if err != nil {
		return err
	}

	lock, err := manager.Lock()
	if err != nil {
		return err
	}

	existing, err := manager.LoadState()
	if err != nil {
		_ = lock.Release()
		return err
	}
	if existing != nil && processAlive(existing.PID) {
		_ = lock.Release()
		return fmt.Errorf("watcher already running for this project (pid %d)", existing.PID)
	}

	project, err := run.ResolveProject(c.configDir)
	if err != nil {
		_ = lock.Release()
		return err
	}

	state := &run.State{
		PID:       os.Getpid(),
		ProjectID: project.ProjectID,
		Root:      project.Root,
	}
	if err := manager.SaveState(state); err != nil {
		_ = lock.Release()
		return err
	}
	if err := lock.Release(); err != nil {
		return err
	}
	defer func() { _ = manager.ClearState() }()

	logFile, err := os.OpenFile(manager.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	log := logger.Multi(
		logger.New(logger.WithDebug(c.debug), logger.WithPretty(true)),
		logger.New(logger.WithDebug(c.debug), logger.WithJSON(true), logger.WithWriter(logFile)),
	)

	cfg := c.cfg

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	defer bus.Close()

	eng, err := run.BuildEngine(ctx, project.ProjectID, cfg, manager.Dir, log, bus)
	if err != nil {
		return err
	}
	defer eng.Close()

	go logEvents(ctx, bus, log)

	watcher := watch.New(project.Root,
		watch.WithDebounce(time.Duration(cfg.Watch.DebounceMs)*time.Millisecond),
		watch.WithLogger(log),
	)

	errChan := make(chan error, 1)
	go func() {
		errChan <- watcher.Run(ctx)
	}()

	fmt.Printf("\n  %s Watching %s\n\n", cliui.SuccessMark, cliui.ValueStyle.Render(project.Root))
	log.Info("watch session started",
		"project_id", project.ProjectID,
		"root", project.Root,
		"extractor", cfg.Extractor.Provider,
	)

	for {
		select {
		case change, ok := <-watcher.Events():
			if !ok {
				err := <-errChan
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			raw := readRaw(project.Root, change)
			if err := eng.HandleChange(ctx, change, raw); err != nil {
				log.Error("ingesting change failed",
					"location", change.Location.Key(),
					"kind", string(change.Kind),
					"error", err,
				)
				continue
			}
			log.Debug("change ingested",
				"location", change.Location.Key(),
				"kind", string(change.Kind),
			)

		case <-ctx.Done():
			log.Info("watch session stopping")
			<-errChan
			return nil
		}
	}
}

// readRaw loads the changed file's content for the extractor. Deletes and
// unreadable files yield empty content; ingestion proceeds structurally.
func readRaw(root string, change knowledge.CodeChangeEvent) string {
	if change.Kind == knowledge.ChangeDeleted {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(root, change.Location.File))
	if err != nil {
		return ""
	}
	if len(data) > maxRawBytes {
		data = data[:maxRawBytes]
	}
	return string(data)
}

// logEvents mirrors published knowledge events into the session log.
func logEvents(ctx context.Context, bus *events.Bus, log *slog.Logger) {
	ch, unsubscribe := bus.Subscribe(32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			log.Info("knowledge event",
				"type", ev.EventType,
				"detail", ev.Detail,
			)
		}
	}
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
