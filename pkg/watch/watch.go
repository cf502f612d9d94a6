// Package watch tails a project tree for source changes and emits
// debounced change events at file granularity.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/papercomputeco/keel/pkg/knowledge"
)

// defaultDebounce coalesces editor save bursts into one event per file.
const defaultDebounce = 500 * time.Millisecond

var defaultIgnoreDirs = []string{".git", ".keel", "node_modules", "vendor", "dist"}

// Watcher emits one CodeChangeEvent per settled file change under a
// project root.
type Watcher struct {
	root       string
	debounce   time.Duration
	ignoreDirs map[string]bool
	log        *slog.Logger
	events     chan knowledge.CodeChangeEvent
	clock      func() time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the settle window for coalescing rapid writes.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithIgnoreDirs replaces the default ignored directory names.
func WithIgnoreDirs(names []string) Option {
	return func(w *Watcher) {
		w.ignoreDirs = make(map[string]bool, len(names))
		for _, n := range names {
			w.ignoreDirs[n] = true
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *Watcher) { w.log = log }
}

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(w *Watcher) { w.clock = clock }
}

// New creates a watcher rooted at the given directory.
func New(root string, opts ...Option) *Watcher {
	w := &Watcher{
		root:     root,
		debounce: defaultDebounce,
		log:      slog.Default(),
		events:   make(chan knowledge.CodeChangeEvent, 64),
		clock:    time.Now,
	}
	w.ignoreDirs = make(map[string]bool, len(defaultIgnoreDirs))
	for _, n := range defaultIgnoreDirs {
		w.ignoreDirs[n] = true
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Events returns the change event channel. It is closed when Run exits.
func (w *Watcher) Events() <-chan knowledge.CodeChangeEvent {
	return w.events
}

// Run watches the tree until the context is canceled. New subdirectories
// are picked up as they appear; deletes and renames surface as deleted
// events.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return knowledge.StorageError{Op: "watch", Err: err}
	}
	defer watcher.Close()
	defer close(w.events)

	if err := w.addTree(watcher, w.root); err != nil {
		return err
	}

	type pending struct {
		kind knowledge.ChangeKind
		at   time.Time
	}
	settled := make(map[string]pending)

	tick := w.debounce / 2
	if tick <= 0 {
		tick = defaultDebounce / 2
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			rel, skip := w.relPath(event.Name)
			if skip {
				continue
			}
			switch {
			case event.Op&fsnotify.Create != 0:
				if isDir(event.Name) {
					if err := w.addTree(watcher, event.Name); err != nil {
						w.log.Warn("watch new directory", "path", rel, "error", err)
					}
					continue
				}
				settled[rel] = pending{kind: knowledge.ChangeCreated, at: w.clock()}
			case event.Op&fsnotify.Write != 0:
				p, ok := settled[rel]
				kind := knowledge.ChangeModified
				if ok && p.kind == knowledge.ChangeCreated {
					kind = knowledge.ChangeCreated
				}
				settled[rel] = pending{kind: kind, at: w.clock()}
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				settled[rel] = pending{kind: knowledge.ChangeDeleted, at: w.clock()}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)

		case <-ticker.C:
			now := w.clock()
			for rel, p := range settled {
				if now.Sub(p.at) < w.debounce {
					continue
				}
				delete(settled, rel)
				w.emit(ctx, rel, p.kind)
			}
		}
	}
}

func (w *Watcher) emit(ctx context.Context, rel string, kind knowledge.ChangeKind) {
	change := knowledge.CodeChangeEvent{
		Location:   knowledge.WholeFile(rel),
		Kind:       kind,
		ObservedAt: w.clock().UTC(),
	}
	select {
	case w.events <- change:
	case <-ctx.Done():
	}
}

// addTree registers the directory and every non-ignored subdirectory.
func (w *Watcher) addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignoreDirs[d.Name()] && path != dir {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return knowledge.StorageError{Op: "watch add", Err: err}
		}
		return nil
	})
}

// relPath maps an absolute event path to a project-relative one and
// reports whether the path should be ignored.
func (w *Watcher) relPath(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil {
		return "", true
	}
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if w.ignoreDirs[part] {
			return "", true
		}
	}
	return rel, false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
