package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/papercomputeco/keel/pkg/knowledge"
)

// maxCommitRetries bounds the internal ConflictError retry loop before
// the conflict surfaces to the caller.
const maxCommitRetries = 3

// Store owns one project's knowledge. A single commit path serializes
// writers; readers observe the last fully committed snapshot via an
// atomic pointer swap, never an in-progress transaction. Persistence I/O
// happens outside the snapshot lock, so observation and composition are
// never blocked on disk.
type Store struct {
	projectID string
	driver    Driver
	log       *slog.Logger
	clock     func() time.Time
	retention time.Duration

	// mu guards the state pointer only. Snapshots themselves are
	// treated as immutable once published.
	mu    sync.RWMutex
	state *knowledge.ProjectKnowledge

	// commitMu serializes the in-memory transaction application.
	commitMu sync.Mutex
	degraded bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithRetention sets the compaction retention window. Superseded and
// archived entities older than the window become compaction candidates.
// Defaults to 30 days.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// New creates a store for one project on top of a persistence driver.
// Call Open to restore the last persisted snapshot.
func New(projectID string, driver Driver, opts ...Option) *Store {
	s := &Store{
		projectID: projectID,
		driver:    driver,
		log:       slog.Default(),
		clock:     time.Now,
		retention: 30 * 24 * time.Hour,
		state:     knowledge.NewProjectKnowledge(projectID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open restores the last persisted snapshot. A missing snapshot starts
// the project empty; a corrupt one is logged loudly and reset to empty,
// the only data-loss path in the system.
func (s *Store) Open(ctx context.Context) error {
	snap, err := s.driver.Load(ctx, s.projectID)
	switch {
	case err == nil:
		snap.EnsureMaps()
		s.mu.Lock()
		s.state = snap
		s.mu.Unlock()
		return nil

	case errors.Is(err, ErrNoSnapshot):
		return nil

	case errors.Is(err, ErrCorruptSnapshot):
		s.log.Error("persisted knowledge snapshot is corrupt; resetting project to an empty knowledge base",
			"project", s.projectID, "err", err)
		s.mu.Lock()
		s.state = knowledge.NewProjectKnowledge(s.projectID)
		s.mu.Unlock()
		return nil

	default:
		return knowledge.StorageError{Op: "load", Err: err}
	}
}

// Snapshot returns the last fully committed state. The returned aggregate
// is shared and must be treated as read-only; mutations go through
// transactions.
func (s *Store) Snapshot() *knowledge.ProjectKnowledge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Version returns the committed version.
func (s *Store) Version() uint64 {
	return s.Snapshot().Version
}

// Degraded reports whether the store is running memory-only after a
// persistence failure.
func (s *Store) Degraded() bool {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	return s.degraded
}

// Commit applies one transaction. It validates against the current
// snapshot, rejects with ConflictError when the base version lost the
// race, applies to a clone, persists, and swaps the clone in. Persistence
// failure degrades the store to memory-only rather than failing the
// commit; the next commit retries persistence.
func (s *Store) Commit(ctx context.Context, tx *Transaction) (uint64, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	return s.commitLocked(ctx, tx)
}

func (s *Store) commitLocked(ctx context.Context, tx *Transaction) (uint64, error) {
	cur := s.Snapshot()

	if tx.BaseVersion != cur.Version {
		return cur.Version, knowledge.ConflictError{Expected: tx.BaseVersion, Actual: cur.Version}
	}
	if err := tx.validate(cur); err != nil {
		return cur.Version, err
	}
	if tx.Empty() {
		return cur.Version, nil
	}

	next := cur.Clone()
	tx.apply(next)
	next.Version++
	next.UpdatedAt = s.clock().UTC()

	if err := s.driver.Save(ctx, next); err != nil {
		if !s.degraded {
			s.log.Warn("knowledge persistence failed; continuing memory-only until the next commit",
				"project", s.projectID, "err", err)
		}
		s.degraded = true
	} else if s.degraded {
		s.degraded = false
		s.log.Info("knowledge persistence recovered", "project", s.projectID)
	}

	s.mu.Lock()
	s.state = next
	s.mu.Unlock()

	return next.Version, nil
}

// CommitWithRetry rebuilds and retries a transaction on ConflictError up
// to a small fixed bound, re-reading a fresh snapshot each time. The
// build function receives the snapshot the transaction will be validated
// against.
func (s *Store) CommitWithRetry(ctx context.Context, build func(snap *knowledge.ProjectKnowledge, tx *Transaction) error) (uint64, error) {
	var lastErr error
	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		snap := s.Snapshot()
		tx := NewTransaction(snap)
		if err := build(snap, tx); err != nil {
			return snap.Version, err
		}

		version, err := s.Commit(ctx, tx)
		if err == nil {
			return version, nil
		}
		var conflict knowledge.ConflictError
		if !errors.As(err, &conflict) {
			return version, err
		}
		lastErr = err
	}
	return s.Version(), lastErr
}

// Persist durably writes the current snapshot, clearing degraded mode on
// success. Used at natural commit points and on shutdown.
func (s *Store) Persist(ctx context.Context) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if err := s.driver.Save(ctx, s.Snapshot()); err != nil {
		s.degraded = true
		return knowledge.StorageError{Op: "persist", Err: err}
	}
	s.degraded = false
	return nil
}

// Close persists the final state and releases the driver.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Persist(ctx); err != nil {
		s.log.Warn("final persist on close failed", "project", s.projectID, "err", err)
	}
	return s.driver.Close()
}
