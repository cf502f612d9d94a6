// Package store implements the per-project knowledge store: a versioned,
// transactional, snapshot-isolated map of every knowledge entity, with
// crash-safe persistence behind a pluggable Driver.
package store

import (
	"context"
	"errors"

	"github.com/papercomputeco/keel/pkg/knowledge"
)

// ErrNoSnapshot is returned by Driver.Load when no snapshot has ever been
// persisted for the project. The store starts from an empty aggregate.
var ErrNoSnapshot = errors.New("no snapshot persisted for project")

// ErrCorruptSnapshot is returned by Driver.Load when the persisted
// snapshot fails its integrity check. The store logs loudly and resets to
// an empty knowledge base for that project.
var ErrCorruptSnapshot = errors.New("persisted snapshot failed integrity check")

// Driver persists and restores whole project snapshots. Save must be
// atomic: after a crash at any point, Load returns either the previous
// snapshot or the new one, never a partial write.
type Driver interface {
	// Save durably writes the snapshot.
	Save(ctx context.Context, snap *knowledge.ProjectKnowledge) error

	// Load reads the last durably saved snapshot for the project.
	// Returns ErrNoSnapshot if none exists and ErrCorruptSnapshot if the
	// stored bytes fail verification.
	Load(ctx context.Context, projectID string) (*knowledge.ProjectKnowledge, error)

	// Close releases any resources held by the driver.
	Close() error
}
