// Package memory provides an in-process implementation of the store
// Driver interface. Snapshots survive for the life of the process only;
// it backs tests and the degraded memory-only mode.
package memory

import (
	"context"
	"sync"

	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/store"
)

// Driver implements store.Driver using an in-process map.
type Driver struct {
	mu sync.RWMutex

	// snapshots maps project id -> last saved snapshot.
	snapshots map[string]*knowledge.ProjectKnowledge
}

// NewDriver creates an in-memory snapshot driver.
func NewDriver() *Driver {
	return &Driver{
		snapshots: make(map[string]*knowledge.ProjectKnowledge),
	}
}

// Save stores a deep copy of the snapshot so later mutations by the
// caller cannot leak into the "persisted" state.
func (d *Driver) Save(_ context.Context, snap *knowledge.ProjectKnowledge) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.snapshots[snap.ProjectID] = snap.Clone()
	return nil
}

// Load returns a copy of the last saved snapshot for the project.
func (d *Driver) Load(_ context.Context, projectID string) (*knowledge.ProjectKnowledge, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snap, ok := d.snapshots[projectID]
	if !ok {
		return nil, store.ErrNoSnapshot
	}
	return snap.Clone(), nil
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}

var _ store.Driver = (*Driver)(nil)
