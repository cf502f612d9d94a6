// Package snapshotfile persists project snapshots as human-diffable JSON
// files: one file per project, stable key ordering, entities keyed by id.
// Writes stage to a sibling file and rename atomically, so a crash at any
// point leaves either the old snapshot or the new one on disk, never a
// partial write.
package snapshotfile

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/store"
)

const (
	snapshotExt = ".json"
	stagingExt  = ".staging"
)

// envelope wraps the snapshot payload with its integrity checksum. The
// checksum covers the compacted snapshot bytes, so it is insensitive to
// the whitespace the indenting writer introduces.
type envelope struct {
	Checksum string          `json:"checksum"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// Driver implements store.Driver on a directory of JSON snapshot files.
type Driver struct {
	dir string
}

// NewDriver creates a snapshot-file driver rooted at dir, creating it if
// needed.
func NewDriver(dir string) (*Driver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory %s: %w", dir, err)
	}
	return &Driver{dir: dir}, nil
}

// Path returns the snapshot file path for a project.
func (d *Driver) Path(projectID string) string {
	return filepath.Join(d.dir, sanitize(projectID)+snapshotExt)
}

// Save writes the snapshot through a staging file plus atomic rename.
func (d *Driver) Save(_ context.Context, snap *knowledge.ProjectKnowledge) error {
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}

	sum, err := compactChecksum(payload)
	if err != nil {
		return fmt.Errorf("checksumming snapshot: %w", err)
	}
	env := envelope{
		Checksum: sum,
		Snapshot: payload,
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling envelope: %w", err)
	}
	data = append(data, '\n')

	final := d.Path(snap.ProjectID)
	staging := final + stagingExt

	f, err := os.OpenFile(staging, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("opening staging file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(staging)
		return fmt.Errorf("writing staging file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(staging)
		return fmt.Errorf("syncing staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(staging)
		return fmt.Errorf("closing staging file: %w", err)
	}

	if err := os.Rename(staging, final); err != nil {
		os.Remove(staging)
		return fmt.Errorf("swapping snapshot into place: %w", err)
	}
	return nil
}

// Load reads and verifies the last saved snapshot.
func (d *Driver) Load(_ context.Context, projectID string) (*knowledge.ProjectKnowledge, error) {
	return ReadFile(d.Path(projectID))
}

// ReadFile reads and verifies one snapshot file, wherever it came from.
// Used by Load and by snapshot exchange between team members.
func ReadFile(path string) (*knowledge.ProjectKnowledge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, store.ErrNoSnapshot
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrCorruptSnapshot, err)
	}
	sum, err := compactChecksum(env.Snapshot)
	if err != nil || sum != env.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", store.ErrCorruptSnapshot)
	}

	snap := &knowledge.ProjectKnowledge{}
	if err := json.Unmarshal(env.Snapshot, snap); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrCorruptSnapshot, err)
	}
	snap.EnsureMaps()
	return snap, nil
}

// Close is a no-op; files are closed per operation.
func (d *Driver) Close() error {
	return nil
}

func compactChecksum(payload []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return "", err
	}
	h := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(h[:]), nil
}

// sanitize maps a project id onto a safe file name.
func sanitize(projectID string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	out := replacer.Replace(projectID)
	if out == "" {
		out = "default"
	}
	return out
}

var _ store.Driver = (*Driver)(nil)
