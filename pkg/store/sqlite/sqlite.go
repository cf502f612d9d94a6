// Package sqlite persists project snapshots in a SQLite database. Each
// Save replaces the project's row inside one SQL transaction, so restart
// recovery sees either the previous snapshot or the new one.
package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/store"
)

// Driver implements store.Driver on a SQLite database.
type Driver struct {
	db *sql.DB
}

// NewDriver opens (or creates) the database at dbPath and runs the
// migration. ":memory:" is accepted for tests.
func NewDriver(dbPath string) (*Driver, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	d := &Driver{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return d, nil
}

func (d *Driver) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		project_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		payload TEXT NOT NULL,
		checksum TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Save replaces the project's snapshot row atomically.
func (d *Driver) Save(ctx context.Context, snap *knowledge.ProjectKnowledge) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}

	query := `INSERT OR REPLACE INTO snapshots (project_id, version, payload, checksum, updated_at)
	          VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`
	_, err = d.db.ExecContext(ctx, query, snap.ProjectID, int64(snap.Version), string(payload), checksum(payload))
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	return nil
}

// Load reads and verifies the project's snapshot row.
func (d *Driver) Load(ctx context.Context, projectID string) (*knowledge.ProjectKnowledge, error) {
	query := `SELECT payload, checksum FROM snapshots WHERE project_id = ?`
	row := d.db.QueryRowContext(ctx, query, projectID)

	var payload, sum string
	err := row.Scan(&payload, &sum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("scanning snapshot: %w", err)
	}

	if checksum([]byte(payload)) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", store.ErrCorruptSnapshot)
	}

	snap := &knowledge.ProjectKnowledge{}
	if err := json.Unmarshal([]byte(payload), snap); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrCorruptSnapshot, err)
	}
	snap.EnsureMaps()
	return snap, nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	return d.db.Close()
}

func checksum(payload []byte) string {
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}

var _ store.Driver = (*Driver)(nil)
