package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	projectFile = "project.json"
)

// ProjectState is the persisted identity of one tracked project.
type ProjectState struct {
	// ProjectID is the stable identifier the knowledge store keys on.
	ProjectID string `json:"project_id"`

	// Name is the human-readable project name, usually the git
	// repository name.
	Name string `json:"name,omitempty"`

	// Root is the absolute path of the tracked project tree.
	Root string `json:"root"`

	CreatedAt time.Time `json:"created_at"`
}

// LoadProjectState loads the project identity from a target
// .keel/project.json. Returns nil, nil if the project was never
// initialized. If overrideDir is non-empty, it is used instead of the
// default location.
func (m *Manager) LoadProjectState(overrideDir string) (*ProjectState, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, projectFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading project state: %w", err)
	}

	state := &ProjectState{}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing project state: %w", err)
	}

	return state, nil
}

// SaveProjectState persists the project identity to a target
// .keel/project.json.
func (m *Manager) SaveProjectState(state *ProjectState, overrideDir string) error {
	if state == nil {
		return errors.New("cannot save nil project state")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling project state: %w", err)
	}

	path := filepath.Join(dir, projectFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing project state: %w", err)
	}

	return nil
}

// ClearProjectState removes the project identity file. Returns nil if the
// file doesn't exist (already cleared).
func (m *Manager) ClearProjectState(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, projectFile)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing project state: %w", err)
	}

	return nil
}
