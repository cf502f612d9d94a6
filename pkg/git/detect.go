// Package git detects project identity from the enclosing git repository.
package git

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// RepoRoot returns the top-level directory of the git repository
// containing dir. If git is unavailable or dir is not tracked, it falls
// back to dir itself, so callers always get a usable project root.
func RepoRoot(dir string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir

	out, err := cmd.Output()
	if err == nil {
		top := strings.TrimSpace(string(out))
		if top != "" {
			return top
		}
	}

	return dir
}

// RepoName returns a human-readable name for the project containing dir:
// the base name of its git repository root, or of dir itself when no
// repository encloses it.
func RepoName(dir string) string {
	return filepath.Base(RepoRoot(dir))
}
