// Package snapshot creates timestamp-suffixed pre-overwrite copies.
// Snapshots are never cleaned up automatically; the paths are returned
// so callers can report where the originals went.
package snapshot

import (
	"fmt"
	"os"
	"time"

	"github.com/sitepack/sitepack/internal/util"
)

const suffixFormat = "20060102T150405"

// File copies path to a timestamped sibling and returns the copy's path.
func File(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("snapshot %s: %w", path, err)
	}
	target := stampedName(path)
	if err := util.CopyFile(path, target, info.Mode().Perm()); err != nil {
		return "", err
	}
	return target, nil
}

// MoveDir renames the directory at path to a timestamped sibling and
// returns the new path. The original location is left vacant for the
// incoming tree.
func MoveDir(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("snapshot %s: %w", path, err)
	}
	target := stampedName(path)
	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("snapshot %s: %w", path, err)
	}
	return target, nil
}

func stampedName(path string) string {
	return fmt.Sprintf("%s.bak-%s", path, time.Now().Format(suffixFormat))
}
