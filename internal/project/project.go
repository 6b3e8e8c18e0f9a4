// Package project probes the web application on disk: root discovery,
// configuration snapshot, and best-effort provenance metadata.
package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sitepack/sitepack/internal/envfile"
	"github.com/sitepack/sitepack/internal/util"
)

// ErrNotFound indicates no directory with the project marker file was
// found.
var ErrNotFound = errors.New("project root not found")

// Locate walks up from start until it finds a directory containing the
// marker file.
func Locate(start, marker string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("locate project: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: no %s above %s", ErrNotFound, marker, start)
		}
		dir = parent
	}
}

// ReadEnv loads the site's environment file from the project root.
func ReadEnv(root, name string) (*envfile.File, error) {
	data, err := os.ReadFile(filepath.Join(root, name))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return envfile.Parse(data), nil
}

// GitRemote returns the origin URL, or "" when the project is not under
// source control.
func GitRemote(ctx context.Context, root string) string {
	out, err := util.CaptureOutput(ctx, root, "git", "config", "--get", "remote.origin.url")
	if err != nil {
		return ""
	}
	return out
}

// GitBranch returns the checked-out branch, or "".
func GitBranch(ctx context.Context, root string) string {
	out, err := util.CaptureOutput(ctx, root, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}
	return out
}

// PHPVersion returns the interpreter version, or "" when php is not
// installed.
func PHPVersion(ctx context.Context) string {
	out, err := util.CaptureOutput(ctx, "", "php", "-r", "echo PHP_VERSION;")
	if err != nil {
		return ""
	}
	return out
}

// StorageSizeMB measures the storage tree below root, 0 when absent.
func StorageSizeMB(root, storageDir string) (int64, error) {
	path := filepath.Join(root, storageDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return 0, nil
	}
	return util.TreeSizeMB(path)
}
