package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("APP_URL=https://example.com\n"), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}

	copyPath, err := File(path)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !strings.Contains(copyPath, ".env.bak-") {
		t.Fatalf("unexpected snapshot name: %s", copyPath)
	}
	data, err := os.ReadFile(copyPath)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if string(data) != "APP_URL=https://example.com\n" {
		t.Fatalf("snapshot content mismatch: %q", data)
	}
	// The original must survive a file snapshot.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("original removed: %v", err)
	}
}

func TestMoveDirSnapshot(t *testing.T) {
	dir := t.TempDir()
	tree := filepath.Join(dir, "storage")
	if err := os.MkdirAll(filepath.Join(tree, "app"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	moved, err := MoveDir(tree)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, err := os.Stat(tree); !os.IsNotExist(err) {
		t.Fatalf("original directory should be vacated")
	}
	if _, err := os.Stat(filepath.Join(moved, "app")); err != nil {
		t.Fatalf("moved tree incomplete: %v", err)
	}
}

func TestSnapshotMissingSource(t *testing.T) {
	if _, err := File(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := MoveDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
