package project

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocateFindsMarkerUpward(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "artisan"), []byte("#!/usr/bin/env php\n"), 0o750); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	nested := filepath.Join(root, "app", "Http")
	if err := os.MkdirAll(nested, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := Locate(nested, "artisan")
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	want, _ := filepath.EvalSymlinks(root)
	gotResolved, _ := filepath.EvalSymlinks(got)
	if gotResolved != want {
		t.Fatalf("unexpected root: %s != %s", gotResolved, want)
	}
}

func TestLocateMissingMarker(t *testing.T) {
	if _, err := Locate(t.TempDir(), "definitely-not-here"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReadEnv(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".env"), []byte("DB_DATABASE=exdb\n"), 0o640); err != nil {
		t.Fatalf("write env: %v", err)
	}
	env, err := ReadEnv(root, ".env")
	if err != nil {
		t.Fatalf("read env: %v", err)
	}
	if v, _ := env.Get("DB_DATABASE"); v != "exdb" {
		t.Fatalf("unexpected value: %q", v)
	}
}

func TestStorageSizeMBAbsentTree(t *testing.T) {
	size, err := StorageSizeMB(t.TempDir(), "storage")
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 0 {
		t.Fatalf("absent tree should measure 0, got %d", size)
	}
}
