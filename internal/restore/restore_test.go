package restore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sitepack/sitepack/internal/archive"
	"github.com/sitepack/sitepack/internal/config"
	"github.com/sitepack/sitepack/internal/db"
	"github.com/sitepack/sitepack/internal/manifest"
	"github.com/sitepack/sitepack/internal/prompt"
)

type fakeAdapter struct {
	restored bytes.Buffer
	conn     db.ConnInfo
	called   bool
}

func (f *fakeAdapter) Name() string { return db.EngineMySQL }

func (f *fakeAdapter) Validate(_ context.Context, _ db.ConnInfo) error { return nil }

func (f *fakeAdapter) Dump(_ context.Context, _ db.ConnInfo) (*db.DumpStream, error) {
	return nil, errors.New("not supported in this fake")
}

func (f *fakeAdapter) Restore(_ context.Context, conn db.ConnInfo) (*db.RestoreStream, error) {
	f.called = true
	f.conn = conn
	return &db.RestoreStream{
		Writer: nopWriteCloser{&f.restored},
		Wait:   func() error { return nil },
	}, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type scriptedPrompter struct {
	answers []bool
	asked   int
}

func (s *scriptedPrompter) Confirm(_ string, _ bool) (bool, error) {
	a := s.answers[s.asked]
	s.asked++
	return a, nil
}

func (s *scriptedPrompter) Choose(_ string, _ []string, def int) (int, error) {
	return def, nil
}

const dumpSQL = "-- dump\nCREATE TABLE users (id INT);\n"

const backupEnv = "APP_NAME=Example\n" +
	"APP_KEY=base64:sourcekey\n" +
	"APP_URL=https://source.test\n" +
	"DB_DATABASE=src_db\n"

const destEnv = "APP_NAME=Example\n" +
	"APP_URL=https://dest.test\n" +
	"DB_CONNECTION=mysql\n" +
	"DB_HOST=127.0.0.1\n" +
	"DB_PORT=3306\n" +
	"DB_DATABASE=dest_db\n" +
	"DB_USERNAME=dest\n" +
	"DB_PASSWORD=secret\n"

func buildArchive(t *testing.T, withDump, withStorage bool) string {
	t.Helper()
	staging := t.TempDir()

	in := archive.Input{
		Manifest: manifest.Build(manifest.BuildInput{
			Domain:       "source.test",
			DBConnection: "mysql",
			DBDatabase:   "src_db",
			ProjectRoot:  "/var/www/source.test",
		}),
		Config: []byte(backupEnv),
	}
	if withDump {
		dumpPath := filepath.Join(staging, "database.sql")
		if err := os.WriteFile(dumpPath, []byte(dumpSQL), 0o600); err != nil {
			t.Fatal(err)
		}
		in.DatabaseDumpPath = dumpPath
	}
	if withStorage {
		tree := filepath.Join(staging, "tree")
		if err := os.MkdirAll(filepath.Join(tree, "app"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(tree, "app", "upload.txt"), []byte("user upload"), 0o644); err != nil {
			t.Fatal(err)
		}
		in.StorageTreeRoot = tree
	}

	path := filepath.Join(staging, "site"+archive.Extension)
	builder := &archive.Builder{Compression: "zstd"}
	if err := builder.Create(path, "hunter2", in); err != nil {
		t.Fatalf("build archive: %v", err)
	}
	return path
}

func writeDestination(t *testing.T, withEnv bool) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "artisan"), []byte("#!/usr/bin/env php\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if withEnv {
		if err := os.WriteFile(filepath.Join(root, ".env"), []byte(destEnv), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(root, "storage", "app"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "storage", "app", "old.txt"), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func testConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	return &config.Config{
		Global: config.GlobalConfig{
			LockFile:   filepath.Join(t.TempDir(), "test.lock"),
			ScratchDir: t.TempDir(),
		},
		Project: config.ProjectConfig{
			Root:       root,
			Marker:     "artisan",
			EnvFile:    ".env",
			StorageDir: "storage",
		},
		Archive: config.ArchiveConfig{Password: "hunter2"},
		Merge:   config.MergeConfig{Policy: "forced"},
		Restore: config.RestoreConfig{AssumeYes: true},
	}
}

func newOrchestrator(cfg *config.Config, p prompt.Prompter, adapter db.Adapter) *Orchestrator {
	o := New(cfg, p, zerolog.Nop(), nil)
	o.NewAdapter = func(string, bool) (db.Adapter, error) { return adapter, nil }
	return o
}

func TestRunFullRestore(t *testing.T) {
	archivePath := buildArchive(t, true, true)
	root := writeDestination(t, true)
	cfg := testConfig(t, root)
	adapter := &fakeAdapter{}

	o := newOrchestrator(cfg, prompt.Forced{}, adapter)
	res, err := o.Run(context.Background(), archivePath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if o.State() != StateDone {
		t.Fatalf("expected StateDone, got %s", o.State())
	}

	// Server-local values stay with the destination; application values
	// from the backup land in the merged file.
	merged, err := os.ReadFile(filepath.Join(root, ".env"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(merged), "APP_URL=https://dest.test") {
		t.Errorf("APP_URL should keep the destination value:\n%s", merged)
	}
	if !strings.Contains(string(merged), "APP_KEY=base64:sourcekey") {
		t.Errorf("APP_KEY should come from the backup:\n%s", merged)
	}
	if !strings.Contains(string(merged), "DB_DATABASE=dest_db") {
		t.Errorf("DB_DATABASE should keep the destination value:\n%s", merged)
	}

	if res.ConfigSnapshot == "" {
		t.Fatal("expected a config snapshot path")
	}
	snap, err := os.ReadFile(res.ConfigSnapshot)
	if err != nil {
		t.Fatalf("config snapshot: %v", err)
	}
	if string(snap) != destEnv {
		t.Error("config snapshot should hold the pre-merge destination config")
	}

	if !res.DatabaseLoaded || !adapter.called {
		t.Fatal("database should have been restored")
	}
	if adapter.restored.String() != dumpSQL {
		t.Errorf("restored SQL mismatch: %q", adapter.restored.String())
	}
	if adapter.conn.Database != "dest_db" {
		t.Errorf("restore should target the destination database, got %q", adapter.conn.Database)
	}

	if res.StorageSnapshot == "" {
		t.Fatal("expected a storage snapshot path")
	}
	if _, err := os.Stat(filepath.Join(res.StorageSnapshot, "app", "old.txt")); err != nil {
		t.Errorf("old storage tree should survive in the snapshot: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "storage", "app", "upload.txt")); err != nil {
		t.Errorf("archived storage tree should be in place: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "storage", "app", "old.txt")); !os.IsNotExist(err) {
		t.Error("old files should not remain in the restored tree")
	}
}

func TestRunAbortsAtFirstGate(t *testing.T) {
	archivePath := buildArchive(t, true, true)
	root := writeDestination(t, true)
	cfg := testConfig(t, root)
	cfg.Restore.AssumeYes = false
	adapter := &fakeAdapter{}

	o := newOrchestrator(cfg, prompt.Forced{}, adapter)
	_, err := o.Run(context.Background(), archivePath)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if o.State() != StateAborted {
		t.Fatalf("expected StateAborted, got %s", o.State())
	}
	if adapter.called {
		t.Error("database must not be touched after an abort")
	}
	env, err := os.ReadFile(filepath.Join(root, ".env"))
	if err != nil {
		t.Fatal(err)
	}
	if string(env) != destEnv {
		t.Error("destination config must be untouched after an abort")
	}
}

func TestRunAbortsAtDatabaseGate(t *testing.T) {
	archivePath := buildArchive(t, true, true)
	root := writeDestination(t, true)
	cfg := testConfig(t, root)
	cfg.Restore.AssumeYes = false
	adapter := &fakeAdapter{}
	prompter := &scriptedPrompter{answers: []bool{true, false}}

	o := newOrchestrator(cfg, prompter, adapter)
	_, err := o.Run(context.Background(), archivePath)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if o.State() != StateAborted {
		t.Fatalf("expected StateAborted, got %s", o.State())
	}
	if prompter.asked != 2 {
		t.Fatalf("expected both gates to ask, got %d", prompter.asked)
	}
	if adapter.called {
		t.Error("database must not be touched when the second gate declines")
	}
}

func TestRunSkipsAbsentMembers(t *testing.T) {
	archivePath := buildArchive(t, false, false)
	root := writeDestination(t, true)
	cfg := testConfig(t, root)
	adapter := &fakeAdapter{}

	o := newOrchestrator(cfg, prompt.Forced{}, adapter)
	res, err := o.Run(context.Background(), archivePath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if o.State() != StateDone {
		t.Fatalf("expected StateDone, got %s", o.State())
	}
	if res.DatabaseLoaded || adapter.called {
		t.Error("no database member, no database restore")
	}
	if res.StorageRestored {
		t.Error("no storage member, no storage restore")
	}
	if _, err := os.Stat(filepath.Join(root, "storage", "app", "old.txt")); err != nil {
		t.Errorf("existing storage tree must be untouched: %v", err)
	}
}

func TestRunFixupFailuresAreWarnings(t *testing.T) {
	archivePath := buildArchive(t, true, true)
	root := writeDestination(t, true)
	cfg := testConfig(t, root)
	cfg.Restore.PermissionCommands = []string{"exit 7"}
	cfg.Restore.FinishCommands = []string{"definitely-not-a-command --now"}
	adapter := &fakeAdapter{}

	o := newOrchestrator(cfg, prompt.Forced{}, adapter)
	res, err := o.Run(context.Background(), archivePath)
	if err != nil {
		t.Fatalf("failing fix-up commands must not fail the restore: %v", err)
	}
	if o.State() != StateDone {
		t.Fatalf("expected StateDone, got %s", o.State())
	}
	if !res.DatabaseLoaded || !res.StorageRestored {
		t.Fatal("restore work before the fix-up stage must be complete")
	}
}

func TestRunCopiesConfigWhenDestinationHasNone(t *testing.T) {
	archivePath := buildArchive(t, false, false)
	root := writeDestination(t, false)
	cfg := testConfig(t, root)

	o := newOrchestrator(cfg, prompt.Forced{}, &fakeAdapter{})
	res, err := o.Run(context.Background(), archivePath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ConfigSnapshot != "" {
		t.Error("no destination config existed, nothing to snapshot")
	}
	copied, err := os.ReadFile(filepath.Join(root, ".env"))
	if err != nil {
		t.Fatalf("archived config should have been copied: %v", err)
	}
	if string(copied) != backupEnv {
		t.Error("archived config should land verbatim")
	}
}

func TestRunWrongPassword(t *testing.T) {
	archivePath := buildArchive(t, false, false)
	root := writeDestination(t, true)
	cfg := testConfig(t, root)
	cfg.Archive.Password = "wrong"

	o := newOrchestrator(cfg, prompt.Forced{}, &fakeAdapter{})
	_, err := o.Run(context.Background(), archivePath)
	if !errors.Is(err, archive.ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
}

func TestRunRejectsNonArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.spk")
	if err := os.WriteFile(path, []byte("definitely not an archive"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t, writeDestination(t, true))

	o := newOrchestrator(cfg, prompt.Forced{}, &fakeAdapter{})
	_, err := o.Run(context.Background(), path)
	if !errors.Is(err, ErrInvalidArchive) {
		t.Fatalf("expected ErrInvalidArchive, got %v", err)
	}
}
