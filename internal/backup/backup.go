// Package backup drives the backup pipeline: locate the project, dump
// its database, and stream everything into one encrypted archive.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sitepack/sitepack/internal/archive"
	"github.com/sitepack/sitepack/internal/config"
	"github.com/sitepack/sitepack/internal/db"
	"github.com/sitepack/sitepack/internal/envfile"
	"github.com/sitepack/sitepack/internal/lock"
	"github.com/sitepack/sitepack/internal/manifest"
	"github.com/sitepack/sitepack/internal/notify"
	"github.com/sitepack/sitepack/internal/project"
	"github.com/sitepack/sitepack/internal/storage"
	"github.com/sitepack/sitepack/internal/util"
)

// ErrValidation indicates missing or invalid required input.
var ErrValidation = errors.New("invalid backup input")

type Orchestrator struct {
	Cfg      *config.Config
	Storage  storage.Storage
	Log      zerolog.Logger
	Notifier notify.Notifier

	// NewAdapter is swappable for tests; defaults to db.NewAdapter.
	NewAdapter func(engine string, allowMissingTools bool) (db.Adapter, error)
}

func New(cfg *config.Config, store storage.Storage, log zerolog.Logger, notifier notify.Notifier) *Orchestrator {
	return &Orchestrator{Cfg: cfg, Storage: store, Log: log, Notifier: notifier, NewAdapter: db.NewAdapter}
}

// Result describes one finished backup.
type Result struct {
	Key      string
	Path     string
	Manifest manifest.Manifest
	Size     int64
}

// Run executes the backup pipeline. Any stage failure aborts the whole
// backup; the scratch directory is removed on success and failure and
// no partial archive is retained.
func (o *Orchestrator) Run(ctx context.Context) (res *Result, err error) {
	start := time.Now()
	domain := o.Cfg.Project.Domain
	defer func() {
		o.sendEvent(domain, start, res, err)
	}()

	guard, lockErr := lock.Acquire(o.Cfg.Global.LockFile)
	if lockErr != nil {
		return nil, lockErr
	}
	defer guard.Release()

	ok, err := util.InWindow(time.Now(), o.Cfg.Schedule.WindowStart, o.Cfg.Schedule.WindowEnd, o.Cfg.Schedule.Timezone)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("current time is outside the configured window")
	}
	if o.Cfg.Archive.Password == "" {
		return nil, fmt.Errorf("%w: archive password is required", ErrValidation)
	}

	startDir := o.Cfg.Project.Root
	if startDir == "" {
		startDir = "."
	}
	root, err := project.Locate(startDir, o.Cfg.Project.Marker)
	if err != nil {
		return nil, err
	}
	o.Log.Info().Str("root", root).Msg("project located")

	envPath := filepath.Join(root, o.Cfg.Project.EnvFile)
	configBytes, err := os.ReadFile(envPath)
	if err != nil {
		return nil, fmt.Errorf("read site config: %w", err)
	}
	env, err := project.ReadEnv(root, o.Cfg.Project.EnvFile)
	if err != nil {
		return nil, err
	}

	engine, _ := env.Get("DB_CONNECTION")
	adapter, err := o.newAdapter(engine)
	if err != nil {
		return nil, err
	}
	conn := o.connFromEnv(env)
	if conn.Database == "" {
		return nil, fmt.Errorf("%w: DB_DATABASE is not set", ErrValidation)
	}

	if domain == "" {
		domain = domainFromEnv(env)
	}
	if domain == "" {
		return nil, fmt.Errorf("%w: domain is not configured and APP_URL is unusable", ErrValidation)
	}

	scratch, err := os.MkdirTemp(o.Cfg.Global.ScratchDir, "sitepack-backup-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	dumpPath := filepath.Join(scratch, "database.sql")
	if err := o.dumpDatabase(ctx, adapter, conn, dumpPath); err != nil {
		return nil, err
	}
	o.Log.Info().Str("database", conn.Database).Msg("database dumped")

	treeRoot := filepath.Join(root, o.Cfg.Project.StorageDir)
	if _, statErr := os.Stat(treeRoot); os.IsNotExist(statErr) {
		treeRoot = ""
	}
	sizeMB, err := project.StorageSizeMB(root, o.Cfg.Project.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("measure storage tree: %w", err)
	}

	m := manifest.Build(manifest.BuildInput{
		Domain:        domain,
		DBConnection:  engine,
		DBDatabase:    conn.Database,
		ProjectRoot:   root,
		StorageSizeMB: sizeMB,
		GitRemote:     project.GitRemote(ctx, root),
		GitBranch:     project.GitBranch(ctx, root),
		PHPVersion:    project.PHPVersion(ctx),
	})

	builder := &archive.Builder{Compression: o.Cfg.Archive.Compression}
	in := archive.Input{
		Manifest:         m,
		Config:           configBytes,
		DatabaseDumpPath: dumpPath,
		StorageTreeRoot:  treeRoot,
	}

	if out := o.Cfg.Archive.Output; out != "" {
		if err := builder.Create(out, o.Cfg.Archive.Password, in); err != nil {
			return nil, err
		}
		info, statErr := os.Stat(out)
		if statErr != nil {
			return nil, statErr
		}
		return &Result{Path: out, Manifest: m, Size: info.Size()}, nil
	}

	key := util.BuildArchiveKey(o.Cfg.Storage.Prefix, domain, time.Now(), archive.Extension)
	if err := o.uploadArchive(ctx, builder, key, in); err != nil {
		return nil, err
	}
	stat, err := o.Storage.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Result{Key: key, Manifest: m, Size: stat.Size}, nil
}

func (o *Orchestrator) newAdapter(engine string) (db.Adapter, error) {
	factory := o.NewAdapter
	if factory == nil {
		factory = db.NewAdapter
	}
	return factory(engine, o.Cfg.Global.AllowMissingTools)
}

func (o *Orchestrator) dumpDatabase(ctx context.Context, adapter db.Adapter, conn db.ConnInfo, dumpPath string) error {
	if err := adapter.Validate(ctx, conn); err != nil {
		return err
	}
	stream, err := adapter.Dump(ctx, conn)
	if err != nil {
		return err
	}
	defer stream.Reader.Close()

	out, err := os.OpenFile(dumpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("write dump: %w", err)
	}
	if _, err := io.Copy(out, stream.Reader); err != nil {
		out.Close()
		return fmt.Errorf("write dump: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("write dump: %w", err)
	}
	return stream.Wait()
}

// uploadArchive streams the container straight into storage so a remote
// destination never needs a second on-disk copy.
func (o *Orchestrator) uploadArchive(ctx context.Context, builder *archive.Builder, key string, in archive.Input) error {
	pipeReader, pipeWriter := io.Pipe()
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		defer pipeReader.Close()
		return o.Storage.Put(egCtx, key, pipeReader, -1, map[string]string{"sitepack-archive": "true"})
	})
	eg.Go(func() error {
		if err := builder.Write(pipeWriter, o.Cfg.Archive.Password, in); err != nil {
			pipeWriter.CloseWithError(err)
			return err
		}
		return pipeWriter.Close()
	})
	return eg.Wait()
}

func (o *Orchestrator) connFromEnv(env *envfile.File) db.ConnInfo {
	conn := db.ConnInfo{Host: o.Cfg.Database.Host, Port: o.Cfg.Database.Port}
	if v, ok := env.Get("DB_HOST"); ok && v != "" {
		conn.Host = v
	}
	if v, ok := env.Get("DB_PORT"); ok && v != "" {
		if port, convErr := strconv.Atoi(v); convErr == nil {
			conn.Port = port
		}
	}
	if v, ok := env.Get("DB_DATABASE"); ok {
		conn.Database = v
	}
	if v, ok := env.Get("DB_USERNAME"); ok {
		conn.Username = v
	}
	if v, ok := env.Get("DB_PASSWORD"); ok {
		conn.Password = v
	}
	if o.Cfg.Database.Username != "" {
		conn.Username = o.Cfg.Database.Username
	}
	if o.Cfg.Database.Password != "" {
		conn.Password = o.Cfg.Database.Password
	}
	return conn
}

func domainFromEnv(env *envfile.File) string {
	raw, ok := env.Get("APP_URL")
	if !ok || raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

func (o *Orchestrator) sendEvent(domain string, start time.Time, res *Result, err error) {
	if o.Notifier == nil {
		return
	}
	event := notify.Event{
		Type:      "backup",
		Message:   fmt.Sprintf("backup %s", domain),
		Status:    statusFromErr(err),
		Domain:    domain,
		StartedAt: start,
		EndedAt:   time.Now(),
		Duration:  time.Since(start).String(),
	}
	if res != nil {
		event.Key = res.Key
	}
	if err != nil {
		event.Error = err.Error()
	}
	_ = o.Notifier.Notify(context.Background(), event)
}

func statusFromErr(err error) string {
	if err == nil {
		return "success"
	}
	return "failed"
}
