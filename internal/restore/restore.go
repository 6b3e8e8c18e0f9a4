// Package restore drives the restore pipeline as an explicit state
// machine: extract, confirm, merge configuration, confirm again, load
// the database, swap the storage tree, then run fix-up commands.
package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/sitepack/sitepack/internal/archive"
	"github.com/sitepack/sitepack/internal/config"
	"github.com/sitepack/sitepack/internal/db"
	"github.com/sitepack/sitepack/internal/envfile"
	"github.com/sitepack/sitepack/internal/lock"
	"github.com/sitepack/sitepack/internal/manifest"
	"github.com/sitepack/sitepack/internal/notify"
	"github.com/sitepack/sitepack/internal/project"
	"github.com/sitepack/sitepack/internal/prompt"
	"github.com/sitepack/sitepack/internal/reconcile"
	"github.com/sitepack/sitepack/internal/snapshot"
	"github.com/sitepack/sitepack/internal/util"
)

// State names the current stage of a restore run.
type State string

const (
	StateIdle                   State = "idle"
	StateExtracting             State = "extracting"
	StateManifestRead           State = "manifest_read"
	StateAwaitingConfirmation   State = "awaiting_confirmation"
	StateMergingConfig          State = "merging_config"
	StateAwaitingDbConfirmation State = "awaiting_db_confirmation"
	StateRestoringDb            State = "restoring_db"
	StateRestoringStorage       State = "restoring_storage"
	StateFixingPermissions      State = "fixing_permissions"
	StateDone                   State = "done"
	StateAborted                State = "aborted"
)

var (
	// ErrAborted indicates the operator declined a confirmation gate.
	ErrAborted = errors.New("restore aborted")
	// ErrInvalidArchive indicates the archive could not be opened or its
	// manifest could not be read.
	ErrInvalidArchive = errors.New("invalid archive")
)

type Orchestrator struct {
	Cfg      *config.Config
	Prompter prompt.Prompter
	Log      zerolog.Logger
	Notifier notify.Notifier

	// NewAdapter is swappable for tests; defaults to db.NewAdapter.
	NewAdapter func(engine string, allowMissingTools bool) (db.Adapter, error)

	state State
}

func New(cfg *config.Config, prompter prompt.Prompter, log zerolog.Logger, notifier notify.Notifier) *Orchestrator {
	return &Orchestrator{
		Cfg:        cfg,
		Prompter:   prompter,
		Log:        log,
		Notifier:   notifier,
		NewAdapter: db.NewAdapter,
		state:      StateIdle,
	}
}

// State returns the stage the last Run reached.
func (o *Orchestrator) State() State { return o.state }

// Result summarizes what a finished restore touched.
type Result struct {
	Manifest        manifest.Manifest
	ConfigSnapshot  string
	StorageSnapshot string
	Decisions       []reconcile.Decision
	DatabaseLoaded  bool
	StorageRestored bool
}

// Run restores the archive at archivePath into the destination project.
// The run stops with ErrAborted if the operator declines either
// confirmation gate; everything before the second gate is read-only
// apart from the merged configuration and its snapshot.
func (o *Orchestrator) Run(ctx context.Context, archivePath string) (res *Result, err error) {
	start := time.Now()
	res = &Result{}
	domain := ""
	defer func() {
		o.sendEvent(domain, start, err)
	}()

	guard, lockErr := lock.Acquire(o.Cfg.Global.LockFile)
	if lockErr != nil {
		return nil, lockErr
	}
	defer guard.Release()

	o.setState(StateExtracting)
	reader, err := archive.Open(archivePath, o.Cfg.Archive.Password)
	if err != nil {
		if errors.Is(err, archive.ErrWrongPassword) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}

	scratch, err := os.MkdirTemp(o.Cfg.Global.ScratchDir, "sitepack-restore-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := reader.ExtractAll(scratch); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}

	o.setState(StateManifestRead)
	m := reader.Manifest()
	res.Manifest = m
	domain = m.Domain
	o.Log.Info().
		Str("domain", m.Domain).
		Time("created_at", m.CreatedAt).
		Str("db_database", m.DBDatabase).
		Int64("storage_size_mb", m.StorageSizeMB).
		Msg("archive manifest")

	root := o.destinationRoot()

	o.setState(StateAwaitingConfirmation)
	question := fmt.Sprintf("restore backup of %s (created %s) into %s?",
		m.Domain, m.CreatedAt.Format(time.RFC3339), root)
	ok, err := o.confirm(question)
	if err != nil {
		return nil, err
	}
	if !ok {
		o.setState(StateAborted)
		return nil, ErrAborted
	}

	o.setState(StateMergingConfig)
	if err := o.mergeConfig(scratch, root, res); err != nil {
		return nil, err
	}

	dumpPath := filepath.Join(scratch, archive.MemberDatabase)
	hasDump := fileExists(dumpPath)
	if hasDump {
		o.setState(StateAwaitingDbConfirmation)
		ok, err := o.confirm(fmt.Sprintf("overwrite database %q with the archived dump?", m.DBDatabase))
		if err != nil {
			return nil, err
		}
		if !ok {
			o.setState(StateAborted)
			return nil, ErrAborted
		}

		o.setState(StateRestoringDb)
		if err := o.restoreDatabase(ctx, m, root, dumpPath); err != nil {
			return nil, err
		}
		res.DatabaseLoaded = true
		o.Log.Info().Str("database", m.DBDatabase).Msg("database restored")
	} else {
		o.Log.Warn().Msg("archive carries no database dump, skipping database restore")
	}

	o.setState(StateRestoringStorage)
	if err := o.restoreStorage(scratch, root, res); err != nil {
		return nil, err
	}

	o.setState(StateFixingPermissions)
	o.runFixups(ctx, root)

	o.setState(StateDone)
	return res, nil
}

func (o *Orchestrator) setState(s State) {
	o.state = s
	o.Log.Debug().Str("state", string(s)).Msg("restore state")
}

func (o *Orchestrator) confirm(question string) (bool, error) {
	if o.Cfg.Restore.AssumeYes {
		return true, nil
	}
	return o.Prompter.Confirm(question, false)
}

// destinationRoot prefers a located project root but falls back to the
// configured root verbatim so restores onto a freshly provisioned host
// still work.
func (o *Orchestrator) destinationRoot() string {
	start := o.Cfg.Project.Root
	if start == "" {
		start = "."
	}
	root, err := project.Locate(start, o.Cfg.Project.Marker)
	if err != nil {
		o.Log.Warn().Str("root", start).Msg("no project marker found, using configured root as-is")
		abs, absErr := filepath.Abs(start)
		if absErr != nil {
			return start
		}
		return abs
	}
	return root
}

func (o *Orchestrator) mergeConfig(scratch, root string, res *Result) error {
	backupPath := filepath.Join(scratch, archive.MemberConfig)
	if !fileExists(backupPath) {
		o.Log.Warn().Msg("archive carries no configuration, skipping config merge")
		return nil
	}
	backupBytes, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read archived config: %w", err)
	}

	destPath := filepath.Join(root, o.Cfg.Project.EnvFile)
	if !fileExists(destPath) {
		// Nothing to reconcile against; the archived file lands verbatim
		// and the operator reviews the server-local values by hand.
		if err := util.CopyFile(backupPath, destPath, 0o600); err != nil {
			return err
		}
		o.Log.Warn().Str("path", destPath).Msg("no destination config existed, archived config copied verbatim; review server-local values")
		return nil
	}

	snap, err := snapshot.File(destPath)
	if err != nil {
		return err
	}
	res.ConfigSnapshot = snap
	o.Log.Info().Str("snapshot", snap).Msg("destination config snapshotted")

	destBytes, err := os.ReadFile(destPath)
	if err != nil {
		return fmt.Errorf("read destination config: %w", err)
	}

	merger := &reconcile.Merger{
		ServerLocal: reconcile.ServerLocalSet(o.Cfg.Merge.ServerLocalKeys),
		Policy:      policyFromConfig(o.Cfg.Merge.Policy),
		Prompter:    o.Prompter,
	}
	merged, decisions, err := merger.Merge(envfile.Parse(backupBytes), envfile.Parse(destBytes))
	if err != nil {
		return err
	}
	res.Decisions = decisions
	for _, d := range decisions {
		o.Log.Debug().
			Str("key", d.Key).
			Str("resolution", string(d.Resolution)).
			Msg("config merge decision")
	}

	if err := os.WriteFile(destPath, merged.Serialize(), 0o600); err != nil {
		return fmt.Errorf("write merged config: %w", err)
	}
	o.Log.Info().Int("keys", merged.Len()).Msg("configuration merged")
	return nil
}

func policyFromConfig(policy string) reconcile.Policy {
	if policy == "forced" {
		return reconcile.PolicyForced
	}
	return reconcile.PolicyInteractive
}

// restoreDatabase streams the extracted dump into the destination engine
// using the connection from the merged configuration, so the load always
// targets this host's database.
func (o *Orchestrator) restoreDatabase(ctx context.Context, m manifest.Manifest, root, dumpPath string) error {
	adapter, err := o.newAdapter(m.DBConnection)
	if err != nil {
		return err
	}
	conn, err := o.connFromDestination(root, m)
	if err != nil {
		return err
	}
	if err := adapter.Validate(ctx, conn); err != nil {
		return err
	}

	dump, err := os.Open(dumpPath)
	if err != nil {
		return fmt.Errorf("open dump: %w", err)
	}
	defer dump.Close()

	stream, err := adapter.Restore(ctx, conn)
	if err != nil {
		return err
	}
	if _, err := io.Copy(stream.Writer, dump); err != nil {
		stream.Writer.Close()
		stream.Wait()
		return fmt.Errorf("stream dump: %w", err)
	}
	if err := stream.Writer.Close(); err != nil {
		return fmt.Errorf("stream dump: %w", err)
	}
	return stream.Wait()
}

func (o *Orchestrator) newAdapter(engine string) (db.Adapter, error) {
	factory := o.NewAdapter
	if factory == nil {
		factory = db.NewAdapter
	}
	return factory(engine, o.Cfg.Global.AllowMissingTools)
}

func (o *Orchestrator) connFromDestination(root string, m manifest.Manifest) (db.ConnInfo, error) {
	conn := db.ConnInfo{
		Host:     o.Cfg.Database.Host,
		Port:     o.Cfg.Database.Port,
		Username: o.Cfg.Database.Username,
		Password: o.Cfg.Database.Password,
		Database: m.DBDatabase,
	}
	env, err := project.ReadEnv(root, o.Cfg.Project.EnvFile)
	if err != nil {
		// No destination config; connection overrides must suffice.
		return conn, nil
	}
	if v, ok := env.Get("DB_HOST"); ok && v != "" {
		conn.Host = v
	}
	if v, ok := env.Get("DB_PORT"); ok && v != "" {
		if port, convErr := strconv.Atoi(v); convErr == nil {
			conn.Port = port
		}
	}
	if v, ok := env.Get("DB_DATABASE"); ok && v != "" {
		conn.Database = v
	}
	if v, ok := env.Get("DB_USERNAME"); ok && v != "" && o.Cfg.Database.Username == "" {
		conn.Username = v
	}
	if v, ok := env.Get("DB_PASSWORD"); ok && v != "" && o.Cfg.Database.Password == "" {
		conn.Password = v
	}
	return conn, nil
}

func (o *Orchestrator) restoreStorage(scratch, root string, res *Result) error {
	src := filepath.Join(scratch, "storage")
	if !dirExists(src) {
		o.Log.Warn().Msg("archive carries no storage tree, skipping storage restore")
		return nil
	}

	dest := filepath.Join(root, o.Cfg.Project.StorageDir)
	if dirExists(dest) {
		moved, err := snapshot.MoveDir(dest)
		if err != nil {
			return err
		}
		res.StorageSnapshot = moved
		o.Log.Info().Str("snapshot", moved).Msg("existing storage tree moved aside")
	}
	if err := util.CopyTree(src, dest); err != nil {
		return fmt.Errorf("restore storage tree: %w", err)
	}
	res.StorageRestored = true
	o.Log.Info().Str("path", dest).Msg("storage tree restored")
	return nil
}

// runFixups executes the configured permission and finish commands.
// Failures are reported but never fail the restore; the data is already
// in place by this point.
func (o *Orchestrator) runFixups(ctx context.Context, root string) {
	for _, line := range append(append([]string{}, o.Cfg.Restore.PermissionCommands...), o.Cfg.Restore.FinishCommands...) {
		out, err := util.RunCommand(ctx, root, line)
		if err != nil {
			o.Log.Warn().Str("command", line).Str("output", out).Err(err).Msg("fix-up command failed")
			continue
		}
		o.Log.Debug().Str("command", line).Msg("fix-up command finished")
	}
}

func (o *Orchestrator) sendEvent(domain string, start time.Time, err error) {
	if o.Notifier == nil {
		return
	}
	event := notify.Event{
		Type:      "restore",
		Message:   fmt.Sprintf("restore %s", domain),
		Status:    statusFromErr(err),
		Domain:    domain,
		StartedAt: start,
		EndedAt:   time.Now(),
		Duration:  time.Since(start).String(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	_ = o.Notifier.Notify(context.Background(), event)
}

func statusFromErr(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrAborted):
		return "aborted"
	default:
		return "failed"
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
