package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitepack/sitepack/internal/archive"
	"github.com/sitepack/sitepack/internal/backup"
	"github.com/sitepack/sitepack/internal/config"
	"github.com/sitepack/sitepack/internal/envfile"
	"github.com/sitepack/sitepack/internal/hostapi"
	"github.com/sitepack/sitepack/internal/logging"
	"github.com/sitepack/sitepack/internal/notify"
	"github.com/sitepack/sitepack/internal/prompt"
	"github.com/sitepack/sitepack/internal/reconcile"
	"github.com/sitepack/sitepack/internal/restore"
	"github.com/sitepack/sitepack/internal/storage"
	"github.com/sitepack/sitepack/internal/util"
	"github.com/sitepack/sitepack/internal/version"
)

const exitAborted = 3

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

type overrideFlags struct {
	Domain          string
	ProjectRoot     string
	DBHost          string
	DBPort          int
	DBUser          string
	DBPassword      string
	ArchivePassword string
	Storage         string
	LocalPath       string
	Prefix          string
	S3Endpoint      string
	S3Bucket        string
	S3AccessKey     string
	S3SecretKey     string
	S3Region        string
	S3UseSSL        string
	S3PathStyle     string
}

func main() {
	root := &rootFlags{}
	overrides := &overrideFlags{}

	rootCmd := &cobra.Command{
		Use:   "sitepack",
		Short: "Web application migration: encrypted backup archives and guided restores",
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")

	rootCmd.PersistentFlags().StringVar(&overrides.Domain, "domain", "", "Site domain")
	rootCmd.PersistentFlags().StringVar(&overrides.ProjectRoot, "root", "", "Project root (or a directory below it)")
	rootCmd.PersistentFlags().StringVar(&overrides.DBHost, "db-host", "", "Database host")
	rootCmd.PersistentFlags().IntVar(&overrides.DBPort, "db-port", 0, "Database port")
	rootCmd.PersistentFlags().StringVar(&overrides.DBUser, "db-user", "", "Database username")
	rootCmd.PersistentFlags().StringVar(&overrides.DBPassword, "db-password", "", "Database password")
	rootCmd.PersistentFlags().StringVar(&overrides.ArchivePassword, "password", "", "Archive password")

	rootCmd.PersistentFlags().StringVar(&overrides.Storage, "storage", "", "Storage backend (local, s3)")
	rootCmd.PersistentFlags().StringVar(&overrides.LocalPath, "storage-path", "", "Local storage path")
	rootCmd.PersistentFlags().StringVar(&overrides.Prefix, "storage-prefix", "", "Object key prefix")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Endpoint, "s3-endpoint", "", "S3 endpoint (MinIO/OSS)")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Bucket, "s3-bucket", "", "S3 bucket")
	rootCmd.PersistentFlags().StringVar(&overrides.S3AccessKey, "s3-access-key", "", "S3 access key")
	rootCmd.PersistentFlags().StringVar(&overrides.S3SecretKey, "s3-secret-key", "", "S3 secret key")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Region, "s3-region", "", "S3 region")
	rootCmd.PersistentFlags().StringVar(&overrides.S3UseSSL, "s3-ssl", "", "Use SSL for S3 endpoint (true/false)")
	rootCmd.PersistentFlags().StringVar(&overrides.S3PathStyle, "s3-path-style", "", "Force path-style S3 (true/false)")

	rootCmd.AddCommand(newBackupCmd(root, overrides))
	rootCmd.AddCommand(newRestoreCmd(root, overrides))
	rootCmd.AddCommand(newInspectCmd(root, overrides))
	rootCmd.AddCommand(newListCmd(root, overrides))
	rootCmd.AddCommand(newMergeConfigCmd(root, overrides))
	rootCmd.AddCommand(newProvisionCmd(root, overrides))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, restore.ErrAborted) {
			os.Exit(exitAborted)
		}
		os.Exit(1)
	}
}

func newBackupCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var output string
	var compression string
	var retry int
	var retryBackoff time.Duration

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create an encrypted migration archive of the site",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			if output != "" {
				cfg.Archive.Output = output
			}
			if compression != "" {
				cfg.Archive.Compression = strings.ToLower(compression)
			}
			logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
			store, err := storage.New(cfg.Storage)
			if err != nil {
				return err
			}
			orch := backup.New(cfg, store, logger, notify.FromConfig(cfg.Notifications))

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			return util.Retry(ctx, retry, retryBackoff, func() error {
				res, err := orch.Run(ctx)
				if err != nil {
					return err
				}
				location := res.Key
				if location == "" {
					location = res.Path
				}
				logger.Info().
					Str("location", location).
					Str("domain", res.Manifest.Domain).
					Int64("size", res.Size).
					Msg("backup completed")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "Write the archive to this file instead of storage")
	cmd.Flags().StringVar(&compression, "compression", "", "Compression (none/gzip/zstd)")
	cmd.Flags().IntVar(&retry, "retry", 0, "Retry attempts")
	cmd.Flags().DurationVar(&retryBackoff, "retry-backoff", 0, "Retry backoff")
	return cmd
}

func newRestoreCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var file string
	var key string
	var yes bool
	var forced bool

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a migration archive into this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" && key == "" {
				return fmt.Errorf("either --file or --key is required")
			}
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			if yes {
				cfg.Restore.AssumeYes = true
			}
			if forced {
				cfg.Merge.Policy = "forced"
			}
			logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			archivePath := file
			if archivePath == "" {
				archivePath, err = downloadArchive(ctx, cfg, key)
				if err != nil {
					return err
				}
				defer os.Remove(archivePath)
			}

			var prompter prompt.Prompter = prompt.NewTerminal()
			if cfg.Restore.AssumeYes {
				prompter = prompt.Forced{}
			}
			orch := restore.New(cfg, prompter, logger, notify.FromConfig(cfg.Notifications))
			res, err := orch.Run(ctx, archivePath)
			if err != nil {
				if errors.Is(err, restore.ErrAborted) {
					logger.Warn().Msg("restore aborted by operator")
				}
				return err
			}
			event := logger.Info().Str("domain", res.Manifest.Domain)
			if res.ConfigSnapshot != "" {
				event = event.Str("config_snapshot", res.ConfigSnapshot)
			}
			if res.StorageSnapshot != "" {
				event = event.Str("storage_snapshot", res.StorageSnapshot)
			}
			event.Msg("restore completed")
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Archive file to restore")
	cmd.Flags().StringVar(&key, "key", "", "Archive object key to download and restore")
	cmd.Flags().BoolVar(&yes, "yes", false, "Answer yes to all confirmation gates")
	cmd.Flags().BoolVar(&forced, "forced", false, "Keep destination values on every config conflict")
	return cmd
}

func newInspectCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var file string
	var key string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the manifest of an archive without restoring it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" && key == "" {
				return fmt.Errorf("either --file or --key is required")
			}
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			archivePath := file
			if archivePath == "" {
				archivePath, err = downloadArchive(ctx, cfg, key)
				if err != nil {
					return err
				}
				defer os.Remove(archivePath)
			}

			reader, err := archive.Open(archivePath, cfg.Archive.Password)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(reader.Manifest(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Archive file to inspect")
	cmd.Flags().StringVar(&key, "key", "", "Archive object key to download and inspect")
	return cmd
}

func newListCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored archives",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			store, err := storage.New(cfg.Storage)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			items, err := store.List(ctx, util.BuildDomainPrefix(cfg.Storage.Prefix, cfg.Project.Domain))
			if err != nil {
				return err
			}
			for _, item := range items {
				fmt.Printf("%s\t%d\t%s\n", item.Key, item.Size, item.Modified.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newMergeConfigCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var backupFile string
	var destFile string
	var write bool
	var forced bool

	cmd := &cobra.Command{
		Use:   "merge-config",
		Short: "Reconcile a backup config against a destination config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if backupFile == "" || destFile == "" {
				return fmt.Errorf("--backup and --destination are required")
			}
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			if forced {
				cfg.Merge.Policy = "forced"
			}

			backupBytes, err := os.ReadFile(backupFile)
			if err != nil {
				return err
			}
			destBytes, err := os.ReadFile(destFile)
			if err != nil {
				return err
			}

			var prompter prompt.Prompter = prompt.NewTerminal()
			if cfg.Merge.Policy == "forced" {
				prompter = prompt.Forced{}
			}
			merger := &reconcile.Merger{
				ServerLocal: reconcile.ServerLocalSet(cfg.Merge.ServerLocalKeys),
				Policy:      mergePolicy(cfg.Merge.Policy),
				Prompter:    prompter,
			}
			merged, decisions, err := merger.Merge(envfile.Parse(backupBytes), envfile.Parse(destBytes))
			if err != nil {
				return err
			}
			for _, d := range decisions {
				fmt.Fprintf(os.Stderr, "%-40s %s\n", d.Key, d.Resolution)
			}

			if write {
				return os.WriteFile(destFile, merged.Serialize(), 0o600)
			}
			os.Stdout.Write(merged.Serialize())
			return nil
		},
	}

	cmd.Flags().StringVar(&backupFile, "backup", "", "Config file from the backup")
	cmd.Flags().StringVar(&destFile, "destination", "", "Destination config file")
	cmd.Flags().BoolVar(&write, "write", false, "Write the merged result back to the destination file")
	cmd.Flags().BoolVar(&forced, "forced", false, "Keep destination values on every conflict")
	return cmd
}

func newProvisionCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var serverID int64
	var domain string
	var repository string
	var branch string
	var certificate bool

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create and deploy a site through the hosting control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			if cfg.ControlPlane.BaseURL == "" || cfg.ControlPlane.Token == "" {
				return fmt.Errorf("control_plane.base_url and control_plane.token are required")
			}
			if serverID == 0 || domain == "" {
				return fmt.Errorf("--server-id and --site-domain are required")
			}
			logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
			client := hostapi.New(cfg.ControlPlane.BaseURL, cfg.ControlPlane.Token)

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
			defer cancel()

			site, err := client.CreateSite(ctx, serverID, hostapi.CreateSiteRequest{
				Domain:      domain,
				ProjectType: "php",
			})
			if err != nil {
				return err
			}
			logger.Info().Int64("site_id", site.ID).Str("domain", domain).Msg("site created")

			if repository != "" {
				if err := client.InstallRepository(ctx, serverID, site.ID, hostapi.InstallRepositoryRequest{
					Provider:   "github",
					Repository: repository,
					Branch:     branch,
				}); err != nil {
					return err
				}
				logger.Info().Str("repository", repository).Msg("repository installed")

				// Deploy and certificate failures leave a usable site behind,
				// so they only warn.
				if err := client.Deploy(ctx, serverID, site.ID); err != nil {
					logger.Warn().Err(err).Msg("deploy failed, trigger it manually")
				}
			}
			if certificate {
				if err := client.RequestCertificate(ctx, serverID, site.ID, domain); err != nil {
					logger.Warn().Err(err).Msg("certificate request failed, request it manually")
				}
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&serverID, "server-id", 0, "Control-plane server ID")
	cmd.Flags().StringVar(&domain, "site-domain", "", "Domain of the new site")
	cmd.Flags().StringVar(&repository, "repository", "", "Git repository (owner/name)")
	cmd.Flags().StringVar(&branch, "branch", "main", "Git branch to install")
	cmd.Flags().BoolVar(&certificate, "certificate", false, "Request a Let's Encrypt certificate")
	return cmd
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" || output == "" || key == "" {
				return fmt.Errorf("--input, --output, and --key are required")
			}
			return config.EncryptConfigFile(input, output, key)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64 or hex)")

	cmd.AddCommand(encrypt)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sitepack %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

// downloadArchive fetches an object into the scratch directory so the
// restore path is always a local file.
func downloadArchive(ctx context.Context, cfg *config.Config, key string) (string, error) {
	store, err := storage.New(cfg.Storage)
	if err != nil {
		return "", err
	}
	obj, err := store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer obj.Close()

	tmp, err := os.CreateTemp(cfg.Global.ScratchDir, "sitepack-*"+archive.Extension)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, obj); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func mergePolicy(policy string) reconcile.Policy {
	if strings.EqualFold(policy, "forced") {
		return reconcile.PolicyForced
	}
	return reconcile.PolicyInteractive
}

func loadConfig(root *rootFlags, overrides *overrideFlags) (*config.Config, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, root, overrides)
	return cfg, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags, overrides *overrideFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}

	if overrides.Domain != "" {
		cfg.Project.Domain = overrides.Domain
	}
	if overrides.ProjectRoot != "" {
		cfg.Project.Root = overrides.ProjectRoot
	}
	if overrides.DBHost != "" {
		cfg.Database.Host = overrides.DBHost
	}
	if overrides.DBPort != 0 {
		cfg.Database.Port = overrides.DBPort
	}
	if overrides.DBUser != "" {
		cfg.Database.Username = overrides.DBUser
	}
	if overrides.DBPassword != "" {
		cfg.Database.Password = overrides.DBPassword
	}
	if overrides.ArchivePassword != "" {
		cfg.Archive.Password = overrides.ArchivePassword
	}

	if overrides.Storage != "" {
		cfg.Storage.Backend = overrides.Storage
	}
	if overrides.LocalPath != "" {
		cfg.Storage.Local.Path = overrides.LocalPath
	}
	if overrides.Prefix != "" {
		cfg.Storage.Prefix = overrides.Prefix
	}
	if overrides.S3Endpoint != "" {
		cfg.Storage.S3.Endpoint = overrides.S3Endpoint
	}
	if overrides.S3Bucket != "" {
		cfg.Storage.S3.Bucket = overrides.S3Bucket
	}
	if overrides.S3AccessKey != "" {
		cfg.Storage.S3.AccessKey = overrides.S3AccessKey
	}
	if overrides.S3SecretKey != "" {
		cfg.Storage.S3.SecretKey = overrides.S3SecretKey
	}
	if overrides.S3Region != "" {
		cfg.Storage.S3.Region = overrides.S3Region
	}
	if overrides.S3UseSSL != "" {
		cfg.Storage.S3.UseSSL = strings.EqualFold(overrides.S3UseSSL, "true") || overrides.S3UseSSL == "1"
	}
	if overrides.S3PathStyle != "" {
		cfg.Storage.S3.ForcePathStyle = strings.EqualFold(overrides.S3PathStyle, "true") || overrides.S3PathStyle == "1"
	}
}
