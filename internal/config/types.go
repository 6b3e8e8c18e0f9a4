package config

import "time"

// Config is the root configuration schema.
type Config struct {
	Global        GlobalConfig        `mapstructure:"global"`
	Project       ProjectConfig       `mapstructure:"project"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Merge         MergeConfig         `mapstructure:"merge"`
	Restore       RestoreConfig       `mapstructure:"restore"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Schedule      ScheduleConfig      `mapstructure:"schedule"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	ControlPlane  ControlPlaneConfig  `mapstructure:"control_plane"`
}

type GlobalConfig struct {
	LogLevel          string        `mapstructure:"log_level"`
	LogFormat         string        `mapstructure:"log_format"` // json or console
	LockFile          string        `mapstructure:"lock_file"`
	ScratchDir        string        `mapstructure:"scratch_dir"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`
	ConfigPassphrase  string        `mapstructure:"config_passphrase"` // optional; may come from env
	AllowMissingTools bool          `mapstructure:"allow_missing_tools"`
}

type ProjectConfig struct {
	Domain     string `mapstructure:"domain"`
	Root       string `mapstructure:"root"`
	Marker     string `mapstructure:"marker"`      // file that identifies a project root
	EnvFile    string `mapstructure:"env_file"`    // relative to the project root
	StorageDir string `mapstructure:"storage_dir"` // relative to the project root
}

// DatabaseConfig overrides connection parameters that would otherwise
// be read from the site's environment file.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ArchiveConfig struct {
	Password    string `mapstructure:"password"`
	Compression string `mapstructure:"compression"` // none, gzip, zstd
	Output      string `mapstructure:"output"`      // write the archive here instead of storage
}

type MergeConfig struct {
	ServerLocalKeys []string `mapstructure:"server_local_keys"`
	Policy          string   `mapstructure:"policy"` // interactive or forced
}

type RestoreConfig struct {
	AssumeYes          bool     `mapstructure:"assume_yes"`
	PermissionCommands []string `mapstructure:"permission_commands"`
	FinishCommands     []string `mapstructure:"finish_commands"`
}

type StorageConfig struct {
	Backend string     `mapstructure:"backend"` // local, s3
	Local   LocalStore `mapstructure:"local"`
	S3      S3Store    `mapstructure:"s3"`
	Prefix  string     `mapstructure:"prefix"`
}

type LocalStore struct {
	Path string `mapstructure:"path"`
}

type S3Store struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	SessionToken    string `mapstructure:"session_token"`
	TLSInsecureSkip bool   `mapstructure:"tls_insecure_skip"`
}

type ScheduleConfig struct {
	WindowStart string `mapstructure:"window_start"` // HH:MM local time
	WindowEnd   string `mapstructure:"window_end"`
	Timezone    string `mapstructure:"timezone"`
}

type NotificationsConfig struct {
	Webhooks []WebhookConfig `mapstructure:"webhooks"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type ControlPlaneConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}
