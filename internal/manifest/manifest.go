package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sitepack/sitepack/internal/version"
)

// ErrMalformed indicates a manifest that is missing required fields or
// carries fields of the wrong type.
var ErrMalformed = errors.New("malformed manifest")

// Manifest describes one backup archive. It is created once at backup
// time and read back verbatim on restore; it is never mutated.
type Manifest struct {
	Domain        string    `json:"domain"`
	CreatedAt     time.Time `json:"created_at"`
	ScriptVersion string    `json:"script_version"`
	PHPVersion    string    `json:"php_version"`
	DBConnection  string    `json:"db_connection"`
	DBDatabase    string    `json:"db_database"`
	GitRemote     string    `json:"git_remote"`
	GitBranch     string    `json:"git_branch"`
	StorageSizeMB int64     `json:"storage_size_mb"`
	ProjectRoot   string    `json:"project_root"`
}

// BuildInput carries the best-effort metadata gathered before a backup.
type BuildInput struct {
	Domain        string
	DBConnection  string
	DBDatabase    string
	ProjectRoot   string
	StorageSizeMB int64
	GitRemote     string
	GitBranch     string
	PHPVersion    string
}

// Build assembles a manifest, stamping the creation time as current UTC.
// PHP version falls back to "unknown" when undetectable; git metadata
// stays empty when unavailable.
func Build(in BuildInput) Manifest {
	phpVersion := in.PHPVersion
	if phpVersion == "" {
		phpVersion = "unknown"
	}
	return Manifest{
		Domain:        in.Domain,
		CreatedAt:     time.Now().UTC(),
		ScriptVersion: version.Version,
		PHPVersion:    phpVersion,
		DBConnection:  in.DBConnection,
		DBDatabase:    in.DBDatabase,
		GitRemote:     in.GitRemote,
		GitBranch:     in.GitBranch,
		StorageSizeMB: in.StorageSizeMB,
		ProjectRoot:   in.ProjectRoot,
	}
}

// Read parses and validates manifest bytes.
func Read(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Domain == "" {
		return Manifest{}, fmt.Errorf("%w: domain is required", ErrMalformed)
	}
	if m.CreatedAt.IsZero() {
		return Manifest{}, fmt.Errorf("%w: created_at is required", ErrMalformed)
	}
	if m.DBDatabase == "" {
		return Manifest{}, fmt.Errorf("%w: db_database is required", ErrMalformed)
	}
	if m.StorageSizeMB < 0 {
		return Manifest{}, fmt.Errorf("%w: storage_size_mb must be non-negative", ErrMalformed)
	}
	return m, nil
}

// Serialize renders the manifest as indented JSON.
func (m Manifest) Serialize() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
