package manifest

import (
	"errors"
	"testing"
)

func TestBuildDefaults(t *testing.T) {
	m := Build(BuildInput{Domain: "example.com", DBConnection: "mysql", DBDatabase: "exdb"})
	if m.PHPVersion != "unknown" {
		t.Fatalf("expected php version fallback, got %q", m.PHPVersion)
	}
	if m.CreatedAt.IsZero() {
		t.Fatalf("created_at not stamped")
	}
	if m.CreatedAt.Location().String() != "UTC" {
		t.Fatalf("created_at not UTC: %v", m.CreatedAt.Location())
	}
}

func TestReadRoundTrip(t *testing.T) {
	m := Build(BuildInput{
		Domain:        "example.com",
		DBConnection:  "mysql",
		DBDatabase:    "exdb",
		ProjectRoot:   "/var/www/example.com",
		StorageSizeMB: 42,
		GitRemote:     "git@example.com:app.git",
		GitBranch:     "main",
		PHPVersion:    "8.3.1",
	})
	data, err := m.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	got, err := Read(data)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !got.CreatedAt.Equal(m.CreatedAt) {
		t.Fatalf("created_at changed: %v != %v", got.CreatedAt, m.CreatedAt)
	}
	got.CreatedAt = m.CreatedAt
	if got != m {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", got, m)
	}
}

func TestReadMissingRequiredFields(t *testing.T) {
	cases := map[string]string{
		"missing domain":     `{"created_at":"2024-01-01T00:00:00Z","db_database":"exdb"}`,
		"missing created_at": `{"domain":"example.com","db_database":"exdb"}`,
		"missing db name":    `{"domain":"example.com","created_at":"2024-01-01T00:00:00Z"}`,
	}
	for name, payload := range cases {
		if _, err := Read([]byte(payload)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestReadBadStorageSize(t *testing.T) {
	payload := `{"domain":"example.com","created_at":"2024-01-01T00:00:00Z","db_database":"exdb","storage_size_mb":"abc"}`
	if _, err := Read([]byte(payload)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for non-numeric size, got %v", err)
	}

	payload = `{"domain":"example.com","created_at":"2024-01-01T00:00:00Z","db_database":"exdb","storage_size_mb":-1}`
	if _, err := Read([]byte(payload)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for negative size, got %v", err)
	}
}

func TestReadNotJSON(t *testing.T) {
	if _, err := Read([]byte("not json")); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
