package util

import (
	"path"
	"strings"
	"time"
)

// BuildArchiveKey constructs a normalized object key for one archive,
// grouping backups by domain.
func BuildArchiveKey(prefix, domain string, when time.Time, extension string) string {
	parts := []string{}
	if prefix != "" {
		parts = append(parts, strings.Trim(prefix, "/"))
	}
	parts = append(parts, domain, when.UTC().Format("20060102T150405Z")+extension)
	return path.Join(parts...)
}

// BuildDomainPrefix builds the key prefix for listing one domain's
// archives.
func BuildDomainPrefix(prefix, domain string) string {
	parts := []string{}
	if prefix != "" {
		parts = append(parts, strings.Trim(prefix, "/"))
	}
	if domain != "" {
		parts = append(parts, domain)
	}
	return path.Join(parts...)
}
