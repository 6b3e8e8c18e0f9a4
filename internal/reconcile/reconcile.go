// Package reconcile merges a backup's configuration into a destination
// configuration without a common ancestor: value equality plus a set of
// designated server-local keys decide most entries, and a Prompter
// settles the rest.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/sitepack/sitepack/internal/envfile"
	"github.com/sitepack/sitepack/internal/prompt"
)

type Policy int

const (
	// PolicyInteractive asks the prompter to settle conflicting keys.
	PolicyInteractive Policy = iota
	// PolicyForced keeps the destination value on every conflict.
	PolicyForced
)

// Resolution classifies the outcome for one key.
type Resolution string

const (
	KeptDestinationOnly        Resolution = "kept_destination_only"
	AddedFromBackupOnly        Resolution = "added_from_backup_only"
	IdenticalKept              Resolution = "identical_kept"
	ServerLocalKeptDestination Resolution = "server_local_kept_destination"
	ForcedKeptDestination      Resolution = "forced_kept_destination"
	UserChoseBackup            Resolution = "user_chose_backup"
	UserChoseDestination       Resolution = "user_chose_destination"
)

// Decision records the merge outcome for one key.
type Decision struct {
	Key              string
	BackupValue      string
	DestinationValue string
	Resolution       Resolution
}

// DefaultServerLocalKeys returns the keys whose values are bound to the
// hosting environment and must never travel with the application:
// database connection, cache/queue/session backends, mail transport,
// and the public base URL.
func DefaultServerLocalKeys() map[string]struct{} {
	keys := []string{
		"APP_URL",
		"DB_CONNECTION", "DB_HOST", "DB_PORT", "DB_DATABASE", "DB_USERNAME", "DB_PASSWORD",
		"CACHE_DRIVER", "CACHE_STORE",
		"SESSION_DRIVER", "SESSION_DOMAIN",
		"QUEUE_CONNECTION",
		"REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD",
		"MAIL_MAILER", "MAIL_HOST", "MAIL_PORT", "MAIL_USERNAME", "MAIL_PASSWORD", "MAIL_ENCRYPTION",
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// ServerLocalSet builds a key set from a list, falling back to the
// default set when the list is empty.
func ServerLocalSet(keys []string) map[string]struct{} {
	if len(keys) == 0 {
		return DefaultServerLocalKeys()
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// Merger performs three-way configuration reconciliation.
type Merger struct {
	ServerLocal map[string]struct{}
	Policy      Policy
	Prompter    prompt.Prompter
}

// Merge walks the union of both key sets in sorted order and produces
// the merged file plus one decision per key. For fixed prompter answers
// the output is fully determined by the inputs.
func (m *Merger) Merge(backup, destination *envfile.File) (*envfile.File, []Decision, error) {
	merged := envfile.New()
	decisions := make([]Decision, 0, backup.Len()+destination.Len())

	for _, key := range unionKeys(backup, destination) {
		backupValue, inBackup := backup.Get(key)
		destValue, inDest := destination.Get(key)

		decision := Decision{Key: key, BackupValue: backupValue, DestinationValue: destValue}
		switch {
		case inBackup && !inDest:
			merged.Set(key, backupValue)
			decision.Resolution = AddedFromBackupOnly
		case !inBackup && inDest:
			merged.Set(key, destValue)
			decision.Resolution = KeptDestinationOnly
		case backupValue == destValue:
			merged.Set(key, destValue)
			decision.Resolution = IdenticalKept
		default:
			resolution, value, err := m.resolveConflict(key, backupValue, destValue)
			if err != nil {
				return nil, nil, err
			}
			merged.Set(key, value)
			decision.Resolution = resolution
		}
		decisions = append(decisions, decision)
	}
	return merged, decisions, nil
}

func (m *Merger) resolveConflict(key, backupValue, destValue string) (Resolution, string, error) {
	if _, serverLocal := m.ServerLocal[key]; serverLocal {
		return ServerLocalKeptDestination, destValue, nil
	}
	if m.Policy == PolicyForced {
		return ForcedKeptDestination, destValue, nil
	}

	question := fmt.Sprintf("%s differs between backup and destination", key)
	options := []string{
		fmt.Sprintf("keep destination value %q", destValue),
		fmt.Sprintf("use backup value %q", backupValue),
	}
	choice, err := m.Prompter.Choose(question, options, 0)
	if err != nil {
		return "", "", fmt.Errorf("resolve %s: %w", key, err)
	}
	if choice == 1 {
		return UserChoseBackup, backupValue, nil
	}
	return UserChoseDestination, destValue, nil
}

func unionKeys(a, b *envfile.File) []string {
	seen := map[string]struct{}{}
	keys := []string{}
	for _, key := range a.Keys() {
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	for _, key := range b.Keys() {
		if _, ok := seen[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
