package reconcile

import (
	"reflect"
	"sort"
	"testing"

	"github.com/sitepack/sitepack/internal/envfile"
	"github.com/sitepack/sitepack/internal/prompt"
)

// scriptedPrompter always answers Choose with a fixed index.
type scriptedPrompter struct {
	choice int
	asked  int
}

func (s *scriptedPrompter) Confirm(_ string, def bool) (bool, error) { return def, nil }

func (s *scriptedPrompter) Choose(_ string, _ []string, _ int) (int, error) {
	s.asked++
	return s.choice, nil
}

func fileOf(pairs ...string) *envfile.File {
	f := envfile.New()
	for i := 0; i+1 < len(pairs); i += 2 {
		f.Set(pairs[i], pairs[i+1])
	}
	return f
}

func mustValue(t *testing.T, f *envfile.File, key, want string) {
	t.Helper()
	got, ok := f.Get(key)
	if !ok {
		t.Fatalf("key %s missing from merged output", key)
	}
	if got != want {
		t.Fatalf("key %s: got %q, want %q", key, got, want)
	}
}

func TestForcedMergeScenario(t *testing.T) {
	backup := fileOf("APP_URL", "https://old.com", "FOO", "1")
	dest := fileOf("APP_URL", "https://new.com", "FOO", "1", "BAR", "2")

	m := &Merger{
		ServerLocal: ServerLocalSet([]string{"APP_URL"}),
		Policy:      PolicyForced,
		Prompter:    prompt.Forced{},
	}
	merged, decisions, err := m.Merge(backup, dest)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	mustValue(t, merged, "APP_URL", "https://new.com")
	mustValue(t, merged, "FOO", "1")
	mustValue(t, merged, "BAR", "2")
	if merged.Len() != 3 {
		t.Fatalf("unexpected merged size: %d", merged.Len())
	}

	got := map[string]Resolution{}
	for _, d := range decisions {
		got[d.Key] = d.Resolution
	}
	want := map[string]Resolution{
		"APP_URL": ServerLocalKeptDestination,
		"FOO":     IdenticalKept,
		"BAR":     KeptDestinationOnly,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("decisions mismatch:\n%v\n%v", got, want)
	}
}

func TestBackupOnlyKey(t *testing.T) {
	m := &Merger{ServerLocal: DefaultServerLocalKeys(), Policy: PolicyForced, Prompter: prompt.Forced{}}
	merged, decisions, err := m.Merge(fileOf("NEW_KEY", "x"), envfile.New())
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	mustValue(t, merged, "NEW_KEY", "x")
	if len(decisions) != 1 || decisions[0].Resolution != AddedFromBackupOnly {
		t.Fatalf("unexpected decisions: %+v", decisions)
	}
}

func TestOutputIsUnionOfKeys(t *testing.T) {
	backup := fileOf("A", "1", "B", "2", "C", "3")
	dest := fileOf("B", "2", "C", "9", "D", "4")

	m := &Merger{ServerLocal: DefaultServerLocalKeys(), Policy: PolicyForced, Prompter: prompt.Forced{}}
	merged, decisions, err := m.Merge(backup, dest)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	want := []string{"A", "B", "C", "D"}
	got := merged.Keys()
	sort.Strings(got)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("merged key set %v != union %v", got, want)
	}
	if len(decisions) != len(want) {
		t.Fatalf("expected one decision per key, got %d", len(decisions))
	}
}

func TestServerLocalPrecedenceOverPolicy(t *testing.T) {
	backup := fileOf("DB_HOST", "10.0.0.1")
	dest := fileOf("DB_HOST", "127.0.0.1")

	for _, policy := range []Policy{PolicyForced, PolicyInteractive} {
		p := &scriptedPrompter{choice: 1}
		m := &Merger{ServerLocal: DefaultServerLocalKeys(), Policy: policy, Prompter: p}
		merged, decisions, err := m.Merge(backup, dest)
		if err != nil {
			t.Fatalf("merge: %v", err)
		}
		mustValue(t, merged, "DB_HOST", "127.0.0.1")
		if decisions[0].Resolution != ServerLocalKeptDestination {
			t.Fatalf("policy %v: unexpected resolution %s", policy, decisions[0].Resolution)
		}
		if p.asked != 0 {
			t.Fatalf("server-local key must not trigger a prompt")
		}
	}
}

func TestIdenticalValuesSkipPrompt(t *testing.T) {
	p := &scriptedPrompter{choice: 1}
	m := &Merger{ServerLocal: DefaultServerLocalKeys(), Policy: PolicyInteractive, Prompter: p}
	_, decisions, err := m.Merge(fileOf("FOO", "same"), fileOf("FOO", "same"))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if decisions[0].Resolution != IdenticalKept {
		t.Fatalf("unexpected resolution: %s", decisions[0].Resolution)
	}
	if p.asked != 0 {
		t.Fatalf("identical values must not trigger a prompt")
	}
}

func TestInteractiveChoices(t *testing.T) {
	backup := fileOf("FEATURE_FLAG", "on")
	dest := fileOf("FEATURE_FLAG", "off")

	m := &Merger{ServerLocal: DefaultServerLocalKeys(), Policy: PolicyInteractive, Prompter: &scriptedPrompter{choice: 1}}
	merged, decisions, err := m.Merge(backup, dest)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	mustValue(t, merged, "FEATURE_FLAG", "on")
	if decisions[0].Resolution != UserChoseBackup {
		t.Fatalf("unexpected resolution: %s", decisions[0].Resolution)
	}

	// Declining (default answer) keeps the destination value.
	m.Prompter = prompt.Forced{}
	merged, decisions, err = m.Merge(backup, dest)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	mustValue(t, merged, "FEATURE_FLAG", "off")
	if decisions[0].Resolution != UserChoseDestination {
		t.Fatalf("unexpected resolution: %s", decisions[0].Resolution)
	}
}

func TestDeterministicForFixedAnswers(t *testing.T) {
	backup := fileOf("Z", "1", "A", "2", "M", "3")
	dest := fileOf("M", "9", "A", "2", "Q", "4")

	run := func() ([]string, []Decision) {
		m := &Merger{ServerLocal: DefaultServerLocalKeys(), Policy: PolicyInteractive, Prompter: &scriptedPrompter{choice: 1}}
		merged, decisions, err := m.Merge(backup, dest)
		if err != nil {
			t.Fatalf("merge: %v", err)
		}
		lines := []string{}
		for _, key := range merged.Keys() {
			v, _ := merged.Get(key)
			lines = append(lines, key+"="+v)
		}
		return lines, decisions
	}

	firstOut, firstDec := run()
	secondOut, secondDec := run()
	if !reflect.DeepEqual(firstOut, secondOut) {
		t.Fatalf("merged output differs between runs:\n%v\n%v", firstOut, secondOut)
	}
	if !reflect.DeepEqual(firstDec, secondDec) {
		t.Fatalf("decision sequences differ between runs")
	}
}

func TestDecisionsInSortedKeyOrder(t *testing.T) {
	backup := fileOf("Z", "1", "A", "2")
	dest := fileOf("M", "3")
	m := &Merger{ServerLocal: DefaultServerLocalKeys(), Policy: PolicyForced, Prompter: prompt.Forced{}}
	_, decisions, err := m.Merge(backup, dest)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	keys := make([]string, len(decisions))
	for i, d := range decisions {
		keys[i] = d.Key
	}
	if !sort.StringsAreSorted(keys) {
		t.Fatalf("decision keys not sorted: %v", keys)
	}
}

func TestServerLocalSetFallsBackToDefault(t *testing.T) {
	set := ServerLocalSet(nil)
	if _, ok := set["APP_URL"]; !ok {
		t.Fatalf("default set should contain APP_URL")
	}
	custom := ServerLocalSet([]string{"ONLY_THIS"})
	if len(custom) != 1 {
		t.Fatalf("custom set should replace the default, got %v", custom)
	}
}
