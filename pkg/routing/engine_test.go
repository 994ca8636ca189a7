package routing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"kestrel-hq/kestrel/pkg/wire"
)

const testRulesYAML = `
rules:
  - name: english
    match:
      language: en
    backends: [whisper-en, fallback]
  - name: default
    backends: [fallback]
`

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(testRulesYAML))
	if err != nil {
		t.Fatalf("ParseRules() error = %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("ParseRules() returned %d rules, want 2", len(rules))
	}
	if rules[0].Name != "english" || rules[0].Match.Language != "en" {
		t.Errorf("rule 0 = %+v, want english/en", rules[0])
	}
	if !rules[1].Match.IsCatchAll() {
		t.Error("rule 1 should be a catch-all")
	}
}

func TestParseRulesMalformed(t *testing.T) {
	if _, err := ParseRules([]byte("rules: [not: {valid")); err == nil {
		t.Error("ParseRules() accepted malformed YAML")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(testRulesYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadFile(path, testBackends)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if table.Len() != 2 {
		t.Errorf("table has %d rules, want 2", table.Len())
	}
}

func TestLoadFileUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := "rules:\n  - backends: [nonexistent]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path, testBackends); err == nil {
		t.Error("LoadFile() accepted rule with unknown backend")
	}
}

func TestEngineSwap(t *testing.T) {
	first, err := NewTable([]Rule{
		{Match: Predicate{Language: "en"}, Backends: []string{"whisper-en"}},
	}, testBackends)
	if err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(first)

	snap := engine.Snapshot()
	if got := snap.Route(wire.SessionAttributes{Language: "en"}); len(got) != 1 || got[0] != "whisper-en" {
		t.Fatalf("Route() = %v, want [whisper-en]", got)
	}

	second, err := NewTable([]Rule{
		{Match: Predicate{Language: "en"}, Backends: []string{"fallback"}},
	}, testBackends)
	if err != nil {
		t.Fatal(err)
	}
	engine.Load(second)

	// The held snapshot is unaffected by the swap.
	if got := snap.Route(wire.SessionAttributes{Language: "en"}); got[0] != "whisper-en" {
		t.Errorf("held snapshot Route() = %v, want [whisper-en]", got)
	}
	if got := engine.Snapshot().Route(wire.SessionAttributes{Language: "en"}); got[0] != "fallback" {
		t.Errorf("new snapshot Route() = %v, want [fallback]", got)
	}
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(testRulesYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadFile(path, testBackends)
	if err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(table)

	w, err := NewWatcher(path, engine, testBackends, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	updated := "rules:\n  - match:\n      language: ko\n    backends: [whisper-ko]\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		got := engine.Snapshot().Route(wire.SessionAttributes{Language: "ko"})
		if len(got) == 1 && got[0] == "whisper-ko" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("watcher did not reload rules within deadline")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestWatcherKeepsTableOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(testRulesYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadFile(path, testBackends)
	if err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(table)

	w, err := NewWatcher(path, engine, testBackends, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("rules: [{backends: [missing]}]"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Give the watcher time to observe and reject the bad file.
	time.Sleep(500 * time.Millisecond)

	if got := engine.Snapshot().Route(wire.SessionAttributes{Language: "en"}); len(got) == 0 {
		t.Error("invalid reload replaced the previous table")
	}
}
