package routing

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Engine owns the process-wide current rule table. Reads are lock-free
// snapshot loads; Load swaps the whole table atomically so concurrent readers
// never observe a partially-updated rule list.
type Engine struct {
	table atomic.Pointer[Table]
}

// NewEngine creates an engine serving the given initial table.
func NewEngine(table *Table) *Engine {
	e := &Engine{}
	e.table.Store(table)
	return e
}

// Snapshot returns the current immutable table. Sessions call this once at
// creation and route against the same snapshot for their whole lifetime.
func (e *Engine) Snapshot() *Table {
	return e.table.Load()
}

// Load atomically replaces the current table. In-flight sessions keep the
// snapshot they already hold.
func (e *Engine) Load(table *Table) {
	e.table.Store(table)
}

// rulesFile is the on-disk shape of the rules document.
type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// ParseRules parses a YAML rules document into its ordered rule list.
func ParseRules(data []byte) ([]Rule, error) {
	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return doc.Rules, nil
}

// LoadFile reads, parses, and validates a rules file against the configured
// backend names, returning an immutable table.
func LoadFile(path string, backends map[string]bool) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %q: %w", path, err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("rules file %q: %w", path, err)
	}
	table, err := NewTable(rules, backends)
	if err != nil {
		return nil, fmt.Errorf("rules file %q: %w", path, err)
	}
	return table, nil
}
