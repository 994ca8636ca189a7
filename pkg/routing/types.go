package routing

import (
	"kestrel-hq/kestrel/pkg/wire"
)

// Predicate is the match half of a routing rule. Empty fields are wildcards;
// a predicate with no fields at all matches every session (catch-all).
type Predicate struct {
	// Language matches the session's declared language tag (exact).
	Language string `yaml:"language,omitempty"`

	// Encoding matches the session's declared audio encoding (exact).
	Encoding string `yaml:"encoding,omitempty"`

	// ClientID matches the session's declared client identity (exact).
	ClientID string `yaml:"client_id,omitempty"`

	// Metadata matches arbitrary attribute keys carried in the opening
	// event. Every entry must be present and equal for the predicate to
	// match.
	Metadata map[string]string `yaml:"metadata,omitempty"`
}

// IsCatchAll reports whether the predicate declares no constraints.
func (p Predicate) IsCatchAll() bool {
	return p.Language == "" && p.Encoding == "" && p.ClientID == "" && len(p.Metadata) == 0
}

// Matches reports whether every declared field equals the corresponding
// session attribute.
func (p Predicate) Matches(attrs wire.SessionAttributes) bool {
	if p.Language != "" && p.Language != attrs.Language {
		return false
	}
	if p.Encoding != "" && p.Encoding != attrs.Encoding {
		return false
	}
	if p.ClientID != "" && p.ClientID != attrs.ClientID {
		return false
	}
	for key, want := range p.Metadata {
		got, ok := attrs.Get(key)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Rule is one ordered routing entry: when Match matches a session's
// attributes, the session's candidate chain gains Backends in order.
type Rule struct {
	// Name is an optional label used in logs and errors.
	Name string `yaml:"name,omitempty"`

	// Match is the predicate over session attributes.
	Match Predicate `yaml:"match"`

	// Backends names the targets this rule routes to, tried in order.
	Backends []string `yaml:"backends"`
}

// Table is an immutable, validated snapshot of the rule list. Sessions route
// against the snapshot they were handed at creation; a table is never
// mutated after NewTable returns it.
type Table struct {
	rules []Rule
}

// NewTable validates rules against the set of configured backend names and
// returns an immutable snapshot. Validation enforces that every rule routes
// to at least one backend, that every referenced backend is configured, and
// that a catch-all rule, if present, is the last entry.
func NewTable(rules []Rule, backends map[string]bool) (*Table, error) {
	for i, r := range rules {
		if len(r.Backends) == 0 {
			return nil, &InvalidRuleError{Index: i, Name: r.Name, Reason: ErrNoBackends}
		}
		for _, b := range r.Backends {
			if !backends[b] {
				return nil, &InvalidRuleError{
					Index: i, Name: r.Name, Backend: b, Reason: ErrUnknownBackend,
				}
			}
		}
		if r.Match.IsCatchAll() && i != len(rules)-1 {
			return nil, &InvalidRuleError{Index: i, Name: r.Name, Reason: ErrMisplacedCatchAll}
		}
	}

	copied := make([]Rule, len(rules))
	copy(copied, rules)
	return &Table{rules: copied}, nil
}

// Route returns the ordered, de-duplicated backend candidate chain for the
// given session attributes. Deterministic for a fixed table and attributes.
// An empty result means no rule matched; the caller treats that as a
// configuration error, not a transient fault.
func (t *Table) Route(attrs wire.SessionAttributes) []string {
	var chain []string
	seen := make(map[string]bool)
	for _, r := range t.rules {
		if !r.Match.Matches(attrs) {
			continue
		}
		for _, b := range r.Backends {
			if !seen[b] {
				seen[b] = true
				chain = append(chain, b)
			}
		}
	}
	return chain
}

// Len returns the number of rules in the table.
func (t *Table) Len() int {
	return len(t.rules)
}
