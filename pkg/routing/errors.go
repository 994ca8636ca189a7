package routing

import (
	"errors"
	"fmt"
)

// Rule-table validation errors, checkable with errors.Is().
var (
	// ErrNoBackends is returned when a rule routes to no backend at all.
	ErrNoBackends = errors.New("rule has no backends")

	// ErrUnknownBackend is returned when a rule references a backend that
	// is not in the configured target table.
	ErrUnknownBackend = errors.New("rule references unknown backend")

	// ErrMisplacedCatchAll is returned when a catch-all rule is not the
	// last entry of the table.
	ErrMisplacedCatchAll = errors.New("catch-all rule must be the last entry")
)

// InvalidRuleError reports which rule failed table validation and why.
type InvalidRuleError struct {
	// Index is the rule's position in file order.
	Index int

	// Name is the rule's optional label.
	Name string

	// Backend is the offending backend reference, if the reason concerns one.
	Backend string

	// Reason is one of the sentinel validation errors above.
	Reason error
}

// Error implements the error interface.
func (e *InvalidRuleError) Error() string {
	label := fmt.Sprintf("rule %d", e.Index)
	if e.Name != "" {
		label = fmt.Sprintf("rule %d (%s)", e.Index, e.Name)
	}
	if e.Backend != "" {
		return fmt.Sprintf("%s: %v: %q", label, e.Reason, e.Backend)
	}
	return fmt.Sprintf("%s: %v", label, e.Reason)
}

// Unwrap returns the sentinel reason for errors.Is() matching.
func (e *InvalidRuleError) Unwrap() error {
	return e.Reason
}
