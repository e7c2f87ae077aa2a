// Package dedup implements the deduplication engine (component E):
// decide(reference_id) runs the identifier shortcut, candidate recall, deep
// determination, and action resolution phases of spec.md §4.E, promoting a
// ReferenceDuplicateDecision and enqueueing any projection rebuilds the
// promotion implies.
package dedup

import "fmt"

// DecisionGraphCorruption means an internal invariant was violated — e.g. a
// promotion target for a DUPLICATE/EXACT_DUPLICATE decision turned out not
// to be CANONICAL itself, which would break the star property. Never
// retried; always surfaced as a manual-review UNRESOLVED decision.
type DecisionGraphCorruption struct {
	ReferenceID string
	Reason      string
}

func (e *DecisionGraphCorruption) Error() string {
	return fmt.Sprintf("decision graph corruption on %s: %s", e.ReferenceID, e.Reason)
}
