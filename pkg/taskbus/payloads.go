package taskbus

import "github.com/codeready-toolchain/destiny/pkg/models"

// Payload shapes shared between task producers (pkg/ingestion,
// pkg/dedup, pkg/orchestrator, pkg/projection) and the Handler that
// consumes each Kind — the one place both sides agree on wire shape so
// Enqueue callers and Handle implementations don't hand-decode ad hoc maps.

// DedupPayload is enqueued by pkg/ingestion after persisting a reference.
type DedupPayload struct {
	ReferenceID string `json:"reference_id"`
}

// ProjectionRebuildPayload is enqueued whenever a canonical's membership or
// contents change: reference creation, enhancement addition, or an active
// decision change (in which case both the old and new canonical get one).
type ProjectionRebuildPayload struct {
	CanonicalID string `json:"canonical_id"`
}

// AutomationMatchPayload is enqueued once a projection rebuild has produced
// a percolation document ready to match against registered RobotAutomation
// queries. It carries the document inline rather than just an ID, since the
// changeset that triggered the rebuild is transient — by the time a worker
// picks up the task, a later rebuild may already have overwritten it in the
// search index.
type AutomationMatchPayload struct {
	CanonicalID string                   `json:"canonical_id"`
	Document    models.PercolationDocument `json:"document"`
}
