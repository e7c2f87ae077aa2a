package models

import "time"

// ProjectedIdentifier is an ExternalIdentifier carried into a projection,
// with provenance retained so the projection stays losslessly reversible
// (spec.md §8 invariant 5).
type ProjectedIdentifier struct {
	ExternalIdentifier
}

// ProjectedEnhancement is an Enhancement carried into a projection. Only the
// latest enhancement per (Source, Type) survives the merge in
// pkg/projection, but its ReferenceID (provenance) is preserved.
type ProjectedEnhancement struct {
	Enhancement
}

// DeduplicatedReferenceProjection is the materialized, search-facing view of
// a canonical reference and every reference whose active decision points at
// it (spec.md §3). It is a derived view — the only write path into the
// search index is a rebuild (pkg/projection), never a direct index write.
type DeduplicatedReferenceProjection struct {
	CanonicalID  string                 `json:"canonical_id"`
	MemberIDs    []string               `json:"member_ids"`
	Identifiers  []ProjectedIdentifier  `json:"identifiers"`
	Enhancements []ProjectedEnhancement `json:"enhancements"`
	Visibility   Visibility             `json:"visibility"`
	BuiltAt      time.Time              `json:"built_at"`

	// SearchFields is derived from Enhancements at build time and carried
	// alongside them so the search store can index title text without
	// re-parsing every enhancement's opaque Content on every recall query.
	SearchFields SearchFields `json:"search_fields"`
}

// SearchFields extracts the small document used for Phase 2 candidate
// recall (title/authors/year/abstract), derived from the latest
// bibliographic/abstract enhancements in the projection.
type SearchFields struct {
	ReferenceID       string   `json:"reference_id"`
	Title             string   `json:"title,omitempty"`
	Authors           []string `json:"authors,omitempty"`
	PublicationYear   int      `json:"publication_year,omitempty"`
	Abstract          string   `json:"abstract,omitempty"`
}

// Changeset is the minimal document describing what just changed on a
// reference — the discriminating half of a percolation document
// (spec.md GLOSSARY, §4.F/§4.H).
type Changeset struct {
	ReferenceID         string                 `json:"reference_id"`
	AddedIdentifiers    []ProjectedIdentifier  `json:"added_identifiers,omitempty"`
	AddedEnhancements   []ProjectedEnhancement `json:"added_enhancements,omitempty"`
	SourceRobotID       *string                `json:"source_robot_id,omitempty"`
}

// PercolationDocument is submitted to the search store's percolator on every
// projection rebuild and new enhancement (spec.md §4.H).
type PercolationDocument struct {
	Reference DeduplicatedReferenceProjection `json:"reference"`
	Changeset Changeset                       `json:"changeset"`
}
