// Package models defines the core DESTINY domain entities: references,
// their identifiers and enhancements, duplicate decisions, import records,
// and the enhancement-request lifecycle. Entities are append-only where the
// spec requires it (Reference, Enhancement, ReferenceDuplicateDecision) —
// state change is insert, never update, except for the narrow fields called
// out on each type.
package models

import "time"

// Visibility controls whether a reference is surfaced outside the system.
type Visibility string

// Visibility values.
const (
	VisibilityPublic     Visibility = "public"
	VisibilityRestricted Visibility = "restricted"
	VisibilityHidden     Visibility = "hidden"
)

// IsValid reports whether v is one of the known visibility values.
func (v Visibility) IsValid() bool {
	switch v {
	case VisibilityPublic, VisibilityRestricted, VisibilityHidden:
		return true
	default:
		return false
	}
}

// Reference is the append-only identity row for a scholarly reference.
// Everything beyond identity — titles, authors, abstracts, classifications —
// is carried by Enhancement rows keyed on this reference's ID.
type Reference struct {
	ID         string     `db:"id" json:"id"`
	Visibility Visibility `db:"visibility" json:"visibility"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt  *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// IdentifierType enumerates the supported external identifier schemes.
type IdentifierType string

// Identifier type values.
const (
	IdentifierTypePMID     IdentifierType = "pm_id"
	IdentifierTypeDOI      IdentifierType = "doi"
	IdentifierTypeOpenAlex IdentifierType = "open_alex"
	IdentifierTypeOther    IdentifierType = "other"
)

// ExternalIdentifier ties one reference to an identifier in an external
// scheme. The tuple (IdentifierType, Identifier, OtherIdentifierName) is
// globally unique across active identifiers — enforced by the
// external_identifiers unique index (see store.IdentifierStore.Attach), not
// by this type.
type ExternalIdentifier struct {
	ReferenceID         string         `db:"reference_id" json:"reference_id"`
	IdentifierType      IdentifierType `db:"identifier_type" json:"identifier_type"`
	Identifier          string         `db:"identifier" json:"identifier"`
	OtherIdentifierName *string        `db:"other_identifier_name" json:"other_identifier_name,omitempty"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
}

// Key returns the uniqueness tuple as a single comparable string, used for
// in-memory set operations (exact-duplicate hashing, projection merge).
func (e ExternalIdentifier) Key() string {
	other := ""
	if e.OtherIdentifierName != nil {
		other = *e.OtherIdentifierName
	}
	return string(e.IdentifierType) + "\x00" + e.Identifier + "\x00" + other
}
