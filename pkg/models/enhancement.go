package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EnhancementType is the discriminator tag for Enhancement.Content.
type EnhancementType string

// Enhancement type values. New tags must be rejected at the edge (see
// ParseEnhancementContent) rather than silently accepted as opaque JSON.
const (
	EnhancementTypeBibliographic EnhancementType = "bibliographic"
	EnhancementTypeAbstract      EnhancementType = "abstract"
	EnhancementTypeAnnotation    EnhancementType = "annotation"
	EnhancementTypeLocation      EnhancementType = "location"
)

// KnownEnhancementTypes lists every tag ParseEnhancementContent accepts.
var KnownEnhancementTypes = []EnhancementType{
	EnhancementTypeBibliographic,
	EnhancementTypeAbstract,
	EnhancementTypeAnnotation,
	EnhancementTypeLocation,
}

// Enhancement is a typed annotation attached to a reference. Physically
// append-only; logically, the latest row for (ReferenceID, Source, Type)
// supersedes earlier ones (see projection merge in pkg/projection).
type Enhancement struct {
	ID           string          `db:"id" json:"id"`
	ReferenceID  string          `db:"reference_id" json:"reference_id"`
	Source       string          `db:"source" json:"source"`
	Type         EnhancementType `db:"enhancement_type" json:"enhancement_type"`
	RobotVersion *string         `db:"robot_version" json:"robot_version,omitempty"`
	Content      json.RawMessage `db:"content" json:"content"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Key returns the logical update-uniqueness tuple (reference, source, type).
func (e Enhancement) Key() string {
	return e.ReferenceID + "\x00" + e.Source + "\x00" + string(e.Type)
}

// BibliographicContent is the payload for EnhancementTypeBibliographic.
type BibliographicContent struct {
	Title           string   `json:"title"`
	Authors         []string `json:"authors"`
	PublicationYear int      `json:"publication_year"`
	Publisher       string   `json:"publisher,omitempty"`
	JournalOrVenue  string   `json:"journal_or_venue,omitempty"`
}

// AbstractContent is the payload for EnhancementTypeAbstract.
type AbstractContent struct {
	Text string `json:"text"`
}

// AnnotationContent is the payload for EnhancementTypeAnnotation.
type AnnotationContent struct {
	Scheme string   `json:"scheme"`
	Label  string   `json:"label"`
	Score  *float64 `json:"score,omitempty"`
}

// LocationContent is the payload for EnhancementTypeLocation.
type LocationContent struct {
	LandingPageURL string `json:"landing_page_url,omitempty"`
	PDFURL         string `json:"pdf_url,omitempty"`
	IsOpenAccess   bool   `json:"is_open_access"`
}

// ErrUnknownEnhancementType is returned by ParseEnhancementContent for a tag
// not in KnownEnhancementTypes.
type ErrUnknownEnhancementType struct {
	Type EnhancementType
}

func (e *ErrUnknownEnhancementType) Error() string {
	return fmt.Sprintf("unknown enhancement_type %q", e.Type)
}

// ParseEnhancementContent validates that raw decodes into the shape implied
// by typ, rejecting unknown tags at the edge per the closed sum-type design.
func ParseEnhancementContent(typ EnhancementType, raw json.RawMessage) (any, error) {
	switch typ {
	case EnhancementTypeBibliographic:
		var c BibliographicContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("bibliographic content: %w", err)
		}
		return c, nil
	case EnhancementTypeAbstract:
		var c AbstractContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("abstract content: %w", err)
		}
		return c, nil
	case EnhancementTypeAnnotation:
		var c AnnotationContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("annotation content: %w", err)
		}
		return c, nil
	case EnhancementTypeLocation:
		var c LocationContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("location content: %w", err)
		}
		return c, nil
	default:
		return nil, &ErrUnknownEnhancementType{Type: typ}
	}
}
