package ingestion

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/codeready-toolchain/destiny/pkg/models"
)

var (
	doiPattern      = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)
	openAlexPattern = regexp.MustCompile(`^W\d+$`)
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// identifierTag carries the mechanical checks validator/v10 can express as
// struct tags; the per-type value constraints below it (doi regex, pm_id
// parse, ...) are a cross-field/semantic check no struct tag alone covers.
type identifierTag struct {
	IdentifierType string `validate:"required,oneof=pm_id doi open_alex other"`
	Identifier     string `validate:"required"`
}

// validateRecord implements spec.md §4.D's Validate step.
func validateRecord(rec models.ImportRecord) error {
	if len(rec.Identifiers) == 0 {
		return &EmptyIdentifiers{}
	}
	for _, id := range rec.Identifiers {
		if err := validateIdentifier(id); err != nil {
			return err
		}
	}
	for _, enh := range rec.Enhancements {
		if !isKnownEnhancementType(enh.Type) {
			return &SchemaViolation{Field: "enhancement_type", Reason: fmt.Sprintf("unknown type %q", enh.Type)}
		}
	}
	return nil
}

func validateIdentifier(id models.IncomingIdentifier) error {
	tag := identifierTag{IdentifierType: string(id.IdentifierType), Identifier: id.Identifier}
	if err := structValidator.Struct(tag); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Identifier" {
			return &SchemaViolation{Field: "identifier", Reason: "required"}
		}
		return &UnknownIdentifierType{Type: string(id.IdentifierType)}
	}

	switch id.IdentifierType {
	case models.IdentifierTypePMID:
		if _, err := strconv.Atoi(id.Identifier); err != nil {
			return &SchemaViolation{Field: "identifier", Reason: "pm_id must be integer-parseable"}
		}
	case models.IdentifierTypeDOI:
		if !doiPattern.MatchString(id.Identifier) {
			return &SchemaViolation{Field: "identifier", Reason: "doi does not match the expected pattern"}
		}
	case models.IdentifierTypeOpenAlex:
		if !openAlexPattern.MatchString(id.Identifier) {
			return &SchemaViolation{Field: "identifier", Reason: "open_alex id must be 'W' followed by digits"}
		}
	case models.IdentifierTypeOther:
		if id.OtherIdentifierName == nil || *id.OtherIdentifierName == "" {
			return &SchemaViolation{Field: "other_identifier_name", Reason: "required when identifier_type is 'other'"}
		}
	}
	return nil
}

func isKnownEnhancementType(t models.EnhancementType) bool {
	for _, k := range models.KnownEnhancementTypes {
		if k == t {
			return true
		}
	}
	return false
}
