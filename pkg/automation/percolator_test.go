package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/destiny/pkg/models"
)

func sampleDocument() models.PercolationDocument {
	return models.PercolationDocument{
		Reference: models.DeduplicatedReferenceProjection{
			CanonicalID: "can-1",
			Visibility:  models.VisibilityPublic,
		},
		Changeset: models.Changeset{
			ReferenceID: "can-1",
			AddedIdentifiers: []models.ProjectedIdentifier{
				{ExternalIdentifier: models.ExternalIdentifier{IdentifierType: models.IdentifierTypeDOI, Identifier: "10.1/new"}},
			},
		},
	}
}

func TestEvaluate_TermQueryMatchesTopLevelField(t *testing.T) {
	doc, err := toDocument(sampleDocument())
	require.NoError(t, err)

	q := models.Query{Term: &models.TermQuery{Field: "reference.visibility", Value: "public"}}
	assert.True(t, Evaluate(q, doc))

	q = models.Query{Term: &models.TermQuery{Field: "reference.visibility", Value: "private"}}
	assert.False(t, Evaluate(q, doc))
}

func TestEvaluate_NestedQueryMatchesCorrelatedFieldsOnSameElement(t *testing.T) {
	doc, err := toDocument(sampleDocument())
	require.NoError(t, err)

	q := models.Query{
		Nested: &models.NestedQuery{
			Path: "changeset.added_identifiers",
			Query: &models.Query{
				Must: []models.Query{
					{Term: &models.TermQuery{Field: "identifier_type", Value: "doi"}},
					{Term: &models.TermQuery{Field: "identifier", Value: "10.1/new"}},
				},
			},
		},
	}
	assert.True(t, Evaluate(q, doc))

	mismatched := models.Query{
		Nested: &models.NestedQuery{
			Path: "changeset.added_identifiers",
			Query: &models.Query{
				Must: []models.Query{
					{Term: &models.TermQuery{Field: "identifier_type", Value: "doi"}},
					{Term: &models.TermQuery{Field: "identifier", Value: "10.1/other"}},
				},
			},
		},
	}
	assert.False(t, Evaluate(mismatched, doc))
}

func TestEvaluate_MustNotExcludesMatchingDocuments(t *testing.T) {
	doc, err := toDocument(sampleDocument())
	require.NoError(t, err)

	q := models.Query{
		MustNot: []models.Query{
			{Term: &models.TermQuery{Field: "reference.visibility", Value: "public"}},
		},
	}
	assert.False(t, Evaluate(q, doc))
}

func TestEvaluate_ShouldRequiresAtLeastOneMatch(t *testing.T) {
	doc, err := toDocument(sampleDocument())
	require.NoError(t, err)

	q := models.Query{
		Should: []models.Query{
			{Term: &models.TermQuery{Field: "reference.visibility", Value: "private"}},
			{Term: &models.TermQuery{Field: "reference.canonical_id", Value: "can-1"}},
		},
	}
	assert.True(t, Evaluate(q, doc))

	noneMatch := models.Query{
		Should: []models.Query{
			{Term: &models.TermQuery{Field: "reference.visibility", Value: "private"}},
			{Term: &models.TermQuery{Field: "reference.canonical_id", Value: "can-2"}},
		},
	}
	assert.False(t, Evaluate(noneMatch, doc))
}

func TestValidate_RejectsQueryNotReferencingChangeset(t *testing.T) {
	referenceOnly := models.Query{Term: &models.TermQuery{Field: "reference.visibility", Value: "public"}}
	assert.Error(t, Validate(referenceOnly))

	changesetScoped := models.Query{Term: &models.TermQuery{Field: "changeset.reference_id", Value: "can-1"}}
	assert.NoError(t, Validate(changesetScoped))

	nestedChangeset := models.Query{
		Nested: &models.NestedQuery{
			Path:  "changeset.added_identifiers",
			Query: &models.Query{Term: &models.TermQuery{Field: "identifier_type", Value: "doi"}},
		},
	}
	assert.NoError(t, Validate(nestedChangeset))
}
