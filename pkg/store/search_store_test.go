package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/destiny/pkg/models"
	"github.com/codeready-toolchain/destiny/pkg/store"
	testdb "github.com/codeready-toolchain/destiny/test/database"
)

func TestSearchStore_UpsertGetDelete(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	search := store.NewSearchStore(client)

	proj := models.DeduplicatedReferenceProjection{
		CanonicalID:  "can-1",
		MemberIDs:    []string{"can-1"},
		Visibility:   models.VisibilityPublic,
		SearchFields: models.SearchFields{ReferenceID: "can-1", Title: "Attention Is All You Need"},
	}
	require.NoError(t, search.Upsert(ctx, proj))

	fetched, err := search.Get(ctx, "can-1")
	require.NoError(t, err)
	assert.Equal(t, "Attention Is All You Need", fetched.SearchFields.Title)

	proj.SearchFields.Title = "Attention Is All You Need (revised)"
	require.NoError(t, search.Upsert(ctx, proj))
	fetched, err = search.Get(ctx, "can-1")
	require.NoError(t, err)
	assert.Equal(t, "Attention Is All You Need (revised)", fetched.SearchFields.Title)

	require.NoError(t, search.Delete(ctx, "can-1"))
	_, err = search.Get(ctx, "can-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSearchStore_CandidateRecallMatchesOnTitle(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	search := store.NewSearchStore(client)

	require.NoError(t, search.Upsert(ctx, models.DeduplicatedReferenceProjection{
		CanonicalID:  "can-match",
		SearchFields: models.SearchFields{Title: "Deep Residual Learning for Image Recognition"},
	}))
	require.NoError(t, search.Upsert(ctx, models.DeduplicatedReferenceProjection{
		CanonicalID:  "can-nomatch",
		SearchFields: models.SearchFields{Title: "A Survey of Quantum Computing"},
	}))

	candidates, err := search.CandidateRecall(ctx, models.SearchFields{Title: "Residual Learning Image Recognition"}, 10)
	require.NoError(t, err)
	assert.Contains(t, candidates, "can-match")
	assert.NotContains(t, candidates, "can-nomatch")
}

func TestSearchStore_CandidateRecallWithEmptyTitleMatchesNothing(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	search := store.NewSearchStore(client)

	candidates, err := search.CandidateRecall(ctx, models.SearchFields{}, 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestSearchStore_AllDocuments(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	search := store.NewSearchStore(client)

	require.NoError(t, search.Upsert(ctx, models.DeduplicatedReferenceProjection{CanonicalID: "can-a"}))
	require.NoError(t, search.Upsert(ctx, models.DeduplicatedReferenceProjection{CanonicalID: "can-b"}))

	docs, err := search.AllDocuments(ctx)
	require.NoError(t, err)
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.CanonicalID
	}
	assert.ElementsMatch(t, []string{"can-a", "can-b"}, ids)
}
