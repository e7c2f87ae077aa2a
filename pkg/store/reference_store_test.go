package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/destiny/pkg/models"
	"github.com/codeready-toolchain/destiny/pkg/store"
	testdb "github.com/codeready-toolchain/destiny/test/database"
)

func TestReferenceStore_CreateGetSoftDelete(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	refs := store.NewReferenceStore(client)

	ref, err := refs.Create(ctx, models.VisibilityPublic)
	require.NoError(t, err)
	assert.NotEmpty(t, ref.ID)
	assert.Equal(t, models.VisibilityPublic, ref.Visibility)

	fetched, err := refs.Get(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, ref.ID, fetched.ID)
	assert.Nil(t, fetched.DeletedAt)

	require.NoError(t, refs.SoftDelete(ctx, ref.ID))
	fetched, err = refs.Get(ctx, ref.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched.DeletedAt)

	err = refs.SoftDelete(ctx, ref.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "soft-deleting an already-deleted reference is a no-op error")
}

func TestReferenceStore_CreateDefaultsToPublicVisibility(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	refs := store.NewReferenceStore(client)

	ref, err := refs.Create(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, models.VisibilityPublic, ref.Visibility)
}

func TestReferenceStore_CreateRejectsUnknownVisibility(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	refs := store.NewReferenceStore(client)

	_, err := refs.Create(ctx, models.Visibility("not-a-real-visibility"))
	assert.Error(t, err)
}

func TestReferenceStore_SoftDeletedBeforeAndPurge(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	refs := store.NewReferenceStore(client)
	ids := store.NewIdentifierStore(client)

	ref, err := refs.Create(ctx, models.VisibilityPublic)
	require.NoError(t, err)
	require.NoError(t, ids.Attach(ctx, models.ExternalIdentifier{
		ReferenceID: ref.ID, IdentifierType: models.IdentifierTypeDOI, Identifier: "10.1/purge", CreatedAt: time.Now(),
	}))
	require.NoError(t, refs.SoftDelete(ctx, ref.ID))

	_, err = client.ExecContext(ctx, `UPDATE "references" SET deleted_at = $2 WHERE id = $1`,
		ref.ID, time.Now().Add(-48*time.Hour))
	require.NoError(t, err)

	old, err := refs.SoftDeletedBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, ref.ID, old[0].ID)

	require.NoError(t, refs.PurgeIdentifiersAndEnhancements(ctx, ref.ID))

	remaining, err := ids.ListByReference(ctx, ref.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	stillThere, err := refs.Get(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, ref.ID, stillThere.ID, "the reference row itself survives the purge")
}

func TestIdentifierStore_AttachFindReassignDetach(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	refs := store.NewReferenceStore(client)
	ids := store.NewIdentifierStore(client)

	refA, err := refs.Create(ctx, models.VisibilityPublic)
	require.NoError(t, err)
	refB, err := refs.Create(ctx, models.VisibilityPublic)
	require.NoError(t, err)

	require.NoError(t, ids.Attach(ctx, models.ExternalIdentifier{
		ReferenceID: refA.ID, IdentifierType: models.IdentifierTypeDOI, Identifier: "10.1/x", CreatedAt: time.Now(),
	}))

	found, err := ids.FindReferenceByIdentifier(ctx, models.IdentifierTypeDOI, "10.1/x", nil)
	require.NoError(t, err)
	assert.Equal(t, refA.ID, found)

	err = ids.Attach(ctx, models.ExternalIdentifier{
		ReferenceID: refB.ID, IdentifierType: models.IdentifierTypeDOI, Identifier: "10.1/x", CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, store.ErrIdentifierCollision)

	require.NoError(t, ids.Reassign(ctx, models.IdentifierTypeDOI, "10.1/x", nil, refB.ID))
	found, err = ids.FindReferenceByIdentifier(ctx, models.IdentifierTypeDOI, "10.1/x", nil)
	require.NoError(t, err)
	assert.Equal(t, refB.ID, found)

	require.NoError(t, ids.Detach(ctx, refB.ID, models.IdentifierTypeDOI, "10.1/x", nil))
	_, err = ids.FindReferenceByIdentifier(ctx, models.IdentifierTypeDOI, "10.1/x", nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
