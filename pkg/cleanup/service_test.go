package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/destiny/pkg/config"
	"github.com/codeready-toolchain/destiny/pkg/models"
	"github.com/codeready-toolchain/destiny/pkg/store"
	"github.com/codeready-toolchain/destiny/pkg/taskbus"
	testdb "github.com/codeready-toolchain/destiny/test/database"
)

func retentionConfig() *config.RetentionConfig {
	return &config.RetentionConfig{
		SoftDeleteRetentionDays:   30,
		OrphanedSearchDocumentTTL: time.Hour,
		DeadLetterTaskTTL:         time.Hour,
		CleanupInterval:           time.Hour,
	}
}

func TestService_PurgesSoftDeletedReferenceContents(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	refs := store.NewReferenceStore(client)
	ids := store.NewIdentifierStore(client)

	ref, err := refs.Create(ctx, models.VisibilityPublic)
	require.NoError(t, err)
	require.NoError(t, ids.Attach(ctx, models.ExternalIdentifier{
		ReferenceID: ref.ID, IdentifierType: models.IdentifierTypeDOI, Identifier: "10.1/abc", CreatedAt: time.Now(),
	}))

	require.NoError(t, refs.SoftDelete(ctx, ref.ID))
	_, err = client.ExecContext(ctx,
		`UPDATE "references" SET deleted_at = $2 WHERE id = $1`,
		ref.ID, time.Now().Add(-60*24*time.Hour))
	require.NoError(t, err)

	svc := NewService(retentionConfig(), refs, store.NewSearchStore(client), taskbus.NewStore(client))
	svc.runAll(ctx)

	remaining, err := ids.ListByReference(ctx, ref.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestService_LeavesRecentlyDeletedReferencesAlone(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	refs := store.NewReferenceStore(client)
	ids := store.NewIdentifierStore(client)

	ref, err := refs.Create(ctx, models.VisibilityPublic)
	require.NoError(t, err)
	require.NoError(t, ids.Attach(ctx, models.ExternalIdentifier{
		ReferenceID: ref.ID, IdentifierType: models.IdentifierTypeDOI, Identifier: "10.1/recent", CreatedAt: time.Now(),
	}))
	require.NoError(t, refs.SoftDelete(ctx, ref.ID))

	svc := NewService(retentionConfig(), refs, store.NewSearchStore(client), taskbus.NewStore(client))
	svc.runAll(ctx)

	remaining, err := ids.ListByReference(ctx, ref.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestService_PurgesOrphanedSearchDocuments(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	refs := store.NewReferenceStore(client)
	search := store.NewSearchStore(client)

	ref, err := refs.Create(ctx, models.VisibilityPublic)
	require.NoError(t, err)
	require.NoError(t, search.Upsert(ctx, models.DeduplicatedReferenceProjection{CanonicalID: ref.ID}))

	require.NoError(t, refs.SoftDelete(ctx, ref.ID))
	_, err = client.ExecContext(ctx,
		`UPDATE "references" SET deleted_at = $2 WHERE id = $1`,
		ref.ID, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	cfg := retentionConfig()
	cfg.OrphanedSearchDocumentTTL = time.Hour
	svc := NewService(cfg, refs, search, taskbus.NewStore(client))
	svc.runAll(ctx)

	_, err = search.Get(ctx, ref.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_PurgesAgedDeadLetterTasks(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	tasks := taskbus.NewStore(client)

	task, err := tasks.Enqueue(ctx, taskbus.KindDedup, nil, taskbus.DedupPayload{ReferenceID: "ref-1"}, 1)
	require.NoError(t, err)
	claimed, err := tasks.Claim(ctx, "test-worker", time.Minute, taskbus.KindDedup)
	require.NoError(t, err)
	require.Equal(t, task.ID, claimed.ID)
	require.NoError(t, tasks.Fail(ctx, claimed.ID, "test-worker", assert.AnError))

	_, err = client.ExecContext(ctx, `UPDATE dead_letter_tasks SET created_at = $1`, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	svc := NewService(retentionConfig(), store.NewReferenceStore(client), store.NewSearchStore(client), tasks)
	svc.runAll(ctx)

	var count int
	require.NoError(t, client.GetContext(ctx, &count, `SELECT count(*) FROM dead_letter_tasks`))
	assert.Zero(t, count)
}
