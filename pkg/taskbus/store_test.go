package taskbus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/destiny/pkg/taskbus"
	testdb "github.com/codeready-toolchain/destiny/test/database"
)

func TestStore_EnqueueClaimComplete(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	store := taskbus.NewStore(client)

	task, err := store.Enqueue(ctx, taskbus.KindDedup, nil, taskbus.DedupPayload{ReferenceID: "ref-1"}, 3)
	require.NoError(t, err)
	assert.Equal(t, taskbus.StatusPending, task.Status)

	claimed, err := store.Claim(ctx, "worker-a", time.Minute, taskbus.KindDedup)
	require.NoError(t, err)
	assert.Equal(t, task.ID, claimed.ID)
	assert.Equal(t, taskbus.StatusInProgress, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	_, err = store.Claim(ctx, "worker-b", time.Minute, taskbus.KindDedup)
	assert.ErrorIs(t, err, taskbus.ErrNoTasksAvailable)

	require.NoError(t, store.Complete(ctx, claimed.ID, "worker-a"))
}

func TestStore_EnqueueDedupKeyCollapsesToExistingPendingTask(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	store := taskbus.NewStore(client)

	key := "ref-dedupkey"
	first, err := store.Enqueue(ctx, taskbus.KindDedup, &key, taskbus.DedupPayload{ReferenceID: "ref-2"}, 3)
	require.NoError(t, err)

	second, err := store.Enqueue(ctx, taskbus.KindDedup, &key, taskbus.DedupPayload{ReferenceID: "ref-2"}, 3)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestStore_FailDeadLettersAtMaxAttempts(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	store := taskbus.NewStore(client)

	task, err := store.Enqueue(ctx, taskbus.KindProjectionRebuild, nil, taskbus.ProjectionRebuildPayload{CanonicalID: "can-1"}, 1)
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, "worker-a", time.Minute, taskbus.KindProjectionRebuild)
	require.NoError(t, err)
	require.Equal(t, task.ID, claimed.ID)

	require.NoError(t, store.Fail(ctx, claimed.ID, "worker-a", errors.New("boom")))

	_, err = store.Claim(ctx, "worker-a", time.Minute, taskbus.KindProjectionRebuild)
	assert.ErrorIs(t, err, taskbus.ErrNoTasksAvailable,
		"the single-attempt task should have been dead-lettered, not rescheduled")
}

func TestStore_ReapExpiredLeasesReturnsOrphanedTasksToPending(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	store := taskbus.NewStore(client)

	task, err := store.Enqueue(ctx, taskbus.KindAutomationMatch, nil, taskbus.AutomationMatchPayload{CanonicalID: "can-2"}, 3)
	require.NoError(t, err)

	_, err = store.Claim(ctx, "worker-crashed", time.Millisecond, taskbus.KindAutomationMatch)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	n, err := store.ReapExpiredLeases(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	reclaimed, err := store.Claim(ctx, "worker-b", time.Minute, taskbus.KindAutomationMatch)
	require.NoError(t, err)
	assert.Equal(t, task.ID, reclaimed.ID)
}

func TestStore_PurgeDeadLetterBefore(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	store := taskbus.NewStore(client)

	task, err := store.Enqueue(ctx, taskbus.KindDedup, nil, taskbus.DedupPayload{ReferenceID: "ref-3"}, 1)
	require.NoError(t, err)
	claimed, err := store.Claim(ctx, "worker-a", time.Minute, taskbus.KindDedup)
	require.NoError(t, err)
	require.Equal(t, task.ID, claimed.ID)
	require.NoError(t, store.Fail(ctx, claimed.ID, "worker-a", errors.New("boom")))

	_, err = client.ExecContext(ctx, `UPDATE dead_letter_tasks SET created_at = $1`, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	n, err := store.PurgeDeadLetterBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
