package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/destiny/pkg/models"
	"github.com/codeready-toolchain/destiny/pkg/store"
	"github.com/codeready-toolchain/destiny/pkg/taskbus"
	testdb "github.com/codeready-toolchain/destiny/test/database"
)

func registerTestRobot(t *testing.T, ctx context.Context, robots *store.RobotStore) *models.Robot {
	t.Helper()
	r, err := robots.Register(ctx, models.Robot{
		BaseURL:          "https://robot.example/",
		ClientSecretHash: "hash",
		Name:             "test-robot",
		Owner:            "test-owner",
	})
	require.NoError(t, err)
	return r
}

func createTestReference(t *testing.T, ctx context.Context, refs *store.ReferenceStore) *models.Reference {
	t.Helper()
	ref, err := refs.Create(ctx, models.VisibilityPublic)
	require.NoError(t, err)
	return ref
}

func TestRequestStore_OutstandingBatchCount(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	requests := store.NewRequestStore(client)
	robots := store.NewRobotStore(client)
	refs := store.NewReferenceStore(client)

	robot := registerTestRobot(t, ctx, robots)
	ref := createTestReference(t, ctx, refs)
	req, err := requests.Create(ctx, models.EnhancementRequest{RobotID: robot.ID, ReferenceIDs: []string{ref.ID}})
	require.NoError(t, err)

	n, err := requests.OutstandingBatchCount(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	batch, err := requests.CreateBatch(ctx, models.RobotEnhancementBatch{
		RequestID: req.ID, RobotID: robot.ID, ReferenceIDs: []string{ref.ID},
		ReferenceBlobKey: "ref-key", ResultBlobKey: "result-key", Deadline: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	n, err = requests.OutstandingBatchCount(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, requests.UpdateBatchStatus(ctx, batch.ID, models.BatchStatusSucceeded))
	n, err = requests.OutstandingBatchCount(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRequestStore_AppendError_AccumulatesAcrossCalls(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	requests := store.NewRequestStore(client)
	robots := store.NewRobotStore(client)
	refs := store.NewReferenceStore(client)

	robot := registerTestRobot(t, ctx, robots)
	ref := createTestReference(t, ctx, refs)
	req, err := requests.Create(ctx, models.EnhancementRequest{RobotID: robot.ID, ReferenceIDs: []string{ref.ID}})
	require.NoError(t, err)

	require.NoError(t, requests.AppendError(ctx, req.ID, "first batch: 1 validation error(s)"))
	require.NoError(t, requests.AppendError(ctx, req.ID, "second batch: 2 missing reference(s)"))

	got, err := requests.Get(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "first batch: 1 validation error(s); second batch: 2 missing reference(s)", *got.ErrorMessage)
}

func TestRequestStore_LinkRebuildTasksAndRebuildProgress(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	requests := store.NewRequestStore(client)
	robots := store.NewRobotStore(client)
	refs := store.NewReferenceStore(client)
	tasks := taskbus.NewStore(client)

	robot := registerTestRobot(t, ctx, robots)
	ref := createTestReference(t, ctx, refs)
	req, err := requests.Create(ctx, models.EnhancementRequest{RobotID: robot.ID, ReferenceIDs: []string{ref.ID}})
	require.NoError(t, err)

	succeeding, err := tasks.Enqueue(ctx, taskbus.KindProjectionRebuild, nil, taskbus.ProjectionRebuildPayload{CanonicalID: ref.ID}, 3)
	require.NoError(t, err)
	failing, err := tasks.Enqueue(ctx, taskbus.KindProjectionRebuild, nil, taskbus.ProjectionRebuildPayload{CanonicalID: ref.ID}, 1)
	require.NoError(t, err)

	require.NoError(t, requests.LinkRebuildTasks(ctx, req.ID, []string{succeeding.ID, failing.ID}))
	// Linking the same task id again must not duplicate the row or error.
	require.NoError(t, requests.LinkRebuildTasks(ctx, req.ID, []string{succeeding.ID}))

	pending, succeeded, failed, err := requests.RebuildProgress(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)
	assert.Equal(t, 0, succeeded)
	assert.Equal(t, 0, failed)

	claimedSucceeding, err := tasks.Claim(ctx, "owner-1", time.Minute, taskbus.KindProjectionRebuild)
	require.NoError(t, err)
	require.NoError(t, tasks.Complete(ctx, claimedSucceeding.ID, "owner-1"))

	claimedFailing, err := tasks.Claim(ctx, "owner-1", time.Minute, taskbus.KindProjectionRebuild)
	require.NoError(t, err)
	require.NoError(t, tasks.Fail(ctx, claimedFailing.ID, "owner-1", assert.AnError))

	pending, succeeded, failed, err = requests.RebuildProgress(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
}

func TestRequestStore_RequestsByStatus(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	requests := store.NewRequestStore(client)
	robots := store.NewRobotStore(client)
	refs := store.NewReferenceStore(client)

	robot := registerTestRobot(t, ctx, robots)
	ref := createTestReference(t, ctx, refs)
	req, err := requests.Create(ctx, models.EnhancementRequest{RobotID: robot.ID, ReferenceIDs: []string{ref.ID}})
	require.NoError(t, err)
	require.NoError(t, requests.UpdateStatus(ctx, req.ID, models.RequestStatusIndexing, nil))

	indexing, err := requests.RequestsByStatus(ctx, models.RequestStatusIndexing)
	require.NoError(t, err)
	require.Len(t, indexing, 1)
	assert.Equal(t, req.ID, indexing[0].ID)

	received, err := requests.RequestsByStatus(ctx, models.RequestStatusReceived)
	require.NoError(t, err)
	assert.Empty(t, received)
}
