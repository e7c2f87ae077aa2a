package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/destiny/pkg/config"
	"github.com/codeready-toolchain/destiny/pkg/models"
	"github.com/codeready-toolchain/destiny/pkg/orchestrator"
	"github.com/codeready-toolchain/destiny/pkg/store"
	"github.com/codeready-toolchain/destiny/pkg/taskbus"
	testdb "github.com/codeready-toolchain/destiny/test/database"
)

type requestHarness struct {
	requests *store.RequestStore
	robots   *store.RobotStore
	refs     *store.ReferenceStore
	tasks    *taskbus.Store
	orch     *orchestrator.Orchestrator
}

func newRequestHarness(t *testing.T) *requestHarness {
	t.Helper()
	client := testdb.NewTestClient(t)
	h := &requestHarness{
		requests: store.NewRequestStore(client),
		robots:   store.NewRobotStore(client),
		refs:     store.NewReferenceStore(client),
		tasks:    taskbus.NewStore(client),
	}
	h.orch = orchestrator.New(
		h.refs, store.NewDecisionStore(client), store.NewEnhancementStore(client), h.requests,
		store.NewSearchStore(client), h.robots, nil, h.tasks, nil,
		config.DefaultRobotAuthConfig(), config.DefaultBlobConfig(), config.DefaultTaskBusConfig(),
	)
	return h
}

func (h *requestHarness) newRequest(t *testing.T, ctx context.Context) *models.EnhancementRequest {
	t.Helper()
	robot, err := h.robots.Register(ctx, models.Robot{BaseURL: "https://robot.example/", ClientSecretHash: "hash", Name: "r", Owner: "o"})
	require.NoError(t, err)
	ref, err := h.refs.Create(ctx, models.VisibilityPublic)
	require.NoError(t, err)
	req, err := h.requests.Create(ctx, models.EnhancementRequest{RobotID: robot.ID, ReferenceIDs: []string{ref.ID}})
	require.NoError(t, err)
	require.NoError(t, h.requests.UpdateStatus(ctx, req.ID, models.RequestStatusIndexing, nil))
	return req
}

func TestSweepIndexingRequests_WaitsForPendingRebuilds(t *testing.T) {
	ctx := context.Background()
	h := newRequestHarness(t)
	req := h.newRequest(t, ctx)

	task, err := h.tasks.Enqueue(ctx, taskbus.KindProjectionRebuild, nil, taskbus.ProjectionRebuildPayload{CanonicalID: "can-1"}, 3)
	require.NoError(t, err)
	require.NoError(t, h.requests.LinkRebuildTasks(ctx, req.ID, []string{task.ID}))

	n, err := h.orch.SweepIndexingRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := h.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusIndexing, got.Status)
}

func TestSweepIndexingRequests_CompletesOnceRebuildsSucceed(t *testing.T) {
	ctx := context.Background()
	h := newRequestHarness(t)
	req := h.newRequest(t, ctx)

	task, err := h.tasks.Enqueue(ctx, taskbus.KindProjectionRebuild, nil, taskbus.ProjectionRebuildPayload{CanonicalID: "can-1"}, 3)
	require.NoError(t, err)
	require.NoError(t, h.requests.LinkRebuildTasks(ctx, req.ID, []string{task.ID}))

	claimed, err := h.tasks.Claim(ctx, "owner", time.Minute, taskbus.KindProjectionRebuild)
	require.NoError(t, err)
	require.NoError(t, h.tasks.Complete(ctx, claimed.ID, "owner"))

	n, err := h.orch.SweepIndexingRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCompleted, got.Status)
}

func TestSweepIndexingRequests_IndexingFailedWhenRebuildDeadLetters(t *testing.T) {
	ctx := context.Background()
	h := newRequestHarness(t)
	req := h.newRequest(t, ctx)

	task, err := h.tasks.Enqueue(ctx, taskbus.KindProjectionRebuild, nil, taskbus.ProjectionRebuildPayload{CanonicalID: "can-1"}, 1)
	require.NoError(t, err)
	require.NoError(t, h.requests.LinkRebuildTasks(ctx, req.ID, []string{task.ID}))

	claimed, err := h.tasks.Claim(ctx, "owner", time.Minute, taskbus.KindProjectionRebuild)
	require.NoError(t, err)
	require.NoError(t, h.tasks.Fail(ctx, claimed.ID, "owner", assert.AnError))

	n, err := h.orch.SweepIndexingRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusIndexingFailed, got.Status)
}

func TestSweepIndexingRequests_PartialFailedWhenValidationIssuesAccumulated(t *testing.T) {
	ctx := context.Background()
	h := newRequestHarness(t)
	req := h.newRequest(t, ctx)
	require.NoError(t, h.requests.AppendError(ctx, req.ID, "1 validation error(s), 0 missing reference(s)"))

	task, err := h.tasks.Enqueue(ctx, taskbus.KindProjectionRebuild, nil, taskbus.ProjectionRebuildPayload{CanonicalID: "can-1"}, 3)
	require.NoError(t, err)
	require.NoError(t, h.requests.LinkRebuildTasks(ctx, req.ID, []string{task.ID}))

	claimed, err := h.tasks.Claim(ctx, "owner", time.Minute, taskbus.KindProjectionRebuild)
	require.NoError(t, err)
	require.NoError(t, h.tasks.Complete(ctx, claimed.ID, "owner"))

	n, err := h.orch.SweepIndexingRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPartialFailed, got.Status)
}
