package dedup_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/destiny/pkg/config"
	"github.com/codeready-toolchain/destiny/pkg/dedup"
	"github.com/codeready-toolchain/destiny/pkg/models"
	"github.com/codeready-toolchain/destiny/pkg/store"
	"github.com/codeready-toolchain/destiny/pkg/taskbus"
	testdb "github.com/codeready-toolchain/destiny/test/database"
)

type harness struct {
	refs      *store.ReferenceStore
	ids       *store.IdentifierStore
	enhs      *store.EnhancementStore
	decisions *store.DecisionStore
	search    *store.SearchStore
	tasks     *taskbus.Store
	engine    *dedup.Engine
}

func newHarness(t *testing.T) *harness {
	client := testdb.NewTestClient(t)
	h := &harness{
		refs:      store.NewReferenceStore(client),
		ids:       store.NewIdentifierStore(client),
		enhs:      store.NewEnhancementStore(client),
		decisions: store.NewDecisionStore(client),
		search:    store.NewSearchStore(client),
		tasks:     taskbus.NewStore(client),
	}
	h.engine = dedup.New(h.refs, h.ids, h.enhs, h.decisions, h.search, h.tasks, config.DefaultDedupConfig(), config.DefaultTaskBusConfig())
	return h
}

func (h *harness) createReference(t *testing.T, ctx context.Context, title string, year int, doi string) *models.Reference {
	t.Helper()
	ref, err := h.refs.Create(ctx, models.VisibilityPublic)
	require.NoError(t, err)

	content, err := json.Marshal(models.BibliographicContent{Title: title, PublicationYear: year})
	require.NoError(t, err)
	_, err = h.enhs.Attach(ctx, models.Enhancement{
		ReferenceID: ref.ID, Source: "test", Type: models.EnhancementTypeBibliographic,
		Content: content, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	if doi != "" {
		require.NoError(t, h.ids.Attach(ctx, models.ExternalIdentifier{
			ReferenceID: ref.ID, IdentifierType: models.IdentifierTypeDOI, Identifier: doi, CreatedAt: time.Now(),
		}))
	}
	return ref
}

func (h *harness) rebuildSearchDocument(t *testing.T, ctx context.Context, ref *models.Reference, title string) {
	t.Helper()
	require.NoError(t, h.search.Upsert(ctx, models.DeduplicatedReferenceProjection{
		CanonicalID:  ref.ID,
		MemberIDs:    []string{ref.ID},
		Visibility:   ref.Visibility,
		BuiltAt:      time.Now(),
		SearchFields: models.SearchFields{ReferenceID: ref.ID, Title: title},
	}))
}

func TestEngine_Decide_NoCandidatesIsCanonical(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	ref := h.createReference(t, ctx, "An Entirely Novel Work", 2020, "")
	require.NoError(t, h.engine.Decide(ctx, ref.ID))

	decision, err := h.decisions.GetActive(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeterminationCanonical, decision.Determination)
}

func TestEngine_Decide_SimilarTitleRecalledAndMatchedAsDuplicate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	canonical := h.createReference(t, ctx, "Deep Residual Learning for Image Recognition", 2016, "")
	h.rebuildSearchDocument(t, ctx, canonical, "Deep Residual Learning for Image Recognition")
	require.NoError(t, h.engine.Decide(ctx, canonical.ID))

	near := h.createReference(t, ctx, "Deep Residual Learning for Image Recognition", 2016, "")
	require.NoError(t, h.engine.Decide(ctx, near.ID))

	decision, err := h.decisions.GetActive(ctx, near.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeterminationDuplicate, decision.Determination)
}

func TestEngine_Decide_UnrelatedTitleStaysCanonical(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	canonical := h.createReference(t, ctx, "Deep Residual Learning for Image Recognition", 2016, "")
	h.rebuildSearchDocument(t, ctx, canonical, "Deep Residual Learning for Image Recognition")
	require.NoError(t, h.engine.Decide(ctx, canonical.ID))

	unrelated := h.createReference(t, ctx, "A Survey of Quantum Computing Architectures", 2016, "")
	require.NoError(t, h.engine.Decide(ctx, unrelated.ID))

	decision, err := h.decisions.GetActive(ctx, unrelated.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeterminationCanonical, decision.Determination)
}

func TestEngine_Handle_DecodesPayloadAndDecides(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	ref := h.createReference(t, ctx, "Handled Via Task Bus", 2020, "")
	payload, err := json.Marshal(taskbus.DedupPayload{ReferenceID: ref.ID})
	require.NoError(t, err)

	require.NoError(t, h.engine.Handle(ctx, &taskbus.Task{Payload: payload}))

	decision, err := h.decisions.GetActive(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeterminationCanonical, decision.Determination)
}
