package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/codeready-toolchain/destiny/pkg/config"
	"github.com/codeready-toolchain/destiny/pkg/metrics"
	"github.com/codeready-toolchain/destiny/pkg/models"
	"github.com/codeready-toolchain/destiny/pkg/store"
	"github.com/codeready-toolchain/destiny/pkg/taskbus"
)

// Engine runs decide(reference_id) — spec.md §4.E's four-phase dedup
// pipeline — and implements taskbus.Handler so it can be registered
// directly against taskbus.KindDedup.
type Engine struct {
	refs         *store.ReferenceStore
	ids          *store.IdentifierStore
	enhs         *store.EnhancementStore
	decisions    *store.DecisionStore
	search       *store.SearchStore
	tasks        *taskbus.Store
	cfg          *config.DedupConfig
	taskCfg      *config.TaskBusConfig
	determinator Determinator
	metrics      *metrics.Registry // nil until set
}

// New creates an Engine using NewDefaultDeterminator configured from cfg's
// own thresholds.
func New(refs *store.ReferenceStore, ids *store.IdentifierStore, enhs *store.EnhancementStore, decisions *store.DecisionStore, search *store.SearchStore, tasks *taskbus.Store, cfg *config.DedupConfig, taskCfg *config.TaskBusConfig) *Engine {
	determinator := NewDefaultDeterminator(cfg.DuplicateScoreThreshold, cfg.UnresolvedScoreThreshold)
	return NewWithDeterminator(refs, ids, enhs, decisions, search, tasks, cfg, taskCfg, determinator)
}

// NewWithDeterminator creates an Engine with a caller-supplied Phase 3 rule.
func NewWithDeterminator(refs *store.ReferenceStore, ids *store.IdentifierStore, enhs *store.EnhancementStore, decisions *store.DecisionStore, search *store.SearchStore, tasks *taskbus.Store, cfg *config.DedupConfig, taskCfg *config.TaskBusConfig, determinator Determinator) *Engine {
	return &Engine{
		refs: refs, ids: ids, enhs: enhs, decisions: decisions, search: search,
		tasks: tasks, cfg: cfg, taskCfg: taskCfg, determinator: determinator,
	}
}

// SetMetrics wires a metrics registry so Decide records each determination
// it reaches. Safe to leave unset in tests.
func (e *Engine) SetMetrics(m *metrics.Registry) { e.metrics = m }

// Handle implements taskbus.Handler for taskbus.KindDedup.
func (e *Engine) Handle(ctx context.Context, task *taskbus.Task) error {
	var payload taskbus.DedupPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode dedup payload: %w", err)
	}
	return e.Decide(ctx, payload.ReferenceID)
}

// Decide runs all four phases for referenceID and promotes the resulting
// decision.
func (e *Engine) Decide(ctx context.Context, referenceID string) error {
	fields, err := e.buildSearchFields(ctx, referenceID)
	if err != nil {
		return fmt.Errorf("failed to build search fields for %s: %w", referenceID, err)
	}

	proposed, shortCircuited, err := e.phase1(ctx, referenceID)
	if err != nil {
		return fmt.Errorf("phase 1 failed for %s: %w", referenceID, err)
	}
	if !shortCircuited {
		candidates, err := e.phase2(ctx, referenceID, fields)
		if err != nil {
			return fmt.Errorf("phase 2 failed for %s: %w", referenceID, err)
		}
		proposed, err = e.phase3(ctx, referenceID, fields, candidates)
		if err != nil {
			return fmt.Errorf("phase 3 failed for %s: %w", referenceID, err)
		}
	}
	proposed.ReferenceID = referenceID
	proposed.CreatedAt = time.Now()

	if e.metrics != nil {
		e.metrics.DedupDecisions.WithLabelValues(string(proposed.Determination)).Inc()
	}

	return e.resolveAndPromote(ctx, referenceID, proposed)
}

// phase1 implements the identifier shortcut. shortCircuited is true when a
// trusted identifier resolved the reference without needing candidate
// recall at all.
func (e *Engine) phase1(ctx context.Context, referenceID string) (models.ReferenceDuplicateDecision, bool, error) {
	ownIdentifiers, err := e.ids.ListByReference(ctx, referenceID)
	if err != nil {
		return models.ReferenceDuplicateDecision{}, false, err
	}

	trusted := make(map[string]struct{}, len(e.cfg.TrustedUniqueIdentifierTypes))
	for _, t := range e.cfg.TrustedUniqueIdentifierTypes {
		trusted[t] = struct{}{}
	}

	canonicals := make(map[string]struct{})
	for _, id := range ownIdentifiers {
		if _, ok := trusted[string(id.IdentifierType)]; !ok {
			continue
		}
		matchedID, err := e.ids.FindReferenceByIdentifier(ctx, id.IdentifierType, id.Identifier, id.OtherIdentifierName)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return models.ReferenceDuplicateDecision{}, false, err
		}
		if matchedID == referenceID {
			continue
		}

		determination, canonical, err := e.resolveOwnDetermination(ctx, matchedID)
		if err != nil {
			return models.ReferenceDuplicateDecision{}, false, err
		}
		if determination == models.DeterminationDecoupled || determination == models.DeterminationUnresolved {
			return models.ReferenceDuplicateDecision{Determination: models.DeterminationUnresolved}, true, nil
		}
		canonicals[canonical] = struct{}{}
	}

	switch len(canonicals) {
	case 0:
		return models.ReferenceDuplicateDecision{}, false, nil
	case 1:
		var canonical string
		for c := range canonicals {
			canonical = c
		}
		return models.ReferenceDuplicateDecision{Determination: models.DeterminationDuplicate, CanonicalReferenceID: &canonical}, true, nil
	default:
		return models.ReferenceDuplicateDecision{Determination: models.DeterminationUnresolved}, true, nil
	}
}

// resolveOwnDetermination returns refID's own active determination (CANONICAL
// by default when it has never been decided) plus the canonical reference
// it resolves to (itself, if CANONICAL).
func (e *Engine) resolveOwnDetermination(ctx context.Context, refID string) (models.Determination, string, error) {
	active, err := e.decisions.GetActive(ctx, refID)
	if errors.Is(err, store.ErrNotFound) {
		return models.DeterminationCanonical, refID, nil
	}
	if err != nil {
		return "", "", err
	}
	if active.Determination.PointsToCanonical() {
		return active.Determination, *active.CanonicalReferenceID, nil
	}
	return active.Determination, refID, nil
}

// phase2 recalls up to CandidateRecallLimit existing canonical candidates by
// title similarity. A zero limit or an empty title both fall through to
// phase3 with zero candidates, which proposes CANONICAL.
func (e *Engine) phase2(ctx context.Context, referenceID string, fields models.SearchFields) ([]string, error) {
	if e.cfg.CandidateRecallLimit <= 0 {
		return nil, nil
	}
	candidates, err := e.search.CandidateRecall(ctx, fields, e.cfg.CandidateRecallLimit)
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, c := range candidates {
		if c != referenceID {
			out = append(out, c)
		}
	}
	return out, nil
}

// phase3 scores every candidate and applies the Determinator, proposing
// DUPLICATE (tie-broken to the lexicographically smallest candidate),
// UNRESOLVED, or CANONICAL if every candidate is rejected.
func (e *Engine) phase3(ctx context.Context, referenceID string, fields models.SearchFields, candidates []string) (models.ReferenceDuplicateDecision, error) {
	ownIdentifiers, err := e.ids.ListByReference(ctx, referenceID)
	if err != nil {
		return models.ReferenceDuplicateDecision{}, err
	}
	ownNonTrusted := nonTrustedKeys(ownIdentifiers, e.cfg.TrustedUniqueIdentifierTypes)
	ownNormalized := normalizeTitle(fields.Title)
	ownTokens, ownBigrams := tokenSet(ownNormalized), bigramSet(ownNormalized)

	var duplicates []string
	unresolvedFound := false

	for _, candidateID := range candidates {
		candFields, err := e.buildSearchFields(ctx, candidateID)
		if err != nil {
			return models.ReferenceDuplicateDecision{}, err
		}
		candIdentifiers, err := e.ids.ListByReference(ctx, candidateID)
		if err != nil {
			return models.ReferenceDuplicateDecision{}, err
		}
		candNonTrusted := nonTrustedKeys(candIdentifiers, e.cfg.TrustedUniqueIdentifierTypes)
		candNormalized := normalizeTitle(candFields.Title)

		tokenJ := jaccard(ownTokens, tokenSet(candNormalized))
		bigramJ := jaccard(ownBigrams, bigramSet(candNormalized))

		features := Features{
			TitleJaccard:               (tokenJ + bigramJ) / 2,
			TokenJaccard:               tokenJ,
			BigramJaccard:              bigramJ,
			AuthorOverlap:              authorOverlapScore(fields.Authors, candFields.Authors, e.cfg.AuthorOverlapSaturation),
			YearMatch:                  yearsMatch(fields.PublicationYear, candFields.PublicationYear),
			SharedNonTrustedIdentifier: sharesKey(ownNonTrusted, candNonTrusted),
			LengthRatio:                lengthRatio(ownNormalized, candNormalized),
			NumberTokensDisagree:       numberTokensDisagree(ownNormalized, candNormalized),
			ConflictKeyword:            hasConflictKeyword(fields.Title, candFields.Title),
		}

		switch e.determinator.Determine(features) {
		case models.DeterminationDuplicate:
			duplicates = append(duplicates, candidateID)
		case models.DeterminationUnresolved:
			unresolvedFound = true
		}
	}

	if len(duplicates) > 0 {
		sort.Strings(duplicates)
		canonical := duplicates[0]
		return models.ReferenceDuplicateDecision{Determination: models.DeterminationDuplicate, CanonicalReferenceID: &canonical}, nil
	}
	if unresolvedFound {
		return models.ReferenceDuplicateDecision{Determination: models.DeterminationUnresolved}, nil
	}
	return models.ReferenceDuplicateDecision{Determination: models.DeterminationCanonical}, nil
}

// resolveAndPromote implements Phase 4: compute the action for (current,
// proposed), promote when allowed, retry on ErrStaleDecision up to
// PromotionRetryLimit times, and fall back to an UNRESOLVED manual-review
// decision when promotion can't proceed.
func (e *Engine) resolveAndPromote(ctx context.Context, referenceID string, proposed models.ReferenceDuplicateDecision) error {
	for attempt := 0; attempt <= e.cfg.PromotionRetryLimit; attempt++ {
		current, err := e.decisions.GetActive(ctx, referenceID)
		if errors.Is(err, store.ErrNotFound) {
			current = nil
		} else if err != nil {
			return err
		}

		if proposed.Determination.PointsToCanonical() {
			targetDetermination, _, err := e.resolveOwnDetermination(ctx, *proposed.CanonicalReferenceID)
			if err != nil {
				return err
			}
			if targetDetermination != models.DeterminationCanonical {
				return e.raiseManual(ctx, referenceID, current, &DecisionGraphCorruption{
					ReferenceID: referenceID,
					Reason:      fmt.Sprintf("proposed canonical %s is not itself CANONICAL", *proposed.CanonicalReferenceID),
				})
			}
		}

		action := resolveAction(current, proposed)
		switch action {
		case actionNoop:
			return nil
		case actionManual:
			return e.raiseManual(ctx, referenceID, current, nil)
		case actionPromote:
			var expectedVersion int64
			if current != nil {
				expectedVersion = current.Version
			}
			promoted, err := e.decisions.PromoteDecision(ctx, proposed, expectedVersion)
			if errors.Is(err, store.ErrStaleDecision) {
				continue
			}
			if err != nil {
				return err
			}
			return e.enqueueRebuilds(ctx, referenceID, current, promoted)
		}
	}

	current, err := e.decisions.GetActive(ctx, referenceID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return e.raiseManual(ctx, referenceID, current, fmt.Errorf("exhausted %d promotion retries", e.cfg.PromotionRetryLimit))
}

type action int

const (
	actionPromote action = iota
	actionNoop
	actionManual
)

// resolveAction implements spec.md §4.E Phase 4's action table. The target
// canonical's own CANONICAL status is already validated by the caller.
func resolveAction(current *models.ReferenceDuplicateDecision, proposed models.ReferenceDuplicateDecision) action {
	if current == nil {
		return actionPromote
	}
	if current.Determination == proposed.Determination && sameCanonical(current.CanonicalReferenceID, proposed.CanonicalReferenceID) {
		return actionNoop
	}
	if current.Determination == models.DeterminationCanonical && proposed.Determination.PointsToCanonical() {
		return actionPromote
	}
	if current.Determination.PointsToCanonical() && proposed.Determination == models.DeterminationCanonical {
		return actionManual
	}
	if current.Determination.PointsToCanonical() && proposed.Determination.PointsToCanonical() &&
		!sameCanonical(current.CanonicalReferenceID, proposed.CanonicalReferenceID) {
		return actionManual
	}
	return actionPromote
}

// enqueueRebuilds emits a projection-rebuild task for every canonical whose
// membership changed as a result of this promotion.
func (e *Engine) enqueueRebuilds(ctx context.Context, referenceID string, previous *models.ReferenceDuplicateDecision, promoted *models.ReferenceDuplicateDecision) error {
	targets := make(map[string]struct{})
	if promoted.Determination.PointsToCanonical() {
		targets[*promoted.CanonicalReferenceID] = struct{}{}
	}
	if promoted.Determination == models.DeterminationCanonical {
		targets[referenceID] = struct{}{}
	}
	if previous != nil {
		if previous.Determination == models.DeterminationCanonical && promoted.Determination != models.DeterminationCanonical {
			// referenceID stops serving as its own canonical.
			targets[referenceID] = struct{}{}
		}
		if previous.Determination.PointsToCanonical() &&
			(!promoted.Determination.PointsToCanonical() || *previous.CanonicalReferenceID != *promoted.CanonicalReferenceID) {
			targets[*previous.CanonicalReferenceID] = struct{}{}
		}
	}

	for canonicalID := range targets {
		dedupKey := canonicalID
		if _, err := e.tasks.Enqueue(ctx, taskbus.KindProjectionRebuild, &dedupKey, taskbus.ProjectionRebuildPayload{CanonicalID: canonicalID}, e.taskCfg.MaxRetries); err != nil {
			return fmt.Errorf("failed to enqueue projection rebuild for %s: %w", canonicalID, err)
		}
	}
	return nil
}

// raiseManual promotes referenceID to UNRESOLVED for manual review,
// best-effort: a stale-decision race here is ignored, not retried, since
// this is already the failure path.
func (e *Engine) raiseManual(ctx context.Context, referenceID string, current *models.ReferenceDuplicateDecision, cause error) error {
	slog.Warn("dedup decision requires manual review", "reference_id", referenceID, "cause", cause)

	if current != nil && current.Determination == models.DeterminationUnresolved {
		return nil
	}
	var expectedVersion int64
	if current != nil {
		expectedVersion = current.Version
	}
	_, err := e.decisions.PromoteDecision(ctx, models.ReferenceDuplicateDecision{
		ReferenceID:   referenceID,
		Determination: models.DeterminationUnresolved,
		CreatedAt:     time.Now(),
	}, expectedVersion)
	if err != nil && !errors.Is(err, store.ErrStaleDecision) {
		return err
	}
	return nil
}

// buildSearchFields extracts the Phase 2/3 search document from a
// reference's own enhancements: the latest bibliographic and abstract
// contributions by creation time.
func (e *Engine) buildSearchFields(ctx context.Context, referenceID string) (models.SearchFields, error) {
	enhancements, err := e.enhs.ListByReference(ctx, referenceID)
	if err != nil {
		return models.SearchFields{}, err
	}

	fields := models.SearchFields{ReferenceID: referenceID}
	for _, enh := range enhancements {
		switch enh.Type {
		case models.EnhancementTypeBibliographic:
			var c models.BibliographicContent
			if err := json.Unmarshal(enh.Content, &c); err == nil {
				fields.Title = c.Title
				fields.Authors = c.Authors
				fields.PublicationYear = c.PublicationYear
			}
		case models.EnhancementTypeAbstract:
			var c models.AbstractContent
			if err := json.Unmarshal(enh.Content, &c); err == nil {
				fields.Abstract = c.Text
			}
		}
	}
	return fields, nil
}

func sameCanonical(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func yearsMatch(a, b int) bool {
	if a == 0 || b == 0 {
		return false
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1
}

func nonTrustedKeys(ids []models.ExternalIdentifier, trustedTypes []string) map[string]struct{} {
	trusted := make(map[string]struct{}, len(trustedTypes))
	for _, t := range trustedTypes {
		trusted[t] = struct{}{}
	}
	out := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := trusted[string(id.IdentifierType)]; ok {
			continue
		}
		out[id.Key()] = struct{}{}
	}
	return out
}

func sharesKey(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}
