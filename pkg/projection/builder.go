// Package projection implements the projection builder (component F):
// fold a canonical reference and every reference whose active decision
// points at it into one DeduplicatedReferenceProjection, write it to the
// search index, and percolate the resulting changeset against registered
// automation queries.
package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/codeready-toolchain/destiny/pkg/config"
	"github.com/codeready-toolchain/destiny/pkg/models"
	"github.com/codeready-toolchain/destiny/pkg/store"
	"github.com/codeready-toolchain/destiny/pkg/taskbus"
)

// Builder rebuilds one canonical's projection per Handle invocation.
type Builder struct {
	refs      *store.ReferenceStore
	ids       *store.IdentifierStore
	enhs      *store.EnhancementStore
	decisions *store.DecisionStore
	search    *store.SearchStore
	tasks     *taskbus.Store
	taskCfg   *config.TaskBusConfig
}

// New creates a Builder.
func New(refs *store.ReferenceStore, ids *store.IdentifierStore, enhs *store.EnhancementStore, decisions *store.DecisionStore, search *store.SearchStore, tasks *taskbus.Store, taskCfg *config.TaskBusConfig) *Builder {
	return &Builder{refs: refs, ids: ids, enhs: enhs, decisions: decisions, search: search, tasks: tasks, taskCfg: taskCfg}
}

// Handle implements taskbus.Handler for taskbus.KindProjectionRebuild.
func (b *Builder) Handle(ctx context.Context, task *taskbus.Task) error {
	var payload taskbus.ProjectionRebuildPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode projection rebuild payload: %w", err)
	}
	return b.Rebuild(ctx, payload.CanonicalID)
}

// Rebuild implements spec.md §4.F for canonicalID: fold members, write the
// projection, and enqueue percolation against the resulting changeset.
func (b *Builder) Rebuild(ctx context.Context, canonicalID string) error {
	canonical, err := b.refs.Get(ctx, canonicalID)
	if err != nil {
		return fmt.Errorf("failed to load canonical reference %s: %w", canonicalID, err)
	}

	duplicateDecisions, err := b.decisions.ListActiveDuplicatesOf(ctx, canonicalID)
	if err != nil {
		return fmt.Errorf("failed to list duplicates of %s: %w", canonicalID, err)
	}

	memberIDs := make([]string, 0, len(duplicateDecisions)+1)
	memberIDs = append(memberIDs, canonicalID)
	for _, d := range duplicateDecisions {
		memberIDs = append(memberIDs, d.ReferenceID)
	}
	sort.Strings(memberIDs)

	identifiers, err := b.unionIdentifiers(ctx, memberIDs)
	if err != nil {
		return fmt.Errorf("failed to union identifiers for %s: %w", canonicalID, err)
	}
	enhancements, err := b.unionEnhancements(ctx, memberIDs)
	if err != nil {
		return fmt.Errorf("failed to union enhancements for %s: %w", canonicalID, err)
	}

	next := models.DeduplicatedReferenceProjection{
		CanonicalID:  canonicalID,
		MemberIDs:    memberIDs,
		Identifiers:  identifiers,
		Enhancements: enhancements,
		Visibility:   canonical.Visibility,
		BuiltAt:      time.Now(),
		SearchFields: searchFieldsFromEnhancements(canonicalID, enhancements),
	}

	previous, err := b.search.Get(ctx, canonicalID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to load previous projection for %s: %w", canonicalID, err)
	}

	if err := b.search.Upsert(ctx, next); err != nil {
		return fmt.Errorf("failed to upsert projection for %s: %w", canonicalID, err)
	}

	changeset := diffChangeset(previous, next)
	if len(changeset.AddedIdentifiers) == 0 && len(changeset.AddedEnhancements) == 0 {
		return nil
	}

	doc := models.PercolationDocument{Reference: next, Changeset: changeset}
	if _, err := b.tasks.Enqueue(ctx, taskbus.KindAutomationMatch, nil, taskbus.AutomationMatchPayload{
		CanonicalID: canonicalID,
		Document:    doc,
	}, b.taskCfg.MaxRetries); err != nil {
		return fmt.Errorf("failed to enqueue automation match for %s: %w", canonicalID, err)
	}
	return nil
}

// unionIdentifiers dedups on the full identifier tuple, sorted by key for
// idempotent output.
func (b *Builder) unionIdentifiers(ctx context.Context, memberIDs []string) ([]models.ProjectedIdentifier, error) {
	seen := make(map[string]models.ProjectedIdentifier)
	for _, memberID := range memberIDs {
		ids, err := b.ids.ListByReference(ctx, memberID)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			seen[id.Key()] = models.ProjectedIdentifier{ExternalIdentifier: id}
		}
	}
	return sortedIdentifiers(seen), nil
}

// unionEnhancements dedups on (source, type, reference_id) first, then
// keeps only the latest by CreatedAt within each (source, type) — spec.md
// §4.F step 2.
func (b *Builder) unionEnhancements(ctx context.Context, memberIDs []string) ([]models.ProjectedEnhancement, error) {
	byTriple := make(map[string]models.Enhancement)
	for _, memberID := range memberIDs {
		enhs, err := b.enhs.ListByReference(ctx, memberID)
		if err != nil {
			return nil, err
		}
		for _, e := range enhs {
			byTriple[e.Key()] = e
		}
	}

	latestByType := make(map[string]models.Enhancement)
	for _, e := range byTriple {
		logicalKey := e.Source + "\x00" + string(e.Type)
		current, ok := latestByType[logicalKey]
		if !ok || e.CreatedAt.After(current.CreatedAt) ||
			(e.CreatedAt.Equal(current.CreatedAt) && e.ReferenceID < current.ReferenceID) {
			latestByType[logicalKey] = e
		}
	}

	out := make([]models.ProjectedEnhancement, 0, len(latestByType))
	for _, e := range latestByType {
		out = append(out, models.ProjectedEnhancement{Enhancement: e})
	}
	sort.Slice(out, func(i, j int) bool {
		ki := out[i].Source + "\x00" + string(out[i].Type)
		kj := out[j].Source + "\x00" + string(out[j].Type)
		return ki < kj
	})
	return out, nil
}

// searchFieldsFromEnhancements derives the title/authors/year/abstract
// recall document from the already-merged enhancement set, the same
// bibliographic/abstract extraction pkg/dedup does per reference.
func searchFieldsFromEnhancements(canonicalID string, enhancements []models.ProjectedEnhancement) models.SearchFields {
	fields := models.SearchFields{ReferenceID: canonicalID}
	for _, e := range enhancements {
		switch e.Type {
		case models.EnhancementTypeBibliographic:
			var c models.BibliographicContent
			if err := json.Unmarshal(e.Content, &c); err == nil {
				fields.Title = c.Title
				fields.Authors = c.Authors
				fields.PublicationYear = c.PublicationYear
			}
		case models.EnhancementTypeAbstract:
			var c models.AbstractContent
			if err := json.Unmarshal(e.Content, &c); err == nil {
				fields.Abstract = c.Text
			}
		}
	}
	return fields
}

func sortedIdentifiers(seen map[string]models.ProjectedIdentifier) []models.ProjectedIdentifier {
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]models.ProjectedIdentifier, 0, len(keys))
	for _, k := range keys {
		out = append(out, seen[k])
	}
	return out
}

// diffChangeset computes which identifiers/enhancements are new in next
// relative to previous. A nil previous (first build) treats everything as
// newly added.
func diffChangeset(previous *models.DeduplicatedReferenceProjection, next models.DeduplicatedReferenceProjection) models.Changeset {
	oldIDs := make(map[string]struct{})
	oldEnhs := make(map[string]struct{})
	if previous != nil {
		for _, id := range previous.Identifiers {
			oldIDs[id.Key()] = struct{}{}
		}
		for _, e := range previous.Enhancements {
			oldEnhs[e.Key()] = struct{}{}
		}
	}

	cs := models.Changeset{ReferenceID: next.CanonicalID}
	for _, id := range next.Identifiers {
		if _, ok := oldIDs[id.Key()]; !ok {
			cs.AddedIdentifiers = append(cs.AddedIdentifiers, id)
		}
	}
	for _, e := range next.Enhancements {
		if _, ok := oldEnhs[e.Key()]; !ok {
			cs.AddedEnhancements = append(cs.AddedEnhancements, e)
		}
	}
	return cs
}
