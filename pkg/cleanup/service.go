// Package cleanup runs the periodic retention sweep: purging identifiers
// and enhancements of long soft-deleted references, dropping search
// projections whose canonical reference was soft-deleted, and
// trimming aged dead-letter tasks.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/destiny/pkg/config"
	"github.com/codeready-toolchain/destiny/pkg/store"
	"github.com/codeready-toolchain/destiny/pkg/taskbus"
)

// Service periodically enforces spec.md's data retention policy:
//   - Purges identifiers/enhancements of references soft-deleted past
//     RetentionConfig.SoftDeleteRetentionDays (the reference row itself is
//     kept so any decision still pointing at it stays valid).
//   - Deletes search/index documents whose canonical reference has been
//     soft-deleted past OrphanedSearchDocumentTTL — left behind because a
//     projection rebuild is never triggered by a delete.
//   - Deletes dead_letter_tasks rows past DeadLetterTaskTTL.
//
// All operations are idempotent and safe to run from multiple nodes.
type Service struct {
	cfg    *config.RetentionConfig
	refs   *store.ReferenceStore
	search *store.SearchStore
	tasks  *taskbus.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention Service.
func NewService(cfg *config.RetentionConfig, refs *store.ReferenceStore, search *store.SearchStore, tasks *taskbus.Store) *Service {
	return &Service{cfg: cfg, refs: refs, search: search, tasks: tasks}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"soft_delete_retention_days", s.cfg.SoftDeleteRetentionDays,
		"orphaned_search_document_ttl", s.cfg.OrphanedSearchDocumentTTL,
		"dead_letter_task_ttl", s.cfg.DeadLetterTaskTTL,
		"interval", s.cfg.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.purgeSoftDeletedReferences(ctx)
	s.purgeOrphanedSearchDocuments(ctx)
	s.purgeDeadLetterTasks(ctx)
}

func (s *Service) purgeSoftDeletedReferences(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.SoftDeleteRetentionDays)
	refs, err := s.refs.SoftDeletedBefore(ctx, cutoff)
	if err != nil {
		slog.Error("retention: list soft-deleted references failed", "error", err)
		return
	}
	purged := 0
	for _, ref := range refs {
		if err := s.refs.PurgeIdentifiersAndEnhancements(ctx, ref.ID); err != nil {
			slog.Error("retention: purge reference failed", "reference_id", ref.ID, "error", err)
			continue
		}
		purged++
	}
	if purged > 0 {
		slog.Info("retention: purged soft-deleted reference contents", "count", purged)
	}
}

func (s *Service) purgeOrphanedSearchDocuments(ctx context.Context) {
	docs, err := s.search.AllDocuments(ctx)
	if err != nil {
		slog.Error("retention: list search documents failed", "error", err)
		return
	}
	cutoff := time.Now().Add(-s.cfg.OrphanedSearchDocumentTTL)
	purged := 0
	for _, doc := range docs {
		ref, err := s.refs.Get(ctx, doc.CanonicalID)
		if err != nil {
			slog.Error("retention: resolve search document reference failed", "canonical_id", doc.CanonicalID, "error", err)
			continue
		}
		if ref.DeletedAt == nil || ref.DeletedAt.After(cutoff) {
			continue
		}
		if err := s.search.Delete(ctx, doc.CanonicalID); err != nil {
			slog.Error("retention: delete orphaned search document failed", "canonical_id", doc.CanonicalID, "error", err)
			continue
		}
		purged++
	}
	if purged > 0 {
		slog.Info("retention: purged orphaned search documents", "count", purged)
	}
}

func (s *Service) purgeDeadLetterTasks(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.DeadLetterTaskTTL)
	count, err := s.tasks.PurgeDeadLetterBefore(ctx, cutoff)
	if err != nil {
		slog.Error("retention: purge dead letter tasks failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: purged dead letter tasks", "count", count)
	}
}
