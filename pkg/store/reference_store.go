package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/destiny/pkg/database"
	"github.com/codeready-toolchain/destiny/pkg/models"
)

// ReferenceStore persists the append-only reference aggregate root.
type ReferenceStore struct {
	db *database.Client
}

// NewReferenceStore creates a ReferenceStore.
func NewReferenceStore(db *database.Client) *ReferenceStore {
	return &ReferenceStore{db: db}
}

// Create inserts a new reference with a generated ID and public visibility
// unless overridden.
func (s *ReferenceStore) Create(ctx context.Context, visibility models.Visibility) (*models.Reference, error) {
	if visibility == "" {
		visibility = models.VisibilityPublic
	}
	if !visibility.IsValid() {
		return nil, NewValidationError("visibility", "unknown visibility value")
	}

	ref := &models.Reference{
		ID:         uuid.New().String(),
		Visibility: visibility,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO "references" (id, visibility, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		ref.ID, ref.Visibility, ref.CreatedAt, ref.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create reference: %w", err)
	}

	return ref, nil
}

// Get retrieves a reference by ID, including soft-deleted ones.
func (s *ReferenceStore) Get(ctx context.Context, id string) (*models.Reference, error) {
	var ref models.Reference
	err := s.db.GetContext(ctx, &ref,
		`SELECT id, visibility, created_at, updated_at, deleted_at FROM "references" WHERE id = $1`, id)
	if err != nil {
		return nil, notFoundOr(err, "failed to get reference")
	}
	return &ref, nil
}

// SoftDelete marks a reference deleted without removing its row, preserving
// referential integrity for decisions and enhancements that still point at
// it.
func (s *ReferenceStore) SoftDelete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE "references" SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to soft delete reference: %w", err)
	}
	return requireRowsAffected(res, ErrNotFound)
}

// SoftDeletedBefore lists references soft-deleted before cutoff, for
// pkg/cleanup's retention sweep.
func (s *ReferenceStore) SoftDeletedBefore(ctx context.Context, cutoff time.Time) ([]models.Reference, error) {
	var refs []models.Reference
	err := s.db.SelectContext(ctx, &refs,
		`SELECT id, visibility, created_at, updated_at, deleted_at FROM "references"
		 WHERE deleted_at IS NOT NULL AND deleted_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list soft-deleted references: %w", err)
	}
	return refs, nil
}

// PurgeIdentifiersAndEnhancements removes the identifiers and enhancements
// of a soft-deleted reference, as the final step of the retention sweep.
// The reference row itself is kept so decisions pointing at it stay valid.
func (s *ReferenceStore) PurgeIdentifiersAndEnhancements(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM external_identifiers WHERE reference_id = $1`, id); err != nil {
		return fmt.Errorf("failed to purge identifiers: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM enhancements WHERE reference_id = $1`, id); err != nil {
		return fmt.Errorf("failed to purge enhancements: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge: %w", err)
	}
	return nil
}
