package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/destiny/pkg/database"
	"github.com/codeready-toolchain/destiny/pkg/models"
)

// EnhancementStore manages the enhancements table. Enhancements are
// append-only: a new robot contribution is always an insert, never an
// update of a prior row, so the full provenance history survives.
type EnhancementStore struct {
	db *database.Client
}

// NewEnhancementStore creates an EnhancementStore.
func NewEnhancementStore(db *database.Client) *EnhancementStore {
	return &EnhancementStore{db: db}
}

// Attach inserts a new enhancement, assigning it an ID if unset.
func (s *EnhancementStore) Attach(ctx context.Context, e models.Enhancement) (*models.Enhancement, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enhancements (id, reference_id, source, type, robot_version, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.ReferenceID, e.Source, e.Type, e.RobotVersion, e.Content, e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to attach enhancement: %w", err)
	}
	return &e, nil
}

// ListByReference returns every enhancement ever recorded for a reference,
// oldest first.
func (s *EnhancementStore) ListByReference(ctx context.Context, referenceID string) ([]models.Enhancement, error) {
	var out []models.Enhancement
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, reference_id, source, type AS enhancement_type, robot_version, content, created_at
		 FROM enhancements WHERE reference_id = $1 ORDER BY created_at ASC`, referenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enhancements: %w", err)
	}
	return out, nil
}

// ListByReferences returns every enhancement for a set of references in one
// query, oldest first.
func (s *EnhancementStore) ListByReferences(ctx context.Context, referenceIDs []string) ([]models.Enhancement, error) {
	if len(referenceIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlxIn(
		`SELECT id, reference_id, source, type AS enhancement_type, robot_version, content, created_at
		 FROM enhancements WHERE reference_id IN (?) ORDER BY created_at ASC`, referenceIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build enhancement query: %w", err)
	}
	var out []models.Enhancement
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list enhancements: %w", err)
	}
	return out, nil
}
