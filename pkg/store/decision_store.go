package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/destiny/pkg/database"
	"github.com/codeready-toolchain/destiny/pkg/models"
)

// DecisionStore manages the append-only reference_duplicate_decisions
// history. A decision is never updated in place: PromoteDecision always
// deactivates the current active row (if any) and inserts the next one, in
// a single transaction guarded by an optimistic-concurrency check.
type DecisionStore struct {
	db *database.Client
}

// NewDecisionStore creates a DecisionStore.
func NewDecisionStore(db *database.Client) *DecisionStore {
	return &DecisionStore{db: db}
}

// GetActive returns the currently active decision for referenceID, or
// ErrNotFound if the reference has never been decided (e.g. it is brand new
// and still CANONICAL by default).
func (s *DecisionStore) GetActive(ctx context.Context, referenceID string) (*models.ReferenceDuplicateDecision, error) {
	var d models.ReferenceDuplicateDecision
	err := s.db.GetContext(ctx, &d,
		`SELECT id, reference_id, canonical_reference_id, determination, active, version, created_at
		 FROM reference_duplicate_decisions WHERE reference_id = $1 AND active`, referenceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active decision: %w", err)
	}
	return &d, nil
}

// ListActiveDuplicatesOf returns every reference currently pointing at
// canonicalID as a DUPLICATE/EXACT_DUPLICATE target — the membership of a
// DeduplicatedReferenceProjection's star.
func (s *DecisionStore) ListActiveDuplicatesOf(ctx context.Context, canonicalID string) ([]models.ReferenceDuplicateDecision, error) {
	var out []models.ReferenceDuplicateDecision
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, reference_id, canonical_reference_id, determination, active, version, created_at
		 FROM reference_duplicate_decisions WHERE canonical_reference_id = $1 AND active`, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicates: %w", err)
	}
	return out, nil
}

// PromoteDecision deactivates the current active decision for
// next.ReferenceID (if its version matches expectedVersion) and inserts
// next as the new active decision. expectedVersion is 0 when the caller
// believes no active decision exists yet. Returns ErrStaleDecision if
// another process promoted a decision for this reference first.
func (s *DecisionStore) PromoteDecision(ctx context.Context, next models.ReferenceDuplicateDecision, expectedVersion int64) (*models.ReferenceDuplicateDecision, error) {
	if !next.Determination.IsValid() {
		return nil, NewValidationError("determination", "unknown determination value")
	}
	if next.Determination.PointsToCanonical() && next.CanonicalReferenceID == nil {
		return nil, NewValidationError("canonical_reference_id", "required for DUPLICATE/EXACT_DUPLICATE")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentVersion int64
	err = tx.GetContext(ctx, &currentVersion,
		`SELECT version FROM reference_duplicate_decisions WHERE reference_id = $1 AND active`, next.ReferenceID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		currentVersion = 0
	case err != nil:
		return nil, fmt.Errorf("failed to read current decision version: %w", err)
	}

	if currentVersion != expectedVersion {
		return nil, ErrStaleDecision
	}

	if currentVersion > 0 {
		res, err := tx.ExecContext(ctx,
			`UPDATE reference_duplicate_decisions SET active = false
			 WHERE reference_id = $1 AND active AND version = $2`, next.ReferenceID, currentVersion)
		if err != nil {
			return nil, fmt.Errorf("failed to deactivate current decision: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ErrStaleDecision
		}
	}

	if next.ID == "" {
		next.ID = uuid.New().String()
	}
	next.Active = true
	next.Version = currentVersion + 1

	_, err = tx.ExecContext(ctx,
		`INSERT INTO reference_duplicate_decisions (id, reference_id, canonical_reference_id, determination, active, version, created_at)
		 VALUES ($1, $2, $3, $4, true, $5, $6)`,
		next.ID, next.ReferenceID, next.CanonicalReferenceID, next.Determination, next.Version, next.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert decision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit decision promotion: %w", err)
	}

	return &next, nil
}
