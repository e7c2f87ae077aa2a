package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/destiny/pkg/database"
	"github.com/codeready-toolchain/destiny/pkg/models"
)

// ImportStore manages bulk-import bookkeeping: the batch header and one
// result row per ingested line.
type ImportStore struct {
	db *database.Client
}

// NewImportStore creates an ImportStore.
func NewImportStore(db *database.Client) *ImportStore {
	return &ImportStore{db: db}
}

// CreateBatch inserts a new import batch with status "processing"; the
// terminal status is set later by CompleteBatch.
func (s *ImportStore) CreateBatch(ctx context.Context, storageURL string, strategy models.CollisionStrategy, totalEntries int) (*models.ImportBatch, error) {
	if !strategy.IsValid() {
		return nil, NewValidationError("collision_strategy", "unknown collision strategy")
	}
	batch := &models.ImportBatch{
		ID:                uuid.New().String(),
		StorageURL:        storageURL,
		CollisionStrategy: strategy,
		Status:            models.ImportResultStatus("processing"),
		TotalEntries:      totalEntries,
		CreatedAt:         time.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_batches (id, storage_url, collision_strategy, status, total_entries, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		batch.ID, batch.StorageURL, batch.CollisionStrategy, batch.Status, batch.TotalEntries, batch.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create import batch: %w", err)
	}
	return batch, nil
}

// CompleteBatch sets the batch's terminal status and completion time.
func (s *ImportStore) CompleteBatch(ctx context.Context, batchID string, status models.ImportResultStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_batches SET status = $2, completed_at = $3 WHERE id = $1`,
		batchID, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to complete import batch: %w", err)
	}
	return requireRowsAffected(res, ErrNotFound)
}

// GetBatch retrieves an import batch by ID.
func (s *ImportStore) GetBatch(ctx context.Context, batchID string) (*models.ImportBatch, error) {
	var b models.ImportBatch
	err := s.db.GetContext(ctx, &b,
		`SELECT id, storage_url, collision_strategy, status, total_entries, created_at, completed_at
		 FROM import_batches WHERE id = $1`, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get import batch: %w", err)
	}
	return &b, nil
}

// RecordResult records the terminal outcome of one import line.
func (s *ImportStore) RecordResult(ctx context.Context, result models.ImportResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_results (import_batch_id, line_number, status, reference_id, reason, colliding_refs, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)`,
		result.ImportBatchID, result.LineNumber, result.Status, result.ReferenceID, result.Reason,
		result.CollidingRefs, result.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record import result: %w", err)
	}
	return nil
}

// ResultCounts returns how many lines of a batch completed vs. failed.
func (s *ImportStore) ResultCounts(ctx context.Context, batchID string) (completed, failed int, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM import_results WHERE import_batch_id = $1 GROUP BY status`, batchID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count import results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return 0, 0, fmt.Errorf("failed to scan import result counts: %w", err)
		}
		switch models.ImportRecordStatus(status) {
		case models.ImportRecordCompleted:
			completed = count
		case models.ImportRecordFailed:
			failed = count
		}
	}
	return completed, failed, rows.Err()
}
