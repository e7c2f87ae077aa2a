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

// RequestStore manages enhancement requests, their reference membership,
// and the per-robot batches cut from them.
type RequestStore struct {
	db *database.Client
}

// NewRequestStore creates a RequestStore.
func NewRequestStore(db *database.Client) *RequestStore {
	return &RequestStore{db: db}
}

// Create inserts a new enhancement request and its reference membership in
// one transaction.
func (s *RequestStore) Create(ctx context.Context, req models.EnhancementRequest) (*models.EnhancementRequest, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	now := time.Now()
	req.CreatedAt, req.UpdatedAt = now, now
	if req.Status == "" {
		req.Status = models.RequestStatusReceived
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO enhancement_requests (id, robot_id, status, origin_robot_id, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		req.ID, req.RobotID, req.Status, req.OriginRobotID, req.ErrorMessage, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create enhancement request: %w", err)
	}

	for _, refID := range req.ReferenceIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO enhancement_request_references (request_id, reference_id) VALUES ($1, $2)`,
			req.ID, refID); err != nil {
			return nil, fmt.Errorf("failed to attach reference to request: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit enhancement request: %w", err)
	}
	return &req, nil
}

// Get retrieves a request and its reference membership.
func (s *RequestStore) Get(ctx context.Context, id string) (*models.EnhancementRequest, error) {
	var req models.EnhancementRequest
	err := s.db.GetContext(ctx, &req,
		`SELECT id, robot_id, status, origin_robot_id, error_message, created_at, updated_at
		 FROM enhancement_requests WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get enhancement request: %w", err)
	}

	err = s.db.SelectContext(ctx, &req.ReferenceIDs,
		`SELECT reference_id FROM enhancement_request_references WHERE request_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load request references: %w", err)
	}
	return &req, nil
}

// UpdateStatus transitions a request's lifecycle state.
func (s *RequestStore) UpdateStatus(ctx context.Context, id string, status models.RequestStatus, errMsg *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enhancement_requests SET status = $2, error_message = $3, updated_at = $4 WHERE id = $1`,
		id, status, errMsg, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}
	return requireRowsAffected(res, ErrNotFound)
}

// CreateBatch cuts a per-robot slice of a request's references into a
// RobotEnhancementBatch.
func (s *RequestStore) CreateBatch(ctx context.Context, batch models.RobotEnhancementBatch) (*models.RobotEnhancementBatch, error) {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	batch.CreatedAt = time.Now()
	if batch.Status == "" {
		batch.Status = models.BatchStatusOutstanding
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO robot_enhancement_batches
		 (id, request_id, robot_id, reference_blob_key, result_blob_key, reference_storage_url, result_storage_url, status, deadline, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		batch.ID, batch.RequestID, batch.RobotID, batch.ReferenceBlobKey, batch.ResultBlobKey,
		batch.ReferenceStorageURL, batch.ResultStorageURL, batch.Status, batch.Deadline, batch.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	for _, refID := range batch.ReferenceIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO robot_enhancement_batch_references (batch_id, reference_id) VALUES ($1, $2)`,
			batch.ID, refID); err != nil {
			return nil, fmt.Errorf("failed to attach reference to batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	return &batch, nil
}

// GetBatch retrieves a batch and its reference membership.
func (s *RequestStore) GetBatch(ctx context.Context, id string) (*models.RobotEnhancementBatch, error) {
	var b models.RobotEnhancementBatch
	err := s.db.GetContext(ctx, &b,
		`SELECT id, request_id, robot_id, reference_blob_key, result_blob_key, reference_storage_url, result_storage_url, status, deadline, created_at
		 FROM robot_enhancement_batches WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	err = s.db.SelectContext(ctx, &b.ReferenceIDs,
		`SELECT reference_id FROM robot_enhancement_batch_references WHERE batch_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch references: %w", err)
	}
	return &b, nil
}

// UpdateBatchStatus transitions a batch's status (outstanding -> succeeded/failed/expired).
func (s *RequestStore) UpdateBatchStatus(ctx context.Context, id string, status models.BatchStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE robot_enhancement_batches SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}
	return requireRowsAffected(res, ErrNotFound)
}

// OpenRequestsForRobot returns robotID's non-terminal requests, oldest
// first — the pool pull_batch draws from.
func (s *RequestStore) OpenRequestsForRobot(ctx context.Context, robotID string) ([]models.EnhancementRequest, error) {
	var out []models.EnhancementRequest
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, robot_id, status, origin_robot_id, error_message, created_at, updated_at
		 FROM enhancement_requests
		 WHERE robot_id = $1 AND status NOT IN ('COMPLETED', 'FAILED', 'PARTIAL_FAILED', 'INDEXING_FAILED')
		 ORDER BY created_at ASC`, robotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open requests: %w", err)
	}
	return out, nil
}

// UnbatchedReferenceIDs returns up to maxSize of requestID's reference ids
// that aren't currently covered by an outstanding batch for any request, nor
// already returned in a succeeded batch of this request — pull_batch step 1.
func (s *RequestStore) UnbatchedReferenceIDs(ctx context.Context, requestID string, maxSize int) ([]string, error) {
	var out []string
	err := s.db.SelectContext(ctx, &out,
		`SELECT rr.reference_id FROM enhancement_request_references rr
		 WHERE rr.request_id = $1
		 AND NOT EXISTS (
		   SELECT 1 FROM robot_enhancement_batch_references br
		   JOIN robot_enhancement_batches b ON b.id = br.batch_id
		   WHERE br.reference_id = rr.reference_id
		   AND (b.status = $2 OR (b.request_id = rr.request_id AND b.status = $4))
		 )
		 LIMIT $3`, requestID, models.BatchStatusOutstanding, maxSize, models.BatchStatusSucceeded)
	if err != nil {
		return nil, fmt.Errorf("failed to list unbatched references: %w", err)
	}
	return out, nil
}

// OutstandingBatchCount returns how many of requestID's batches are still
// outstanding (cut but not yet succeeded, failed, or expired).
func (s *RequestStore) OutstandingBatchCount(ctx context.Context, requestID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM robot_enhancement_batches WHERE request_id = $1 AND status = $2`,
		requestID, models.BatchStatusOutstanding)
	if err != nil {
		return 0, fmt.Errorf("failed to count outstanding batches: %w", err)
	}
	return n, nil
}

// LinkRebuildTasks records that taskIDs were enqueued on behalf of
// requestID, so the indexing-completion sweep can later tell whether every
// rebuild a request triggered has settled. A task id already linked to the
// request is left alone.
func (s *RequestStore) LinkRebuildTasks(ctx context.Context, requestID string, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	for _, taskID := range taskIDs {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO request_rebuild_tasks (request_id, task_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			requestID, taskID); err != nil {
			return fmt.Errorf("failed to link rebuild task %s: %w", taskID, err)
		}
	}
	return nil
}

// RebuildProgress summarizes the status of every projection-rebuild task
// linked to requestID via LinkRebuildTasks: succeeded counts tasks that
// finished cleanly, pending counts tasks still pending or in progress in
// the tasks table, and failed counts tasks absent from the tasks table
// entirely — the only way a task leaves it short of being claimed is
// taskbus.Store.Fail moving it to dead_letter_tasks once its retries are
// exhausted.
func (s *RequestStore) RebuildProgress(ctx context.Context, requestID string) (pending, succeeded, failed int, err error) {
	row := struct {
		Pending   int `db:"pending"`
		Succeeded int `db:"succeeded"`
		Failed    int `db:"failed"`
	}{}
	err = s.db.GetContext(ctx, &row,
		`SELECT
		   COUNT(*) FILTER (WHERE t.id IS NOT NULL AND t.status <> 'succeeded') AS pending,
		   COUNT(*) FILTER (WHERE t.id IS NOT NULL AND t.status = 'succeeded') AS succeeded,
		   COUNT(*) FILTER (WHERE t.id IS NULL) AS failed
		 FROM request_rebuild_tasks rrt
		 LEFT JOIN tasks t ON t.id = rrt.task_id
		 WHERE rrt.request_id = $1`, requestID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to summarize rebuild progress: %w", err)
	}
	return row.Pending, row.Succeeded, row.Failed, nil
}

// RequestsByStatus returns every request currently in status, for the
// orchestrator's indexing-completion sweep to walk.
func (s *RequestStore) RequestsByStatus(ctx context.Context, status models.RequestStatus) ([]models.EnhancementRequest, error) {
	var out []models.EnhancementRequest
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, robot_id, status, origin_robot_id, error_message, created_at, updated_at
		 FROM enhancement_requests WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests by status: %w", err)
	}
	return out, nil
}

// AppendError accumulates msg onto requestID's error_message without
// touching its status, so validation issues from an earlier batch aren't
// overwritten by a later one before the request reaches a terminal state.
func (s *RequestStore) AppendError(ctx context.Context, requestID string, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enhancement_requests
		 SET error_message = CASE WHEN error_message IS NULL THEN $2 ELSE error_message || '; ' || $2 END,
		     updated_at = $3
		 WHERE id = $1`,
		requestID, msg, time.Now())
	if err != nil {
		return fmt.Errorf("failed to append request error: %w", err)
	}
	return requireRowsAffected(res, ErrNotFound)
}

// ExpiredOutstandingBatches returns outstanding batches whose deadline has
// passed, for pkg/orchestrator's expiry sweep.
func (s *RequestStore) ExpiredOutstandingBatches(ctx context.Context, asOf time.Time) ([]models.RobotEnhancementBatch, error) {
	var out []models.RobotEnhancementBatch
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, request_id, robot_id, reference_blob_key, result_blob_key, reference_storage_url, result_storage_url, status, deadline, created_at
		 FROM robot_enhancement_batches WHERE status = $1 AND deadline < $2`,
		models.BatchStatusOutstanding, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired batches: %w", err)
	}
	return out, nil
}
