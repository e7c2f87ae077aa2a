package taskbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/destiny/pkg/database"
)

// Store is the Postgres-backed implementation of the task queue: one
// "tasks" table, claimed with SELECT ... FOR UPDATE SKIP LOCKED, plus a
// "dead_letter_tasks" table for exhausted retries.
type Store struct {
	db *database.Client
}

// NewStore creates a Store.
func NewStore(db *database.Client) *Store {
	return &Store{db: db}
}

// Enqueue schedules payload for processing under kind. If dedupKey is
// non-nil and a pending task of the same kind and dedup key already
// exists, Enqueue is a no-op and returns that existing task — this is how
// callers avoid piling up redundant dedup/projection-rebuild tasks for the
// same reference while one is still outstanding.
func (s *Store) Enqueue(ctx context.Context, kind Kind, dedupKey *string, payload any, maxAttempts int) (*Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	now := time.Now()
	t := &Task{
		ID:          uuid.New().String(),
		Kind:        kind,
		DedupKey:    dedupKey,
		Payload:     raw,
		Status:      StatusPending,
		AvailableAt: now,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, kind, dedup_key, payload, status, available_at, attempts, max_attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (kind, dedup_key) WHERE dedup_key IS NOT NULL AND status = 'pending' DO NOTHING`,
		t.ID, t.Kind, t.DedupKey, t.Payload, t.Status, t.AvailableAt, t.Attempts, t.MaxAttempts, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return t, nil
	}

	// Lost the ON CONFLICT race (or an identical dedup key is already
	// pending): hand back the task already doing the work.
	var existing Task
	err = s.db.GetContext(ctx,
		&existing, `SELECT id, kind, dedup_key, payload, status, available_at, lease_owner, lease_expires_at, attempts, max_attempts, created_at, updated_at
		 FROM tasks WHERE kind = $1 AND dedup_key = $2 AND status = 'pending'`,
		kind, dedupKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load deduplicated task: %w", err)
	}
	return &existing, nil
}

// Claim atomically claims the oldest pending task of one of the given
// kinds whose available_at has passed, locking it with SKIP LOCKED so
// concurrent claimers never collide, and leases it to owner for
// leaseDuration.
func (s *Store) Claim(ctx context.Context, owner string, leaseDuration time.Duration, kinds ...Kind) (*Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := sqlx.In(
		`SELECT id, kind, dedup_key, payload, status, available_at, lease_owner, lease_expires_at, attempts, max_attempts, created_at, updated_at
		 FROM tasks
		 WHERE status = 'pending' AND available_at <= ? AND kind IN (?)
		 ORDER BY available_at ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		time.Now(), kindStrings(kinds))
	if err != nil {
		return nil, fmt.Errorf("failed to build claim query: %w", err)
	}
	query = s.db.Rebind(query)

	var t Task
	if err := tx.GetContext(ctx, &t, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoTasksAvailable
		}
		return nil, fmt.Errorf("failed to query claimable task: %w", err)
	}

	now := time.Now()
	leaseExpiresAt := now.Add(leaseDuration)
	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'in_progress', lease_owner = $2, lease_expires_at = $3, attempts = attempts + 1, updated_at = $4
		 WHERE id = $1`,
		t.ID, owner, leaseExpiresAt, now)
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	t.Status = StatusInProgress
	t.LeaseOwner = &owner
	t.LeaseExpiresAt = &leaseExpiresAt
	t.Attempts++
	return &t, nil
}

// RenewLease extends a held task's lease, called periodically by a worker
// still processing it so ReapExpiredLeases doesn't hand it to someone else.
func (s *Store) RenewLease(ctx context.Context, taskID, owner string, leaseDuration time.Duration) error {
	leaseExpiresAt := time.Now().Add(leaseDuration)
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET lease_expires_at = $3, updated_at = now()
		 WHERE id = $1 AND lease_owner = $2 AND status = 'in_progress'`,
		taskID, owner, leaseExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Complete marks a task as permanently done.
func (s *Store) Complete(ctx context.Context, taskID, owner string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'succeeded', lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		 WHERE id = $1 AND lease_owner = $2`,
		taskID, owner)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Fail records a processing failure. Below MaxAttempts the task goes back
// to pending after a backoff; at MaxAttempts it is moved to
// dead_letter_tasks so a human can inspect it without it clogging the
// claim query forever.
func (s *Store) Fail(ctx context.Context, taskID, owner string, cause error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var t Task
	err = tx.GetContext(ctx,
		&t, `SELECT id, kind, dedup_key, payload, status, available_at, lease_owner, lease_expires_at, attempts, max_attempts, created_at, updated_at
		 FROM tasks WHERE id = $1 AND lease_owner = $2 FOR UPDATE`,
		taskID, owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrLeaseLost
		}
		return fmt.Errorf("failed to load failing task: %w", err)
	}

	if t.Attempts >= t.MaxAttempts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dead_letter_tasks (id, kind, payload, last_error, attempts, created_at) VALUES ($1, $2, $3, $4, $5, now())`,
			t.ID, t.Kind, t.Payload, cause.Error(), t.Attempts); err != nil {
			return fmt.Errorf("failed to dead-letter task: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, t.ID); err != nil {
			return fmt.Errorf("failed to remove dead-lettered task: %w", err)
		}
		return tx.Commit()
	}

	backoff := time.Duration(math.Pow(2, float64(t.Attempts))) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'pending', lease_owner = NULL, lease_expires_at = NULL, available_at = $2, updated_at = now()
		 WHERE id = $1`,
		t.ID, time.Now().Add(backoff))
	if err != nil {
		return fmt.Errorf("failed to reschedule failed task: %w", err)
	}
	return tx.Commit()
}

// ReapExpiredLeases returns tasks still marked in_progress whose lease has
// expired without a renewal (the worker holding them crashed or was
// killed) back to pending, for any worker to reclaim. It generalizes the
// heartbeat-based orphan recovery every replica runs independently.
func (s *Store) ReapExpiredLeases(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'pending', lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		 WHERE status = 'in_progress' AND lease_expires_at IS NOT NULL AND lease_expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to reap expired leases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// PurgeDeadLetterBefore deletes dead_letter_tasks rows older than cutoff,
// returning how many were removed. Driven by pkg/cleanup's retention sweep.
func (s *Store) PurgeDeadLetterBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_tasks WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead letter tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

func kindStrings(kinds []Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
