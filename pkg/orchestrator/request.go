package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/destiny/pkg/models"
	"github.com/codeready-toolchain/destiny/pkg/store"
)

// CreateRequest receives a new enhancement request for robotID and its set
// of reference ids, validating the robot exists before accepting it.
// RECEIVED -> ACCEPTED happens immediately here: spec.md's transition list
// only names the handful of state changes driven by batch activity, but an
// unroutable robot id must be rejected before PullBatch ever sees it.
func (o *Orchestrator) CreateRequest(ctx context.Context, robotID string, referenceIDs []string, originRobotID *string) (*models.EnhancementRequest, error) {
	if _, err := o.robots.Get(ctx, robotID); err != nil {
		return nil, fmt.Errorf("failed to resolve robot %s: %w", robotID, err)
	}

	req, err := o.requests.Create(ctx, models.EnhancementRequest{
		RobotID:       robotID,
		OriginRobotID: originRobotID,
		ReferenceIDs:  referenceIDs,
		Status:        models.RequestStatusReceived,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create enhancement request: %w", err)
	}

	if err := o.requests.UpdateStatus(ctx, req.ID, models.RequestStatusAccepted, nil); err != nil {
		return nil, fmt.Errorf("failed to accept enhancement request: %w", err)
	}
	req.Status = models.RequestStatusAccepted
	return req, nil
}

// GetRequest retrieves a request by id.
func (o *Orchestrator) GetRequest(ctx context.Context, id string) (*models.EnhancementRequest, error) {
	req, err := o.requests.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get enhancement request: %w", err)
	}
	return req, nil
}

// MarkIndexingComplete advances a request from INDEXING to its terminal
// state. rebuildsFailed reports whether any projection-rebuild task the
// request triggered was dead-lettered after exhausting its retries; absent
// that, a request that accumulated validation/missing-reference issues
// across its batches (req.ErrorMessage) lands on PARTIAL_FAILED rather than
// COMPLETED. Driven by SweepIndexingRequests.
func (o *Orchestrator) MarkIndexingComplete(ctx context.Context, requestID string, rebuildsFailed bool) error {
	req, err := o.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("enhancement request %s not found", requestID)
		}
		return fmt.Errorf("failed to get enhancement request: %w", err)
	}
	if req.Status.IsTerminal() {
		return nil
	}

	status := models.RequestStatusCompleted
	switch {
	case rebuildsFailed:
		status = models.RequestStatusIndexingFailed
	case req.ErrorMessage != nil:
		status = models.RequestStatusPartialFailed
	}
	if err := o.requests.UpdateStatus(ctx, requestID, status, req.ErrorMessage); err != nil {
		return fmt.Errorf("failed to complete enhancement request: %w", err)
	}
	return nil
}

// SweepIndexingRequests walks every request in INDEXING and advances it to
// a terminal state once RebuildProgress reports no rebuild task it
// triggered is still pending — the trigger MarkIndexingComplete needs,
// driven periodically by Start rather than by a per-task callback, since a
// single rebuild task can be shared (deduplicated) across several
// requests' batches and has no way to name which requests to notify when
// it settles. It returns how many requests it advanced.
func (o *Orchestrator) SweepIndexingRequests(ctx context.Context) (int, error) {
	reqs, err := o.requests.RequestsByStatus(ctx, models.RequestStatusIndexing)
	if err != nil {
		return 0, fmt.Errorf("failed to list indexing requests: %w", err)
	}

	advanced := 0
	for _, req := range reqs {
		pending, _, failed, err := o.requests.RebuildProgress(ctx, req.ID)
		if err != nil {
			return advanced, fmt.Errorf("failed to check rebuild progress for %s: %w", req.ID, err)
		}
		if pending > 0 {
			continue
		}
		if err := o.MarkIndexingComplete(ctx, req.ID, failed > 0); err != nil {
			return advanced, err
		}
		advanced++
	}
	return advanced, nil
}
