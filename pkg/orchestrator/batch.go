package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/destiny/pkg/blob"
	"github.com/codeready-toolchain/destiny/pkg/models"
)

// PullBatch implements pull_batch(robot_id, max_size) (spec.md §4.G): cut
// up to maxSize unbatched reference ids from robotID's oldest open request
// into a fresh RobotEnhancementBatch, writing a JSONL projection file to
// blob storage and returning pre-signed read/write URLs. A nil batch with
// a nil error means there is nothing pending — the caller returns 204.
//
// A cut batch is drawn from a single request rather than spanning several:
// RobotEnhancementBatch.RequestID is singular, so this walks
// OpenRequestsForRobot oldest-first and stops at the first request with any
// unbatched references, even if that leaves the batch under maxSize. The
// next poll picks up where this one left off.
func (o *Orchestrator) PullBatch(ctx context.Context, robotID string, maxSize int) (*models.RobotEnhancementBatch, error) {
	requests, err := o.requests.OpenRequestsForRobot(ctx, robotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open requests: %w", err)
	}

	for _, req := range requests {
		ids, err := o.requests.UnbatchedReferenceIDs(ctx, req.ID, maxSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list unbatched references: %w", err)
		}
		if len(ids) == 0 {
			continue
		}

		batch, err := o.cutBatch(ctx, req, ids)
		if err != nil {
			return nil, err
		}

		if req.Status == models.RequestStatusReceived || req.Status == models.RequestStatusAccepted {
			if err := o.requests.UpdateStatus(ctx, req.ID, models.RequestStatusProcessing, nil); err != nil {
				return nil, fmt.Errorf("failed to advance request to processing: %w", err)
			}
		}
		return batch, nil
	}
	return nil, nil
}

func (o *Orchestrator) cutBatch(ctx context.Context, req models.EnhancementRequest, referenceIDs []string) (*models.RobotEnhancementBatch, error) {
	if o.metrics != nil {
		start := time.Now()
		defer func() {
			o.metrics.BatchAllocationSeconds.Observe(time.Since(start).Seconds())
			o.metrics.BatchesCut.Inc()
		}()
	}

	writer := blob.NewJSONLWriter()
	for _, refID := range referenceIDs {
		proj, err := o.projectionFor(ctx, refID)
		if err != nil {
			return nil, fmt.Errorf("failed to load projection for %s: %w", refID, err)
		}
		if err := writer.Write(proj); err != nil {
			return nil, err
		}
	}

	referenceKey, err := o.blobs.Put(ctx, writer.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to store batch references: %w", err)
	}
	referenceURL, err := o.blobs.PresignDownload(ctx, referenceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to presign batch reference download: %w", err)
	}

	// The result object doesn't exist yet — a robot is about to PUT it —
	// so its key is derived from the batch's own identity rather than
	// content, unlike every other blob key in this system.
	batchID := uuid.New().String()
	resultKey := fmt.Sprintf("%s/results/%s", o.blobCfg.KeyPrefix, batchID)
	resultURL, err := o.blobs.PresignUpload(ctx, resultKey)
	if err != nil {
		return nil, fmt.Errorf("failed to presign batch result upload: %w", err)
	}

	batch, err := o.requests.CreateBatch(ctx, models.RobotEnhancementBatch{
		ID:                  batchID,
		RequestID:           req.ID,
		RobotID:             req.RobotID,
		ReferenceIDs:        referenceIDs,
		ReferenceBlobKey:    referenceKey,
		ResultBlobKey:       resultKey,
		ReferenceStorageURL: referenceURL,
		ResultStorageURL:    resultURL,
		Deadline:            time.Now().Add(o.blobCfg.DownloadURLTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}
	return batch, nil
}

// RefreshBatch re-signs a batch's reference/result URLs against its
// underlying blob keys and returns the current row — the
// GET /robot-enhancement-batches/{id}/ endpoint's "refresh URLs and state"
// behavior. Reference data itself is point-in-time and is never re-cut.
func (o *Orchestrator) RefreshBatch(ctx context.Context, batchID string) (*models.RobotEnhancementBatch, error) {
	batch, err := o.requests.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	referenceURL, err := o.blobs.PresignDownload(ctx, batch.ReferenceBlobKey)
	if err != nil {
		return nil, fmt.Errorf("failed to presign batch reference download: %w", err)
	}
	resultURL, err := o.blobs.PresignUpload(ctx, batch.ResultBlobKey)
	if err != nil {
		return nil, fmt.Errorf("failed to presign batch result upload: %w", err)
	}
	batch.ReferenceStorageURL = referenceURL
	batch.ResultStorageURL = resultURL
	return batch, nil
}

// ExpireOutstandingBatches marks every outstanding batch past its deadline
// as expired, freeing its reference ids for the next PullBatch. Intended to
// be driven by a periodic sweep, mirroring taskbus.Pool's lease reaper.
func (o *Orchestrator) ExpireOutstandingBatches(ctx context.Context, asOf time.Time) (int, error) {
	expired, err := o.requests.ExpiredOutstandingBatches(ctx, asOf)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired batches: %w", err)
	}
	for _, b := range expired {
		if err := o.requests.UpdateBatchStatus(ctx, b.ID, models.BatchStatusExpired); err != nil {
			return 0, fmt.Errorf("failed to expire batch %s: %w", b.ID, err)
		}
	}
	return len(expired), nil
}
