package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/codeready-toolchain/destiny/pkg/blob"
	"github.com/codeready-toolchain/destiny/pkg/models"
	"github.com/codeready-toolchain/destiny/pkg/taskbus"
)

// SubmitResult implements POST /robot-enhancement-batches/{batch_id}/results/.
// globalError, when non-nil, is a RobotGlobalError: the whole batch failed
// and nothing is imported. Otherwise the result blob at batch.ResultBlobKey
// is fetched, each line validated as an Enhancement or LinkedRobotError
// against the batch's reference set, valid enhancements persisted, and a
// text validation report written back to blob storage.
//
// A request whose reference set exceeds pull_batch's max_size is cut into
// several batches across successive polls, so this batch's result may not
// be the request's last: PROCESSING only advances to IMPORTING/INDEXING
// once requestFullyBatched reports no references and no outstanding batch
// remain. Earlier batches of the same request instead just enqueue their
// rebuilds and accumulate any validation issues onto the request, leaving
// its status untouched for whichever batch finishes last to pick up.
func (o *Orchestrator) SubmitResult(ctx context.Context, batchID string, globalError *string) (*models.RobotEnhancementBatchResult, error) {
	batch, err := o.requests.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	if globalError != nil {
		return o.failBatch(ctx, batch, globalError)
	}

	raw, err := o.blobs.Get(ctx, batch.ResultBlobKey)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch batch result: %w", err)
	}

	result := validateResult(batch, raw)
	result.CreatedAt = time.Now()

	for _, e := range result.Enhancements {
		if _, err := o.enhs.Attach(ctx, e); err != nil {
			return nil, fmt.Errorf("failed to attach enhancement: %w", err)
		}
		if o.metrics != nil {
			o.metrics.EnhancementsAttached.Inc()
		}
	}

	reportURL, err := o.writeReport(ctx, result)
	if err != nil {
		return nil, err
	}
	result.ReportURL = reportURL

	if err := o.requests.UpdateBatchStatus(ctx, batch.ID, models.BatchStatusSucceeded); err != nil {
		return nil, fmt.Errorf("failed to mark batch succeeded: %w", err)
	}

	taskIDs, err := o.enqueueRebuilds(ctx, batch.ReferenceIDs)
	if err != nil {
		return nil, err
	}
	if err := o.requests.LinkRebuildTasks(ctx, batch.RequestID, taskIDs); err != nil {
		return nil, fmt.Errorf("failed to link rebuild tasks: %w", err)
	}

	if len(result.ValidationErrors) > 0 || len(result.MissingReferences) > 0 {
		msg := fmt.Sprintf("%d validation error(s), %d missing reference(s)", len(result.ValidationErrors), len(result.MissingReferences))
		if err := o.requests.AppendError(ctx, batch.RequestID, msg); err != nil {
			return nil, fmt.Errorf("failed to record batch validation issues: %w", err)
		}
	}

	done, err := o.requestFullyBatched(ctx, batch.RequestID)
	if err != nil {
		return nil, err
	}
	if done {
		req, err := o.requests.Get(ctx, batch.RequestID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload request: %w", err)
		}
		if err := o.requests.UpdateStatus(ctx, batch.RequestID, models.RequestStatusImporting, req.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to advance request to importing: %w", err)
		}
		if err := o.requests.UpdateStatus(ctx, batch.RequestID, models.RequestStatusIndexing, req.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to advance request to indexing: %w", err)
		}
	}

	return result, nil
}

// requestFullyBatched reports whether requestID has no references left for
// PullBatch to cut and no batch still outstanding — the signal that this
// was the last result a request is waiting on.
func (o *Orchestrator) requestFullyBatched(ctx context.Context, requestID string) (bool, error) {
	unbatched, err := o.requests.UnbatchedReferenceIDs(ctx, requestID, 1)
	if err != nil {
		return false, fmt.Errorf("failed to check unbatched references: %w", err)
	}
	if len(unbatched) > 0 {
		return false, nil
	}
	outstanding, err := o.requests.OutstandingBatchCount(ctx, requestID)
	if err != nil {
		return false, fmt.Errorf("failed to count outstanding batches: %w", err)
	}
	return outstanding == 0, nil
}

func (o *Orchestrator) failBatch(ctx context.Context, batch *models.RobotEnhancementBatch, globalError *string) (*models.RobotEnhancementBatchResult, error) {
	if err := o.requests.UpdateBatchStatus(ctx, batch.ID, models.BatchStatusFailed); err != nil {
		return nil, fmt.Errorf("failed to mark batch failed: %w", err)
	}
	if err := o.requests.UpdateStatus(ctx, batch.RequestID, models.RequestStatusFailed, globalError); err != nil {
		return nil, fmt.Errorf("failed to mark request failed: %w", err)
	}
	return &models.RobotEnhancementBatchResult{
		BatchID:     batch.ID,
		GlobalError: globalError,
		CreatedAt:   time.Now(),
	}, nil
}

// validateResult walks raw's JSONL lines, classifying each as an
// Enhancement (has an "enhancement_type" field) or a LinkedRobotError (has
// a "message" field), and checks its reference id against batch's members.
// References in the batch with no corresponding line become "missing".
func validateResult(batch *models.RobotEnhancementBatch, raw []byte) *models.RobotEnhancementBatchResult {
	inBatch := make(map[string]bool, len(batch.ReferenceIDs))
	for _, id := range batch.ReferenceIDs {
		inBatch[id] = true
	}
	seen := make(map[string]bool, len(batch.ReferenceIDs))

	result := &models.RobotEnhancementBatchResult{BatchID: batch.ID}

	reader := blob.NewJSONLReader(bytes.NewReader(raw))
	_ = reader.ForEach(func(lineNumber int, line []byte) error {
		var generic map[string]json.RawMessage
		if err := json.Unmarshal(line, &generic); err != nil {
			result.ValidationErrors = append(result.ValidationErrors, fmt.Sprintf("line %d: %v", lineNumber, err))
			return nil
		}

		switch {
		case generic["enhancement_type"] != nil:
			var e models.Enhancement
			if err := json.Unmarshal(line, &e); err != nil {
				result.ValidationErrors = append(result.ValidationErrors, fmt.Sprintf("line %d: %v", lineNumber, err))
				return nil
			}
			if !inBatch[e.ReferenceID] {
				result.ValidationErrors = append(result.ValidationErrors, fmt.Sprintf("line %d: enhancement for reference %s not in batch", lineNumber, e.ReferenceID))
				return nil
			}
			if _, err := models.ParseEnhancementContent(e.Type, e.Content); err != nil {
				result.ValidationErrors = append(result.ValidationErrors, fmt.Sprintf("line %d: %v", lineNumber, err))
				return nil
			}
			result.Enhancements = append(result.Enhancements, e)
			seen[e.ReferenceID] = true

		case generic["message"] != nil:
			var le models.LinkedRobotError
			if err := json.Unmarshal(line, &le); err != nil {
				result.ValidationErrors = append(result.ValidationErrors, fmt.Sprintf("line %d: %v", lineNumber, err))
				return nil
			}
			if !inBatch[le.ReferenceID] {
				result.ValidationErrors = append(result.ValidationErrors, fmt.Sprintf("line %d: linked error for reference %s not in batch", lineNumber, le.ReferenceID))
				return nil
			}
			result.LinkedErrors = append(result.LinkedErrors, le)
			seen[le.ReferenceID] = true

		default:
			result.ValidationErrors = append(result.ValidationErrors, fmt.Sprintf("line %d: neither an enhancement nor a linked error", lineNumber))
		}
		return nil
	}, func(merr *blob.MalformedLineError) {
		result.ValidationErrors = append(result.ValidationErrors, merr.Error())
	})

	for _, id := range batch.ReferenceIDs {
		if !seen[id] {
			result.MissingReferences = append(result.MissingReferences, id)
		}
	}
	sort.Strings(result.MissingReferences)
	return result
}

func (o *Orchestrator) writeReport(ctx context.Context, result *models.RobotEnhancementBatchResult) (string, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "batch %s: %d enhancement(s), %d linked error(s), %d validation error(s), %d missing reference(s)\n",
		result.BatchID, len(result.Enhancements), len(result.LinkedErrors), len(result.ValidationErrors), len(result.MissingReferences))
	for _, e := range result.LinkedErrors {
		fmt.Fprintf(&buf, "linked error: %s: %s\n", e.ReferenceID, e.Message)
	}
	for _, v := range result.ValidationErrors {
		fmt.Fprintf(&buf, "validation error: %s\n", v)
	}
	for _, m := range result.MissingReferences {
		fmt.Fprintf(&buf, "missing: %s\n", m)
	}

	key, err := o.blobs.Put(ctx, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("failed to store validation report: %w", err)
	}
	url, err := o.blobs.PresignDownload(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to presign validation report download: %w", err)
	}
	return url, nil
}

// enqueueRebuilds triggers a projection rebuild for every distinct
// canonical touched by referenceIDs, deduplicating so a batch that imports
// several duplicates of the same canonical only enqueues one rebuild. It
// returns the id of every task enqueued or reused, so the caller can link
// them to the request that triggered them.
func (o *Orchestrator) enqueueRebuilds(ctx context.Context, referenceIDs []string) ([]string, error) {
	canonicals := make(map[string]struct{})
	for _, refID := range referenceIDs {
		proj, err := o.projectionFor(ctx, refID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve canonical for %s: %w", refID, err)
		}
		canonicals[proj.CanonicalID] = struct{}{}
	}
	taskIDs := make([]string, 0, len(canonicals))
	for canonicalID := range canonicals {
		dedupKey := "projection:" + canonicalID
		task, err := o.tasks.Enqueue(ctx, taskbus.KindProjectionRebuild, &dedupKey, taskbus.ProjectionRebuildPayload{CanonicalID: canonicalID}, o.taskCfg.MaxRetries)
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue projection rebuild for %s: %w", canonicalID, err)
		}
		taskIDs = append(taskIDs, task.ID)
	}
	return taskIDs, nil
}
