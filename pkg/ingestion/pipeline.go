package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/destiny/pkg/blob"
	"github.com/codeready-toolchain/destiny/pkg/config"
	"github.com/codeready-toolchain/destiny/pkg/metrics"
	"github.com/codeready-toolchain/destiny/pkg/models"
	"github.com/codeready-toolchain/destiny/pkg/store"
	"github.com/codeready-toolchain/destiny/pkg/taskbus"
)

// Pipeline runs an ImportBatch to completion: download its JSONL file,
// process every line under a bounded fan-out, and record one ImportResult
// per line before marking the batch terminal.
type Pipeline struct {
	refs      *store.ReferenceStore
	ids       *store.IdentifierStore
	enhs      *store.EnhancementStore
	decisions *store.DecisionStore
	imports   *store.ImportStore
	blobs     *blob.Gateway
	tasks     *taskbus.Store
	cfg       *config.IngestionConfig
	taskCfg   *config.TaskBusConfig
	metrics   *metrics.Registry // nil until set
}

// New creates a Pipeline.
func New(refs *store.ReferenceStore, ids *store.IdentifierStore, enhs *store.EnhancementStore, decisions *store.DecisionStore, imports *store.ImportStore, blobs *blob.Gateway, tasks *taskbus.Store, cfg *config.IngestionConfig, taskCfg *config.TaskBusConfig) *Pipeline {
	return &Pipeline{
		refs: refs, ids: ids, enhs: enhs, decisions: decisions,
		imports: imports, blobs: blobs, tasks: tasks, cfg: cfg, taskCfg: taskCfg,
	}
}

// SetMetrics wires a metrics registry so ProcessBatch records per-line
// outcomes. Safe to leave unset in tests.
func (p *Pipeline) SetMetrics(m *metrics.Registry) { p.metrics = m }

// ProcessBatch downloads batchID's JSONL file and runs every line through
// the pipeline concurrently (bounded by IngestionConfig.FanOut), then marks
// the batch completed once every line has a terminal ImportResult. Per
// spec.md §4.D, the batch itself never reports failed — a batch full of
// failed lines is still "completed" at the batch level.
func (p *Pipeline) ProcessBatch(ctx context.Context, batchID string) error {
	batch, err := p.imports.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to load import batch: %w", err)
	}

	data, err := p.blobs.Get(ctx, batch.StorageURL)
	if err != nil {
		return fmt.Errorf("failed to download import batch file: %w", err)
	}

	type line struct {
		num int
		raw []byte
	}
	lines := make(chan line, p.cfg.FanOut)
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.FanOut; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for l := range lines {
				result := p.processLine(ctx, batch, l.num, l.raw)
				if p.metrics != nil {
					p.metrics.ImportLinesProcessed.WithLabelValues(string(result.Status)).Inc()
				}
				if err := p.imports.RecordResult(ctx, result); err != nil {
					slog.Error("failed to record import result", "batch_id", batch.ID, "line", l.num, "error", err)
				}
			}
		}()
	}

	reader := blob.NewJSONLReader(bytes.NewReader(data))
	readErr := reader.ForEach(func(num int, raw []byte) error {
		lines <- line{num: num, raw: raw}
		return nil
	}, func(mal *blob.MalformedLineError) {
		// ForEach only invokes this for a visit error; the visit func above
		// never returns one, so this is unreachable in practice.
		slog.Warn("malformed jsonl line", "batch_id", batch.ID, "error", mal)
	})
	close(lines)
	wg.Wait()

	if readErr != nil {
		return fmt.Errorf("failed to read import batch file: %w", readErr)
	}

	// Failed lines are reported per ImportResult; the batch is completed.
	return p.imports.CompleteBatch(ctx, batch.ID, models.ImportResultCompleted)
}

// processLine runs one JSONL line through parse, validate, exact-duplicate
// shortcut, collision resolution, persist, and enqueue — never panicking
// and never propagating an error that would abort the rest of the batch.
func (p *Pipeline) processLine(ctx context.Context, batch *models.ImportBatch, lineNumber int, raw []byte) models.ImportResult {
	base := models.ImportResult{ImportBatchID: batch.ID, LineNumber: lineNumber, CreatedAt: time.Now()}

	if len(raw) > p.cfg.MaxRecordSizeBytes {
		base.Status = models.ImportRecordFailed
		base.Reason = (&ParseError{Cause: fmt.Errorf("line is %d bytes, over the %d-byte limit", len(raw), p.cfg.MaxRecordSizeBytes)}).Error()
		return base
	}

	var wire struct {
		Identifiers  []models.IncomingIdentifier  `json:"identifiers"`
		Enhancements []models.IncomingEnhancement `json:"enhancements"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		base.Status = models.ImportRecordFailed
		base.Reason = (&ParseError{Cause: err}).Error()
		return base
	}
	rec := models.ImportRecord{LineNumber: lineNumber, Identifiers: wire.Identifiers, Enhancements: wire.Enhancements}

	if err := validateRecord(rec); err != nil {
		base.Status = models.ImportRecordFailed
		base.Reason = err.Error()
		return base
	}

	return p.ingestRecord(ctx, batch, rec, base)
}

// ingestRecord implements steps 3-6 of spec.md §4.D for one validated
// record.
func (p *Pipeline) ingestRecord(ctx context.Context, batch *models.ImportBatch, rec models.ImportRecord, base models.ImportResult) models.ImportResult {
	existingRefIDs, err := p.findCollidingReferences(ctx, rec.Identifiers)
	if err != nil {
		base.Status = models.ImportRecordFailed
		base.Reason = fmt.Sprintf("failed to resolve identifiers: %v", err)
		return base
	}

	switch len(existingRefIDs) {
	case 0:
		return p.persistNew(ctx, rec, base)
	case 1:
		return p.resolveCollision(ctx, batch, rec, existingRefIDs[0], base)
	default:
		base.Status = models.ImportRecordFailed
		base.Reason = (&AmbiguousCollision{ReferenceIDs: existingRefIDs}).Error()
		base.CollidingRefs = existingRefIDs
		return base
	}
}

// findCollidingReferences looks up every incoming identifier and returns
// the distinct set of references any of them already resolve to.
func (p *Pipeline) findCollidingReferences(ctx context.Context, incoming []models.IncomingIdentifier) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, id := range incoming {
		refID, err := p.ids.FindReferenceByIdentifier(ctx, id.IdentifierType, id.Identifier, id.OtherIdentifierName)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, err
		}
		if _, ok := seen[refID]; !ok {
			seen[refID] = struct{}{}
			out = append(out, refID)
		}
	}
	return out, nil
}

// persistNew creates a brand-new reference and attaches every incoming
// identifier and enhancement — no collision possible since nothing in the
// store references any of this record's identifiers yet.
func (p *Pipeline) persistNew(ctx context.Context, rec models.ImportRecord, base models.ImportResult) models.ImportResult {
	ref, err := p.refs.Create(ctx, models.VisibilityPublic)
	if err != nil {
		base.Status = models.ImportRecordFailed
		base.Reason = fmt.Sprintf("failed to create reference: %v", err)
		return base
	}

	if err := p.attachIdentifiers(ctx, ref.ID, rec.Identifiers); err != nil {
		base.Status = models.ImportRecordFailed
		base.Reason = fmt.Sprintf("failed to attach identifiers: %v", err)
		return base
	}
	if err := p.attachEnhancements(ctx, ref.ID, rec.Enhancements); err != nil {
		base.Status = models.ImportRecordFailed
		base.Reason = fmt.Sprintf("failed to attach enhancements: %v", err)
		return base
	}

	return p.finish(ctx, ref.ID, base)
}

// resolveCollision runs the exact-duplicate shortcut against the single
// colliding reference, then the batch's collision strategy if it isn't an
// exact duplicate.
func (p *Pipeline) resolveCollision(ctx context.Context, batch *models.ImportBatch, rec models.ImportRecord, existingID string, base models.ImportResult) models.ImportResult {
	existingIDs, err := p.ids.ListByReference(ctx, existingID)
	if err != nil {
		base.Status = models.ImportRecordFailed
		base.Reason = fmt.Sprintf("failed to load existing identifiers: %v", err)
		return base
	}
	existingEnhs, err := p.enhs.ListByReference(ctx, existingID)
	if err != nil {
		base.Status = models.ImportRecordFailed
		base.Reason = fmt.Sprintf("failed to load existing enhancements: %v", err)
		return base
	}

	if isExactDuplicate(rec.Identifiers, rec.Enhancements, existingIDs, existingEnhs) {
		return p.registerExactDuplicate(ctx, existingID, base)
	}

	switch batch.CollisionStrategy {
	case models.CollisionStrategyFail:
		base.Status = models.ImportRecordFailed
		base.Reason = "identifier collision"
		base.CollidingRefs = []string{existingID}
		return base

	case models.CollisionStrategyDiscard:
		base.Status = models.ImportRecordCompleted
		base.ReferenceID = existingID
		return base

	case models.CollisionStrategyOverwrite, models.CollisionStrategyMergeAggressive:
		// Enhancements are physically append-only; a new row for a
		// (source, type) key already supersedes the old one by insertion
		// order, so "replace on conflict" and "prefer incoming on
		// conflict" both reduce to "attach every incoming enhancement".
		if err := p.attachEnhancements(ctx, existingID, rec.Enhancements); err != nil {
			base.Status = models.ImportRecordFailed
			base.Reason = fmt.Sprintf("failed to attach enhancements: %v", err)
			return base
		}
		if err := p.attachMissingIdentifiers(ctx, existingID, rec.Identifiers, existingIDs); err != nil {
			base.Status = models.ImportRecordFailed
			base.Reason = fmt.Sprintf("failed to attach identifiers: %v", err)
			return base
		}
		return p.finish(ctx, existingID, base)

	case models.CollisionStrategyMergeDefensive:
		existingKeys := make(map[string]struct{}, len(existingEnhs))
		for _, e := range existingEnhs {
			existingKeys[e.Source+"\x00"+string(e.Type)] = struct{}{}
		}
		var toAttach []models.IncomingEnhancement
		for _, e := range rec.Enhancements {
			if _, conflict := existingKeys[e.Source+"\x00"+string(e.Type)]; !conflict {
				toAttach = append(toAttach, e)
			}
		}
		if err := p.attachEnhancements(ctx, existingID, toAttach); err != nil {
			base.Status = models.ImportRecordFailed
			base.Reason = fmt.Sprintf("failed to attach enhancements: %v", err)
			return base
		}
		if err := p.attachMissingIdentifiers(ctx, existingID, rec.Identifiers, existingIDs); err != nil {
			base.Status = models.ImportRecordFailed
			base.Reason = fmt.Sprintf("failed to attach identifiers: %v", err)
			return base
		}
		return p.finish(ctx, existingID, base)

	default:
		base.Status = models.ImportRecordFailed
		base.Reason = fmt.Sprintf("unknown collision strategy %q", batch.CollisionStrategy)
		return base
	}
}

// registerExactDuplicate creates a new reference for provenance but skips
// importing its identifiers/enhancements entirely (invariant: EXACT_DUPLICATE
// never creates new identifiers or enhancements), recording its decision as
// an immediate EXACT_DUPLICATE pointing at the existing canonical.
func (p *Pipeline) registerExactDuplicate(ctx context.Context, existingID string, base models.ImportResult) models.ImportResult {
	ref, err := p.refs.Create(ctx, models.VisibilityPublic)
	if err != nil {
		base.Status = models.ImportRecordFailed
		base.Reason = fmt.Sprintf("failed to create reference: %v", err)
		return base
	}

	canonical := existingID
	_, err = p.decisions.PromoteDecision(ctx, models.ReferenceDuplicateDecision{
		ReferenceID:          ref.ID,
		CanonicalReferenceID: &canonical,
		Determination:        models.DeterminationExactDuplicate,
		CreatedAt:            time.Now(),
	}, 0)
	if err != nil {
		base.Status = models.ImportRecordFailed
		base.Reason = fmt.Sprintf("failed to register exact-duplicate decision: %v", err)
		return base
	}

	base.Status = models.ImportRecordCompleted
	base.ReferenceID = ref.ID
	return base
}

// finish enqueues a dedup task for referenceID and returns the terminal
// ImportResult. Per spec.md §4.D step 6, a failed enqueue is fatal for this
// line's result — visible failure is preferable to a silently
// un-deduplicated reference.
func (p *Pipeline) finish(ctx context.Context, referenceID string, base models.ImportResult) models.ImportResult {
	dedupKey := referenceID
	if _, err := p.tasks.Enqueue(ctx, taskbus.KindDedup, &dedupKey, taskbus.DedupPayload{ReferenceID: referenceID}, p.taskCfg.MaxRetries); err != nil {
		base.Status = models.ImportRecordFailed
		base.ReferenceID = referenceID
		base.Reason = fmt.Sprintf("failed to enqueue dedup task: %v", err)
		return base
	}
	base.Status = models.ImportRecordCompleted
	base.ReferenceID = referenceID
	return base
}

func (p *Pipeline) attachIdentifiers(ctx context.Context, referenceID string, incoming []models.IncomingIdentifier) error {
	now := time.Now()
	for _, id := range incoming {
		if err := p.ids.Attach(ctx, models.ExternalIdentifier{
			ReferenceID:         referenceID,
			IdentifierType:      id.IdentifierType,
			Identifier:          id.Identifier,
			OtherIdentifierName: id.OtherIdentifierName,
			CreatedAt:           now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// attachMissingIdentifiers attaches only the incoming identifiers not
// already present on referenceID, used by the merge strategies.
func (p *Pipeline) attachMissingIdentifiers(ctx context.Context, referenceID string, incoming []models.IncomingIdentifier, existing []models.ExternalIdentifier) error {
	existingKeys := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		existingKeys[e.Key()] = struct{}{}
	}
	now := time.Now()
	for _, id := range incoming {
		key := models.ExternalIdentifier{
			IdentifierType:      id.IdentifierType,
			Identifier:          id.Identifier,
			OtherIdentifierName: id.OtherIdentifierName,
		}.Key()
		if _, ok := existingKeys[key]; ok {
			continue
		}
		if err := p.ids.Attach(ctx, models.ExternalIdentifier{
			ReferenceID:         referenceID,
			IdentifierType:      id.IdentifierType,
			Identifier:          id.Identifier,
			OtherIdentifierName: id.OtherIdentifierName,
			CreatedAt:           now,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) attachEnhancements(ctx context.Context, referenceID string, incoming []models.IncomingEnhancement) error {
	now := time.Now()
	for _, e := range incoming {
		if _, err := p.enhs.Attach(ctx, models.Enhancement{
			ReferenceID:  referenceID,
			Source:       e.Source,
			Type:         e.Type,
			RobotVersion: e.RobotVersion,
			Content:      e.Content,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
	}
	return nil
}
