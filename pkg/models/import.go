package models

import (
	"encoding/json"
	"time"
)

// CollisionStrategy governs how an ImportBatch resolves an identifier that
// already maps to a different reference.
type CollisionStrategy string

// Collision strategy values.
const (
	CollisionStrategyFail             CollisionStrategy = "fail"
	CollisionStrategyOverwrite        CollisionStrategy = "overwrite"
	CollisionStrategyMergeDefensive   CollisionStrategy = "merge_defensive"
	CollisionStrategyMergeAggressive  CollisionStrategy = "merge_aggressive"
	CollisionStrategyDiscard          CollisionStrategy = "discard"
)

// IsValid reports whether s is a known collision strategy.
func (s CollisionStrategy) IsValid() bool {
	switch s {
	case CollisionStrategyFail, CollisionStrategyOverwrite, CollisionStrategyMergeDefensive,
		CollisionStrategyMergeAggressive, CollisionStrategyDiscard:
		return true
	default:
		return false
	}
}

// ImportResultStatus is the terminal status of an ImportBatch as a whole.
type ImportResultStatus string

// Import result status values.
const (
	ImportResultCompleted       ImportResultStatus = "completed"
	ImportResultFailed          ImportResultStatus = "failed"
	ImportResultPartiallyFailed ImportResultStatus = "partially_failed"
	ImportResultCancelled       ImportResultStatus = "cancelled"
)

// ImportBatch is one bulk-import job: a JSONL file on blob storage plus the
// merge policy applied to any identifier collision it encounters.
type ImportBatch struct {
	ID                string              `db:"id" json:"id"`
	StorageURL        string              `db:"storage_url" json:"storage_url"`
	CollisionStrategy CollisionStrategy   `db:"collision_strategy" json:"collision_strategy"`
	Status            ImportResultStatus  `db:"status" json:"status"`
	TotalEntries      int                 `db:"total_entries" json:"total_entries"`
	CreatedAt         time.Time           `db:"created_at" json:"created_at"`
	CompletedAt       *time.Time          `db:"completed_at" json:"completed_at,omitempty"`
}

// ImportRecordStatus is the per-entry outcome within a batch.
type ImportRecordStatus string

// Import record status values — per-entry terminal states. "failed" here is
// the line-level counterpart of ImportBatch's own statuses; a batch full of
// failed records still reports ImportResultCompleted at the batch level per
// spec.md's partial-batch semantics.
const (
	ImportRecordCompleted ImportRecordStatus = "completed"
	ImportRecordFailed    ImportRecordStatus = "failed"
)

// ImportRecord is one parsed line of an import file, prior to persistence.
type ImportRecord struct {
	LineNumber   int                    `json:"line_number"`
	Identifiers  []IncomingIdentifier   `json:"identifiers"`
	Enhancements []IncomingEnhancement  `json:"enhancements,omitempty"`
}

// IncomingIdentifier is the wire shape of one identifier in an import line.
type IncomingIdentifier struct {
	IdentifierType      IdentifierType `json:"identifier_type"`
	Identifier          string         `json:"identifier"`
	OtherIdentifierName *string        `json:"other_identifier_name,omitempty"`
}

// IncomingEnhancement is the wire shape of one enhancement in an import line.
type IncomingEnhancement struct {
	Source       string          `json:"source"`
	Type         EnhancementType `json:"enhancement_type"`
	RobotVersion *string         `json:"robot_version,omitempty"`
	Content      json.RawMessage `json:"content"`
}

// ImportResult is the terminal outcome of processing one ImportRecord.
type ImportResult struct {
	ImportBatchID string              `db:"import_batch_id" json:"import_batch_id"`
	LineNumber    int                 `db:"line_number" json:"line_number"`
	Status        ImportRecordStatus  `db:"status" json:"status"`
	ReferenceID   string              `db:"reference_id" json:"reference_id,omitempty"`
	Reason        string              `db:"reason" json:"reason,omitempty"`
	CollidingRefs []string            `db:"colliding_refs" json:"colliding_refs,omitempty"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
}
