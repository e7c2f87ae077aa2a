package taskbus

import "time"

// Kind identifies which pipeline stage a task belongs to. A Handler is
// registered per Kind; a Worker claims across whichever Kinds it's given.
type Kind string

// The three asynchronous stages SPEC_FULL.md names. Enhancement dispatch
// runs synchronously inside orchestrator.PullBatch instead of through a
// fourth Kind — spec.md's polling-vs-push decision rules out an async
// delivery path to a robot that may be offline.
const (
	KindDedup             Kind = "dedup"
	KindProjectionRebuild Kind = "projection_rebuild"
	KindAutomationMatch   Kind = "automation_match"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSucceeded  Status = "succeeded"
)

// Task is one unit of queued work. Payload is the caller's JSON-encoded
// argument (a reference ID, a canonical ID, a batch ID, ...); handlers
// decode it themselves since only they know its shape for their Kind.
type Task struct {
	ID             string     `db:"id"`
	Kind           Kind       `db:"kind"`
	DedupKey       *string    `db:"dedup_key"`
	Payload        []byte     `db:"payload"`
	Status         Status     `db:"status"`
	AvailableAt    time.Time  `db:"available_at"`
	LeaseOwner     *string    `db:"lease_owner"`
	LeaseExpiresAt *time.Time `db:"lease_expires_at"`
	Attempts       int        `db:"attempts"`
	MaxAttempts    int        `db:"max_attempts"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// DeadLetterTask is a task that exhausted its retry budget.
type DeadLetterTask struct {
	ID        string    `db:"id"`
	Kind      Kind      `db:"kind"`
	Payload   []byte    `db:"payload"`
	LastError string    `db:"last_error"`
	Attempts  int       `db:"attempts"`
	CreatedAt time.Time `db:"created_at"`
}
