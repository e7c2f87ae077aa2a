// Package taskbus is the durable work queue every asynchronous pipeline
// stage enqueues onto and polls from: dedup, projection rebuild, and
// automation matching all share one "tasks" table instead of three bespoke
// queues. Claims use SELECT ... FOR UPDATE
// SKIP LOCKED so any number of workers, on any number of replicas, can
// compete for the same table without double-processing a task.
package taskbus

import "errors"

var (
	// ErrNoTasksAvailable is returned by Claim when nothing claimable is
	// currently pending.
	ErrNoTasksAvailable = errors.New("no tasks available")

	// ErrLeaseLost is returned by RenewLease/Complete/Fail when the calling
	// worker no longer holds the task's lease — another worker reclaimed it
	// after the lease expired.
	ErrLeaseLost = errors.New("task lease no longer held")
)
