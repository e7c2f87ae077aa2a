package config

import "time"

// TaskBusConfig contains the worker pool configuration for the Postgres-
// backed task bus (pkg/taskbus). These values control how tasks are polled,
// claimed, leased, and retried.
type TaskBusConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod.
	// Each worker independently claims and processes tasks.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentTasks is checked at load time (it must be at least 1)
	// but is not applied by pkg/taskbus: no global cap on claimed tasks is
	// enforced, and a replica's concurrency is bounded by WorkerCount.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// PollInterval is the base interval for checking claimable tasks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// TaskLeaseDuration is how long a claimed task is considered leased
	// before another worker may reclaim it, absent a heartbeat.
	TaskLeaseDuration time.Duration `yaml:"task_lease_duration"`

	// LeaseRenewInterval is how often a worker holding a task renews its
	// lease while the task is still being processed.
	LeaseRenewInterval time.Duration `yaml:"lease_renew_interval"`

	// GracefulShutdownTimeout is not applied by taskbus.Pool.Stop, which
	// waits for in-flight tasks without a time limit.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanDetectionInterval is how often to scan for tasks whose lease
	// expired without a heartbeat.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// MaxRetries is the total number of attempts a task gets (it is passed
	// as maxAttempts to Enqueue); the failure of the last attempt moves the
	// task to the dead letter table.
	MaxRetries int `yaml:"max_retries"`

	// IndexingSweepInterval is how often the orchestrator checks requests
	// in INDEXING for rebuild tasks that have all settled, advancing each
	// to its terminal state.
	IndexingSweepInterval time.Duration `yaml:"indexing_sweep_interval"`
}

// DefaultTaskBusConfig returns the built-in task bus defaults.
func DefaultTaskBusConfig() *TaskBusConfig {
	return &TaskBusConfig{
		WorkerCount:             5,
		MaxConcurrentTasks:      20,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      250 * time.Millisecond,
		TaskLeaseDuration:       2 * time.Minute,
		LeaseRenewInterval:      30 * time.Second,
		GracefulShutdownTimeout: 30 * time.Second,
		OrphanDetectionInterval: 1 * time.Minute,
		MaxRetries:              3,
		IndexingSweepInterval:   10 * time.Second,
	}
}
