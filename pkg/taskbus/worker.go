package taskbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/codeready-toolchain/destiny/pkg/config"
)

// Handler processes one claimed task's payload. A returned error counts as
// a failed attempt and goes through Store.Fail's retry/dead-letter logic;
// a nil error completes the task.
type Handler interface {
	Handle(ctx context.Context, task *Task) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, task *Task) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, task *Task) error { return f(ctx, task) }

// WorkerStatus is a worker's current activity.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker polls the Store for claimable tasks across its registered kinds
// and dispatches each to its Handler, renewing the lease while the handler
// runs.
type Worker struct {
	id       string
	store    *Store
	config   *config.TaskBusConfig
	handlers map[Kind]Handler
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu             sync.RWMutex
	status         WorkerStatus
	currentTaskID  string
	tasksProcessed int
	lastActivity   time.Time
}

// NewWorker creates a Worker dispatching to handlers keyed by Kind.
func NewWorker(id string, store *Store, cfg *config.TaskBusConfig, handlers map[Kind]Handler) *Worker {
	return &Worker{
		id:           id,
		store:        store,
		config:       cfg,
		handlers:     handlers,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker's polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for its current task, if any,
// to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) kinds() []Kind {
	kinds := make([]Kind, 0, len(w.handlers))
	for k := range w.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("task worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("task worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, task worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoTasksAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing task", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

func (w *Worker) pollAndProcess(ctx context.Context) error {
	task, err := w.store.Claim(ctx, w.id, w.config.TaskLeaseDuration, w.kinds()...)
	if err != nil {
		return err
	}

	handler, ok := w.handlers[task.Kind]
	if !ok {
		return fmt.Errorf("no handler registered for task kind %q", task.Kind)
	}

	log := slog.With("task_id", task.ID, "kind", task.Kind, "worker_id", w.id)
	log.Info("task claimed")
	w.setStatus(WorkerStatusWorking, task.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	renewStop := make(chan struct{})
	var renewWg sync.WaitGroup
	renewWg.Add(1)
	go func() {
		defer renewWg.Done()
		w.runLeaseRenewal(taskCtx, task.ID, renewStop)
	}()

	handleErr := handler.Handle(taskCtx, task)

	close(renewStop)
	renewWg.Wait()

	if handleErr != nil {
		log.Error("task handler failed", "error", handleErr)
		if err := w.store.Fail(context.Background(), task.ID, w.id, handleErr); err != nil && !errors.Is(err, ErrLeaseLost) {
			return fmt.Errorf("failed to record task failure: %w", err)
		}
	} else {
		if err := w.store.Complete(context.Background(), task.ID, w.id); err != nil && !errors.Is(err, ErrLeaseLost) {
			return fmt.Errorf("failed to complete task: %w", err)
		}
	}

	w.mu.Lock()
	w.tasksProcessed++
	w.mu.Unlock()

	log.Info("task processing complete")
	return nil
}

func (w *Worker) runLeaseRenewal(ctx context.Context, taskID string, stop <-chan struct{}) {
	ticker := time.NewTicker(w.config.LeaseRenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.RenewLease(ctx, taskID, w.id, w.config.TaskLeaseDuration); err != nil {
				slog.Warn("lease renewal failed", "task_id", taskID, "error", err)
			}
		}
	}
}

// pollInterval returns the poll duration with jitter, so many idle workers
// don't all hit the claim query in lockstep.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentTaskID = taskID
	w.lastActivity = time.Now()
}

// Health reports the worker's current activity for the pool health check.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         string(w.status),
		CurrentTaskID:  w.currentTaskID,
		TasksProcessed: w.tasksProcessed,
		LastActivity:   w.lastActivity,
	}
}

// WorkerHealth is a snapshot of a single worker's activity.
type WorkerHealth struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	CurrentTaskID  string    `json:"current_task_id,omitempty"`
	TasksProcessed int       `json:"tasks_processed"`
	LastActivity   time.Time `json:"last_activity"`
}
