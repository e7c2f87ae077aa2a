package taskbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/destiny/pkg/config"
)

// Pool runs config.TaskBusConfig.WorkerCount workers sharing one Store and
// handler set, plus a background sweep that returns tasks whose lease
// expired without renewal (a worker that crashed mid-task) to pending.
type Pool struct {
	podID    string
	store    *Store
	config   *config.TaskBusConfig
	handlers map[Kind]Handler
	workers  []*Worker

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// NewPool creates a Pool. handlers maps each task Kind a worker should
// claim to the Handler that processes it.
func NewPool(podID string, store *Store, cfg *config.TaskBusConfig, handlers map[Kind]Handler) *Pool {
	return &Pool{
		podID:    podID,
		store:    store,
		config:   cfg,
		handlers: handlers,
		stopCh:   make(chan struct{}),
	}
}

// Start spawns the worker goroutines and the lease-reaper loop. Safe to
// call once; subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("task bus pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return
	}
	p.started = true

	slog.Info("starting task bus pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-task-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.store, p.config, p.handlers)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runLeaseReaper(ctx)
	}()
}

// Stop signals all workers and the reaper to stop, waiting for in-flight
// tasks to finish.
func (p *Pool) Stop() {
	slog.Info("stopping task bus pool")
	for _, w := range p.workers {
		w.Stop()
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("task bus pool stopped")
}

func (p *Pool) runLeaseReaper(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			n, err := p.store.ReapExpiredLeases(ctx)
			if err != nil {
				slog.Error("lease reap failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Warn("reclaimed tasks with expired leases", "count", n)
			}
		}
	}
}

// Health reports per-worker activity for the whole pool.
func (p *Pool) Health() []WorkerHealth {
	out := make([]WorkerHealth, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.Health()
	}
	return out
}
