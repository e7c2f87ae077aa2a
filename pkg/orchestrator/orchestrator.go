// Package orchestrator drives the enhancement-request lifecycle of
// spec.md §4.G: allocating batches to polling robots, validating and
// persisting what they return, and advancing each request through its
// state machine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/destiny/pkg/blob"
	"github.com/codeready-toolchain/destiny/pkg/config"
	"github.com/codeready-toolchain/destiny/pkg/metrics"
	"github.com/codeready-toolchain/destiny/pkg/models"
	"github.com/codeready-toolchain/destiny/pkg/store"
	"github.com/codeready-toolchain/destiny/pkg/taskbus"
)

// Orchestrator coordinates robot dispatch for enhancement requests: batch
// allocation, result validation, and the request/batch status transitions.
type Orchestrator struct {
	refs      *store.ReferenceStore
	decisions *store.DecisionStore
	enhs      *store.EnhancementStore
	requests  *store.RequestStore
	search    *store.SearchStore
	robots    *store.RobotStore
	blobs     *blob.Gateway
	tasks     *taskbus.Store
	redis     *redis.Client

	authCfg *config.RobotAuthConfig
	blobCfg *config.BlobConfig
	taskCfg *config.TaskBusConfig

	metrics *metrics.Registry // nil until set

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// SetMetrics wires a metrics registry so batch allocation and enhancement
// acceptance are observed. Safe to leave unset in tests.
func (o *Orchestrator) SetMetrics(m *metrics.Registry) { o.metrics = m }

// Start launches the background indexing-completion sweep (mirrors
// automation.Dispatcher's flush loop): periodically calling
// SweepIndexingRequests so a request whose rebuilds have all settled
// doesn't sit in INDEXING forever waiting for a caller that never comes.
func (o *Orchestrator) Start(ctx context.Context) {
	o.stopCh = make(chan struct{})
	o.wg.Add(1)
	go o.runSweep(ctx)
	slog.Info("orchestrator indexing sweep started", "interval", o.taskCfg.IndexingSweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.wg.Wait()
	slog.Info("orchestrator indexing sweep stopped")
}

func (o *Orchestrator) runSweep(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.taskCfg.IndexingSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			if n, err := o.SweepIndexingRequests(ctx); err != nil {
				slog.Error("indexing sweep failed", "error", err)
			} else if n > 0 {
				slog.Info("indexing sweep advanced requests", "count", n)
			}
		}
	}
}

// New creates an Orchestrator.
func New(
	refs *store.ReferenceStore,
	decisions *store.DecisionStore,
	enhs *store.EnhancementStore,
	requests *store.RequestStore,
	search *store.SearchStore,
	robots *store.RobotStore,
	blobs *blob.Gateway,
	tasks *taskbus.Store,
	redisClient *redis.Client,
	authCfg *config.RobotAuthConfig,
	blobCfg *config.BlobConfig,
	taskCfg *config.TaskBusConfig,
) *Orchestrator {
	return &Orchestrator{
		refs:      refs,
		decisions: decisions,
		enhs:      enhs,
		requests:  requests,
		search:    search,
		robots:    robots,
		blobs:     blobs,
		tasks:     tasks,
		redis:     redisClient,
		authCfg:   authCfg,
		blobCfg:   blobCfg,
		taskCfg:   taskCfg,
	}
}

// projectionFor resolves referenceID to its current canonical's projection,
// following the active decision if one exists (a reference with no active
// decision is, by definition, still CANONICAL over itself).
func (o *Orchestrator) projectionFor(ctx context.Context, referenceID string) (*models.DeduplicatedReferenceProjection, error) {
	canonicalID := referenceID
	dec, err := o.decisions.GetActive(ctx, referenceID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to resolve active decision for %s: %w", referenceID, err)
	}
	if dec != nil && dec.Determination.PointsToCanonical() && dec.CanonicalReferenceID != nil {
		canonicalID = *dec.CanonicalReferenceID
	}

	proj, err := o.search.Get(ctx, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load projection for canonical %s: %w", canonicalID, err)
	}
	return proj, nil
}
