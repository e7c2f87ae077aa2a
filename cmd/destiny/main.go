// destiny runs one node of the reference repository: the HTTP API (robot
// polling protocol, import intake, enhancement requests), the task bus
// worker pool (dedup, projection rebuild, automation match), the
// automation aggregation-window sweep, the orchestrator's indexing-
// completion sweep, and the retention cleanup sweep.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeready-toolchain/destiny/pkg/api"
	"github.com/codeready-toolchain/destiny/pkg/automation"
	"github.com/codeready-toolchain/destiny/pkg/blob"
	"github.com/codeready-toolchain/destiny/pkg/cleanup"
	"github.com/codeready-toolchain/destiny/pkg/config"
	"github.com/codeready-toolchain/destiny/pkg/database"
	"github.com/codeready-toolchain/destiny/pkg/dedup"
	"github.com/codeready-toolchain/destiny/pkg/ingestion"
	"github.com/codeready-toolchain/destiny/pkg/metrics"
	"github.com/codeready-toolchain/destiny/pkg/orchestrator"
	"github.com/codeready-toolchain/destiny/pkg/projection"
	"github.com/codeready-toolchain/destiny/pkg/redisclient"
	"github.com/codeready-toolchain/destiny/pkg/store"
	"github.com/codeready-toolchain/destiny/pkg/taskbus"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configDir); err != nil {
		slog.Error("destiny node exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configDir string) error {
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	podID, err := os.Hostname()
	if err != nil {
		podID = "destiny-node"
	}

	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("failed to close database client", "error", err)
		}
	}()
	slog.Info("connected to postgres, migrations applied")

	blobs, err := blob.NewGateway(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to initialize blob gateway: %w", err)
	}

	redisClient, err := redisclient.NewClient(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			slog.Error("failed to close redis client", "error", err)
		}
	}()

	refs := store.NewReferenceStore(dbClient)
	ids := store.NewIdentifierStore(dbClient)
	enhs := store.NewEnhancementStore(dbClient)
	decisions := store.NewDecisionStore(dbClient)
	search := store.NewSearchStore(dbClient)
	imports := store.NewImportStore(dbClient)
	requests := store.NewRequestStore(dbClient)
	robots := store.NewRobotStore(dbClient)

	tasks := taskbus.NewStore(dbClient)

	m := metrics.New()

	pipeline := ingestion.New(refs, ids, enhs, decisions, imports, blobs, tasks, cfg.Ingestion, cfg.TaskBus)
	pipeline.SetMetrics(m)

	dedupEngine := dedup.New(refs, ids, enhs, decisions, search, tasks, cfg.Dedup, cfg.TaskBus)
	dedupEngine.SetMetrics(m)

	projectionBuilder := projection.New(refs, ids, enhs, decisions, search, tasks, cfg.TaskBus)

	dispatcher := automation.NewDispatcher(robots, requests, redisClient, cfg.Automation)
	dispatcher.SetMetrics(m)

	orch := orchestrator.New(refs, decisions, enhs, requests, search, robots, blobs, tasks, redisClient, cfg.RobotAuth, cfg.Blob, cfg.TaskBus)
	orch.SetMetrics(m)
	orch.Start(ctx)
	defer orch.Stop()

	pool := taskbus.NewPool(podID, tasks, cfg.TaskBus, map[taskbus.Kind]taskbus.Handler{
		taskbus.KindDedup:             dedupEngine,
		taskbus.KindProjectionRebuild: projectionBuilder,
		taskbus.KindAutomationMatch:   dispatcher,
	})
	pool.Start(ctx)
	defer pool.Stop()

	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	cleanupSvc := cleanup.NewService(cfg.Retention, refs, search, tasks)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	server := api.NewServer(cfg, dbClient, imports, robots, blobs, pipeline, orch)
	server.SetWorkerPool(pool)
	server.SetMetrics(m)
	if err := server.ValidateWiring(); err != nil {
		return fmt.Errorf("server wiring incomplete: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.Server.Addr)
		if err := server.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serverErrCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
	return nil
}
