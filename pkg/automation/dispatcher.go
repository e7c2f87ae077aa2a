package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/destiny/pkg/config"
	"github.com/codeready-toolchain/destiny/pkg/metrics"
	"github.com/codeready-toolchain/destiny/pkg/models"
	"github.com/codeready-toolchain/destiny/pkg/store"
	"github.com/codeready-toolchain/destiny/pkg/taskbus"
)

// flushPollInterval is how often Dispatcher checks for aggregation windows
// whose deadline has passed. It is independent of AggregationWindow itself
// (which only bounds how long a window stays open), so a short interval
// keeps flush latency small without needing a per-window timer.
const flushPollInterval = 5 * time.Second

const activeWindowsKey = "automation:active_windows"

// Dispatcher is the registered taskbus.Handler for taskbus.KindAutomationMatch.
// It percolates every incoming change against the robot automations table
// and folds matches into a per-(robot, origin robot) redis-backed window,
// flushing each into one EnhancementRequest once the window closes.
type Dispatcher struct {
	robots   *store.RobotStore
	requests *store.RequestStore
	redis    *redis.Client
	cfg      *config.AutomationConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	metrics *metrics.Registry // nil until set
}

// SetMetrics wires a metrics registry so each percolation match is counted
// per robot. Safe to leave unset in tests.
func (d *Dispatcher) SetMetrics(m *metrics.Registry) { d.metrics = m }

// NewDispatcher creates a Dispatcher.
func NewDispatcher(robots *store.RobotStore, requests *store.RequestStore, redisClient *redis.Client, cfg *config.AutomationConfig) *Dispatcher {
	return &Dispatcher{
		robots:   robots,
		requests: requests,
		redis:    redisClient,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
}

// Handle implements taskbus.Handler.
func (d *Dispatcher) Handle(ctx context.Context, task *taskbus.Task) error {
	var payload taskbus.AutomationMatchPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal automation match payload: %w", err)
	}
	return d.Match(ctx, payload.Document)
}

// Match percolates doc against every registered RobotAutomation and folds
// each matching robot into its aggregation window.
func (d *Dispatcher) Match(ctx context.Context, doc models.PercolationDocument) error {
	automations, err := d.robots.ListAutomations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list automations: %w", err)
	}

	flattened, err := toDocument(doc)
	if err != nil {
		return err
	}

	origin := ""
	if doc.Changeset.SourceRobotID != nil {
		origin = *doc.Changeset.SourceRobotID
	}

	var errs []error
	for _, a := range automations {
		// Cycle protection: a robot's own enhancement never re-triggers an
		// automation owned by that same robot.
		if origin != "" && a.RobotID == origin {
			continue
		}
		if !Evaluate(a.Query, flattened) {
			continue
		}
		if d.metrics != nil {
			d.metrics.AutomationMatches.WithLabelValues(a.RobotID).Inc()
		}
		if err := d.fold(ctx, a.RobotID, origin, doc.Reference.CanonicalID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("automation match failed for %d robot(s): %w", len(errs), errs[0])
	}
	return nil
}

func windowKeys(robotID, origin string) (members, deadline, id string) {
	id = robotID + "|" + origin
	return "automation:members:" + id, "automation:deadline:" + id, id
}

func (d *Dispatcher) fold(ctx context.Context, robotID, origin, canonicalID string) error {
	membersKey, deadlineKey, windowID := windowKeys(robotID, origin)

	pipe := d.redis.TxPipeline()
	pipe.SAdd(ctx, membersKey, canonicalID)
	pipe.SetNX(ctx, deadlineKey, "1", d.cfg.AggregationWindow)
	pipe.SAdd(ctx, activeWindowsKey, windowID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to fold match into automation window %s: %w", windowID, err)
	}
	return nil
}

// Start spawns the background sweep that flushes expired windows. Safe to
// call once; the caller is responsible for calling Stop on shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runSweep(ctx)
	}()
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

func (d *Dispatcher) runSweep(ctx context.Context) {
	ticker := time.NewTicker(flushPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			if err := d.FlushExpired(ctx); err != nil {
				slog.Error("automation window flush failed", "error", err)
			}
		}
	}
}

// FlushExpired closes every aggregation window whose deadline has passed,
// creating one EnhancementRequest per window from its accumulated
// canonical ids.
func (d *Dispatcher) FlushExpired(ctx context.Context) error {
	windowIDs, err := d.redis.SMembers(ctx, activeWindowsKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list active automation windows: %w", err)
	}

	for _, windowID := range windowIDs {
		robotID, origin, ok := splitWindowID(windowID)
		if !ok {
			d.redis.SRem(ctx, activeWindowsKey, windowID)
			continue
		}

		membersKey := "automation:members:" + windowID
		deadlineKey := "automation:deadline:" + windowID

		ttl, err := d.redis.TTL(ctx, deadlineKey).Result()
		if err != nil {
			slog.Error("failed to check automation window deadline", "window", windowID, "error", err)
			continue
		}
		if ttl > 0 {
			continue // still open
		}

		if err := d.flushWindow(ctx, windowID, robotID, origin, membersKey, deadlineKey); err != nil {
			slog.Error("failed to flush automation window", "window", windowID, "error", err)
		}
	}
	return nil
}

func (d *Dispatcher) flushWindow(ctx context.Context, windowID, robotID, origin, membersKey, deadlineKey string) error {
	members, err := d.redis.SMembers(ctx, membersKey).Result()
	if err != nil {
		return fmt.Errorf("failed to read automation window members: %w", err)
	}
	if len(members) == 0 {
		d.redis.SRem(ctx, activeWindowsKey, windowID)
		return nil
	}

	var originPtr *string
	if origin != "" {
		originPtr = &origin
	}
	if _, err := d.requests.Create(ctx, models.EnhancementRequest{
		RobotID:       robotID,
		OriginRobotID: originPtr,
		ReferenceIDs:  members,
	}); err != nil {
		return fmt.Errorf("failed to create enhancement request from automation window: %w", err)
	}

	pipe := d.redis.TxPipeline()
	pipe.Del(ctx, membersKey, deadlineKey)
	pipe.SRem(ctx, activeWindowsKey, windowID)
	_, err = pipe.Exec(ctx)
	return err
}

func splitWindowID(windowID string) (robotID, origin string, ok bool) {
	parts := strings.SplitN(windowID, "|", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
