// Package tick drives the per-sync-group capture loops.
//
// One goroutine per sync group calls the store's capture procedure on
// the group's interval, diffs the latest two snapshots and hands the
// change set to the fan-out. The store enforces single-writer capture
// via an advisory lock; the engine enforces scheduling, monotonicity
// checks and failure isolation between groups.
package tick

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vircadia/worldsync/internal/core/domain"
	"github.com/vircadia/worldsync/internal/telemetry/logger"
	"github.com/vircadia/worldsync/internal/telemetry/metric"
)

// TickStore defines the storage interface for tick capture.
type TickStore interface {
	// ListSyncGroups loads every configured sync group.
	ListSyncGroups(ctx context.Context) ([]domain.SyncGroup, error)

	// CaptureTick runs the capture procedure and returns the completed
	// tick record.
	CaptureTick(ctx context.Context, syncGroup string) (*domain.Tick, error)

	// Diff operations return changes between the latest two ticks.
	DiffEntities(ctx context.Context, syncGroup string) ([]domain.Change, error)
	DiffScripts(ctx context.Context, syncGroup string) ([]domain.Change, error)
	DiffAssets(ctx context.Context, syncGroup string) ([]domain.Change, error)

	// SweepCrashedTicks removes placeholder rows left by an unclean
	// stop.
	SweepCrashedTicks(ctx context.Context) (int64, error)

	// TrimTicks deletes ticks and snapshots for the group older than
	// the retention window.
	TrimTicks(ctx context.Context, syncGroup string, retention time.Duration) (int64, error)
}

// Publisher receives completed change sets.
type Publisher interface {
	Publish(ctx context.Context, cs *domain.ChangeSet) error
}

// trimEvery is how often each loop trims its retention window. Trims
// are much cheaper than captures, so once a minute is plenty.
const trimEvery = time.Minute

// Config configures the engine.
type Config struct {
	Logger  logger.Logger
	Metrics *metric.Registry
}

// groupLoop is one running sync group.
type groupLoop struct {
	group  domain.SyncGroup
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine owns the tick loops.
type Engine struct {
	store TickStore
	pub   Publisher

	mu    sync.Mutex
	loops map[string]*groupLoop
	ctx   context.Context
	stop  context.CancelFunc

	logger  logger.Logger
	metrics *metric.Registry
}

// New creates an engine. Start must be called to begin ticking.
func New(store TickStore, pub Publisher, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.NewRegistry()
	}

	return &Engine{
		store:   store,
		pub:     pub,
		loops:   make(map[string]*groupLoop),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Start sweeps crash leftovers and launches one loop per configured
// sync group.
func (e *Engine) Start(ctx context.Context) error {
	swept, err := e.store.SweepCrashedTicks(ctx)
	if err != nil {
		return fmt.Errorf("tick: crash sweep: %w", err)
	}
	if swept > 0 {
		e.logger.Info("removed crashed tick leftovers", "count", swept)
	}

	e.mu.Lock()
	e.ctx, e.stop = context.WithCancel(context.Background())
	e.mu.Unlock()

	return e.ReloadGroups(ctx)
}

// ReloadGroups re-reads sync group configuration from the store,
// starting loops for new groups, stopping removed ones and restarting
// loops whose parameters changed.
func (e *Engine) ReloadGroups(ctx context.Context) error {
	groups, err := e.store.ListSyncGroups(ctx)
	if err != nil {
		return fmt.Errorf("tick: list sync groups: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return fmt.Errorf("tick: engine not started")
	}

	seen := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		seen[g.Name] = struct{}{}
		if running, ok := e.loops[g.Name]; ok {
			if running.group == g {
				continue
			}
			e.stopLoopLocked(running)
		}
		e.startLoopLocked(g)
	}

	for name, running := range e.loops {
		if _, ok := seen[name]; !ok {
			e.stopLoopLocked(running)
		}
	}
	return nil
}

// Stop cancels every loop and waits for in-flight ticks to finish.
// Each group completes at most one in-flight tick before exiting.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stop != nil {
		e.stop()
	}
	loops := make([]*groupLoop, 0, len(e.loops))
	for _, l := range e.loops {
		loops = append(loops, l)
	}
	e.mu.Unlock()

	for _, l := range loops {
		<-l.done
	}
}

func (e *Engine) startLoopLocked(g domain.SyncGroup) {
	lctx, cancel := context.WithCancel(e.ctx)
	l := &groupLoop{
		group:  g,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.loops[g.Name] = l

	go func() {
		defer close(l.done)
		e.runGroup(lctx, g)
	}()

	e.logger.Info("tick loop started",
		"sync_group", g.Name,
		"interval_ms", g.ServerTickRateMs,
	)
}

func (e *Engine) stopLoopLocked(l *groupLoop) {
	l.cancel()
	<-l.done
	delete(e.loops, l.group.Name)
	e.logger.Info("tick loop stopped", "sync_group", l.group.Name)
}

// runGroup is one sync group's loop. Each tick targets a start exactly
// one interval after the previous start; an overrunning capture makes
// the next tick start immediately, never in a catch-up burst.
func (e *Engine) runGroup(ctx context.Context, g domain.SyncGroup) {
	interval := g.TickInterval()
	var lastNumber int64
	lastTrim := time.Now()

	for ctx.Err() == nil {
		start := time.Now()

		if g.MaxTicks > 0 && start.Sub(lastTrim) >= trimEvery {
			lastTrim = start
			retention := time.Duration(g.MaxTicks) * interval
			if trimmed, err := e.store.TrimTicks(ctx, g.Name, retention); err != nil {
				e.logger.Warn("tick retention trim failed",
					"sync_group", g.Name,
					"error", err,
				)
			} else if trimmed > 0 {
				e.logger.Debug("trimmed old ticks",
					"sync_group", g.Name,
					"trimmed", trimmed,
				)
			}
		}

		err := e.runTick(ctx, g, &lastNumber)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case domain.GetErrorCode(err) == domain.ErrTickInvariant.Code:
			// Correlation id lets operators find every log line of
			// the violated tick. The loop restarts after a full
			// interval; other groups are unaffected.
			corr := ulid.Make().String()
			e.logger.Error("tick invariant violated, restarting loop",
				"sync_group", g.Name,
				"correlation_id", corr,
				"error", err,
			)
			e.metrics.TicksFailed.WithLabelValues(g.Name).Inc()
			lastNumber = 0
			if !sleepCtx(ctx, interval) {
				return
			}
			continue
		default:
			// Transient store failure: the tick is abandoned, the
			// next scheduled tick proceeds normally.
			e.logger.Warn("tick abandoned",
				"sync_group", g.Name,
				"error", err,
			)
			e.metrics.TicksFailed.WithLabelValues(g.Name).Inc()
		}

		target := start.Add(interval)
		if wait := time.Until(target); wait > 0 {
			if !sleepCtx(ctx, wait) {
				return
			}
		}
		// Negative wait: capture overran, start immediately.
	}
}

// runTick captures one tick, checks invariants, diffs and publishes.
func (e *Engine) runTick(ctx context.Context, g domain.SyncGroup, lastNumber *int64) error {
	tick, err := e.store.CaptureTick(ctx, g.Name)
	if err != nil {
		return err
	}

	e.metrics.TickDuration.WithLabelValues(g.Name).Observe(tick.DurationMs / 1000)
	if tick.Delayed {
		e.metrics.TicksDelayed.WithLabelValues(g.Name).Inc()
		e.logger.Debug("tick overran interval",
			"sync_group", g.Name,
			"tick_number", tick.Number,
			"duration_ms", tick.DurationMs,
			"headroom_ms", tick.HeadroomMs,
		)
	}

	if *lastNumber != 0 && tick.Number <= *lastNumber {
		return domain.ErrTickInvariant.WithDetails(fmt.Sprintf(
			"tick number went backwards: %d after %d", tick.Number, *lastNumber))
	}
	*lastNumber = tick.Number

	cs, err := e.diff(ctx, g.Name, tick)
	if err != nil {
		return err
	}
	if cs.Empty() {
		return nil
	}
	return e.pub.Publish(ctx, cs)
}

func (e *Engine) diff(ctx context.Context, group string, tick *domain.Tick) (*domain.ChangeSet, error) {
	entities, err := e.store.DiffEntities(ctx, group)
	if err != nil {
		return nil, err
	}
	scripts, err := e.store.DiffScripts(ctx, group)
	if err != nil {
		return nil, err
	}
	assets, err := e.store.DiffAssets(ctx, group)
	if err != nil {
		return nil, err
	}

	return &domain.ChangeSet{
		SyncGroup:  group,
		TickNumber: tick.Number,
		Tick:       tick,
		Entities:   entities,
		Scripts:    scripts,
		Assets:     assets,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
