// Package reconcile is the tick loop that ties the board, the policy
// engine, the run registry, dispatch, and the state store together
// (spec.md §4.H). It is the only component that calls policy.Decide
// with live inputs; everything it learns along the way (the board
// snapshot, classified tasks, the inspector's filesystem reads) is
// assembled here and handed to the pure decision core.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/antigravity-dev/kanbanctl/internal/auditstore"
	"github.com/antigravity-dev/kanbanctl/internal/board"
	"github.com/antigravity-dev/kanbanctl/internal/classify"
	"github.com/antigravity-dev/kanbanctl/internal/clock"
	"github.com/antigravity-dev/kanbanctl/internal/config"
	"github.com/antigravity-dev/kanbanctl/internal/dispatch"
	"github.com/antigravity-dev/kanbanctl/internal/orcherrors"
	"github.com/antigravity-dev/kanbanctl/internal/policy"
	"github.com/antigravity-dev/kanbanctl/internal/runregistry"
	"github.com/antigravity-dev/kanbanctl/internal/statestore"
)

var allColumns = []board.Column{
	board.Backlog, board.Ready, board.WIP, board.Review,
	board.Documentation, board.Blocked, board.Done,
}

// Reconciler owns one tick of spec.md §4.H's loop: acquire the lock,
// snapshot the board, classify, decide, clamp, apply, persist, beat.
type Reconciler struct {
	cfgMgr   config.ConfigManager
	board    board.Port
	registry *runregistry.Registry
	store    *statestore.Store
	spawner  dispatch.Spawner
	notifier Notifier
	audit    *auditstore.Store
	lock     clock.TickLock
	clk      clock.Clock
	logger   *slog.Logger

	ticks int
}

// New builds a Reconciler from its component ports. notifier and audit
// may both be nil: a Reconciler with neither configured still ticks
// correctly, it just has no alert sink and no secondary history log.
func New(cfgMgr config.ConfigManager, b board.Port, registry *runregistry.Registry, store *statestore.Store, spawner dispatch.Spawner, notifier Notifier, audit *auditstore.Store, lock clock.TickLock, clk clock.Clock, logger *slog.Logger) *Reconciler {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		cfgMgr:   cfgMgr,
		board:    b,
		registry: registry,
		store:    store,
		spawner:  spawner,
		notifier: notifier,
		audit:    audit,
		lock:     lock,
		clk:      clk,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled, ticking at the configured
// interval and hot-reloading it from cfgMgr, adapted from the teacher's
// Scheduler.Run (internal/scheduler/scheduler.go).
func (r *Reconciler) Run(ctx context.Context) {
	cfg := r.cfgMgr.Get()
	interval := cfg.General.TickSeconds.Duration
	if interval <= 0 {
		interval = 20 * time.Second
	}
	r.logger.Info("reconciler started", "tick_seconds", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.logger.Error("reconciler tick failed", "error", err)
			}
			newCfg := r.cfgMgr.Get()
			newInterval := newCfg.General.TickSeconds.Duration
			if newInterval > 0 && newInterval != interval {
				ticker.Reset(newInterval)
				interval = newInterval
				r.logger.Info("reconciler tick interval changed", "tick_seconds", interval)
			}
		}
	}
}

// Tick runs exactly one reconciliation cycle. A lock-contention error is
// expected under concurrent instances and is not logged as a failure by
// callers that treat it specially; every other returned error means the
// tick made no progress this cycle.
func (r *Reconciler) Tick(ctx context.Context) error {
	if err := r.lock.Acquire(); err != nil {
		return err
	}
	defer r.lock.Release()

	cfg := r.cfgMgr.Get()
	nowMs := r.clk.NowMs()
	doc := r.store.Load()

	columns := allColumns
	if !cfg.Board.HasDocumentColumn {
		columns = make([]board.Column, 0, len(allColumns)-1)
		for _, c := range allColumns {
			if c != board.Documentation {
				columns = append(columns, c)
			}
		}
	}

	tasks, err := r.board.ListTasks(columns)
	if err != nil {
		return orcherrors.Wrapf(orcherrors.BoardUnavailable, "reconcile: list tasks: %w", err)
	}

	classifyOpts := classify.Options{RepoMap: cfg.RepoMap, AllowTitleRepoHint: cfg.General.AllowTitleRepoHint}
	views := make(map[int]policy.TaskView, len(tasks))
	tasksByID := make(map[int]board.Task, len(tasks))
	snapTasks := make([]policy.TaskView, 0, len(tasks))
	for _, t := range tasks {
		tv := policy.TaskView{Task: t, Derived: classify.Classify(t, classifyOpts)}
		views[t.ID] = tv
		tasksByID[t.ID] = t
		snapTasks = append(snapTasks, tv)
	}

	snap := policy.Snapshot{
		NowMs:  nowMs,
		Tasks:  snapTasks,
		Config: snapshotConfig(cfg),
	}

	dryRun := doc.DryRun
	inspector := newFSInspector(r.registry)
	actions, next := policy.Decide(snap, doc, inspector)

	clamped := clampActions(actions, tasksByID, doc.LastActionsByTaskID, nowMs, cfg.General.CooldownMin.Duration.Milliseconds(), cfg.General.ActionBudget)

	if dryRun {
		r.logger.Info("reconcile: dry run tick", "actions", len(clamped))
		for _, a := range clamped {
			r.logger.Info("reconcile: dry run action", "type", a.Type.String(), "task", a.TaskID, "reason", a.Reason)
		}
		next = doc.Clone()
		if next.DryRunRunsRemaining > 0 {
			next.DryRunRunsRemaining--
		}
		if next.DryRunRunsRemaining <= 0 {
			next.DryRun = false
		}
	} else {
		applyActions(ctx, r.board, r.spawner, r.registry, r.notifier, r.audit, next, views, clamped, nowMs, string(cfg.General.MissingWorkerPolicy), r.logger)
	}

	if err := r.store.Save(next); err != nil {
		return err
	}

	r.ticks++
	r.writeHeartbeat(cfg, nowMs)
	r.recordTickMetric(clamped, nowMs)
	return nil
}

// recordTickMetric tallies the clamped action list into a summary row
// for the audit log, mirroring the teacher's per-tick TickMetric
// (internal/store/store.go). A no-op when no audit store is configured.
func (r *Reconciler) recordTickMetric(actions []policy.Action, nowMs int64) {
	if r.audit == nil {
		return
	}
	m := auditstore.TickMetric{TickAtMs: nowMs, ActionsApplied: len(actions)}
	for _, a := range actions {
		switch {
		case a.Type == policy.ActionMoveTask && a.NewColumn == board.WIP:
			m.Promoted++
		case a.Type == policy.ActionSpawnRun:
			m.Spawned++
		case a.Type == policy.ActionAddTag && a.Tag == "review:pass":
			m.ReviewsPassed++
		case a.Type == policy.ActionAddTag && a.Tag == "needs-rework":
			m.ReviewsReworks++
		case a.Type == policy.ActionAddTag && isBlockedReasonTag(a.Tag):
			m.Blocked++
		case a.Type == policy.ActionMoveTask && a.NewColumn == board.Ready && a.Reason == "auto-heal":
			m.AutoHealed++
		}
	}
	if err := r.audit.RecordTick(m); err != nil {
		r.logger.Warn("reconcile: audit record tick failed", "error", err)
	}
}

// isBlockedReasonTag mirrors the set of blocked:* reason tags the policy
// engine writes (internal/policy/tags.go); duplicated here as literals
// since that set is unexported by design (policy owns the tag
// vocabulary, reconcile only tallies it for the audit log).
func isBlockedReasonTag(tag string) bool {
	switch tag {
	case "blocked:deps", "blocked:exclusive", "blocked:repo", "blocked:repo-busy", "blocked:thrash", "blocked:artifact":
		return true
	default:
		return false
	}
}

func snapshotConfig(cfg *config.Config) policy.Config {
	return policy.Config{
		WipLimit:              cfg.General.WipLimit,
		DocsConcurrencyLimit:  cfg.General.DocsConcurrencyLimit,
		ReviewThreshold:       cfg.General.ReviewThreshold,
		ReviewAutoDone:        cfg.General.ReviewAutoDone,
		HasDocumentColumn:     cfg.Board.HasDocumentColumn,
		MissingWorkerPolicy:   string(cfg.General.MissingWorkerPolicy),
		ThrashWindowMs:        cfg.General.ThrashWindowMin.Duration.Milliseconds(),
		MaxRespawns:           cfg.General.MaxRespawns,
		MaxReworksPerRevision: cfg.General.MaxReworksPerRevision,
		StaleWorkerLogAfterMs: cfg.Dispatch.StaleLogAfter.Duration.Milliseconds(),
		MaxPerRepo:            cfg.General.MaxPerRepo,
	}
}
