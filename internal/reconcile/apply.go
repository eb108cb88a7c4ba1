package reconcile

import (
	"context"
	"log/slog"

	"github.com/antigravity-dev/kanbanctl/internal/auditstore"
	"github.com/antigravity-dev/kanbanctl/internal/board"
	"github.com/antigravity-dev/kanbanctl/internal/classify"
	"github.com/antigravity-dev/kanbanctl/internal/dispatch"
	"github.com/antigravity-dev/kanbanctl/internal/policy"
	"github.com/antigravity-dev/kanbanctl/internal/runregistry"
	"github.com/antigravity-dev/kanbanctl/internal/statestore"
)

// Notifier is the best-effort alert sink a Reconciler calls on
// ActionNotifyBlocker (spec.md §4.K). Left nil-safe so a Reconciler can
// run without one configured.
type Notifier interface {
	Notify(taskID int, message string)
}

// Tag literals duplicated from internal/policy/tags.go: policy owns the
// tag vocabulary, but the compensating move on a failed promotion spawn
// (below) happens at apply time, outside policy's pure Decide call, so
// it writes these directly through the board port.
const (
	tagPaused        = "paused"
	tagPausedMissing = "paused:missing-worker"
)

// applyActions executes the clamped action list in order against the
// board and dispatch backend, mutating next in place for the effects
// Decide could not itself compute (spawned run entries) and for the
// bookkeeping the cooldown guard consults next tick (LastActionsByTaskID).
// A single action's failure is logged and skipped rather than aborting
// the tick: spec.md §4.H treats the board and spawner as unreliable
// externals the reconciler must make forward progress around.
func applyActions(
	ctx context.Context,
	b board.Port,
	spawner dispatch.Spawner,
	registry *runregistry.Registry,
	notifier Notifier,
	audit *auditstore.Store,
	next *statestore.Document,
	views map[int]policy.TaskView,
	actions []policy.Action,
	nowMs int64,
	missingWorkerPolicy string,
	logger *slog.Logger,
) {
	promotedThisTick := make(map[int]bool)

	for _, a := range actions {
		switch a.Type {
		case policy.ActionMoveTask:
			if err := b.MoveTask(a.TaskID, a.NewColumn); err != nil {
				logger.Error("reconcile: move task failed", "task", a.TaskID, "column", a.NewColumn, "error", err)
				continue
			}
			next.LastActionsByTaskID[a.TaskID] = nowMs
			if a.NewColumn == board.WIP {
				promotedThisTick[a.TaskID] = true
			} else {
				delete(promotedThisTick, a.TaskID)
			}

		case policy.ActionAddTag:
			if err := b.AddTag(a.TaskID, a.Tag); err != nil {
				logger.Error("reconcile: add tag failed", "task", a.TaskID, "tag", a.Tag, "error", err)
			}

		case policy.ActionRemoveTag:
			if err := b.RemoveTag(a.TaskID, a.Tag); err != nil {
				logger.Error("reconcile: remove tag failed", "task", a.TaskID, "tag", a.Tag, "error", err)
			}

		case policy.ActionSetTags:
			if err := b.SetTags(a.TaskID, a.Tags); err != nil {
				logger.Error("reconcile: set tags failed", "task", a.TaskID, "error", err)
			}

		case policy.ActionPostComment:
			if err := b.PostComment(a.TaskID, a.Text); err != nil {
				logger.Error("reconcile: post comment failed", "task", a.TaskID, "error", err)
			}

		case policy.ActionCreateTask:
			if _, err := b.CreateTask(a.Column, a.NewTitle, a.NewDescription, a.Tags); err != nil {
				logger.Error("reconcile: create task failed", "title", a.NewTitle, "error", err)
			}

		case policy.ActionClearEntry:
			if err := registry.ArchiveEntry(a.Entry.RunDir); err != nil {
				logger.Warn("reconcile: archive run dir failed", "task", a.TaskID, "dir", a.Entry.RunDir, "error", err)
			}

		case policy.ActionSpawnRun:
			spawnOne(ctx, b, spawner, audit, next, views, a, nowMs, missingWorkerPolicy, promotedThisTick[a.TaskID], logger)

		case policy.ActionNotifyBlocker:
			if notifier != nil {
				notifier.Notify(a.TaskID, a.Text)
			}
		}
	}
}

// spawnOne runs the configured spawn command for a.Kind/a.TaskID and
// records the resulting entry into next, so the next tick's WIP/Review/
// Docs reconciliation groups can see it. Every attempt, successful or
// not, is appended to audit's dispatch log if audit is configured.
//
// justPromoted reports whether this action's task was moved onto WIP by
// an earlier action in the same applyActions call (promotion, critical
// preemption, or review rework all pair a MoveTask with the SpawnRun
// that is supposed to staff it). If the spawn fails in that case, the
// board move is left unstaffed and unpaused, which invariant 1/§8.1
// forbid; reverseFailedPromotion undoes it in the same tick rather than
// stranding the task until the next one.
func spawnOne(ctx context.Context, b board.Port, spawner dispatch.Spawner, audit *auditstore.Store, next *statestore.Document, views map[int]policy.TaskView, a policy.Action, nowMs int64, missingWorkerPolicy string, justPromoted bool, logger *slog.Logger) {
	tv, ok := views[a.TaskID]
	var derived classify.Derived
	if ok {
		derived = tv.Derived
	}

	req := dispatch.Request{
		Kind:     a.Kind,
		TaskID:   a.TaskID,
		RepoKey:  derived.RepoKey,
		RepoPath: derived.RepoPath,
	}
	if a.Kind == runregistry.Reviewer || a.Kind == runregistry.Docs {
		req.PatchPath = next.LastWorkerPatchPathByTaskID[a.TaskID]
	}

	entry, err := spawner.Spawn(ctx, req)
	if err != nil {
		logger.Error("reconcile: spawn failed", "task", a.TaskID, "kind", a.Kind, "reason", a.Reason, "error", err)
		recordDispatch(audit, a, "", nowMs, false, err.Error(), logger)
		if a.Kind == runregistry.Worker && justPromoted {
			reverseFailedPromotion(b, next, a.TaskID, nowMs, missingWorkerPolicy, logger)
		}
		return
	}
	recordDispatch(audit, a, entry.RunID, nowMs, true, "", logger)

	switch a.Kind {
	case runregistry.Worker:
		next.WorkersByTaskID[a.TaskID] = entry
	case runregistry.Reviewer:
		next.ReviewersByTaskID[a.TaskID] = entry
	case runregistry.Docs:
		next.DocsByTaskID[a.TaskID] = entry
	}
}

// reverseFailedPromotion undoes a same-tick MoveTask(->WIP) whose
// staffing SpawnRun failed, so no tick ever ends with a task in WIP
// lacking both a WorkerEntry and a paused:* tag (invariant 1, spec.md
// §3.8). Under missingWorkerPolicy=pause it moves straight to Blocked
// with paused/paused:missing-worker, matching the steady-state policy
// decideWIP applies to a task that loses its handle after settling in
// WIP; otherwise it simply returns the task to Ready so the next tick's
// promotion group can retry it.
func reverseFailedPromotion(b board.Port, next *statestore.Document, taskID int, nowMs int64, missingWorkerPolicy string, logger *slog.Logger) {
	if missingWorkerPolicy == "pause" {
		if err := b.AddTag(taskID, tagPaused); err != nil {
			logger.Error("reconcile: add tag failed", "task", taskID, "tag", tagPaused, "error", err)
		}
		if err := b.AddTag(taskID, tagPausedMissing); err != nil {
			logger.Error("reconcile: add tag failed", "task", taskID, "tag", tagPausedMissing, "error", err)
		}
		if err := b.MoveTask(taskID, board.Blocked); err != nil {
			logger.Error("reconcile: move task failed", "task", taskID, "column", board.Blocked, "error", err)
			return
		}
		next.LastActionsByTaskID[taskID] = nowMs
		return
	}

	if err := b.MoveTask(taskID, board.Ready); err != nil {
		logger.Error("reconcile: move task failed", "task", taskID, "column", board.Ready, "error", err)
		return
	}
	next.LastActionsByTaskID[taskID] = nowMs
}

func recordDispatch(audit *auditstore.Store, a policy.Action, runID string, nowMs int64, success bool, errText string, logger *slog.Logger) {
	if audit == nil {
		return
	}
	entry := auditstore.DispatchLogEntry{
		Kind:        string(a.Kind),
		TaskID:      a.TaskID,
		RunID:       runID,
		StartedAtMs: nowMs,
		Success:     success,
		Error:       errText,
	}
	if err := audit.RecordDispatch(entry); err != nil {
		logger.Warn("reconcile: audit record dispatch failed", "task", a.TaskID, "error", err)
	}
}
