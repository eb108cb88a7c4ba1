package policy

import (
	"sort"

	"github.com/antigravity-dev/kanbanctl/internal/board"
	"github.com/antigravity-dev/kanbanctl/internal/runregistry"
	"github.com/antigravity-dev/kanbanctl/internal/statestore"
)

// Decide computes the ordered action list for one tick plus the next
// state document (spec.md §4.G). It is pure: the same snapshot, state,
// and inspector responses always yield the same actions and the same
// next state (spec.md §8 testable property 4).
//
// The returned document is state.Clone() with only the bookkeeping
// fields this tick's decisions touch (entries, histories,
// pausedByCritical, review results) updated; it does not yet reflect
// SpawnRun actions, since the entry a spawn produces does not exist
// until the reconciler's dispatch call returns a handshake.
func Decide(snap Snapshot, state *statestore.Document, inspector RunInspector) ([]Action, *statestore.Document) {
	next := state.Clone()
	var actions []Action

	ids := sortedTaskIDs(snap)

	ctx := &decisionCtx{snap: snap, state: state, next: next, inspector: inspector, ids: ids, healedToReady: map[int]bool{}}

	decideCritical(ctx, &actions)
	decideWIP(ctx, &actions)
	decideReview(ctx, &actions)
	decideDocs(ctx, &actions)
	decideAutoHeal(ctx, &actions)
	decidePromotion(ctx, &actions)
	decideEpicBreakdown(ctx, &actions)

	return actions, next
}

// decisionCtx bundles the read-only inputs and the in-progress next
// state so group functions don't need long argument lists.
type decisionCtx struct {
	snap      Snapshot
	state     *statestore.Document
	next      *statestore.Document
	inspector RunInspector
	ids       []int

	// anyCriticalActive is set by decideCritical and consulted by
	// decidePromotion: while a critical task holds WIP, no new
	// non-critical work is pulled.
	anyCriticalActive bool

	// healedToReady is populated by decideAutoHeal with the ids it just
	// moved Blocked→Ready, so decidePromotion can treat them as
	// promotion candidates in the same tick instead of waiting for the
	// board snapshot to catch up next tick.
	healedToReady map[int]bool
}

// effectiveColumn is tv's column, overridden to Ready if decideAutoHeal
// already decided to heal it earlier in this same tick.
func (c *decisionCtx) effectiveColumn(tv TaskView) board.Column {
	if tv.Task.Column == board.Blocked && c.healedToReady[tv.Task.ID] {
		return board.Ready
	}
	return tv.Task.Column
}

func sortedTaskIDs(snap Snapshot) []int {
	ids := make([]int, 0, len(snap.Tasks))
	for _, tv := range snap.Tasks {
		ids = append(ids, tv.Task.ID)
	}
	sort.Ints(ids)
	return ids
}

func (c *decisionCtx) view(id int) (TaskView, bool) {
	return c.snap.taskByID(id)
}

func (c *decisionCtx) wipCount() int {
	n := 0
	for _, tv := range c.snap.Tasks {
		if tv.Task.Column == board.WIP {
			n++
		}
	}
	return n
}

func (c *decisionCtx) docsInflightCount() int {
	n := 0
	for _, tv := range c.snap.Tasks {
		if tv.Task.Column == board.Documentation && tv.Task.HasTag(tagDocsInflight) {
			n++
		}
	}
	return n
}

// exclusivityInUse reports whether key is held by a WIP task other than
// excludeID.
func (c *decisionCtx) exclusivityInUse(key string, excludeID int) bool {
	for _, tv := range c.snap.Tasks {
		if tv.Task.ID == excludeID || tv.Task.Column != board.WIP {
			continue
		}
		for _, k := range tv.Derived.ExclusivityKeys {
			if k == key {
				return true
			}
		}
	}
	return false
}

// repoWIPCount counts WIP tasks other than excludeID sharing repoKey,
// grounded on the teacher's scheduler.go per-project concurrency cap
// (maxConcurrentPerProject) generalized from "project" to "repo".
func (c *decisionCtx) repoWIPCount(repoKey string, excludeID int) int {
	n := 0
	for _, tv := range c.snap.Tasks {
		if tv.Task.ID == excludeID || tv.Task.Column != board.WIP {
			continue
		}
		if tv.Derived.RepoKey == repoKey {
			n++
		}
	}
	return n
}

// dependenciesSatisfied reports whether every dependency id of tv is a
// task in the Done column (or unknown to the board, which is treated as
// satisfied since a dangling reference cannot be resolved).
func (c *decisionCtx) dependenciesSatisfied(tv TaskView) bool {
	for _, depID := range tv.Derived.Dependencies {
		dep, ok := c.view(depID)
		if !ok {
			continue
		}
		if dep.Task.Column != board.Done {
			return false
		}
	}
	return true
}

// canStart reports the deterministic promotion blocks of spec.md §4.G
// group 5: a blocked:thrash tag, dependencies not done, exclusivity
// conflict, no resolvable repo mapping (unless the task is exempt via
// no-repo), or its repo already at Config.MaxPerRepo WIP tasks (when
// MaxPerRepo > 0). Returns the blocking reason tag, or "" if the task
// can proceed.
func (c *decisionCtx) canStart(tv TaskView) (blocked bool, reasonTag string) {
	if tv.Task.HasTag(tagBlockedThrash) {
		return true, tagBlockedThrash
	}
	if !c.dependenciesSatisfied(tv) {
		return true, tagBlockedDeps
	}
	for _, key := range tv.Derived.ExclusivityKeys {
		if c.exclusivityInUse(key, tv.Task.ID) {
			return true, tagBlockedExclusive
		}
	}
	if !tv.Derived.NoRepo && tv.Derived.RepoPath == "" {
		return true, tagBlockedRepo
	}
	if !tv.Derived.NoRepo && tv.Derived.RepoKey != "" && c.snap.Config.MaxPerRepo > 0 &&
		c.repoWIPCount(tv.Derived.RepoKey, tv.Task.ID) >= c.snap.Config.MaxPerRepo {
		return true, tagBlockedRepoBusy
	}
	return false, ""
}

// addTagIfMissing and removeTagIfPresent append tag-add/remove actions
// for a task, skipping no-ops against the task's current tag set.
func (c *decisionCtx) addTagIfMissing(tv TaskView, actions *[]Action, tag string) {
	if !tv.Task.HasTag(tag) {
		*actions = append(*actions, addTag(tv.Task.ID, tag))
	}
}

func (c *decisionCtx) removeTagIfPresent(tv TaskView, actions *[]Action, tag string) {
	if tv.Task.HasTag(tag) {
		*actions = append(*actions, removeTag(tv.Task.ID, tag))
	}
}

// entryFor returns the stored entry for (kind, taskID) and whether one
// is recorded at all.
func entryFor(doc *statestore.Document, kind runregistry.Kind, taskID int) (runregistry.Entry, bool) {
	var (
		e  runregistry.Entry
		ok bool
	)
	switch kind {
	case runregistry.Worker:
		e, ok = doc.WorkersByTaskID[taskID]
	case runregistry.Reviewer:
		e, ok = doc.ReviewersByTaskID[taskID]
	case runregistry.Docs:
		e, ok = doc.DocsByTaskID[taskID]
	}
	return e, ok
}

func clearEntryFromDoc(doc *statestore.Document, kind runregistry.Kind, taskID int) {
	switch kind {
	case runregistry.Worker:
		delete(doc.WorkersByTaskID, taskID)
	case runregistry.Reviewer:
		delete(doc.ReviewersByTaskID, taskID)
	case runregistry.Docs:
		delete(doc.DocsByTaskID, taskID)
	}
}
