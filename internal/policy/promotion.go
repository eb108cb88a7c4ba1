package policy

import (
	"sort"

	"github.com/antigravity-dev/kanbanctl/internal/board"
	"github.com/antigravity-dev/kanbanctl/internal/runregistry"
)

// decidePromotion implements spec.md §4.G decision group 5: pull work
// from Backlog/Ready into WIP, skipping held tasks and epics, applying
// canStart's deterministic blocks, and respecting the WIP limit and any
// active critical preemption.
func decidePromotion(c *decisionCtx, actions *[]Action) {
	if c.anyCriticalActive {
		return
	}

	capacity := c.snap.Config.WipLimit - c.wipCount()
	if capacity <= 0 {
		return
	}

	for _, tv := range promotionOrder(c) {
		if capacity <= 0 {
			return
		}

		col := c.effectiveColumn(tv)
		if col != board.Backlog && col != board.Ready {
			continue
		}
		if isPromotionSkipped(tv) {
			continue
		}

		if blocked, reasonTag := c.canStart(tv); blocked {
			if col == board.Backlog {
				c.addTagIfMissing(tv, actions, reasonTag)
			}
			continue
		}

		id := tv.Task.ID

		if respawnThrashed(c, id) {
			c.addTagIfMissing(tv, actions, tagPaused)
			c.addTagIfMissing(tv, actions, tagPausedThrash)
			continue
		}

		for _, reason := range allBlockedReasonTags {
			c.removeTagIfPresent(tv, actions, reason)
		}

		if col == board.Backlog {
			*actions = append(*actions, moveTask(id, board.Ready, "promote"))
		}
		*actions = append(*actions, moveTask(id, board.WIP, "promote"))
		*actions = append(*actions, spawnRun(id, runregistry.Worker, "promote"))
		recordRespawn(c.next, id, c.snap.NowMs)
		capacity--
	}
}

// isPromotionSkipped reports spec.md §4.G group 5's selection skips:
// hold, no-auto, review:skip, paused, paused:*, and epics. IsHeld
// already covers hold/no-auto/review:skip (classify.go).
func isPromotionSkipped(tv TaskView) bool {
	if tv.Derived.IsHeld || tv.Derived.IsEpic {
		return true
	}
	if tv.Task.HasTag(tagPaused) {
		return true
	}
	for _, tag := range tv.Task.Tags {
		if len(tag) > len("paused:") && tag[:len("paused:")] == "paused:" {
			return true
		}
	}
	return false
}

// promotionOrder sorts candidates by position ascending, then task id.
// The board port's Task type carries no swimlane of its own, so
// swimlanePriority is not consulted; ordering is purely by position
// then id.
func promotionOrder(c *decisionCtx) []TaskView {
	views := make([]TaskView, 0, len(c.snap.Tasks))
	for _, tv := range c.snap.Tasks {
		views = append(views, tv)
	}
	sort.SliceStable(views, func(i, j int) bool {
		if views[i].Task.Position != views[j].Task.Position {
			return views[i].Task.Position < views[j].Task.Position
		}
		return views[i].Task.ID < views[j].Task.ID
	})
	return views
}
