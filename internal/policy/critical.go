package policy

import (
	"github.com/antigravity-dev/kanbanctl/internal/board"
	"github.com/antigravity-dev/kanbanctl/internal/runregistry"
)

// decideCritical implements spec.md §4.G decision group 1: promote a
// startable critical ahead of everything else, fence other WIP work
// while a critical occupies it, and unwind the fence once no critical
// remains.
func decideCritical(c *decisionCtx, actions *[]Action) {
	var candidates []TaskView
	for _, id := range c.ids {
		tv, _ := c.view(id)
		if tv.Derived.IsCritical && !tv.Derived.IsHeld {
			candidates = append(candidates, tv)
		}
	}

	var active *TaskView
	for i := range candidates {
		if candidates[i].Task.Column == board.WIP {
			active = &candidates[i]
			break
		}
	}

	promoted := false
	if active == nil {
		for i := range candidates {
			tv := candidates[i]
			if tv.Task.Column != board.Backlog && tv.Task.Column != board.Ready {
				continue
			}
			if blocked, _ := c.canStart(tv); blocked {
				continue
			}
			promoteCriticalToWIP(c, actions, tv)
			active = &candidates[i]
			promoted = true
			break
		}
	}

	hasActive := active != nil
	c.anyCriticalActive = hasActive

	if !hasActive {
		unfenceAllCritical(c, actions)
		return
	}

	if !promoted {
		// Already-active critical: strip its queued fence if present.
		c.removeTagIfPresent(*active, actions, tagHoldQueuedCrit)
	}

	for _, tv := range candidates {
		if tv.Task.ID == active.Task.ID {
			continue
		}
		c.addTagIfMissing(tv, actions, tagHoldQueuedCrit)
	}

	fenceOtherWIP(c, actions, active.Task.ID)
}

// promoteCriticalToWIP runs the Backlog→Ready→WIP→SpawnRun sequence for
// the active critical, ahead of the normal promotion group.
func promoteCriticalToWIP(c *decisionCtx, actions *[]Action, tv TaskView) {
	if tv.Task.Column == board.Backlog {
		*actions = append(*actions, moveTask(tv.Task.ID, board.Ready, "critical-promote"))
	}
	*actions = append(*actions, moveTask(tv.Task.ID, board.WIP, "critical-promote"))
	*actions = append(*actions, spawnRun(tv.Task.ID, runregistry.Worker, "critical-promote"))
}

// fenceOtherWIP tags every WIP task other than excludeID with
// paused+paused:critical, recording in next state which tags this
// orchestrator added so they can be precisely reversed later.
func fenceOtherWIP(c *decisionCtx, actions *[]Action, excludeID int) {
	for _, id := range c.ids {
		tv, _ := c.view(id)
		if tv.Task.ID == excludeID || tv.Task.Column != board.WIP {
			continue
		}

		var added []string
		if !tv.Task.HasTag(tagPaused) {
			added = append(added, tagPaused)
			*actions = append(*actions, addTag(id, tagPaused))
		}
		if !tv.Task.HasTag(tagPausedCritical) {
			added = append(added, tagPausedCritical)
			*actions = append(*actions, addTag(id, tagPausedCritical))
		}
		if len(added) > 0 {
			rec := c.next.PausedByCriticalID[id]
			rec.WhyTagsAdded = append(rec.WhyTagsAdded, added...)
			c.next.PausedByCriticalID[id] = rec
		}
	}
}

// unfenceAllCritical reverses fenceOtherWIP once no critical remains
// active or startable.
func unfenceAllCritical(c *decisionCtx, actions *[]Action) {
	for _, id := range c.ids {
		tv, _ := c.view(id)
		rec, hadRecord := c.state.PausedByCriticalID[id]

		if tv.Task.HasTag(tagPausedCritical) {
			*actions = append(*actions, removeTag(id, tagPausedCritical))
		}
		if hadRecord && tagSliceHas(rec.WhyTagsAdded, tagPaused) && tv.Task.HasTag(tagPaused) {
			*actions = append(*actions, removeTag(id, tagPaused))
		}
		if hadRecord {
			delete(c.next.PausedByCriticalID, id)
		}
	}
}

func tagSliceHas(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
