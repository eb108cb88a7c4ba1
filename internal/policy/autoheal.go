package policy

import "github.com/antigravity-dev/kanbanctl/internal/board"

// decideAutoHeal implements spec.md §4.G decision group 7: a Blocked
// task whose reason has cleared moves back to Ready, and a thrash guard
// whose window has elapsed releases its tag in place.
func decideAutoHeal(c *decisionCtx, actions *[]Action) {
	for _, id := range c.ids {
		tv, _ := c.view(id)

		if tv.Task.HasTag(tagBlockedThrash) && reworkThrashWindowCount(c, id) <= c.snap.Config.MaxReworksPerRevision {
			c.removeTagIfPresent(tv, actions, tagBlockedThrash)
		}

		if tv.Task.HasTag(tagPausedThrash) && !respawnThrashed(c, id) {
			c.removeTagIfPresent(tv, actions, tagPausedThrash)
			c.removeTagIfPresent(tv, actions, tagPaused)
		}

		if tv.Task.Column != board.Blocked {
			continue
		}

		reasonTag, hadReason := blockedReasonTag(tv.Task)
		if !hadReason {
			continue
		}

		blocked, newReason := c.canStart(tv)
		if blocked {
			if newReason != reasonTag && newReason != "" {
				c.removeTagIfPresent(tv, actions, reasonTag)
				c.addTagIfMissing(tv, actions, newReason)
			}
			continue
		}

		for _, t := range allBlockedReasonTags {
			c.removeTagIfPresent(tv, actions, t)
		}
		c.removeTagIfPresent(tv, actions, tagAutoBlocked)
		*actions = append(*actions, moveTask(id, board.Ready, "auto-heal"))
		c.healedToReady[id] = true
	}
}

func blockedReasonTag(t board.Task) (string, bool) {
	for _, tag := range allBlockedReasonTags {
		if t.HasTag(tag) {
			return tag, true
		}
	}
	return "", false
}
