package policy

import "github.com/antigravity-dev/kanbanctl/internal/statestore"

// reworkThrashed reports whether revision has reached REWORK more than
// maxReworksPerRevision times within the thrash window (spec.md §4.I).
func reworkThrashed(c *decisionCtx, taskID int, revision string) bool {
	if revision == "" || c.snap.Config.MaxReworksPerRevision <= 0 {
		return false
	}
	cutoff := c.snap.NowMs - c.snap.Config.ThrashWindowMs
	count := 0
	for _, rec := range c.state.ReviewReworkHistoryByTaskID[taskID] {
		if rec.Revision == revision && rec.Ms >= cutoff {
			count++
		}
	}
	return count > c.snap.Config.MaxReworksPerRevision
}

// reworkThrashWindowCount counts rework entries of any revision within the
// window, used to decide when blocked:thrash may be lifted.
func reworkThrashWindowCount(c *decisionCtx, taskID int) int {
	cutoff := c.snap.NowMs - c.snap.Config.ThrashWindowMs
	count := 0
	for _, rec := range c.state.ReviewReworkHistoryByTaskID[taskID] {
		if rec.Ms >= cutoff {
			count++
		}
	}
	return count
}

func recordRework(next *statestore.Document, taskID int, revision string, nowMs int64) {
	if revision == "" {
		return
	}
	next.ReviewReworkHistoryByTaskID[taskID] = append(next.ReviewReworkHistoryByTaskID[taskID], statestore.ReworkRecord{Revision: revision, Ms: nowMs})
}

// respawnThrashed reports whether taskID has exceeded the configured
// worker-respawn budget within the thrash window (spec.md §4.I).
func respawnThrashed(c *decisionCtx, taskID int) bool {
	if c.snap.Config.MaxRespawns <= 0 {
		return false
	}
	cutoff := c.snap.NowMs - c.snap.Config.ThrashWindowMs
	count := 0
	for _, ms := range c.state.RespawnHistoryByTaskID[taskID] {
		if ms >= cutoff {
			count++
		}
	}
	return count > c.snap.Config.MaxRespawns
}

func recordRespawn(next *statestore.Document, taskID int, nowMs int64) {
	next.RespawnHistoryByTaskID[taskID] = append(next.RespawnHistoryByTaskID[taskID], nowMs)
}
