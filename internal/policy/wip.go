package policy

import (
	"fmt"

	"github.com/antigravity-dev/kanbanctl/internal/board"
	"github.com/antigravity-dev/kanbanctl/internal/runregistry"
)

// decideWIP implements spec.md §4.G decision group 2: for every WIP task,
// check its worker's completion signal and react to missing or stale
// handles.
func decideWIP(c *decisionCtx, actions *[]Action) {
	for _, id := range c.ids {
		tv, _ := c.view(id)
		if tv.Task.Column != board.WIP {
			continue
		}

		entry, has := entryFor(c.next, runregistry.Worker, id)
		if !has {
			applyMissingWorkerPolicy(c, actions, tv)
			continue
		}

		if entry.DonePath == "" {
			continue
		}

		done, ok := c.inspector.ParseDone(entry.DonePath, runregistry.Worker)
		if !ok {
			if entry.LogPath != "" && c.snap.Config.StaleWorkerLogAfterMs > 0 &&
				c.inspector.LogStale(entry.LogPath, c.snap.Config.StaleWorkerLogAfterMs, c.snap.NowMs) {
				c.addTagIfMissing(tv, actions, tagPaused)
				c.addTagIfMissing(tv, actions, tagPausedStale)
			}
			continue
		}

		if !done.Valid {
			*actions = append(*actions, moveTask(id, board.Backlog, "worker-invalid-artifact"))
			if !tv.Task.HasTag(tagBlockedArtifact) {
				*actions = append(*actions, notifyBlocker(id, fmt.Sprintf("task #%d blocked: invalid worker artifact", id)))
			}
			c.addTagIfMissing(tv, actions, tagBlockedArtifact)
			*actions = append(*actions, clearEntry(id, runregistry.Worker, entry))
			clearEntryFromDoc(c.next, runregistry.Worker, id)
			continue
		}

		if text, okText := c.inspector.ReadArtifactText(entry.CommentPath); okText && text != "" {
			*actions = append(*actions, postComment(id, text))
		}
		c.addTagIfMissing(tv, actions, tagReviewAuto)
		c.addTagIfMissing(tv, actions, tagReviewPending)
		*actions = append(*actions, moveTask(id, board.Review, "worker-done"))
		*actions = append(*actions, clearEntry(id, runregistry.Worker, entry))
		clearEntryFromDoc(c.next, runregistry.Worker, id)
		c.next.LastWorkerPatchPathByTaskID[id] = entry.PatchPath
	}
}

// applyMissingWorkerPolicy reacts to a WIP task that has no recorded
// WorkerEntry, per the configured missingWorkerPolicy.
func applyMissingWorkerPolicy(c *decisionCtx, actions *[]Action, tv TaskView) {
	id := tv.Task.ID
	if c.snap.Config.MissingWorkerPolicy == "pause" {
		c.addTagIfMissing(tv, actions, tagPaused)
		c.addTagIfMissing(tv, actions, tagPausedMissing)
		*actions = append(*actions, moveTask(id, board.Blocked, "missing-worker"))
		if !tv.Task.HasTag(tagPausedMissing) {
			*actions = append(*actions, notifyBlocker(id, fmt.Sprintf("task #%d blocked: no worker entry recorded", id)))
		}
		return
	}

	if respawnThrashed(c, id) {
		c.addTagIfMissing(tv, actions, tagPaused)
		c.addTagIfMissing(tv, actions, tagPausedThrash)
		return
	}
	*actions = append(*actions, spawnRun(id, runregistry.Worker, "missing-worker"))
	recordRespawn(c.next, id, c.snap.NowMs)
}
