package policy

import (
	"fmt"

	"github.com/antigravity-dev/kanbanctl/internal/board"
	"github.com/antigravity-dev/kanbanctl/internal/runregistry"
)

// decideReview implements spec.md §4.G decision group 3: spawn reviewers
// for pending auto-reviews, service their verdicts, and apply the
// rework thrash guard.
func decideReview(c *decisionCtx, actions *[]Action) {
	for _, id := range c.ids {
		tv, _ := c.view(id)
		if tv.Task.Column != board.Review {
			continue
		}

		entry, has := entryFor(c.next, runregistry.Reviewer, id)
		if !has {
			if !tv.Task.HasTag(tagReviewPending) || !tv.Task.HasTag(tagReviewAuto) {
				continue
			}

			revision := c.inspector.PatchRevision(c.next.LastWorkerPatchPathByTaskID[id])
			if cand := c.inspector.FindRecoveryEligibleReview(id, revision, c.snap.Config.ReviewThreshold, 0); cand != nil {
				recovered := runregistry.Entry{RunDir: cand.RunDir, DonePath: cand.Path}
				c.next.ReviewersByTaskID[id] = recovered
				c.addTagIfMissing(tv, actions, tagReviewInflight)
				c.removeTagIfPresent(tv, actions, tagReviewPending)
				continue
			}

			*actions = append(*actions, spawnRun(id, runregistry.Reviewer, "review-pending"))
			c.addTagIfMissing(tv, actions, tagReviewInflight)
			c.removeTagIfPresent(tv, actions, tagReviewPending)
			continue
		}

		result, ok := c.inspector.ParseReview(entry.DonePath, c.snap.Config.ReviewThreshold)
		if !ok {
			if tv.Task.HasTag(tagReviewRerun) || tv.Task.HasTag(tagReviewRetry) {
				*actions = append(*actions, clearEntry(id, runregistry.Reviewer, entry))
				clearEntryFromDoc(c.next, runregistry.Reviewer, id)
				c.removeTagIfPresent(tv, actions, tagReviewRerun)
				c.removeTagIfPresent(tv, actions, tagReviewRetry)
			} else {
				c.addTagIfMissing(tv, actions, tagReviewError)
			}
			continue
		}

		if result.Verdict == runregistry.VerdictPass {
			servicePassedReview(c, actions, tv, entry)
			continue
		}

		serviceReworkVerdict(c, actions, tv, entry, result.ReviewRevision)
	}
}

func servicePassedReview(c *decisionCtx, actions *[]Action, tv TaskView, entry runregistry.Entry) {
	id := tv.Task.ID
	c.addTagIfMissing(tv, actions, tagReviewPass)
	for _, t := range reviewTerminalClearTags {
		c.removeTagIfPresent(tv, actions, t)
	}
	*actions = append(*actions, clearEntry(id, runregistry.Reviewer, entry))
	clearEntryFromDoc(c.next, runregistry.Reviewer, id)

	if c.snap.Config.ReviewAutoDone {
		*actions = append(*actions, moveTask(id, board.Done, "review-pass"))
		return
	}
	if c.snap.Config.HasDocumentColumn {
		*actions = append(*actions, moveTask(id, board.Documentation, "review-pass"))
		c.addTagIfMissing(tv, actions, tagDocsAuto)
		c.addTagIfMissing(tv, actions, tagDocsPending)
	}
}

func serviceReworkVerdict(c *decisionCtx, actions *[]Action, tv TaskView, entry runregistry.Entry, revision string) {
	id := tv.Task.ID

	if revision == "" {
		revision = c.inspector.PatchRevision(entry.PatchPath)
	}

	*actions = append(*actions, clearEntry(id, runregistry.Reviewer, entry))
	clearEntryFromDoc(c.next, runregistry.Reviewer, id)

	if reworkThrashed(c, id, revision) {
		*actions = append(*actions, moveTask(id, board.Backlog, "review-thrash"))
		c.addTagIfMissing(tv, actions, tagBlockedThrash)
		if !tv.Task.HasTag(tagBlockedThrash) {
			*actions = append(*actions, notifyBlocker(id, fmt.Sprintf("task #%d blocked: repeated rework of the same revision", id)))
		}
		return
	}

	recordRework(c.next, id, revision, c.snap.NowMs)
	c.addTagIfMissing(tv, actions, tagReviewRework)
	c.addTagIfMissing(tv, actions, tagNeedsRework)

	if c.wipCount() < c.snap.Config.WipLimit {
		*actions = append(*actions, moveTask(id, board.WIP, "review-rework"))
		*actions = append(*actions, spawnRun(id, runregistry.Worker, "review-rework"))
		recordRespawn(c.next, id, c.snap.NowMs)
		c.removeTagIfPresent(tv, actions, tagReviewBlockedW)
	} else {
		c.addTagIfMissing(tv, actions, tagReviewBlockedW)
	}
}
