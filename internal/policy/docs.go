package policy

import (
	"github.com/antigravity-dev/kanbanctl/internal/board"
	"github.com/antigravity-dev/kanbanctl/internal/runregistry"
)

// decideDocs implements spec.md §4.G decision group 4, only when the
// board carries a Documentation column.
func decideDocs(c *decisionCtx, actions *[]Action) {
	if !c.snap.Config.HasDocumentColumn {
		return
	}

	for _, id := range c.ids {
		tv, _ := c.view(id)
		if tv.Task.Column != board.Documentation {
			continue
		}

		entry, has := entryFor(c.next, runregistry.Docs, id)
		if !has {
			if tv.Task.HasTag(tagDocsError) && !tv.Task.HasTag(tagDocsRetry) {
				continue
			}
			if tv.Task.HasTag(tagDocsAuto) && tv.Task.HasTag(tagDocsPending) &&
				c.docsInflightCount() < c.snap.Config.DocsConcurrencyLimit {
				*actions = append(*actions, spawnRun(id, runregistry.Docs, "docs-pending"))
				c.addTagIfMissing(tv, actions, tagDocsInflight)
				c.removeTagIfPresent(tv, actions, tagDocsPending)
				c.removeTagIfPresent(tv, actions, tagDocsRetry)
				c.removeTagIfPresent(tv, actions, tagDocsError)
			}
			continue
		}

		done, ok := c.inspector.ParseDone(entry.DonePath, runregistry.Docs)
		if !ok {
			continue
		}

		if !done.Valid {
			c.addTagIfMissing(tv, actions, tagDocsError)
			c.removeTagIfPresent(tv, actions, tagDocsInflight)
			*actions = append(*actions, clearEntry(id, runregistry.Docs, entry))
			clearEntryFromDoc(c.next, runregistry.Docs, id)
			continue
		}

		if done.PatchBytes > 0 {
			c.addTagIfMissing(tv, actions, tagDocsCompleted)
		} else {
			c.addTagIfMissing(tv, actions, tagDocsSkip)
		}
		if text, okText := c.inspector.ReadArtifactText(entry.CommentPath); okText && text != "" {
			*actions = append(*actions, postComment(id, text))
		}
		c.removeTagIfPresent(tv, actions, tagDocsInflight)
		*actions = append(*actions, moveTask(id, board.Done, "docs-done"))
		*actions = append(*actions, clearEntry(id, runregistry.Docs, entry))
		clearEntryFromDoc(c.next, runregistry.Docs, id)
	}
}
