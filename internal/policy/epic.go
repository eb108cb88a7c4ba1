package policy

import (
	"fmt"
	"sort"

	"github.com/antigravity-dev/kanbanctl/internal/board"
)

// decideEpicBreakdown implements spec.md §4.G decision group 6: the top
// Backlog item, if an epic, gets exactly one breakdown task tracking it.
// The epic itself never moves to WIP (promotion already skips epics).
func decideEpicBreakdown(c *decisionCtx, actions *[]Action) {
	var backlog []TaskView
	for _, tv := range c.snap.Tasks {
		if tv.Task.Column == board.Backlog {
			backlog = append(backlog, tv)
		}
	}
	if len(backlog) == 0 {
		return
	}
	sort.SliceStable(backlog, func(i, j int) bool {
		if backlog[i].Task.Position != backlog[j].Task.Position {
			return backlog[i].Task.Position < backlog[j].Task.Position
		}
		return backlog[i].Task.ID < backlog[j].Task.ID
	})

	top := backlog[0]
	if !top.Derived.IsEpic {
		return
	}

	title := fmt.Sprintf("Break down epic #%d: %s", top.Task.ID, top.Task.Title)
	if epicBreakdownExists(c, title) {
		return
	}

	desc := fmt.Sprintf("Depends on: #%d\n\nAutomatically created to track decomposition of epic #%d.", top.Task.ID, top.Task.ID)
	*actions = append(*actions, createTask(board.Backlog, title, desc, nil))
}

func epicBreakdownExists(c *decisionCtx, title string) bool {
	liveColumns := map[board.Column]bool{
		board.Backlog: true, board.Ready: true, board.WIP: true, board.Review: true,
	}
	for _, tv := range c.snap.Tasks {
		if liveColumns[tv.Task.Column] && tv.Task.Title == title {
			return true
		}
	}
	return false
}
