package reconcile

import (
	"github.com/antigravity-dev/kanbanctl/internal/board"
	"github.com/antigravity-dev/kanbanctl/internal/policy"
)

// clampActions applies spec.md §4.H's two per-tick guards to the action
// list Decide returned: the action budget (at most budget distinct
// tasks get a column move this tick; a move plus its paired spawn/entry
// actions count as one logical move) and the move cooldown (a task
// whose last recorded move is still inside cooldownMs is skipped unless
// the move is Ready→WIP, which is exempt). Actions for a task whose move
// is clamped are dropped as a group, not just the MoveTask action, so a
// spawn never fires for a task the reconciler decided not to move.
func clampActions(actions []policy.Action, tasksByID map[int]board.Task, lastActionMs map[int]int64, nowMs int64, cooldownMs int64, budget int) []policy.Action {
	moveTaskIDs := orderedMovingTaskIDs(actions)

	allowed := make(map[int]bool, len(moveTaskIDs))
	budgetUsed := 0
	for _, id := range moveTaskIDs {
		if budgetUsed >= budget {
			break
		}
		if cooldownBlocks(id, tasksByID, lastActionMs, nowMs, cooldownMs, actions) {
			continue
		}
		allowed[id] = true
		budgetUsed++
	}

	out := make([]policy.Action, 0, len(actions))
	for _, a := range actions {
		if a.Type == policy.ActionCreateTask {
			out = append(out, a)
			continue
		}
		if !hasMove(moveTaskIDs, a.TaskID) {
			out = append(out, a)
			continue
		}
		if allowed[a.TaskID] {
			out = append(out, a)
		}
	}
	return out
}

// orderedMovingTaskIDs returns the distinct task ids with at least one
// CountsAsMove action, in first-appearance order.
func orderedMovingTaskIDs(actions []policy.Action) []int {
	seen := map[int]bool{}
	var ids []int
	for _, a := range actions {
		if !a.CountsAsMove || seen[a.TaskID] {
			continue
		}
		seen[a.TaskID] = true
		ids = append(ids, a.TaskID)
	}
	return ids
}

func hasMove(moveIDs []int, taskID int) bool {
	for _, id := range moveIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// cooldownBlocks reports whether taskID's move this tick must be
// skipped because its last recorded move is still within the cooldown
// window. Ready→WIP is exempt (spec.md §4.H): promoting a task out of
// Ready the moment it is eligible must never stall behind a cooldown
// meant to damp repeated rework/respawn churn.
func cooldownBlocks(taskID int, tasksByID map[int]board.Task, lastActionMs map[int]int64, nowMs int64, cooldownMs int64, actions []policy.Action) bool {
	if cooldownMs <= 0 {
		return false
	}
	last, ok := lastActionMs[taskID]
	if !ok || nowMs-last >= cooldownMs {
		return false
	}

	current, known := tasksByID[taskID]
	if known && current.Column == board.Ready && movesToWIP(actions, taskID) {
		return false
	}
	return true
}

func movesToWIP(actions []policy.Action, taskID int) bool {
	for _, a := range actions {
		if a.TaskID == taskID && a.Type == policy.ActionMoveTask && a.NewColumn == board.WIP {
			return true
		}
	}
	return false
}
