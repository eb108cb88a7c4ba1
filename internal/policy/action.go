// Package policy is the orchestrator's decision core: pure functions
// from (snapshot, state, registry) to an ordered list of Actions
// (spec.md §4.G). Nothing in this package touches the board, the
// filesystem, or the clock directly — every external fact it needs is
// passed in, and every effect it wants is expressed as a returned
// Action for the reconciler to apply.
package policy

import (
	"github.com/antigravity-dev/kanbanctl/internal/board"
	"github.com/antigravity-dev/kanbanctl/internal/runregistry"
)

// ActionType discriminates the union of mutations the policy engine can
// propose (spec.md §4.G).
type ActionType int

const (
	ActionMoveTask ActionType = iota
	ActionAddTag
	ActionRemoveTag
	ActionSetTags
	ActionPostComment
	ActionCreateTask
	ActionSpawnRun
	ActionRecordEntry
	ActionClearEntry
	ActionNotifyBlocker
)

func (a ActionType) String() string {
	switch a {
	case ActionMoveTask:
		return "MoveTask"
	case ActionAddTag:
		return "AddTag"
	case ActionRemoveTag:
		return "RemoveTag"
	case ActionSetTags:
		return "SetTags"
	case ActionPostComment:
		return "PostComment"
	case ActionCreateTask:
		return "CreateTask"
	case ActionSpawnRun:
		return "SpawnRun"
	case ActionRecordEntry:
		return "RecordEntry"
	case ActionClearEntry:
		return "ClearEntry"
	case ActionNotifyBlocker:
		return "NotifyBlocker"
	default:
		return "Unknown"
	}
}

// Action is one proposed mutation. Only the fields relevant to Type are
// populated; the reconciler switches on Type to apply it.
type Action struct {
	Type ActionType

	TaskID int

	Column board.Column
	Tag    string
	Tags   []string
	Text   string

	NewColumn      board.Column
	NewTitle       string
	NewDescription string

	Kind runregistry.Kind
	// Entry carries a previously-recorded run entry for ActionClearEntry
	// (so the reconciler can archive its directory) or is left zero for
	// ActionSpawnRun (the reconciler fills it in once the child's
	// handshake arrives).
	Entry runregistry.Entry

	// Reason groups related actions for the reconciler's per-tick
	// logging and is not interpreted by policy itself.
	Reason string

	// CountsAsMove marks actions the cooldown guard should track
	// (spec.md §4.I); tag-only mutations do not.
	CountsAsMove bool
}

func moveTask(taskID int, column board.Column, reason string) Action {
	return Action{Type: ActionMoveTask, TaskID: taskID, NewColumn: column, Reason: reason, CountsAsMove: true}
}

func addTag(taskID int, tag string) Action {
	return Action{Type: ActionAddTag, TaskID: taskID, Tag: tag}
}

func removeTag(taskID int, tag string) Action {
	return Action{Type: ActionRemoveTag, TaskID: taskID, Tag: tag}
}

func postComment(taskID int, text string) Action {
	return Action{Type: ActionPostComment, TaskID: taskID, Text: text}
}

func spawnRun(taskID int, kind runregistry.Kind, reason string) Action {
	return Action{Type: ActionSpawnRun, TaskID: taskID, Kind: kind, Reason: reason}
}

func clearEntry(taskID int, kind runregistry.Kind, entry runregistry.Entry) Action {
	return Action{Type: ActionClearEntry, TaskID: taskID, Kind: kind, Entry: entry}
}

func notifyBlocker(taskID int, text string) Action {
	return Action{Type: ActionNotifyBlocker, TaskID: taskID, Text: text}
}

func createTask(column board.Column, title, description string, tags []string) Action {
	return Action{Type: ActionCreateTask, NewColumn: column, NewTitle: title, NewDescription: description, Tags: tags}
}
