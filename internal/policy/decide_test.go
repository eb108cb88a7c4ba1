package policy

import (
	"testing"

	"github.com/antigravity-dev/kanbanctl/internal/board"
	"github.com/antigravity-dev/kanbanctl/internal/classify"
	"github.com/antigravity-dev/kanbanctl/internal/runregistry"
	"github.com/antigravity-dev/kanbanctl/internal/statestore"
)

// fakeInspector is a scriptable RunInspector for policy tests, keeping
// Decide's purity testable without touching a filesystem.
type fakeInspector struct {
	done      map[string]*runregistry.DoneResult
	reviews   map[string]*runregistry.ReviewResult
	revisions map[string]string
	stale     map[string]bool
	recovery  map[int]*runregistry.RecoveryCandidate
	texts     map[string]string
}

var _ RunInspector = (*fakeInspector)(nil)

func newFakeInspector() *fakeInspector {
	return &fakeInspector{
		done:      map[string]*runregistry.DoneResult{},
		reviews:   map[string]*runregistry.ReviewResult{},
		revisions: map[string]string{},
		stale:     map[string]bool{},
		recovery:  map[int]*runregistry.RecoveryCandidate{},
		texts:     map[string]string{},
	}
}

func (f *fakeInspector) ParseDone(path string, kind runregistry.Kind) (*runregistry.DoneResult, bool) {
	r, ok := f.done[path]
	return r, ok
}

func (f *fakeInspector) ParseReview(path string, threshold int) (*runregistry.ReviewResult, bool) {
	r, ok := f.reviews[path]
	return r, ok
}

func (f *fakeInspector) PatchRevision(path string) string { return f.revisions[path] }

func (f *fakeInspector) LogStale(logPath string, staleAfterMs, nowMs int64) bool {
	return f.stale[logPath]
}

func (f *fakeInspector) FindRecoveryEligibleReview(taskID int, currentRevision string, reviewThreshold int, storedModMs int64) *runregistry.RecoveryCandidate {
	return f.recovery[taskID]
}

func (f *fakeInspector) ReadArtifactText(path string) (string, bool) {
	t, ok := f.texts[path]
	return t, ok
}

func baseConfig() Config {
	return Config{
		WipLimit:              3,
		DocsConcurrencyLimit:  2,
		ReviewThreshold:       80,
		ReviewAutoDone:        true,
		HasDocumentColumn:     false,
		MissingWorkerPolicy:   "spawn",
		ThrashWindowMs:        3_600_000,
		MaxRespawns:           3,
		MaxReworksPerRevision: 2,
		StaleWorkerLogAfterMs: 600_000,
	}
}

func view(t board.Task) TaskView {
	return TaskView{Task: t, Derived: classify.Classify(t, classify.Options{})}
}

func TestPromotionMovesTopBacklogTaskThroughToWIPWithSpawn(t *testing.T) {
	snap := Snapshot{
		NowMs: 1000,
		Tasks: []TaskView{
			view(board.Task{ID: 1, Column: board.Backlog, Position: 1, Title: "t1", Description: "Repo: /repo"}),
		},
		Config: baseConfig(),
	}
	actions, next := Decide(snap, statestore.NewDocument(), newFakeInspector())

	var sawReady, sawWIP, sawSpawn bool
	for _, a := range actions {
		switch {
		case a.Type == ActionMoveTask && a.NewColumn == board.Ready:
			sawReady = true
		case a.Type == ActionMoveTask && a.NewColumn == board.WIP:
			sawWIP = true
		case a.Type == ActionSpawnRun && a.Kind == runregistry.Worker:
			sawSpawn = true
		}
	}
	if !sawReady || !sawWIP || !sawSpawn {
		t.Fatalf("expected Backlog->Ready->WIP plus spawn, got %+v", actions)
	}
	if len(next.RespawnHistoryByTaskID[1]) != 1 {
		t.Fatalf("expected respawn recorded, got %v", next.RespawnHistoryByTaskID)
	}
}

func TestPromotionBlockedByUnmetDependency(t *testing.T) {
	snap := Snapshot{
		NowMs: 1000,
		Tasks: []TaskView{
			view(board.Task{ID: 2, Column: board.Backlog, Position: 1, Title: "t2", Description: "Repo: /repo\nDepends on: #1"}),
			view(board.Task{ID: 1, Column: board.WIP, Position: 1, Title: "t1"}),
		},
		Config: baseConfig(),
	}
	actions, _ := Decide(snap, statestore.NewDocument(), newFakeInspector())

	foundTag := false
	for _, a := range actions {
		if a.Type == ActionAddTag && a.TaskID == 2 && a.Tag == tagBlockedDeps {
			foundTag = true
		}
		if a.Type == ActionMoveTask && a.TaskID == 2 {
			t.Fatalf("task 2 should not move while its dependency is unmet: %+v", a)
		}
	}
	if !foundTag {
		t.Fatalf("expected blocked:deps tag, got %+v", actions)
	}
}

func TestPromotionBlockedByRepoConcurrencyCap(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxPerRepo = 1
	snap := Snapshot{
		NowMs: 1000,
		Tasks: []TaskView{
			view(board.Task{ID: 2, Column: board.Backlog, Position: 1, Title: "t2", Description: "Repo: /repo/shared"}),
			view(board.Task{ID: 1, Column: board.WIP, Position: 1, Title: "t1", Description: "Repo: /repo/shared"}),
		},
		Config: cfg,
	}
	actions, _ := Decide(snap, statestore.NewDocument(), newFakeInspector())

	foundTag := false
	for _, a := range actions {
		if a.Type == ActionAddTag && a.TaskID == 2 && a.Tag == tagBlockedRepoBusy {
			foundTag = true
		}
		if a.Type == ActionMoveTask && a.TaskID == 2 {
			t.Fatalf("task 2 should not move while the repo is already at its concurrency cap: %+v", a)
		}
	}
	if !foundTag {
		t.Fatalf("expected blocked:repo-busy tag, got %+v", actions)
	}
}

func TestCriticalPreemptsWIPAndFencesOthers(t *testing.T) {
	snap := Snapshot{
		NowMs: 1000,
		Tasks: []TaskView{
			view(board.Task{ID: 30, Column: board.WIP, Title: "in-flight-a"}),
			view(board.Task{ID: 31, Column: board.WIP, Title: "in-flight-b"}),
			view(board.Task{ID: 40, Column: board.Backlog, Position: 1, Title: "urgent", Description: "Repo: /repo", Tags: []string{"critical"}}),
		},
		Config: baseConfig(),
	}
	actions, next := Decide(snap, statestore.NewDocument(), newFakeInspector())

	pausedCount := map[int]int{}
	sawCriticalSpawn := false
	sawNonCriticalPromotion := false
	for _, a := range actions {
		if a.Type == ActionAddTag && (a.Tag == tagPaused || a.Tag == tagPausedCritical) {
			pausedCount[a.TaskID]++
		}
		if a.Type == ActionSpawnRun && a.TaskID == 40 {
			sawCriticalSpawn = true
		}
		if a.Type == ActionMoveTask && a.NewColumn == board.WIP && a.TaskID != 40 {
			sawNonCriticalPromotion = true
		}
	}
	if pausedCount[30] != 2 || pausedCount[31] != 2 {
		t.Fatalf("expected both other WIP tasks fenced with paused+paused:critical, got %+v", pausedCount)
	}
	if !sawCriticalSpawn {
		t.Fatalf("expected the critical task to be spawned, got %+v", actions)
	}
	if sawNonCriticalPromotion {
		t.Fatalf("no non-critical task should reach WIP while critical is preempting: %+v", actions)
	}
	if next.PausedByCriticalID[30].WhyTagsAdded == nil {
		t.Fatalf("expected pausedByCritical bookkeeping for task 30")
	}
}

func TestReviewPassMovesToDoneWhenAutoDoneAndNoDocsColumn(t *testing.T) {
	insp := newFakeInspector()
	insp.reviews["r/review.json"] = &runregistry.ReviewResult{Score: 95, Verdict: runregistry.VerdictPass}

	state := statestore.NewDocument()
	state.ReviewersByTaskID[5] = runregistry.Entry{DonePath: "r/review.json", PatchPath: "r/patch.diff"}

	snap := Snapshot{
		NowMs: 1000,
		Tasks: []TaskView{
			view(board.Task{ID: 5, Column: board.Review, Title: "t5", Tags: []string{"review:pending", "review:auto"}}),
		},
		Config: baseConfig(),
	}
	actions, next := Decide(snap, state, insp)

	var movedToDone bool
	for _, a := range actions {
		if a.Type == ActionMoveTask && a.TaskID == 5 && a.NewColumn == board.Done {
			movedToDone = true
		}
	}
	if !movedToDone {
		t.Fatalf("expected review pass to move to Done, got %+v", actions)
	}
	if _, stillPresent := next.ReviewersByTaskID[5]; stillPresent {
		t.Fatalf("expected ReviewerEntry cleared after PASS")
	}
}

func TestReviewReworkRespawnsWorkerWhenWIPHasCapacity(t *testing.T) {
	insp := newFakeInspector()
	insp.reviews["r/review.json"] = &runregistry.ReviewResult{Score: 40, Verdict: runregistry.VerdictRework, ReviewRevision: "rev1"}

	state := statestore.NewDocument()
	state.ReviewersByTaskID[7] = runregistry.Entry{DonePath: "r/review.json", PatchPath: "r/patch.diff"}

	snap := Snapshot{
		NowMs: 1000,
		Tasks: []TaskView{
			view(board.Task{ID: 7, Column: board.Review, Title: "t7"}),
		},
		Config: baseConfig(),
	}
	actions, next := Decide(snap, state, insp)

	var movedToWIP, respawned bool
	for _, a := range actions {
		if a.Type == ActionMoveTask && a.TaskID == 7 && a.NewColumn == board.WIP {
			movedToWIP = true
		}
		if a.Type == ActionSpawnRun && a.TaskID == 7 && a.Kind == runregistry.Worker {
			respawned = true
		}
	}
	if !movedToWIP || !respawned {
		t.Fatalf("expected REWORK with capacity to respawn a worker, got %+v", actions)
	}
	if len(next.ReviewReworkHistoryByTaskID[7]) != 1 {
		t.Fatalf("expected rework recorded, got %v", next.ReviewReworkHistoryByTaskID)
	}
}

func TestReviewThrashGuardSendsToBacklog(t *testing.T) {
	insp := newFakeInspector()
	insp.reviews["r/review.json"] = &runregistry.ReviewResult{Score: 40, Verdict: runregistry.VerdictRework, ReviewRevision: "rev1"}

	state := statestore.NewDocument()
	state.ReviewersByTaskID[9] = runregistry.Entry{DonePath: "r/review.json", PatchPath: "r/patch.diff"}
	state.ReviewReworkHistoryByTaskID[9] = []statestore.ReworkRecord{
		{Revision: "rev1", Ms: 900}, {Revision: "rev1", Ms: 950}, {Revision: "rev1", Ms: 980},
	}

	snap := Snapshot{
		NowMs: 1000,
		Tasks: []TaskView{
			view(board.Task{ID: 9, Column: board.Review, Title: "t9"}),
		},
		Config: baseConfig(),
	}
	actions, _ := Decide(snap, state, insp)

	var toBacklog, tagged bool
	for _, a := range actions {
		if a.Type == ActionMoveTask && a.TaskID == 9 && a.NewColumn == board.Backlog {
			toBacklog = true
		}
		if a.Type == ActionAddTag && a.TaskID == 9 && a.Tag == tagBlockedThrash {
			tagged = true
		}
	}
	if !toBacklog || !tagged {
		t.Fatalf("expected thrashed rework to move to Backlog with blocked:thrash, got %+v", actions)
	}
}

func TestWIPMissingWorkerSpawnPolicyRespawns(t *testing.T) {
	state := statestore.NewDocument()
	snap := Snapshot{
		NowMs: 1000,
		Tasks: []TaskView{
			view(board.Task{ID: 11, Column: board.WIP, Title: "t11"}),
		},
		Config: baseConfig(),
	}
	actions, _ := Decide(snap, state, newFakeInspector())

	var spawned bool
	for _, a := range actions {
		if a.Type == ActionSpawnRun && a.TaskID == 11 && a.Kind == runregistry.Worker {
			spawned = true
		}
	}
	if !spawned {
		t.Fatalf("expected missing worker to be respawned under default policy, got %+v", actions)
	}
}

func TestWIPDoneWorkerMovesToReviewAndPostsComment(t *testing.T) {
	insp := newFakeInspector()
	insp.done["w/done.json"] = &runregistry.DoneResult{Valid: true}
	insp.texts["w/comment.md"] = "worker summary"

	state := statestore.NewDocument()
	state.WorkersByTaskID[13] = runregistry.Entry{DonePath: "w/done.json", CommentPath: "w/comment.md", PatchPath: "w/patch.diff"}

	snap := Snapshot{
		NowMs: 1000,
		Tasks: []TaskView{
			view(board.Task{ID: 13, Column: board.WIP, Title: "t13"}),
		},
		Config: baseConfig(),
	}
	actions, next := Decide(snap, state, insp)

	var toReview, commented bool
	for _, a := range actions {
		if a.Type == ActionMoveTask && a.TaskID == 13 && a.NewColumn == board.Review {
			toReview = true
		}
		if a.Type == ActionPostComment && a.TaskID == 13 && a.Text == "worker summary" {
			commented = true
		}
	}
	if !toReview || !commented {
		t.Fatalf("expected move to Review with posted comment, got %+v", actions)
	}
	if next.LastWorkerPatchPathByTaskID[13] != "w/patch.diff" {
		t.Fatalf("expected worker patch path remembered for later review recovery")
	}
}

func TestAutoHealReturnsBlockedTaskToReadyWhenDependencyClears(t *testing.T) {
	state := statestore.NewDocument()
	snap := Snapshot{
		NowMs: 1000,
		Tasks: []TaskView{
			view(board.Task{ID: 20, Column: board.Blocked, Title: "t20", Description: "Repo: /repo\nDepends on: #21", Tags: []string{"blocked:deps"}}),
			view(board.Task{ID: 21, Column: board.Done, Title: "dep"}),
		},
		Config: baseConfig(),
	}
	actions, _ := Decide(snap, state, newFakeInspector())

	var toReady, tagCleared bool
	for _, a := range actions {
		if a.Type == ActionMoveTask && a.TaskID == 20 && a.NewColumn == board.Ready {
			toReady = true
		}
		if a.Type == ActionRemoveTag && a.TaskID == 20 && a.Tag == tagBlockedDeps {
			tagCleared = true
		}
	}
	if !toReady || !tagCleared {
		t.Fatalf("expected auto-heal to Ready once dependency is Done, got %+v", actions)
	}
}

func TestEpicBreakdownCreatedOnceForTopBacklogEpic(t *testing.T) {
	state := statestore.NewDocument()
	snap := Snapshot{
		NowMs: 1000,
		Tasks: []TaskView{
			view(board.Task{ID: 50, Column: board.Backlog, Position: 1, Title: "Big epic", Tags: []string{"epic"}}),
		},
		Config: baseConfig(),
	}
	actions, _ := Decide(snap, state, newFakeInspector())

	var created bool
	for _, a := range actions {
		if a.Type == ActionCreateTask && a.NewTitle == "Break down epic #50: Big epic" {
			created = true
		}
	}
	if !created {
		t.Fatalf("expected a breakdown task to be created for the top-of-backlog epic, got %+v", actions)
	}

	snap.Tasks = append(snap.Tasks, view(board.Task{ID: 51, Column: board.Ready, Title: "Break down epic #50: Big epic"}))
	actions2, _ := Decide(snap, state, newFakeInspector())
	for _, a := range actions2 {
		if a.Type == ActionCreateTask {
			t.Fatalf("expected no duplicate breakdown task once one exists, got %+v", actions2)
		}
	}
}

func TestDecideIsIdempotentGivenIdenticalInputs(t *testing.T) {
	state := statestore.NewDocument()
	snap := Snapshot{
		NowMs: 1000,
		Tasks: []TaskView{
			view(board.Task{ID: 1, Column: board.Backlog, Position: 1, Title: "t1", Description: "Repo: /repo"}),
		},
		Config: baseConfig(),
	}
	a1, _ := Decide(snap, state, newFakeInspector())
	a2, _ := Decide(snap, state, newFakeInspector())

	if len(a1) != len(a2) {
		t.Fatalf("expected identical action counts across repeated Decide calls, got %d vs %d", len(a1), len(a2))
	}
	for i := range a1 {
		x, y := a1[i], a2[i]
		if x.Type != y.Type || x.TaskID != y.TaskID || x.NewColumn != y.NewColumn || x.Tag != y.Tag || x.Kind != y.Kind {
			t.Fatalf("expected identical action at index %d, got %+v vs %+v", i, x, y)
		}
	}
}
