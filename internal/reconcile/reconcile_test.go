package reconcile

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/antigravity-dev/kanbanctl/internal/auditstore"
	"github.com/antigravity-dev/kanbanctl/internal/board"
	"github.com/antigravity-dev/kanbanctl/internal/clock"
	"github.com/antigravity-dev/kanbanctl/internal/config"
	"github.com/antigravity-dev/kanbanctl/internal/dispatch"
	"github.com/antigravity-dev/kanbanctl/internal/runregistry"
	"github.com/antigravity-dev/kanbanctl/internal/statestore"
)

type fakeBoard struct {
	mu    sync.Mutex
	tasks map[int]board.Task
	moves []string
	tags  []string
}

func newFakeBoard(tasks ...board.Task) *fakeBoard {
	m := map[int]board.Task{}
	for _, t := range tasks {
		m[t.ID] = t
	}
	return &fakeBoard{tasks: m}
}

func (f *fakeBoard) ListTasks(columns []board.Column) ([]board.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[board.Column]bool{}
	for _, c := range columns {
		want[c] = true
	}
	var out []board.Task
	for _, t := range f.tasks {
		if want[t.Column] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeBoard) GetTask(id int) (board.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id], nil
}

func (f *fakeBoard) MoveTask(id int, column board.Column) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tasks[id]
	t.Column = column
	f.tasks[id] = t
	f.moves = append(f.moves, string(column))
	return nil
}

func (f *fakeBoard) SetPosition(id int, pos int) error { return nil }

func (f *fakeBoard) AddTag(id int, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tasks[id]
	t.Tags = append(t.Tags, tag)
	f.tasks[id] = t
	f.tags = append(f.tags, "add:"+tag)
	return nil
}

func (f *fakeBoard) RemoveTag(id int, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tasks[id]
	var kept []string
	for _, g := range t.Tags {
		if g != tag {
			kept = append(kept, g)
		}
	}
	t.Tags = kept
	f.tasks[id] = t
	f.tags = append(f.tags, "rm:"+tag)
	return nil
}

func (f *fakeBoard) SetTags(id int, tags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tasks[id]
	t.Tags = tags
	f.tasks[id] = t
	return nil
}

func (f *fakeBoard) PostComment(id int, markdown string) error { return nil }

func (f *fakeBoard) CreateTask(column board.Column, title, description string, tags []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := len(f.tasks) + 1000
	f.tasks[id] = board.Task{ID: id, Column: column, Title: title, Description: description, Tags: tags}
	return id, nil
}

var _ board.Port = (*fakeBoard)(nil)

type fakeSpawner struct {
	calls int
}

func (s *fakeSpawner) Spawn(ctx context.Context, req dispatch.Request) (runregistry.Entry, error) {
	s.calls++
	return runregistry.Entry{
		RunID:    "run-1",
		RunDir:   "/tmp/does-not-matter",
		DonePath: "",
		LogPath:  "/tmp/does-not-matter/log.txt",
	}, nil
}

var _ dispatch.Spawner = (*fakeSpawner)(nil)

func testConfig() *config.Config {
	return &config.Config{
		General: config.General{
			TickSeconds:           config.Duration{Duration: 20 * time.Second},
			ActionBudget:          3,
			CooldownMin:           config.Duration{Duration: 30 * time.Minute},
			WipLimit:              2,
			DocsConcurrencyLimit:  2,
			ReviewThreshold:       80,
			ReviewAutoDone:        true,
			MissingWorkerPolicy:   config.MissingWorkerSpawn,
			ThrashWindowMin:       config.Duration{Duration: time.Hour},
			MaxRespawns:           3,
			MaxReworksPerRevision: 2,
			LockStrategy:          config.LockStrategyOS,
		},
		Board: config.Board{URL: "http://localhost:1234", HasDocumentColumn: false},
	}
}

func TestTickPromotesBacklogTaskToWIP(t *testing.T) {
	dir := t.TempDir()
	b := newFakeBoard(board.Task{ID: 1, Column: board.Backlog, Position: 1, Title: "do the thing", Description: "Repo: /repo"})
	store := statestore.New(filepath.Join(dir, "state.json"), slog.Default())
	registry := runregistry.NewRegistry(filepath.Join(dir, "runs"))
	spawner := &fakeSpawner{}
	lock := clock.NewOSLock(filepath.Join(dir, "tick.lock"))

	r := New(config.NewManager(testConfig()), b, registry, store, spawner, nil, nil, lock, clock.NewFake(1000), slog.Default())

	if err := r.Tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	got := b.tasks[1]
	if got.Column != board.WIP {
		t.Fatalf("expected task promoted to WIP, got column %q", got.Column)
	}
	if spawner.calls != 1 {
		t.Fatalf("expected one spawn call, got %d", spawner.calls)
	}

	doc := store.Load()
	if _, ok := doc.WorkersByTaskID[1]; !ok {
		t.Fatalf("expected a recorded worker entry for task 1")
	}
}

func TestTickIsNoOpOnLockContention(t *testing.T) {
	dir := t.TempDir()
	b := newFakeBoard(board.Task{ID: 1, Column: board.Backlog})
	store := statestore.New(filepath.Join(dir, "state.json"), slog.Default())
	registry := runregistry.NewRegistry(filepath.Join(dir, "runs"))
	spawner := &fakeSpawner{}
	lockPath := filepath.Join(dir, "tick.lock")

	heldLock := clock.NewOSLock(lockPath)
	if err := heldLock.Acquire(); err != nil {
		t.Fatalf("acquire held lock: %v", err)
	}
	defer heldLock.Release()

	contendingLock := clock.NewOSLock(lockPath)
	r := New(config.NewManager(testConfig()), b, registry, store, spawner, nil, nil, contendingLock, clock.NewFake(1000), slog.Default())

	if err := r.Tick(context.Background()); err == nil {
		t.Fatalf("expected lock contention error")
	}
	if spawner.calls != 0 {
		t.Fatalf("expected no spawn under lock contention, got %d", spawner.calls)
	}
}

func TestTickDryRunDoesNotMutateBoard(t *testing.T) {
	dir := t.TempDir()
	b := newFakeBoard(board.Task{ID: 1, Column: board.Backlog})
	store := statestore.New(filepath.Join(dir, "state.json"), slog.Default())

	doc := statestore.NewDocument()
	doc.DryRun = true
	doc.DryRunRunsRemaining = 2
	if err := store.Save(doc); err != nil {
		t.Fatalf("seed dry run state: %v", err)
	}

	registry := runregistry.NewRegistry(filepath.Join(dir, "runs"))
	spawner := &fakeSpawner{}
	lock := clock.NewOSLock(filepath.Join(dir, "tick.lock"))
	r := New(config.NewManager(testConfig()), b, registry, store, spawner, nil, nil, lock, clock.NewFake(1000), slog.Default())

	if err := r.Tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	if b.tasks[1].Column != board.Backlog {
		t.Fatalf("dry run must not move tasks, got column %q", b.tasks[1].Column)
	}
	if spawner.calls != 0 {
		t.Fatalf("dry run must not spawn, got %d calls", spawner.calls)
	}

	next := store.Load()
	if next.DryRunRunsRemaining != 1 {
		t.Fatalf("expected dryRunRunsRemaining decremented to 1, got %d", next.DryRunRunsRemaining)
	}
	if !next.DryRun {
		t.Fatalf("expected dry run to stay armed with runs remaining")
	}
}

func TestTickRecordsAuditTrail(t *testing.T) {
	dir := t.TempDir()
	b := newFakeBoard(board.Task{ID: 1, Column: board.Backlog, Position: 1, Title: "do the thing", Description: "Repo: /repo"})
	store := statestore.New(filepath.Join(dir, "state.json"), slog.Default())
	registry := runregistry.NewRegistry(filepath.Join(dir, "runs"))
	spawner := &fakeSpawner{}
	lock := clock.NewOSLock(filepath.Join(dir, "tick.lock"))

	audit, err := auditstore.Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	defer audit.Close()

	r := New(config.NewManager(testConfig()), b, registry, store, spawner, nil, audit, lock, clock.NewFake(1000), slog.Default())

	if err := r.Tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	events, err := audit.RecentHealthEvents(time.Hour)
	if err != nil {
		t.Fatalf("query health events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no health events from a clean tick, got %d", len(events))
	}

	metrics, err := audit.RecentTickMetrics(10)
	if err != nil {
		t.Fatalf("query tick metrics: %v", err)
	}
	if len(metrics) != 1 {
		t.Fatalf("expected one recorded tick metric, got %d", len(metrics))
	}
	if metrics[0].Promoted != 1 || metrics[0].Spawned != 1 {
		t.Fatalf("expected promoted=1 spawned=1, got %+v", metrics[0])
	}
}
