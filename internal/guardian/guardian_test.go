package guardian

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/antigravity-dev/kanbanctl/internal/auditstore"
	"github.com/antigravity-dev/kanbanctl/internal/clock"
	"github.com/antigravity-dev/kanbanctl/internal/config"
)

type fakeRunner struct {
	calls int
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls++
	return nil, f.err
}

func writeHeartbeat(t *testing.T, path string, lastTickMs int64) {
	t.Helper()
	raw, err := json.Marshal(heartbeat{LastTickMs: lastTickMs, PID: 1234, TickCount: 7})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
}

func testGuardianConfig(heartbeatPath string) config.Guardian {
	return config.Guardian{
		HeartbeatPath:    heartbeatPath,
		TickSeconds:      config.Duration{Duration: 20 * time.Second},
		StaleMultiplier:  3,
		BringUpCmd:       "kanbanctl --config /etc/kanbanctl.toml",
		PollInterval:     config.Duration{Duration: time.Second},
		MaxRestartsPerHr: 2,
	}
}

func TestCheckOnceNoHeartbeatIsANoOp(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	g := New(testGuardianConfig(filepath.Join(dir, "missing.json")), nil, runner, clock.NewFake(100_000), nil)

	g.checkOnce(context.Background())

	if runner.calls != 0 {
		t.Fatalf("expected no restart attempt without a heartbeat file, got %d", runner.calls)
	}
}

func TestCheckOnceFreshHeartbeatDoesNotRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heartbeat.json")
	writeHeartbeat(t, path, 100_000)

	runner := &fakeRunner{}
	g := New(testGuardianConfig(path), nil, runner, clock.NewFake(110_000), nil)

	g.checkOnce(context.Background())

	if runner.calls != 0 {
		t.Fatalf("expected no restart for a fresh heartbeat, got %d", runner.calls)
	}
}

func TestCheckOnceStaleHeartbeatRestarts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heartbeat.json")
	writeHeartbeat(t, path, 0)

	runner := &fakeRunner{}
	// cfg: tickSeconds=20s, staleMultiplier=3 -> stale after 60s.
	g := New(testGuardianConfig(path), nil, runner, clock.NewFake(90_000), nil)

	g.checkOnce(context.Background())

	if runner.calls != 1 {
		t.Fatalf("expected one restart attempt for a stale heartbeat, got %d", runner.calls)
	}
}

func TestCheckOnceRespectsRestartBudget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heartbeat.json")
	writeHeartbeat(t, path, 0)

	audit, err := auditstore.Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	defer audit.Close()

	cfg := testGuardianConfig(path)
	cfg.MaxRestartsPerHr = 1

	runner := &fakeRunner{}
	g := New(cfg, audit, runner, clock.NewFake(90_000), nil)

	g.checkOnce(context.Background())
	g.checkOnce(context.Background())

	if runner.calls != 1 {
		t.Fatalf("expected the second restart attempt within the hour to be suppressed, got %d calls", runner.calls)
	}

	events, err := audit.RecentHealthEvents(time.Hour)
	if err != nil {
		t.Fatalf("query health events: %v", err)
	}
	found := false
	for _, e := range events {
		if e.EventType == "guardian_restart_suppressed" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a guardian_restart_suppressed event to be recorded")
	}
}

func TestCheckOnceRecordsFailedRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heartbeat.json")
	writeHeartbeat(t, path, 0)

	audit, err := auditstore.Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	defer audit.Close()

	runner := &fakeRunner{err: context.DeadlineExceeded}
	g := New(testGuardianConfig(path), audit, runner, clock.NewFake(90_000), nil)

	g.checkOnce(context.Background())

	events, err := audit.RecentHealthEvents(time.Hour)
	if err != nil {
		t.Fatalf("query health events: %v", err)
	}
	found := false
	for _, e := range events {
		if e.EventType == "guardian_restart_failed" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a guardian_restart_failed event to be recorded")
	}
}
