// Package guardian watches the reconciler's heartbeat file and brings a
// wedged or crashed process back up (spec.md §4.J). It is a separate
// process from the reconciler by design: a watchdog that lives inside
// the thing it watches cannot notice that thing has stopped ticking.
// Grounded on the teacher's internal/health.Monitor.CheckGateway, which
// does the same "probe, restart on failure, count restart failures in a
// rolling window, escalate past a threshold" dance for a systemd unit.
package guardian

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/antigravity-dev/kanbanctl/internal/auditstore"
	"github.com/antigravity-dev/kanbanctl/internal/clock"
	"github.com/antigravity-dev/kanbanctl/internal/config"
)

// Runner executes the bring-up command. Mirrors notify.Runner /
// matrix.Runner so tests substitute a fake instead of shelling out.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// heartbeat mirrors reconcile's heartbeatFile. Duplicated rather than
// imported: the two packages ship in different binaries (cmd/kanbanctl
// vs cmd/kanban-guardian) and the only contract between them is this
// JSON file on disk, so guardian reads it structurally instead of
// pulling in all of internal/reconcile.
type heartbeat struct {
	LastTickMs int64 `json:"lastTickMs"`
	PID        int   `json:"pid"`
	TickCount  int   `json:"tickCount"`
}

// Guardian polls a heartbeat file on an interval and runs a bring-up
// command when it goes stale.
type Guardian struct {
	cfg    config.Guardian
	audit  *auditstore.Store
	runner Runner
	clk    clock.Clock
	logger *slog.Logger
}

// New builds a Guardian. audit may be nil (restart-rate limiting and
// health-event history are then skipped, every stale detection
// restarts unconditionally). runner defaults to ExecRunner{}; clk
// defaults to clock.System{}; logger defaults to slog.Default().
func New(cfg config.Guardian, audit *auditstore.Store, runner Runner, clk clock.Clock, logger *slog.Logger) *Guardian {
	if runner == nil {
		runner = ExecRunner{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guardian{cfg: cfg, audit: audit, runner: runner, clk: clk, logger: logger}
}

// Run polls the heartbeat on cfg.PollInterval until ctx is cancelled.
func (g *Guardian) Run(ctx context.Context) error {
	g.checkOnce(ctx)

	ticker := time.NewTicker(g.cfg.PollInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.checkOnce(ctx)
		}
	}
}

// checkOnce reads the heartbeat file once and restarts the reconciler
// if it is older than StaleMultiplier*TickSeconds.
func (g *Guardian) checkOnce(ctx context.Context) {
	hb, err := readHeartbeat(g.cfg.HeartbeatPath)
	if err != nil {
		if os.IsNotExist(err) {
			g.logger.Debug("guardian: no heartbeat yet", "path", g.cfg.HeartbeatPath)
			return
		}
		g.logger.Warn("guardian: read heartbeat failed", "path", g.cfg.HeartbeatPath, "error", err)
		return
	}

	nowMs := g.clk.NowMs()
	staleAfterMs := int64(g.cfg.StaleMultiplier) * g.cfg.TickSeconds.Duration.Milliseconds()
	ageMs := nowMs - hb.LastTickMs
	if staleAfterMs <= 0 || ageMs <= staleAfterMs {
		return
	}

	g.logger.Warn("guardian: heartbeat stale", "age_ms", ageMs, "stale_after_ms", staleAfterMs, "last_pid", hb.PID)
	g.recordEvent("guardian_stale_detected", fmt.Sprintf("heartbeat age %dms exceeds %dms", ageMs, staleAfterMs))

	if !g.restartBudgetAvailable() {
		g.logger.Error("guardian: restart budget exhausted, not restarting", "max_per_hour", g.cfg.MaxRestartsPerHr)
		g.recordEvent("guardian_restart_suppressed", "restart budget exhausted for the last hour")
		return
	}

	g.restart(ctx)
}

// restartBudgetAvailable reports whether another restart attempt is
// allowed within the last hour, mirroring the teacher's restartFailures
// rolling-window count in Monitor.CheckGateway. With no audit store
// configured every stale detection is allowed to restart.
func (g *Guardian) restartBudgetAvailable() bool {
	if g.audit == nil {
		return true
	}
	events, err := g.audit.RecentHealthEvents(time.Hour)
	if err != nil {
		g.logger.Warn("guardian: query restart history failed", "error", err)
		return true
	}
	count := 0
	for _, e := range events {
		if e.EventType == "guardian_restart" {
			count++
		}
	}
	return count < g.cfg.MaxRestartsPerHr
}

func (g *Guardian) restart(ctx context.Context) {
	fields := strings.Fields(g.cfg.BringUpCmd)
	if len(fields) == 0 {
		g.logger.Error("guardian: bring_up_cmd is empty, cannot restart")
		g.recordEvent("guardian_restart_failed", "bring_up_cmd is empty")
		return
	}

	rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out, err := g.runner.Run(rctx, fields[0], fields[1:]...)
	if err != nil {
		detail := strings.TrimSpace(string(out))
		if detail == "" {
			detail = err.Error()
		}
		g.logger.Error("guardian: bring-up command failed", "error", err, "output", detail)
		g.recordEvent("guardian_restart_failed", fmt.Sprintf("bring_up_cmd failed: %s", detail))
		return
	}

	g.logger.Warn("guardian: reconciler restarted")
	g.recordEvent("guardian_restart", "bring_up_cmd succeeded")
}

func (g *Guardian) recordEvent(eventType, details string) {
	if g.audit == nil {
		return
	}
	if err := g.audit.RecordHealthEvent(eventType, details); err != nil {
		g.logger.Warn("guardian: record health event failed", "error", err)
	}
}

func readHeartbeat(path string) (heartbeat, error) {
	var hb heartbeat
	raw, err := os.ReadFile(path)
	if err != nil {
		return hb, err
	}
	if err := json.Unmarshal(raw, &hb); err != nil {
		return hb, fmt.Errorf("guardian: parse heartbeat %s: %w", path, err)
	}
	return hb, nil
}
