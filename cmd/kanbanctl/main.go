// Command kanbanctl runs the deterministic tick-driven reconciler that
// synchronizes an external Kanban board with on-disk worker/reviewer/docs
// run artifacts. Entrypoint shape (flags, signal handling, lock
// acquisition, config hot-reload on SIGHUP) is adapted from the
// teacher's cmd/cortex/main.go, trimmed to this orchestrator's single
// reconcile loop in place of cortex's scheduler+API+matrix+temporal
// bundle.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/antigravity-dev/kanbanctl/internal/auditstore"
	"github.com/antigravity-dev/kanbanctl/internal/board"
	"github.com/antigravity-dev/kanbanctl/internal/clock"
	"github.com/antigravity-dev/kanbanctl/internal/config"
	"github.com/antigravity-dev/kanbanctl/internal/dispatch"
	"github.com/antigravity-dev/kanbanctl/internal/notify"
	"github.com/antigravity-dev/kanbanctl/internal/reconcile"
	"github.com/antigravity-dev/kanbanctl/internal/runregistry"
	"github.com/antigravity-dev/kanbanctl/internal/statestore"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func buildSpawner(cfg *config.Config, logger *slog.Logger, dryRun bool) (dispatch.Spawner, error) {
	if dryRun {
		return dispatch.NewDryRunSpawner(logger.With("component", "dispatch")), nil
	}

	commands := map[runregistry.Kind]string{
		runregistry.Worker:   cfg.Dispatch.WorkerSpawnCmd,
		runregistry.Reviewer: cfg.Dispatch.ReviewerSpawnCmd,
		runregistry.Docs:     cfg.Dispatch.DocsSpawnCmd,
	}
	handshake := msToDuration(cfg.General.SpawnHandshakeMs)

	switch cfg.Dispatch.Backend {
	case config.DispatchBackendDocker:
		return dispatch.NewDockerSpawner(cfg.Dispatch.DockerImage, cfg.General.RunsRoot, commands, handshake)
	case config.DispatchBackendCommand:
		return dispatch.NewCommandSpawner(commands, handshake), nil
	default:
		return nil, fmt.Errorf("unknown dispatch backend %q", cfg.Dispatch.Backend)
	}
}

func buildLock(cfg *config.Config) clock.TickLock {
	lockPath := filepath.Join(cfg.General.StateRoot, "tick.lock")
	switch cfg.General.LockStrategy {
	case config.LockStrategyStaleFile:
		// NewStaleFileLock falls back to its own default staleness
		// window when given 0; General.LockWaitMs is how long a tick
		// waits on a contended lock, not how old an abandoned one must
		// be, so it does not belong here.
		return clock.NewStaleFileLock(lockPath, 0)
	default:
		return clock.NewOSLock(lockPath)
	}
}

func main() {
	configPath := flag.String("config", "kanbanctl.toml", "path to config file")
	once := flag.Bool("once", false, "run a single tick then exit")
	dryRun := flag.Bool("dry-run", false, "decide and log actions without spawning child processes")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(bootLogger)
	bootLogger.Info("kanbanctl starting", "config", *configPath)

	cfgMgr, err := config.LoadManager(*configPath)
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgMgr.Get()

	logger := configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)

	lock := buildLock(cfg)

	boardClient := board.NewClient(cfg.Board.URL, cfg.Board.Username, cfg.Board.Password, msToDuration(cfg.General.BoardCallTimeoutMs))

	registry := runregistry.NewRegistry(cfg.General.RunsRoot)
	store := statestore.New(filepath.Join(cfg.General.StateRoot, "state.json"), logger.With("component", "statestore"))

	spawner, err := buildSpawner(cfg, logger, *dryRun)
	if err != nil {
		logger.Error("failed to build dispatch spawner", "error", err)
		os.Exit(1)
	}

	var auditStore *auditstore.Store
	if cfg.General.StateRoot != "" {
		auditStore, err = auditstore.Open(filepath.Join(cfg.General.StateRoot, "audit.db"))
		if err != nil {
			logger.Warn("failed to open audit store, continuing without a secondary history log", "error", err)
			auditStore = nil
		} else {
			defer auditStore.Close()
		}
	}

	var notifier reconcile.Notifier
	if cfg.Notify.Cmd != "" {
		notifier = notify.NewCommandNotifier(cfg.Notify.Cmd, cfg.Notify.DenyTargets, nil, logger.With("component", "notify"))
	}

	r := reconcile.New(cfgMgr, boardClient, registry, store, spawner, notifier, auditStore, lock, clock.System{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		logger.Info("running single tick (--once mode)")
		if err := r.Tick(ctx); err != nil {
			logger.Error("tick failed", "error", err)
			os.Exit(1)
		}
		logger.Info("single tick complete, exiting")
		return
	}

	go r.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			if err := cfgMgr.Reload(*configPath); err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			logger.Info("config reloaded")
		case syscall.SIGINT, syscall.SIGTERM:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return
		}
	}
}
