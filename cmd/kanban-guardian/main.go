// Command kanban-guardian watches a kanbanctl heartbeat file and brings
// the reconciler back up when it goes stale (spec.md §4.J). It is a
// separate, lightweight binary from kanbanctl itself: a watchdog that
// shares a process with the thing it watches cannot notice that thing
// has hung.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/antigravity-dev/kanbanctl/internal/auditstore"
	"github.com/antigravity-dev/kanbanctl/internal/clock"
	"github.com/antigravity-dev/kanbanctl/internal/config"
	"github.com/antigravity-dev/kanbanctl/internal/guardian"
)

func main() {
	configPath := flag.String("config", "kanbanctl.toml", "path to the kanbanctl config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var logger *slog.Logger
	if *dev {
		logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var audit *auditstore.Store
	if cfg.General.StateRoot != "" {
		audit, err = auditstore.Open(filepath.Join(cfg.General.StateRoot, "audit.db"))
		if err != nil {
			logger.Warn("failed to open audit store, restart-rate limiting disabled", "error", err)
			audit = nil
		} else {
			defer audit.Close()
		}
	}

	g := guardian.New(cfg.Guardian, audit, nil, clock.System{}, logger.With("component", "guardian"))

	logger.Info("kanban-guardian starting",
		"heartbeat_path", cfg.Guardian.HeartbeatPath,
		"poll_interval", cfg.Guardian.PollInterval.Duration.String(),
		"stale_multiplier", cfg.Guardian.StaleMultiplier,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("kanban-guardian shutting down")
		cancel()
	}()

	if err := g.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("guardian stopped unexpectedly", "error", err)
		os.Exit(1)
	}
}
