package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/antigravity-dev/kanbanctl/internal/runregistry"
)

// DryRunSpawner stands in for a real Spawner when kanbanctl is run with
// --dry-run: it logs what would have been spawned and returns an error
// so the reconciler's normal "spawn failed" path runs (no entry is
// recorded against the task, nothing else on disk changes) instead of
// silently fabricating a run that was never actually started.
type DryRunSpawner struct {
	logger *slog.Logger
}

// NewDryRunSpawner returns a Spawner that only logs spawn requests.
func NewDryRunSpawner(logger *slog.Logger) *DryRunSpawner {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunSpawner{logger: logger}
}

func (d *DryRunSpawner) Spawn(ctx context.Context, req Request) (runregistry.Entry, error) {
	d.logger.Info("dry-run: would spawn", "kind", req.Kind, "task", req.TaskID, "repo", req.RepoKey)
	return runregistry.Entry{}, fmt.Errorf("dispatch: dry-run mode, not spawning %s for task %d", req.Kind, req.TaskID)
}
