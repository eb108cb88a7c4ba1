package reconcile

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/antigravity-dev/kanbanctl/internal/config"
)

// heartbeatFile is the JSON payload written to General.HeartbeatPath
// after every successful tick (spec.md §4.J: the Guardian watches this
// file's age to detect a wedged or crashed reconciler).
type heartbeatFile struct {
	LastTickMs int64 `json:"lastTickMs"`
	PID        int   `json:"pid"`
	TickCount  int   `json:"tickCount"`
}

// writeHeartbeat writes the heartbeat atomically (temp file + rename),
// mirroring statestore.Store.Save's write discipline. A failure here is
// logged, not returned: a missed heartbeat write is the Guardian's
// signal to act, not a reason to fail the tick that already persisted
// state successfully.
func (r *Reconciler) writeHeartbeat(cfg *config.Config, nowMs int64) {
	path := cfg.General.HeartbeatPath
	if path == "" {
		return
	}

	raw, err := json.Marshal(heartbeatFile{LastTickMs: nowMs, PID: os.Getpid(), TickCount: r.ticks})
	if err != nil {
		r.logger.Warn("reconcile: marshal heartbeat failed", "error", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		r.logger.Warn("reconcile: heartbeat mkdir failed", "path", path, "error", err)
		return
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		r.logger.Warn("reconcile: write heartbeat failed", "path", path, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		r.logger.Warn("reconcile: rename heartbeat failed", "path", path, "error", err)
	}
}
