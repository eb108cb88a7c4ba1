package runregistry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/antigravity-dev/kanbanctl/internal/orcherrors"
)

// Registry materializes run directories under a single runs root
// (spec.md §6: "<runs_root>/<kind>/task-<id>/<runId>/").
type Registry struct {
	root string
}

// NewRegistry returns a Registry rooted at root (created lazily on use).
func NewRegistry(root string) *Registry {
	return &Registry{root: root}
}

// Root returns the runs root directory.
func (r *Registry) Root() string { return r.root }

// KindRoot returns the root directory for a given run kind.
func (r *Registry) KindRoot(kind Kind) string {
	return filepath.Join(r.root, string(kind))
}

// TaskRoot returns the directory holding every run of kind for taskID.
func (r *Registry) TaskRoot(kind Kind, taskID int) string {
	return filepath.Join(r.KindRoot(kind), fmt.Sprintf("task-%d", taskID))
}

// NewRunID mints a globally unique run id: a UTC timestamp prefix (for
// operator readability when listing run directories) plus a random hex
// suffix (for uniqueness, since two runs can be created within the same
// millisecond).
func NewRunID() (string, error) {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", orcherrors.Wrapf(orcherrors.Unknown, "runregistry: generate run id: %w", err)
	}
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405Z"), hex.EncodeToString(buf[:])), nil
}

// CreateRunDir mints a fresh run id and creates its run directory. It
// does not spawn the child; the caller (dispatch) writes into the
// returned directory.
func (r *Registry) CreateRunDir(kind Kind, taskID int) (runID string, runDir string, err error) {
	if !kind.valid() {
		return "", "", orcherrors.Wrapf(orcherrors.ConfigError, "runregistry: invalid kind %q", kind)
	}
	runID, err = NewRunID()
	if err != nil {
		return "", "", err
	}
	runDir = filepath.Join(r.TaskRoot(kind, taskID), runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", "", orcherrors.Wrapf(orcherrors.ChildSpawnFailed, "runregistry: create run dir %s: %w", runDir, err)
	}
	return runID, runDir, nil
}

// ArchiveEntry renames a run directory that is being replaced (e.g. a
// respawn) to a sibling "<runId>.archived" name so stale artifacts stop
// colliding with future listings but remain on disk for diagnostics.
func (r *Registry) ArchiveEntry(runDir string) error {
	if runDir == "" {
		return nil
	}
	if _, err := os.Stat(runDir); os.IsNotExist(err) {
		return nil
	}
	archived := runDir + ".archived"
	if err := os.Rename(runDir, archived); err != nil {
		return orcherrors.Wrapf(orcherrors.Unknown, "runregistry: archive %s: %w", runDir, err)
	}
	return nil
}
