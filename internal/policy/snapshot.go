package policy

import (
	"github.com/antigravity-dev/kanbanctl/internal/board"
	"github.com/antigravity-dev/kanbanctl/internal/classify"
	"github.com/antigravity-dev/kanbanctl/internal/runregistry"
)

// TaskView pairs a raw board task with its derived attributes, the unit
// the policy engine reasons about.
type TaskView struct {
	Task    board.Task
	Derived classify.Derived
}

// Config is the subset of orchestrator configuration the policy engine
// consults. It carries no file paths or network endpoints: those are
// the reconciler's concern.
type Config struct {
	WipLimit              int
	DocsConcurrencyLimit  int
	ReviewThreshold       int
	ReviewAutoDone        bool
	HasDocumentColumn     bool
	MissingWorkerPolicy   string
	ThrashWindowMs        int64
	MaxRespawns           int
	MaxReworksPerRevision int
	StaleWorkerLogAfterMs int64
	// MaxPerRepo caps concurrently-dispatched WIP tasks sharing a
	// repoKey, independent of any explicit exclusivity tag (0 disables
	// the check).
	MaxPerRepo int
}

// Snapshot is everything Decide needs beyond the state document and the
// run registry: the current board view, derived attributes, and the
// knobs from config that shape decisions.
type Snapshot struct {
	NowMs  int64
	Tasks  []TaskView
	Config Config
}

// RunInspector is the policy engine's only window onto the filesystem,
// injected so Decide stays a pure function of its three inputs (spec.md
// §8 testable property 4). The reconciler's concrete implementation
// wraps runregistry.Registry plus os.Stat for mtimes.
type RunInspector interface {
	// ParseDone reads and validity-checks the done.json at path. Returns
	// ok=false only for read or JSON-decode failures that mean "treat as
	// not yet done", never for validity failures (those come back as
	// ok=true with Valid=false).
	ParseDone(path string, kind runregistry.Kind) (*runregistry.DoneResult, bool)
	// ParseReview reads and normalizes the review.json at path.
	ParseReview(path string, reviewThreshold int) (*runregistry.ReviewResult, bool)
	// PatchRevision hashes the patch at path; "" if absent.
	PatchRevision(path string) string
	// LogStale reports whether logPath's mtime is older than staleAfterMs.
	LogStale(logPath string, staleAfterMs int64, nowMs int64) bool
	// FindRecoveryEligibleReview scans for a reviewer result that can
	// recover a missing/stale ReviewerEntry (spec.md §4.D).
	FindRecoveryEligibleReview(taskID int, currentRevision string, reviewThreshold int, storedModMs int64) *runregistry.RecoveryCandidate
	// ReadArtifactText returns the trimmed text content of a completion
	// artifact (commentPath, kanboard-comment.md) to post verbatim.
	ReadArtifactText(path string) (string, bool)
}

func (s Snapshot) taskByID(id int) (TaskView, bool) {
	for _, tv := range s.Tasks {
		if tv.Task.ID == id {
			return tv, true
		}
	}
	return TaskView{}, false
}
