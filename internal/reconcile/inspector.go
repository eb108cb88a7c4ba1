package reconcile

import (
	"os"
	"strings"

	"github.com/antigravity-dev/kanbanctl/internal/runregistry"
)

// fsInspector is the concrete policy.RunInspector wired to a real runs
// root: a thin adapter over runregistry's package-level artifact parsers
// and os.Stat for mtimes. Its only job is bridging runregistry's
// (*T, error) return convention to the (*T, bool) shape the policy
// engine wants — an I/O or validity-parse failure here always means
// "treat as not-yet-ready", never a propagated error, since a
// half-written artifact is the expected steady state between ticks.
type fsInspector struct {
	registry *runregistry.Registry
}

func newFSInspector(registry *runregistry.Registry) *fsInspector {
	return &fsInspector{registry: registry}
}

func (f *fsInspector) ParseDone(path string, kind runregistry.Kind) (*runregistry.DoneResult, bool) {
	if path == "" {
		return nil, false
	}
	result, err := runregistry.ParseDone(path, kind)
	if err != nil {
		return nil, false
	}
	return result, true
}

func (f *fsInspector) ParseReview(path string, reviewThreshold int) (*runregistry.ReviewResult, bool) {
	if path == "" {
		return nil, false
	}
	result, err := runregistry.ParseReview(path, reviewThreshold)
	if err != nil {
		return nil, false
	}
	return result, true
}

func (f *fsInspector) PatchRevision(path string) string {
	if path == "" {
		return ""
	}
	rev, err := runregistry.PatchRevision(path)
	if err != nil {
		return ""
	}
	return rev
}

func (f *fsInspector) LogStale(logPath string, staleAfterMs int64, nowMs int64) bool {
	if logPath == "" {
		return false
	}
	info, err := os.Stat(logPath)
	if err != nil {
		return false
	}
	age := nowMs - info.ModTime().UnixMilli()
	return age > staleAfterMs
}

func (f *fsInspector) FindRecoveryEligibleReview(taskID int, currentRevision string, reviewThreshold int, storedModMs int64) *runregistry.RecoveryCandidate {
	cand, err := f.registry.FindRecoveryEligibleReview(taskID, currentRevision, reviewThreshold, storedModMs)
	if err != nil {
		return nil
	}
	return cand
}

func (f *fsInspector) ReadArtifactText(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	text := strings.TrimSpace(string(raw))
	return text, text != ""
}
