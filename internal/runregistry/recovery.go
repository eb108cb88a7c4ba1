package runregistry

import (
	"os"
	"path/filepath"
	"sort"
)

// RecoveryCandidate is one eligible review.json found while scanning a
// task's review run root.
type RecoveryCandidate struct {
	RunDir  string
	Path    string
	ModTime int64
	Result  *ReviewResult
}

// FindRecoveryEligibleReview scans a task's review run directories for a
// result eligible to recover a missing/stale ReviewerEntry (spec.md
// §4.D): its reviewRevision must match currentRevision, and it must be
// newer than storedModMs (pass 0 if no entry is stored). The newest
// eligible result wins; ineligible or unparseable files are skipped
// rather than failing the scan.
func (r *Registry) FindRecoveryEligibleReview(taskID int, currentRevision string, reviewThreshold int, storedModMs int64) (*RecoveryCandidate, error) {
	taskRoot := r.TaskRoot(Reviewer, taskID)
	entries, err := os.ReadDir(taskRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var best *RecoveryCandidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		runDir := filepath.Join(taskRoot, e.Name())
		reviewPath := filepath.Join(runDir, "review.json")
		info, err := os.Stat(reviewPath)
		if err != nil {
			continue
		}
		modMs := info.ModTime().UnixMilli()
		if modMs <= storedModMs {
			continue
		}
		result, err := ParseReview(reviewPath, reviewThreshold)
		if err != nil {
			continue
		}
		if currentRevision != "" && result.ReviewRevision != currentRevision {
			continue
		}
		if best == nil || modMs > best.ModTime {
			best = &RecoveryCandidate{RunDir: runDir, Path: reviewPath, ModTime: modMs, Result: result}
		}
	}
	return best, nil
}

// ListRunDirs returns every run directory for (kind, taskID), oldest
// first. Used by janitor-style sweeps and tests; production decisions
// only ever consult the recorded entry (stale-path rule).
func (r *Registry) ListRunDirs(kind Kind, taskID int) ([]string, error) {
	taskRoot := r.TaskRoot(kind, taskID)
	entries, err := os.ReadDir(taskRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(taskRoot, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}
