// Package statestore owns the single JSON state document (spec.md §3,
// §4.B): atomic read/write keyed by task id, deep-copied on read, with
// field-additive schema migrations.
package statestore

import "github.com/antigravity-dev/kanbanctl/internal/runregistry"

// CurrentSchemaVersion is bumped whenever a field-additive migration is
// introduced. Documents written by an older version are read as-is;
// unknown/missing fields default to their zero value.
const CurrentSchemaVersion = 1

// ReviewResultRecord is the stored, de-normalized outcome of the most
// recent review for a task (spec.md §3 reviewResultsByTaskId).
type ReviewResultRecord struct {
	Score          int      `json:"score"`
	Verdict        string   `json:"verdict"`
	CriticalItems  []string `json:"critical_items"`
	Notes          string   `json:"notes"`
	ReviewRevision string   `json:"reviewRevision,omitempty"`
	StoredAtMs     int64    `json:"storedAtMs"`
}

// PausedByCritical records that this orchestrator, not a human, added
// the paused/paused:critical tags while fencing non-critical WIP work.
type PausedByCritical struct {
	WhyTagsAdded []string `json:"whyTagsAdded"`
}

// ReworkRecord is one entry in a task's review-rework history, used by
// the thrash guard to count reworks of the same patch revision.
type ReworkRecord struct {
	Revision string `json:"revision"`
	Ms       int64  `json:"ms"`
}

// Document is the single JSON state blob (spec.md §3 "State document").
// It is always read via a deep copy and written atomically as a whole.
type Document struct {
	SchemaVersion int `json:"schemaVersion"`

	DryRun              bool `json:"dryRun"`
	DryRunRunsRemaining int  `json:"dryRunRunsRemaining"`

	LastActionsByTaskID map[int]int64     `json:"lastActionsByTaskId"`
	SwimlanePriority    []string          `json:"swimlanePriority"`
	RepoMap             map[string]string `json:"repoMap"`
	RepoByTaskID        map[int]string    `json:"repoByTaskId"`

	WorkersByTaskID   map[int]runregistry.Entry `json:"workersByTaskId"`
	ReviewersByTaskID map[int]runregistry.Entry `json:"reviewersByTaskId"`
	DocsByTaskID      map[int]runregistry.Entry `json:"docsByTaskId"`

	ReviewResultsByTaskID map[int]ReviewResultRecord `json:"reviewResultsByTaskId"`
	PausedByCriticalID    map[int]PausedByCritical   `json:"pausedByCritical"`
	AutoBlockedByID       map[int]string             `json:"autoBlockedByOrchestrator"`

	// LastWorkerPatchPathByTaskID remembers the most recently completed
	// worker patch per task after its WorkerEntry is cleared, so a review
	// cycle can still compute the current patch revision for recovery
	// (spec.md §4.D recovery eligibility).
	LastWorkerPatchPathByTaskID map[int]string `json:"lastWorkerPatchPathByTaskId"`

	RespawnHistoryByTaskID      map[int][]int64        `json:"respawnHistoryByTaskId"`
	ReviewReworkHistoryByTaskID map[int][]ReworkRecord `json:"reviewReworkHistoryByTaskId"`
}

// NewDocument returns a freshly initialized, empty document at the
// current schema version.
func NewDocument() *Document {
	return &Document{
		SchemaVersion:               CurrentSchemaVersion,
		LastActionsByTaskID:         map[int]int64{},
		RepoMap:                     map[string]string{},
		RepoByTaskID:                map[int]string{},
		WorkersByTaskID:             map[int]runregistry.Entry{},
		ReviewersByTaskID:           map[int]runregistry.Entry{},
		DocsByTaskID:                map[int]runregistry.Entry{},
		ReviewResultsByTaskID:       map[int]ReviewResultRecord{},
		PausedByCriticalID:          map[int]PausedByCritical{},
		AutoBlockedByID:             map[int]string{},
		LastWorkerPatchPathByTaskID: map[int]string{},
		RespawnHistoryByTaskID:      map[int][]int64{},
		ReviewReworkHistoryByTaskID: map[int][]ReworkRecord{},
	}
}

// Clone returns a deep copy so callers can mutate freely without
// racing the store's own copy (spec.md §4.B: "Read returns a
// deep-copied snapshot").
func (d *Document) Clone() *Document {
	if d == nil {
		return NewDocument()
	}
	out := &Document{
		SchemaVersion:       d.SchemaVersion,
		DryRun:              d.DryRun,
		DryRunRunsRemaining: d.DryRunRunsRemaining,
	}
	out.LastActionsByTaskID = cloneInt64Map(d.LastActionsByTaskID)
	out.SwimlanePriority = append([]string(nil), d.SwimlanePriority...)
	out.RepoMap = cloneStringMap(d.RepoMap)
	out.RepoByTaskID = cloneIntStringMap(d.RepoByTaskID)
	out.WorkersByTaskID = cloneEntryMap(d.WorkersByTaskID)
	out.ReviewersByTaskID = cloneEntryMap(d.ReviewersByTaskID)
	out.DocsByTaskID = cloneEntryMap(d.DocsByTaskID)
	out.ReviewResultsByTaskID = cloneReviewResultMap(d.ReviewResultsByTaskID)
	out.PausedByCriticalID = clonePausedMap(d.PausedByCriticalID)
	out.AutoBlockedByID = cloneIntStringMap(d.AutoBlockedByID)
	out.LastWorkerPatchPathByTaskID = cloneIntStringMap(d.LastWorkerPatchPathByTaskID)
	out.RespawnHistoryByTaskID = cloneInt64SliceMap(d.RespawnHistoryByTaskID)
	out.ReviewReworkHistoryByTaskID = cloneReworkMap(d.ReviewReworkHistoryByTaskID)
	if out.LastActionsByTaskID == nil {
		out.LastActionsByTaskID = map[int]int64{}
	}
	if out.RepoMap == nil {
		out.RepoMap = map[string]string{}
	}
	if out.RepoByTaskID == nil {
		out.RepoByTaskID = map[int]string{}
	}
	if out.WorkersByTaskID == nil {
		out.WorkersByTaskID = map[int]runregistry.Entry{}
	}
	if out.ReviewersByTaskID == nil {
		out.ReviewersByTaskID = map[int]runregistry.Entry{}
	}
	if out.DocsByTaskID == nil {
		out.DocsByTaskID = map[int]runregistry.Entry{}
	}
	if out.ReviewResultsByTaskID == nil {
		out.ReviewResultsByTaskID = map[int]ReviewResultRecord{}
	}
	if out.PausedByCriticalID == nil {
		out.PausedByCriticalID = map[int]PausedByCritical{}
	}
	if out.AutoBlockedByID == nil {
		out.AutoBlockedByID = map[int]string{}
	}
	if out.LastWorkerPatchPathByTaskID == nil {
		out.LastWorkerPatchPathByTaskID = map[int]string{}
	}
	if out.RespawnHistoryByTaskID == nil {
		out.RespawnHistoryByTaskID = map[int][]int64{}
	}
	if out.ReviewReworkHistoryByTaskID == nil {
		out.ReviewReworkHistoryByTaskID = map[int][]ReworkRecord{}
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneIntStringMap(m map[int]string) map[int]string {
	if m == nil {
		return nil
	}
	out := make(map[int]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneInt64Map(m map[int]int64) map[int]int64 {
	if m == nil {
		return nil
	}
	out := make(map[int]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneInt64SliceMap(m map[int][]int64) map[int][]int64 {
	if m == nil {
		return nil
	}
	out := make(map[int][]int64, len(m))
	for k, v := range m {
		out[k] = append([]int64(nil), v...)
	}
	return out
}

func cloneEntryMap(m map[int]runregistry.Entry) map[int]runregistry.Entry {
	if m == nil {
		return nil
	}
	out := make(map[int]runregistry.Entry, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneReviewResultMap(m map[int]ReviewResultRecord) map[int]ReviewResultRecord {
	if m == nil {
		return nil
	}
	out := make(map[int]ReviewResultRecord, len(m))
	for k, v := range m {
		cp := v
		cp.CriticalItems = append([]string(nil), v.CriticalItems...)
		out[k] = cp
	}
	return out
}

func clonePausedMap(m map[int]PausedByCritical) map[int]PausedByCritical {
	if m == nil {
		return nil
	}
	out := make(map[int]PausedByCritical, len(m))
	for k, v := range m {
		out[k] = PausedByCritical{WhyTagsAdded: append([]string(nil), v.WhyTagsAdded...)}
	}
	return out
}

func cloneReworkMap(m map[int][]ReworkRecord) map[int][]ReworkRecord {
	if m == nil {
		return nil
	}
	out := make(map[int][]ReworkRecord, len(m))
	for k, v := range m {
		out[k] = append([]ReworkRecord(nil), v...)
	}
	return out
}
