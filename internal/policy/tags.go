package policy

// Tag literals the orchestrator itself reads and writes (spec.md §3).
// Human-set tags (critical, hold, no-auto, epic, exclusive:*, repo:*,
// review:skip, no-repo) are read by classify, never written here.
const (
	tagPaused         = "paused"
	tagPausedCritical = "paused:critical"
	tagPausedMissing  = "paused:missing-worker"
	tagPausedStale    = "paused:stale-worker"
	tagPausedThrash   = "paused:thrash"
	tagHoldQueuedCrit = "hold:queued-critical"

	tagReviewAuto     = "review:auto"
	tagReviewPending  = "review:pending"
	tagReviewInflight = "review:inflight"
	tagReviewPass     = "review:pass"
	tagReviewRework   = "review:rework"
	tagReviewError    = "review:error"
	tagReviewBlockedW = "review:blocked:wip"
	tagReviewRerun    = "review:rerun"
	tagReviewRetry    = "review:retry"
	tagNeedsRework    = "needs-rework"

	tagDocsAuto      = "docs:auto"
	tagDocsPending   = "docs:pending"
	tagDocsInflight  = "docs:inflight"
	tagDocsCompleted = "docs:completed"
	tagDocsSkip      = "docs:skip"
	tagDocsError     = "docs:error"
	tagDocsRetry     = "docs:retry"

	tagBlockedDeps      = "blocked:deps"
	tagBlockedExclusive = "blocked:exclusive"
	tagBlockedRepo      = "blocked:repo"
	tagBlockedRepoBusy  = "blocked:repo-busy"
	tagBlockedThrash    = "blocked:thrash"
	tagBlockedArtifact  = "blocked:artifact"
	tagAutoBlocked      = "auto-blocked"
)

var allBlockedReasonTags = []string{tagBlockedDeps, tagBlockedExclusive, tagBlockedRepo, tagBlockedRepoBusy, tagBlockedThrash, tagBlockedArtifact}

var reviewTerminalClearTags = []string{tagReviewPending, tagReviewInflight, tagReviewRework, tagNeedsRework, tagReviewBlockedW, tagReviewError}
