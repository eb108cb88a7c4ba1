// Package classify derives per-task attributes from board.Task values
// that the board itself does not store (spec.md §3 "Derived task
// attributes", §4.F). Classify is a pure function: same Task and config
// in, same Derived out, every time.
package classify

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/antigravity-dev/kanbanctl/internal/board"
)

// Derived holds everything the policy engine needs about a task beyond
// its raw board fields.
type Derived struct {
	TaskID int

	RepoKey  string
	RepoPath string
	NoRepo   bool

	Dependencies    []int
	ExclusivityKeys []string

	IsCritical bool
	IsHeld     bool
	IsEpic     bool
}

const (
	tagHold       = "hold"
	tagNoAuto     = "no-auto"
	tagReviewSkip = "review:skip"
	tagCritical   = "critical"
	tagEpic       = "epic"
	tagNoRepo     = "no-repo"
)

var titlePrefixRe = regexp.MustCompile(`^([A-Za-z0-9_-]+):\s*`)

// Options configures classification with config-derived knobs that are
// not properties of the task itself.
type Options struct {
	RepoMap            map[string]string
	AllowTitleRepoHint bool
}

// Classify computes Derived for t. repoMap resolves repo keys to
// absolute paths; allowTitleRepoHint enables the legacy
// "<key>: rest of title" repo-mapping fallback (spec.md §4.F / Open
// Question: title hints are opt-in because several teams' titles
// contain colons for unrelated reasons).
func Classify(t board.Task, opts Options) Derived {
	d := Derived{TaskID: t.ID}

	d.IsCritical = t.HasTag(tagCritical)
	d.IsEpic = t.HasTag(tagEpic)
	d.IsHeld = t.HasTag(tagHold) || t.HasTag(tagNoAuto) || t.HasTag(tagReviewSkip)

	if t.HasTag(tagNoRepo) {
		d.NoRepo = true
	} else {
		d.RepoKey, d.RepoPath = resolveRepo(t, opts)
	}

	d.Dependencies = parseDependencies(t.Description)
	d.ExclusivityKeys = parseExclusivity(t)

	return d
}

// resolveRepo applies the first-match precedence spec.md §4.F defines:
// tag repo:<k>, then description "Repo: <k-or-path>", then (if enabled)
// a legacy title prefix "<key>: ...". A resolved value that is already
// an absolute path is used as-is; otherwise it is looked up in repoMap.
func resolveRepo(t board.Task, opts Options) (key, path string) {
	for _, tag := range t.Tags {
		if rest, ok := strings.CutPrefix(tag, "repo:"); ok && rest != "" {
			return resolveKeyOrPath(rest, opts.RepoMap)
		}
	}

	if line := firstLineWithPrefix(t.Description, "Repo:"); line != "" {
		return resolveKeyOrPath(strings.TrimSpace(line), opts.RepoMap)
	}

	if opts.AllowTitleRepoHint {
		if m := titlePrefixRe.FindStringSubmatch(t.Title); m != nil {
			if path, ok := opts.RepoMap[m[1]]; ok {
				return m[1], path
			}
		}
	}

	return "", ""
}

func resolveKeyOrPath(value string, repoMap map[string]string) (key, path string) {
	if filepath.IsAbs(value) {
		return value, value
	}
	if p, ok := repoMap[value]; ok {
		return value, p
	}
	return value, ""
}

var depHeaderRe = regexp.MustCompile(`(?i)^(Depends on|Dependencies|Dependency):\s*(.*)$`)

// parseDependencies extracts #id tokens from the first line in
// description matching a dependency header (spec.md §4.F).
func parseDependencies(description string) []int {
	for _, line := range strings.Split(description, "\n") {
		m := depHeaderRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		return parseIDTokens(m[2])
	}
	return nil
}

func parseIDTokens(rest string) []int {
	fields := strings.FieldsFunc(rest, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	var ids []int
	for _, f := range fields {
		f = strings.TrimSpace(f)
		f = strings.TrimPrefix(f, "#")
		if f == "" {
			continue
		}
		id, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

var exclusiveHeaderRe = regexp.MustCompile(`(?i)^Exclusive:\s*(.*)$`)

// parseExclusivity unions exclusive:<k> tags with an "Exclusive:" line's
// comma-separated keys (spec.md §4.F).
func parseExclusivity(t board.Task) []string {
	seen := map[string]struct{}{}
	var keys []string
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k == "" {
			return
		}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	for _, tag := range t.Tags {
		if rest, ok := strings.CutPrefix(tag, "exclusive:"); ok {
			add(rest)
		}
	}

	for _, line := range strings.Split(t.Description, "\n") {
		m := exclusiveHeaderRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		for _, k := range strings.Split(m[1], ",") {
			add(k)
		}
	}

	return keys
}

func firstLineWithPrefix(description, prefix string) string {
	for _, line := range strings.Split(description, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			return rest
		}
	}
	return ""
}
