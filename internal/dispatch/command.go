package dispatch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var spawnPlaceholders = map[string]struct{}{
	"{task_id}":    {},
	"{repo_key}":   {},
	"{repo_path}":  {},
	"{patch_path}": {},
}

var spawnPlaceholderMatcher = regexp.MustCompile(`\{[^}]+\}`)

// BuildArgv substitutes req's fields into tmpl's placeholders (spec.md
// §6 "Spawn command contract": "{task_id}", "{repo_key}", "{repo_path}",
// "{patch_path}") and returns a single shell-safe command string,
// mirroring the teacher's BuildCommand validate-then-substitute shape
// but for this system's own placeholder set.
func BuildArgv(tmpl string, req Request) (string, error) {
	tmpl = strings.TrimSpace(tmpl)
	if tmpl == "" {
		return "", fmt.Errorf("command builder: spawn command template is empty")
	}
	if err := validateSpawnPlaceholders(tmpl); err != nil {
		return "", err
	}

	replacements := map[string]string{
		"{task_id}":    strconv.Itoa(req.TaskID),
		"{repo_key}":   req.RepoKey,
		"{repo_path}":  req.RepoPath,
		"{patch_path}": req.PatchPath,
	}

	out := tmpl
	for placeholder, value := range replacements {
		if !strings.Contains(out, placeholder) {
			continue
		}
		out = strings.ReplaceAll(out, placeholder, ShellEscape(value))
	}
	return out, nil
}

func validateSpawnPlaceholders(tmpl string) error {
	for _, match := range spawnPlaceholderMatcher.FindAllString(tmpl, -1) {
		if _, ok := spawnPlaceholders[match]; !ok {
			return fmt.Errorf("command builder: unsupported placeholder %q in spawn command", match)
		}
	}
	return nil
}
