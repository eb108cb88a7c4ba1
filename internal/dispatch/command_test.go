package dispatch

import (
	"strings"
	"testing"

	"github.com/antigravity-dev/kanbanctl/internal/runregistry"
)

func TestBuildArgvSubstitutesKnownPlaceholders(t *testing.T) {
	req := Request{Kind: runregistry.Worker, TaskID: 20, RepoKey: "server", RepoPath: "/p/s"}
	out, err := BuildArgv("worker-agent --task {task_id} --repo {repo_key} --path {repo_path}", req)
	if err != nil {
		t.Fatalf("BuildArgv error: %v", err)
	}
	if !strings.Contains(out, "20") || !strings.Contains(out, "server") || !strings.Contains(out, "/p/s") {
		t.Fatalf("expected substituted argv, got %q", out)
	}
}

func TestBuildArgvRejectsUnsupportedPlaceholder(t *testing.T) {
	_, err := BuildArgv("worker-agent {bogus}", Request{})
	if err == nil {
		t.Fatalf("expected error for unsupported placeholder")
	}
}

func TestBuildArgvRejectsEmptyTemplate(t *testing.T) {
	_, err := BuildArgv("   ", Request{})
	if err == nil {
		t.Fatalf("expected error for empty template")
	}
}

func TestBuildArgvEscapesShellMetacharacters(t *testing.T) {
	req := Request{RepoPath: "/p/with space;rm -rf /"}
	out, err := BuildArgv("worker {repo_path}", req)
	if err != nil {
		t.Fatalf("BuildArgv error: %v", err)
	}
	if strings.Contains(out, "with space;rm") {
		t.Fatalf("expected unsafe repo path to be quoted, got %q", out)
	}
}
