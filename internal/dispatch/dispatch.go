// Package dispatch invokes configured spawn commands for worker,
// reviewer, and docs children and validates the one-line JSON
// handshake they print on their first stdout line (spec.md §4.E, §6
// "Spawn command contract").
package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/antigravity-dev/kanbanctl/internal/orcherrors"
	"github.com/antigravity-dev/kanbanctl/internal/runregistry"
)

// Handshake is the single JSON object a child must print on its first
// stdout line before running to completion (spec.md §4.E).
type Handshake struct {
	ExecSessionID string `json:"execSessionId"`
	RunID         string `json:"runId"`
	RunDir        string `json:"runDir"`
	LogPath       string `json:"logPath"`
	PatchPath     string `json:"patchPath,omitempty"`
	CommentPath   string `json:"commentPath,omitempty"`
	DonePath      string `json:"donePath,omitempty"`
	ResultPath    string `json:"resultPath,omitempty"`
	StartedAtMs   int64  `json:"startedAtMs"`
}

func (h Handshake) validate() error {
	if h.ExecSessionID == "" || h.RunID == "" || h.RunDir == "" || h.LogPath == "" {
		return orcherrors.Wrapf(orcherrors.ChildHandshakeInvalid,
			"dispatch: handshake missing required field: %+v", h)
	}
	if h.StartedAtMs <= 0 {
		return orcherrors.Wrapf(orcherrors.ChildHandshakeInvalid, "dispatch: handshake startedAtMs must be positive")
	}
	return nil
}

// toEntry converts a validated handshake into the Entry the reconciler
// records against the task (spec.md §3 WorkerEntry/ReviewerEntry/DocsEntry).
func (h Handshake) toEntry(repoKey, repoPath string) runregistry.Entry {
	donePath := h.DonePath
	if donePath == "" {
		donePath = h.ResultPath
	}
	return runregistry.Entry{
		RunID:         h.RunID,
		RunDir:        h.RunDir,
		LogPath:       h.LogPath,
		DonePath:      donePath,
		PatchPath:     h.PatchPath,
		CommentPath:   h.CommentPath,
		StartedAtMs:   h.StartedAtMs,
		ExecSessionID: h.ExecSessionID,
		RepoKey:       repoKey,
		RepoPath:      repoPath,
	}
}

// Request describes one spawn call.
type Request struct {
	Kind     runregistry.Kind
	TaskID   int
	RepoKey  string
	RepoPath string
	// PatchPath is supplied for reviewer/docs spawns that need the
	// worker's patch to review or document.
	PatchPath string
}

// Spawner is the strategy for turning a Request into a running child
// process and its validated handshake. Two implementations exist:
// CommandSpawner (plain exec.Command) and the Docker-backed spawner in
// docker.go; both satisfy this interface so the reconciler is agnostic
// to which backend is configured (spec.md's DispatchBackend).
type Spawner interface {
	Spawn(ctx context.Context, req Request) (runregistry.Entry, error)
}

// CommandSpawner runs a configured shell command per kind and reads the
// handshake from its stdout. Adapted from the teacher's PID-based
// Dispatcher (internal/dispatch/dispatch.go): same "start, stream
// stdout, don't block the caller past the handshake" shape, but the
// contract here is a JSON line instead of an output-file convention,
// and the orchestrator never needs IsAlive/Kill — children are not
// cancelled by the orchestrator (spec.md §5).
type CommandSpawner struct {
	Commands       map[runregistry.Kind]string
	HandshakeDelay time.Duration
}

// NewCommandSpawner returns a CommandSpawner configured with one shell
// command template per kind and the spawn handshake timeout.
func NewCommandSpawner(commands map[runregistry.Kind]string, handshakeDelay time.Duration) *CommandSpawner {
	if handshakeDelay <= 0 {
		handshakeDelay = 3 * time.Second
	}
	return &CommandSpawner{Commands: commands, HandshakeDelay: handshakeDelay}
}

// Spawn builds the configured command for req.Kind and starts it
// detached from ctx (so a --once reconciler run doesn't kill
// long-running children on exit), blocking only until the handshake
// line arrives or HandshakeDelay elapses.
func (s *CommandSpawner) Spawn(ctx context.Context, req Request) (runregistry.Entry, error) {
	tmpl, ok := s.Commands[req.Kind]
	if !ok || tmpl == "" {
		return runregistry.Entry{}, orcherrors.Wrapf(orcherrors.ConfigError, "dispatch: no spawn command configured for kind %q", req.Kind)
	}

	argv, err := BuildArgv(tmpl, req)
	if err != nil {
		return runregistry.Entry{}, orcherrors.Wrapf(orcherrors.ConfigError, "dispatch: %w", err)
	}

	cmd := exec.Command("sh", "-c", argv)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return runregistry.Entry{}, orcherrors.Wrapf(orcherrors.ChildSpawnFailed, "dispatch: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return runregistry.Entry{}, orcherrors.Wrapf(orcherrors.ChildSpawnFailed, "dispatch: start %q: %w", req.Kind, err)
	}

	handshakeCh := make(chan Handshake, 1)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		if !scanner.Scan() {
			errCh <- orcherrors.Wrapf(orcherrors.ChildHandshakeInvalid, "dispatch: %s produced no stdout", req.Kind)
			return
		}
		var hs Handshake
		if err := json.Unmarshal(scanner.Bytes(), &hs); err != nil {
			errCh <- orcherrors.Wrapf(orcherrors.ChildHandshakeInvalid, "dispatch: %s handshake not valid JSON: %w", req.Kind, err)
			return
		}
		if err := hs.validate(); err != nil {
			errCh <- err
			return
		}
		handshakeCh <- hs
	}()

	select {
	case hs := <-handshakeCh:
		return hs.toEntry(req.RepoKey, req.RepoPath), nil
	case err := <-errCh:
		return runregistry.Entry{}, err
	case <-time.After(s.HandshakeDelay):
		return runregistry.Entry{}, orcherrors.Wrapf(orcherrors.ChildSpawnFailed,
			"dispatch: %s handshake did not arrive within %s", req.Kind, s.HandshakeDelay)
	case <-ctx.Done():
		return runregistry.Entry{}, orcherrors.Wrapf(orcherrors.ChildSpawnFailed, "dispatch: %s spawn cancelled: %w", req.Kind, ctx.Err())
	}
}

var _ Spawner = (*CommandSpawner)(nil)
