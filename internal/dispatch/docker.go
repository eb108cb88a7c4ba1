package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/antigravity-dev/kanbanctl/internal/orcherrors"
	"github.com/antigravity-dev/kanbanctl/internal/runregistry"
)

// DockerSpawner runs each child inside a fresh container instead of a
// plain host process (spec.md's DispatchBackend "docker"). It mounts
// RunsRoot into the container at the identical host path so the
// runDir a child reports in its handshake resolves to the same
// directory on both sides — the reconciler never needs to translate
// container paths. Adapted from the teacher's DockerDispatcher
// (internal/dispatch/docker.go): same ContainerCreate/Start/Logs shape,
// generalized from the teacher's fixed "chum-agent" prompt/agent/
// thinking/provider contract to this system's kind+task argv contract.
type DockerSpawner struct {
	cli            *client.Client
	image          string
	commands       map[runregistry.Kind]string
	runsRoot       string
	handshakeDelay time.Duration
}

// NewDockerSpawner connects to the Docker daemon via the standard
// environment (DOCKER_HOST etc.) and returns a ready Spawner.
func NewDockerSpawner(image, runsRoot string, commands map[runregistry.Kind]string, handshakeDelay time.Duration) (*DockerSpawner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, orcherrors.Wrapf(orcherrors.ConfigError, "dispatch: connect to docker daemon: %w", err)
	}
	if handshakeDelay <= 0 {
		handshakeDelay = 3 * time.Second
	}
	return &DockerSpawner{cli: cli, image: image, commands: commands, runsRoot: runsRoot, handshakeDelay: handshakeDelay}, nil
}

// Spawn starts req.Kind's child inside a container and reads its
// handshake from the container's combined stdout/stderr log stream.
func (d *DockerSpawner) Spawn(ctx context.Context, req Request) (runregistry.Entry, error) {
	tmpl, ok := d.commands[req.Kind]
	if !ok || tmpl == "" {
		return runregistry.Entry{}, orcherrors.Wrapf(orcherrors.ConfigError, "dispatch: no docker spawn command configured for kind %q", req.Kind)
	}
	argv, err := BuildArgv(tmpl, req)
	if err != nil {
		return runregistry.Entry{}, orcherrors.Wrapf(orcherrors.ConfigError, "dispatch: %w", err)
	}

	name := fmt.Sprintf("kanban-%s-task-%d-%d", req.Kind, req.TaskID, time.Now().UnixNano())

	cfg := &container.Config{
		Image:      d.image,
		Cmd:        []string{"sh", "-c", argv},
		Tty:        false,
		WorkingDir: req.RepoPath,
		Env:        childEnv(),
	}
	hostCfg := containerHostConfig(d.runsRoot, req.RepoPath)

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return runregistry.Entry{}, orcherrors.Wrapf(orcherrors.ChildSpawnFailed, "dispatch: create container for %s task %d: %w", req.Kind, req.TaskID, err)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return runregistry.Entry{}, orcherrors.Wrapf(orcherrors.ChildSpawnFailed, "dispatch: start container for %s task %d: %w", req.Kind, req.TaskID, err)
	}

	hs, err := d.readHandshake(ctx, resp.ID, req.Kind)
	if err != nil {
		return runregistry.Entry{}, err
	}
	return hs.toEntry(req.RepoKey, req.RepoPath), nil
}

func (d *DockerSpawner) readHandshake(ctx context.Context, containerID string, kind runregistry.Kind) (Handshake, error) {
	logCtx, cancel := context.WithTimeout(ctx, d.handshakeDelay)
	defer cancel()

	logs, err := d.cli.ContainerLogs(logCtx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err != nil {
		return Handshake{}, orcherrors.Wrapf(orcherrors.ChildSpawnFailed, "dispatch: stream logs for %s: %w", kind, err)
	}
	defer logs.Close()

	pr, pw := newPipe()
	go func() {
		_, _ = stdcopy.StdCopy(pw, pw, logs)
		pw.Close()
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	if !scanner.Scan() {
		return Handshake{}, orcherrors.Wrapf(orcherrors.ChildHandshakeInvalid, "dispatch: %s container produced no log output before handshake timeout", kind)
	}
	var hs Handshake
	if err := json.Unmarshal(scanner.Bytes(), &hs); err != nil {
		return Handshake{}, orcherrors.Wrapf(orcherrors.ChildHandshakeInvalid, "dispatch: %s container handshake not valid JSON: %w", kind, err)
	}
	if err := hs.validate(); err != nil {
		return Handshake{}, err
	}
	return hs, nil
}

var _ Spawner = (*DockerSpawner)(nil)
