package dispatch

import (
	"io"
	"os"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
)

// newPipe is a thin indirection over io.Pipe so readHandshake can feed
// stdcopy.StdCopy's two-writer API into a single bufio.Scanner.
func newPipe() (*io.PipeReader, *io.PipeWriter) {
	return io.Pipe()
}

// childEnv forwards the provider API keys a code-generation child needs
// from the orchestrator's own environment into the container.
func childEnv() []string {
	var env []string
	for _, key := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"} {
		if v := os.Getenv(key); v != "" {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// containerHostConfig binds the runs root and the task's repo into the
// container at identical host paths, so a handshake's runDir/repoPath
// resolve the same way for the container and for the reconciler.
func containerHostConfig(runsRoot, repoPath string) *container.HostConfig {
	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: runsRoot, Target: runsRoot},
	}
	if repoPath != "" {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: repoPath, Target: repoPath})
	}
	return &container.HostConfig{Mounts: mounts, AutoRemove: false}
}
