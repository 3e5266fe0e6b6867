package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeDocker reports an exit only to waits registered before the container
// was started, like the daemon's next-exit condition.
type fakeDocker struct {
	mu       sync.Mutex
	calls    []string
	config   *container.Config
	host     *container.HostConfig
	exitCode int64
	stdout   string
	stderr   string
	startErr error
	hang     bool
	waiters  []chan container.WaitResponse
}

func (f *fakeDocker) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeDocker) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDocker) ContainerCreate(_ context.Context, config *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.record("create")
	f.config = config
	f.host = host
	return container.CreateResponse{ID: "c-1"}, nil
}

func (f *fakeDocker) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	f.record("wait")
	status := make(chan container.WaitResponse, 1)
	f.mu.Lock()
	f.waiters = append(f.waiters, status)
	f.mu.Unlock()
	return status, make(chan error, 1)
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	f.record("start")
	if f.startErr != nil {
		return f.startErr
	}
	if f.hang {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, waiter := range f.waiters {
		waiter <- container.WaitResponse{StatusCode: f.exitCode}
	}
	f.waiters = nil
	return nil
}

func (f *fakeDocker) ContainerKill(context.Context, string, string) error {
	f.record("kill")
	return nil
}

func (f *fakeDocker) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	f.record("logs")
	var buf bytes.Buffer
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	if f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) ContainerStatsOneShot(context.Context, string) (container.StatsResponseReader, error) {
	return container.StatsResponseReader{}, errors.New("stats unavailable")
}

func (f *fakeDocker) ContainerRemove(context.Context, string, container.RemoveOptions) error {
	f.record("remove")
	return nil
}

func (f *fakeDocker) Close() error { return nil }

func newFakeDockerRunner(fake *fakeDocker, cfg DockerConfig) *DockerRunner {
	cfg.Logger = zerolog.Nop()
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return newDockerRunner(fake, cfg)
}

func TestDockerRunnerObservesFastExit(t *testing.T) {
	fake := &fakeDocker{exitCode: 1, stdout: "tests 1 3 0 1\n", stderr: "warning\n"}
	docker := newFakeDockerRunner(fake, DockerConfig{NetworkDisabled: true, MemoryLimitMB: 256})

	result, err := docker.Run(context.Background(), Invocation{
		Command: []string{"make", "-f", "Makefile", "test"},
		Dir:     "/tmp/project",
		Image:   "gcc:13",
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.ExitCode)
	require.False(t, result.TimedOut)
	require.Equal(t, "tests 1 3 0 1\n", result.Stdout)
	require.Equal(t, "warning\n", result.Stderr)

	require.Equal(t, []string{"create", "wait", "start", "logs", "remove"}, fake.recorded())
	require.Equal(t, "gcc:13", fake.config.Image)
	require.Equal(t, "/workspace", fake.config.WorkingDir)
	require.Equal(t, container.NetworkMode("none"), fake.host.NetworkMode)
	require.Equal(t, int64(256*1024*1024), fake.host.Memory)
	require.Len(t, fake.host.Mounts, 1)
	require.Equal(t, "/tmp/project", fake.host.Mounts[0].Source)
}

func TestDockerRunnerStartFailureIsLaunchError(t *testing.T) {
	fake := &fakeDocker{startErr: errors.New("exec: \"/usr/bin/time\": no such file or directory")}
	docker := newFakeDockerRunner(fake, DockerConfig{})

	_, err := docker.Run(context.Background(), Invocation{Command: []string{"true"}, Image: "python:3.12-slim"})
	require.ErrorIs(t, err, ErrLaunch)
	require.Contains(t, err.Error(), "no such file")
	require.Contains(t, fake.recorded(), "remove")
}

func TestDockerRunnerTimeoutKillsContainer(t *testing.T) {
	fake := &fakeDocker{hang: true}
	docker := newFakeDockerRunner(fake, DockerConfig{Timeout: 50 * time.Millisecond})

	result, err := docker.Run(context.Background(), Invocation{Command: []string{"sleep", "60"}, Image: "node:20-slim"})
	require.ErrorIs(t, err, ErrTimeout)
	require.True(t, result.TimedOut)
	require.Contains(t, fake.recorded(), "kill")
	require.Contains(t, fake.recorded(), "remove")
}

func TestDockerRunnerCapsLogs(t *testing.T) {
	fake := &fakeDocker{stdout: strings.Repeat("a", 100) + "tail"}
	docker := newFakeDockerRunner(fake, DockerConfig{MaxOutputBytes: 8})

	result, err := docker.Run(context.Background(), Invocation{Command: []string{"yes"}, Image: "gcc:13"})
	require.NoError(t, err)
	require.Equal(t, "[output truncated: 96 bytes omitted]\naaaatail", result.Stdout)
}

func TestDockerRunnerRequiresImage(t *testing.T) {
	docker := newFakeDockerRunner(&fakeDocker{}, DockerConfig{})

	_, err := docker.Run(context.Background(), Invocation{Command: []string{"true"}})
	require.Error(t, err)

	_, err = docker.Run(context.Background(), Invocation{Image: "gcc:13"})
	require.ErrorIs(t, err, ErrEmptyCommand)
}
