package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	containerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "runner",
		Name:      "container_duration_seconds",
		Help:      "Duration of container executions",
		Buckets:   prometheus.DefBuckets,
	}, []string{"image"})

	containerTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "runner",
		Name:      "container_timeouts_total",
		Help:      "Number of container executions that hit the timeout",
	}, []string{"image"})

	containerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "runner",
		Name:      "container_failures_total",
		Help:      "Number of container executions that could not be completed",
	}, []string{"image"})
)

// DockerConfig groups container runner configuration values.
type DockerConfig struct {
	Host            string
	DefaultImage    string
	Timeout         time.Duration
	MemoryLimitMB   int64
	CPUShares       int64
	MountPoint      string
	NetworkDisabled bool
	MaxOutputBytes  int
	Logger          zerolog.Logger
}

// containerAPI is the subset of the Docker client the runner uses.
type containerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerStatsOneShot(ctx context.Context, containerID string) (container.StatsResponseReader, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// DockerRunner executes commands inside throwaway containers with the
// project directory bind-mounted as the working directory.
type DockerRunner struct {
	client containerAPI
	cfg    DockerConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewDockerRunner constructs a Docker backed runner.
func NewDockerRunner(cfg DockerConfig) (*DockerRunner, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newDockerRunner(cli, cfg), nil
}

func newDockerRunner(cli containerAPI, cfg DockerConfig) *DockerRunner {
	if cfg.MountPoint == "" {
		cfg.MountPoint = "/workspace"
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}

	return &DockerRunner{
		client: cli,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/pkg/runner"),
		logger: cfg.Logger.With().Str("component", "docker_runner").Logger(),
	}
}

// Run executes the invocation inside a container built from inv.Image.
func (r *DockerRunner) Run(parent context.Context, inv Invocation) (Result, error) {
	result := Result{Command: inv.Command, Dir: inv.Dir, ExitCode: -1}
	if len(inv.Command) == 0 {
		return result, ErrEmptyCommand
	}

	image := inv.Image
	if image == "" {
		image = r.cfg.DefaultImage
	}
	if image == "" {
		return result, errors.New("image is required")
	}

	ctx, span := r.tracer.Start(parent, "runner.docker.run", trace.WithAttributes(
		attribute.String("docker.image", image),
		attribute.String("runner.command", inv.String()),
	))
	defer span.End()

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:    r.cfg.MemoryLimitMB * 1024 * 1024,
			CPUShares: r.cfg.CPUShares,
		},
		NetworkMode: "bridge",
	}
	if r.cfg.NetworkDisabled {
		hostCfg.NetworkMode = "none"
	}
	if inv.Dir != "" {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: inv.Dir,
			Target: r.cfg.MountPoint,
		})
	}

	config := &container.Config{
		Image:        image,
		Cmd:          inv.Command,
		Env:          inv.Env,
		WorkingDir:   r.cfg.MountPoint,
		AttachStdout: true,
		AttachStderr: true,
	}

	fail := func(stage string, err error) (Result, error) {
		containerFailures.WithLabelValues(image).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("%w: container %s: %v", ErrLaunch, stage, err)
	}

	start := time.Now()
	resp, err := r.client.ContainerCreate(ctx, config, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return fail("create", err)
	}

	containerID := resp.ID
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			r.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to remove container")
		}
	}()

	// Registered before start so an immediate exit is still observed.
	statusCh, errCh := r.client.ContainerWait(ctx, containerID, container.WaitConditionNextExit)

	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fail("start", err)
	}

	var waitErr error
	select {
	case err := <-errCh:
		waitErr = err
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
		if status.Error != nil && status.Error.Message != "" {
			waitErr = errors.New(status.Error.Message)
		}
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	result.Duration = time.Since(start)
	containerDuration.WithLabelValues(image).Observe(result.Duration.Seconds())

	if waitErr != nil {
		killCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.client.ContainerKill(killCtx, containerID, "KILL"); err != nil {
			r.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to kill container")
		}

		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil:
			result.TimedOut = true
			containerTimeouts.WithLabelValues(image).Inc()
			span.SetStatus(codes.Error, "execution timed out")
			return result, fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, inv.String())
		case parent.Err() != nil:
			return result, parent.Err()
		default:
			return fail("wait", waitErr)
		}
	}

	logReader, err := r.client.ContainerLogs(parent, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		r.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to fetch container logs")
	} else {
		defer logReader.Close()
		stdout, stderr, err := splitDockerLogs(logReader, r.cfg.MaxOutputBytes)
		if err != nil {
			r.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to read container logs")
		} else {
			result.Stdout = stdout
			result.Stderr = stderr
		}
	}

	statsCtx, cancelStats := context.WithTimeout(parent, 2*time.Second)
	defer cancelStats()
	stats, err := r.client.ContainerStatsOneShot(statsCtx, containerID)
	if err == nil {
		defer stats.Body.Close()
		var data container.StatsResponse
		if decodeErr := json.NewDecoder(stats.Body).Decode(&data); decodeErr == nil {
			result.MaxRSSKB = int64(data.MemoryStats.MaxUsage / 1024)
			result.UserTime = time.Duration(data.CPUStats.CPUUsage.UsageInUsermode)
		}
	}

	return result, nil
}

func splitDockerLogs(reader io.Reader, limit int) (string, string, error) {
	stdout := newTailBuffer(limit)
	stderr := newTailBuffer(limit)
	if _, err := stdcopy.StdCopy(stdout, stderr, reader); err != nil {
		return "", "", err
	}
	return stdout.String(), stderr.String(), nil
}

// Close shuts down the runner's underlying client.
func (r *DockerRunner) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
