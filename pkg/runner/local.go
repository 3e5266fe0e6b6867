package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	localDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "runner",
		Name:      "local_duration_seconds",
		Help:      "Duration of host process executions",
		Buckets:   prometheus.DefBuckets,
	}, []string{"program"})

	localTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "runner",
		Name:      "local_timeouts_total",
		Help:      "Number of host process executions that hit the timeout",
	}, []string{"program"})
)

// LocalConfig groups host runner configuration values.
type LocalConfig struct {
	Timeout   time.Duration
	WaitDelay time.Duration
	Env       []string
	// MaxOutputBytes caps the bytes kept per stream; the tail is kept.
	MaxOutputBytes int
	Logger         zerolog.Logger
}

// LocalRunner executes commands as host subprocesses.
type LocalRunner struct {
	cfg    LocalConfig
	logger zerolog.Logger
}

// NewLocalRunner constructs a host process runner.
func NewLocalRunner(cfg LocalConfig) *LocalRunner {
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = 2 * time.Second
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}

	return &LocalRunner{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "local_runner").Logger(),
	}
}

// Run executes the invocation and waits for it to exit. The whole process
// group is killed when the timeout elapses or ctx is cancelled.
func (r *LocalRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	result := Result{Command: inv.Command, Dir: inv.Dir, ExitCode: -1}
	if len(inv.Command) == 0 || inv.Command[0] == "" {
		return result, ErrEmptyCommand
	}

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, inv.Command[0], inv.Command[1:]...)
	cmd.Dir = inv.Dir
	cmd.Env = append(append(os.Environ(), r.cfg.Env...), inv.Env...)
	cmd.WaitDelay = r.cfg.WaitDelay
	configureProcessGroup(cmd)

	stdout := newTailBuffer(r.cfg.MaxOutputBytes)
	stderr := newTailBuffer(r.cfg.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	program := inv.Command[0]
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result, fmt.Errorf("%w: %s: %v", ErrLaunch, inv.String(), err)
	}

	var watchers sync.WaitGroup
	watchCtx, stopWatch := context.WithCancel(context.Background())
	if inv.Watch != nil {
		watchers.Add(1)
		go func(pid int) {
			defer watchers.Done()
			inv.Watch(watchCtx, pid)
		}(cmd.Process.Pid)
	}

	waitErr := cmd.Wait()
	stopWatch()
	watchers.Wait()

	result.Duration = time.Since(start)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	localDuration.WithLabelValues(program).Observe(result.Duration.Seconds())

	if state := cmd.ProcessState; state != nil {
		result.ExitCode = state.ExitCode()
		result.UserTime = state.UserTime()
		result.MaxRSSKB = maxRSSKB(state)
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		result.TimedOut = true
		localTimeouts.WithLabelValues(program).Inc()
		r.logger.Warn().
			Str("command", inv.String()).
			Dur("timeout", timeout).
			Msg("process killed after timeout")
		return result, fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, inv.String())
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		return result, fmt.Errorf("wait for %s: %w", inv.String(), waitErr)
	}

	return result, nil
}
