package runner

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrEmptyCommand indicates an invocation without a program to run.
	ErrEmptyCommand = errors.New("command is required")
	// ErrTimeout indicates the process was killed after exceeding its wall-clock budget.
	ErrTimeout = errors.New("execution timed out")
	// ErrLaunch indicates the process could not be started at all.
	ErrLaunch = errors.New("failed to launch command")
)

// Runner executes one command to completion and captures its output.
//
// A process that runs and exits non-zero is not an error: the exit code is
// reported in the Result and interpreting it is left to the caller. Errors
// are reserved for launch failures, timeouts and cancellation.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// WatchFunc observes a running process. The context is cancelled once the
// process has exited; the runner waits for the watcher to return.
type WatchFunc func(ctx context.Context, pid int)

// Invocation describes one subprocess execution.
type Invocation struct {
	Command []string
	Dir     string
	Env     []string
	Timeout time.Duration
	// Image selects the container image for sandboxed runners.
	Image string
	// Watch is only honoured by runners that own the process on the host.
	Watch WatchFunc
}

// String renders the command line for logs and error messages.
func (i Invocation) String() string {
	return strings.Join(i.Command, " ")
}

// Result summarises a finished execution.
type Result struct {
	Command  []string      `json:"command"`
	Dir      string        `json:"dir"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
	UserTime time.Duration `json:"userTime"`
	MaxRSSKB int64         `json:"maxRssKb"`
	TimedOut bool          `json:"timedOut"`
}

// Succeeded reports whether the process exited with status zero.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Output returns stdout followed by stderr.
func (r Result) Output() string {
	return r.Stdout + r.Stderr
}
