// Package probe measures CPU time and peak memory of a single command run.
package probe

import (
	"context"
	"errors"

	"github.com/noah-isme/gema-grader/pkg/runner"
)

var (
	// ErrUnparsableOutput indicates the measurement channel lacked a required field.
	ErrUnparsableOutput = errors.New("resource measurement output could not be parsed")
	// ErrMeasuredRunFailed indicates the measured command itself exited non-zero.
	ErrMeasuredRunFailed = errors.New("measured run exited with non-zero status")
)

// Measurement is the resource usage of one measured run.
type Measurement struct {
	UserSeconds float64
	MaxRSSKB    int64
	Result      runner.Result
}

// PeakMemoryMB converts the resident set size peak to megabytes.
func (m Measurement) PeakMemoryMB() float64 {
	return float64(m.MaxRSSKB) / 1024
}

// Probe runs a command once under resource measurement.
type Probe interface {
	Name() string
	Measure(ctx context.Context, inv runner.Invocation) (Measurement, error)
}
