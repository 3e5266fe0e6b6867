package probe

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/noah-isme/gema-grader/pkg/runner"
)

var (
	userTimePattern = regexp.MustCompile(`User time \(seconds\): (\d+\.\d+)`)
	maxRSSPattern   = regexp.MustCompile(`Maximum resident set size \(kbytes\): (\d+)`)
)

// GNUTimeProbe wraps the command in GNU time's verbose mode and reads the
// report it prints to stderr.
type GNUTimeProbe struct {
	runner runner.Runner
	binary string
}

// NewGNUTimeProbe constructs a probe using the given time binary. An empty
// binary resolves gtime first, then /usr/bin/time.
func NewGNUTimeProbe(r runner.Runner, binary string) *GNUTimeProbe {
	if binary == "" {
		binary = ResolveGNUTime()
	}
	return &GNUTimeProbe{runner: r, binary: binary}
}

// ResolveGNUTime finds a GNU time executable on the host.
func ResolveGNUTime() string {
	if path, err := exec.LookPath("gtime"); err == nil {
		return path
	}
	return "/usr/bin/time"
}

func (p *GNUTimeProbe) Name() string { return "gnutime" }

func (p *GNUTimeProbe) Measure(ctx context.Context, inv runner.Invocation) (Measurement, error) {
	wrapped := inv
	wrapped.Command = append([]string{p.binary, "-v"}, inv.Command...)

	result, err := p.runner.Run(ctx, wrapped)
	if err != nil {
		return Measurement{Result: result}, err
	}
	if !result.Succeeded() {
		return Measurement{Result: result}, fmt.Errorf("%w: %s exited %d", ErrMeasuredRunFailed, inv.String(), result.ExitCode)
	}

	measurement, err := ParseGNUTime(result.Stderr)
	measurement.Result = result
	return measurement, err
}

// ParseGNUTime extracts user time and peak RSS from a `time -v` report.
// Both fields are required.
func ParseGNUTime(report string) (Measurement, error) {
	userMatch := userTimePattern.FindStringSubmatch(report)
	rssMatch := maxRSSPattern.FindStringSubmatch(report)
	if userMatch == nil || rssMatch == nil {
		return Measurement{}, fmt.Errorf("%w: missing user time or maximum resident set size", ErrUnparsableOutput)
	}

	userSeconds, err := strconv.ParseFloat(userMatch[1], 64)
	if err != nil {
		return Measurement{}, fmt.Errorf("%w: user time %q", ErrUnparsableOutput, userMatch[1])
	}
	maxRSS, err := strconv.ParseInt(rssMatch[1], 10, 64)
	if err != nil {
		return Measurement{}, fmt.Errorf("%w: resident set size %q", ErrUnparsableOutput, rssMatch[1])
	}

	return Measurement{UserSeconds: userSeconds, MaxRSSKB: maxRSS}, nil
}
