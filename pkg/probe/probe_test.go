package probe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/pkg/runner"
)

const sampleReport = `	Command being timed: "make test"
	User time (seconds): 0.12
	System time (seconds): 0.01
	Percent of CPU this job got: 98%
	Maximum resident set size (kbytes): 20480
	Exit status: 0
`

type stubRunner struct {
	result runner.Result
	err    error
	last   runner.Invocation
}

func (s *stubRunner) Run(_ context.Context, inv runner.Invocation) (runner.Result, error) {
	s.last = inv
	return s.result, s.err
}

func TestParseGNUTime(t *testing.T) {
	measurement, err := ParseGNUTime(sampleReport)
	require.NoError(t, err)
	require.InDelta(t, 0.12, measurement.UserSeconds, 1e-9)
	require.EqualValues(t, 20480, measurement.MaxRSSKB)
	require.InDelta(t, 20.0, measurement.PeakMemoryMB(), 1e-9)
}

func TestParseGNUTimeRequiresBothFields(t *testing.T) {
	_, err := ParseGNUTime("User time (seconds): 0.50\n")
	require.ErrorIs(t, err, ErrUnparsableOutput)

	_, err = ParseGNUTime("Maximum resident set size (kbytes): 100\n")
	require.ErrorIs(t, err, ErrUnparsableOutput)

	_, err = ParseGNUTime("")
	require.ErrorIs(t, err, ErrUnparsableOutput)
}

func TestGNUTimeProbeWrapsCommand(t *testing.T) {
	stub := &stubRunner{result: runner.Result{Stderr: sampleReport}}
	probe := NewGNUTimeProbe(stub, "/usr/bin/time")

	measurement, err := probe.Measure(context.Background(), runner.Invocation{
		Command: []string{"make", "test"},
		Dir:     "/tmp/project",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"/usr/bin/time", "-v", "make", "test"}, stub.last.Command)
	require.Equal(t, "/tmp/project", stub.last.Dir)
	require.InDelta(t, 0.12, measurement.UserSeconds, 1e-9)
}

func TestGNUTimeProbeRejectsFailedRun(t *testing.T) {
	stub := &stubRunner{result: runner.Result{ExitCode: 2, Stderr: sampleReport}}
	_, err := NewGNUTimeProbe(stub, "time").Measure(context.Background(), runner.Invocation{Command: []string{"make", "test"}})
	require.ErrorIs(t, err, ErrMeasuredRunFailed)
}

func TestGNUTimeProbeRejectsMissingReport(t *testing.T) {
	stub := &stubRunner{result: runner.Result{Stderr: "command not found"}}
	_, err := NewGNUTimeProbe(stub, "time").Measure(context.Background(), runner.Invocation{Command: []string{"make", "test"}})
	require.ErrorIs(t, err, ErrUnparsableOutput)
}

func TestProcessProbeUsesRunnerUsage(t *testing.T) {
	stub := &stubRunner{result: runner.Result{MaxRSSKB: 2048}}
	measurement, err := NewProcessProbe(stub, 0).Measure(context.Background(), runner.Invocation{Command: []string{"true"}})
	require.NoError(t, err)
	require.EqualValues(t, 2048, measurement.MaxRSSKB)
	require.InDelta(t, 2.0, measurement.PeakMemoryMB(), 1e-9)
	require.NotNil(t, stub.last.Watch)
}
