package grading

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/pkg/probe"
	"github.com/noah-isme/gema-grader/pkg/runner"
)

// DefaultSampleRuns is the number of measured runs averaged per grading.
const DefaultSampleRuns = 10

// Sampler repeats a command under a resource probe and averages the results.
type Sampler struct {
	probe  probe.Probe
	runs   int
	logger zerolog.Logger
}

// NewSampler constructs a sampler. Non-positive runs fall back to DefaultSampleRuns.
func NewSampler(p probe.Probe, runs int, logger zerolog.Logger) *Sampler {
	if runs <= 0 {
		runs = DefaultSampleRuns
	}
	return &Sampler{
		probe:  p,
		runs:   runs,
		logger: logger.With().Str("component", "performance_sampler").Str("probe", p.Name()).Logger(),
	}
}

// Runs reports how many measured runs each sample takes.
func (s *Sampler) Runs() int {
	return s.runs
}

// Sample runs inv sequentially s.Runs() times. Any failed or unparsable run
// fails the whole sample; no partial average is reported.
func (s *Sampler) Sample(ctx context.Context, inv runner.Invocation) (PerformanceProfile, error) {
	var totalSeconds, totalMB float64

	for i := 0; i < s.runs; i++ {
		if err := ctx.Err(); err != nil {
			return PerformanceProfile{}, infraError(StageSample, err)
		}

		measurement, err := s.probe.Measure(ctx, inv)
		if err != nil {
			s.logger.Error().Err(err).Int("run", i+1).Str("command", inv.String()).Msg("measured run failed")
			return PerformanceProfile{}, infraError(StageSample, fmt.Errorf("%w: run %d: %w", ErrSamplingFailed, i+1, err))
		}

		totalSeconds += measurement.UserSeconds
		totalMB += measurement.PeakMemoryMB()
	}

	return PerformanceProfile{
		AvgExecutionTimeSeconds: Round3(totalSeconds / float64(s.runs)),
		AvgPeakMemoryMB:         Round3(totalMB / float64(s.runs)),
		Runs:                    s.runs,
	}, nil
}
