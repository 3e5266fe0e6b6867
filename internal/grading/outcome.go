package grading

import (
	"math"
	"time"
)

// MessageTestsCompleted is reported for both passing and failing test runs.
const MessageTestsCompleted = "Tests completed"

// Outcome classifies a finished toolchain run.
type Outcome string

const (
	OutcomeCompleted           Outcome = "completed"
	OutcomeTestsFailed         Outcome = "tests_failed"
	OutcomeInfrastructureError Outcome = "infrastructure_error"
)

// TestOutcome holds normalised test counts. Skipped and Errors are only set
// by toolchains that report them.
type TestOutcome struct {
	Run     int  `json:"run"`
	Passed  int  `json:"passed"`
	Failed  int  `json:"failed"`
	Skipped *int `json:"skipped,omitempty"`
	Errors  *int `json:"errors,omitempty"`
}

// AllPassed reports whether at least one test ran and none failed.
func (t TestOutcome) AllPassed() bool {
	return t.Run > 0 && t.Failed == 0 && t.Passed == t.Run
}

// PerformanceProfile holds averaged resource usage over the measured runs.
type PerformanceProfile struct {
	AvgExecutionTimeSeconds float64 `json:"avgExecutionTime"`
	AvgPeakMemoryMB         float64 `json:"avgMemoryUsage"`
	Runs                    int     `json:"-"`
}

// Result is the immutable outcome of one grading run.
type Result struct {
	Message      string
	Output       string
	Outcome      Outcome
	Tests        *TestOutcome
	Performance  *PerformanceProfile
	Language     Language
	AssignmentID string
	UserID       string
	WorkspaceID  string
	Duration     time.Duration
}

// Round3 rounds half away from zero to three decimal places.
func Round3(value float64) float64 {
	return math.Round(value*1000) / 1000
}

func intPtr(value int) *int {
	return &value
}
