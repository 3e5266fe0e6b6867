package dto

import (
	"time"

	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/pkg/archive"
)

// GradeRequest carries the form fields of a grading request.
type GradeRequest struct {
	AssignmentID string `form:"assignment_id" validate:"required,max=128"`
	Language     string `form:"language" validate:"required,oneof=python java c cpp rust javascript"`
	UserID       string `form:"-" validate:"max=128"`
	Submission   []byte `form:"-" validate:"required"`
}

// GradeResults is the flat results object of a grading response.
type GradeResults struct {
	Run              int      `json:"run"`
	Passed           int      `json:"passed"`
	Failed           int      `json:"failed"`
	Skipped          *int     `json:"skipped,omitempty"`
	Errors           *int     `json:"errors,omitempty"`
	AvgExecutionTime *float64 `json:"avgExecutionTime,omitempty"`
	AvgMemoryUsage   *float64 `json:"avgMemoryUsage,omitempty"`
}

// GradeResponse is returned for completed and failed test runs.
type GradeResponse struct {
	Message string        `json:"message"`
	Output  string        `json:"output"`
	Results *GradeResults `json:"results"`
}

// GradeErrorResponse is returned when grading could not be carried out.
type GradeErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// NewGradeResponse flattens a grading result into the response shape.
func NewGradeResponse(result grading.Result) GradeResponse {
	response := GradeResponse{
		Message: result.Message,
		Output:  result.Output,
	}
	if result.Tests == nil {
		return response
	}

	results := &GradeResults{
		Run:     result.Tests.Run,
		Passed:  result.Tests.Passed,
		Failed:  result.Tests.Failed,
		Skipped: result.Tests.Skipped,
		Errors:  result.Tests.Errors,
	}
	if result.Performance != nil {
		avgTime := result.Performance.AvgExecutionTimeSeconds
		avgMemory := result.Performance.AvgPeakMemoryMB
		results.AvgExecutionTime = &avgTime
		results.AvgMemoryUsage = &avgMemory
	}
	response.Results = results
	return response
}

// ReferenceResponse describes a stored reference archive.
type ReferenceResponse struct {
	AssignmentID string         `json:"assignment_id"`
	Format       archive.Format `json:"format"`
	Files        int            `json:"files"`
	Bytes        int64          `json:"bytes"`
}

// StoredSubmissionResponse describes an archived submission.
type StoredSubmissionResponse struct {
	AssignmentID string         `json:"assignment_id"`
	UserID       string         `json:"user_id"`
	Format       archive.Format `json:"format"`
	Files        int            `json:"files"`
	Bytes        int64          `json:"bytes"`
}

// ScoreResponse is one leaderboard row.
type ScoreResponse struct {
	AssignmentID     string    `json:"assignment_id"`
	UserID           string    `json:"user_id"`
	Language         string    `json:"language"`
	Outcome          string    `json:"outcome"`
	TestsRun         int       `json:"tests_run"`
	TestsPassed      int       `json:"tests_passed"`
	TestsFailed      int       `json:"tests_failed"`
	HasPassedTests   bool      `json:"has_passed_tests"`
	AvgExecutionTime *float64  `json:"avg_execution_time"`
	AvgMemoryUsage   *float64  `json:"avg_memory_usage"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewScoreResponse builds a response DTO from a model.
func NewScoreResponse(score models.SubmissionScore) ScoreResponse {
	return ScoreResponse{
		AssignmentID:     score.AssignmentID,
		UserID:           score.UserID,
		Language:         score.Language,
		Outcome:          score.Outcome,
		TestsRun:         score.TestsRun,
		TestsPassed:      score.TestsPassed,
		TestsFailed:      score.TestsFailed,
		HasPassedTests:   score.HasPassedTests,
		AvgExecutionTime: score.AvgExecutionTime,
		AvgMemoryUsage:   score.AvgMemoryUsage,
		UpdatedAt:        score.UpdatedAt,
	}
}
