package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
)

var (
	passStyle  = color.New(color.FgGreen, color.Bold)
	failStyle  = color.New(color.FgRed, color.Bold)
	labelStyle = color.New(color.Faint)
)

func writeJSON(w io.Writer, result grading.Result, gradeErr error) error {
	var body interface{} = dto.NewGradeResponse(result)
	if gradeErr != nil {
		body = dto.GradeErrorResponse{Message: "Internal Server Error", Error: gradeErr.Error()}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(body)
}

func writeSummary(w io.Writer, result grading.Result, gradeErr error) {
	if gradeErr != nil {
		failStyle.Fprintln(w, "INFRASTRUCTURE ERROR")
		row(w, "error", gradeErr.Error())
		if result.Output != "" {
			fmt.Fprintf(w, "\n%s\n", result.Output)
		}
		return
	}

	switch result.Outcome {
	case grading.OutcomeCompleted:
		passStyle.Fprintln(w, "PASSED")
	default:
		failStyle.Fprintln(w, "FAILED")
	}

	row(w, "language", string(result.Language))
	if tests := result.Tests; tests != nil {
		summary := fmt.Sprintf("%d run, %d passed, %d failed", tests.Run, tests.Passed, tests.Failed)
		if tests.Skipped != nil {
			summary += fmt.Sprintf(", %d skipped", *tests.Skipped)
		}
		if tests.Errors != nil {
			summary += fmt.Sprintf(", %d errors", *tests.Errors)
		}
		row(w, "tests", summary)
	}
	if perf := result.Performance; perf != nil {
		row(w, "avg time", fmt.Sprintf("%.3f s over %d runs", perf.AvgExecutionTimeSeconds, perf.Runs))
		row(w, "avg memory", fmt.Sprintf("%.3f MB", perf.AvgPeakMemoryMB))
	}
	row(w, "duration", result.Duration.Round(time.Millisecond).String())

	if result.Outcome == grading.OutcomeTestsFailed && result.Output != "" {
		fmt.Fprintf(w, "\n%s\n", result.Output)
	}
}

func row(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Sprintf("%-10s", label), value)
}
