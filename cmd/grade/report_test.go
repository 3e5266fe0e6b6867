package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/grading"
)

func init() {
	color.NoColor = true
}

func completedResult() grading.Result {
	skipped := 1
	return grading.Result{
		Message:  grading.MessageTestsCompleted,
		Output:   "Ran 4 tests",
		Outcome:  grading.OutcomeCompleted,
		Language: grading.LanguagePython,
		Tests:    &grading.TestOutcome{Run: 4, Passed: 4, Skipped: &skipped},
		Performance: &grading.PerformanceProfile{
			AvgExecutionTimeSeconds: 0.125,
			AvgPeakMemoryMB:         9.5,
			Runs:                    3,
		},
		Duration: 1500 * time.Millisecond,
	}
}

func TestWriteSummaryCompleted(t *testing.T) {
	var buf bytes.Buffer
	writeSummary(&buf, completedResult(), nil)

	out := buf.String()
	require.Contains(t, out, "PASSED")
	require.Contains(t, out, "4 run, 4 passed, 0 failed, 1 skipped")
	require.Contains(t, out, "0.125 s over 3 runs")
	require.Contains(t, out, "9.500 MB")
	require.Contains(t, out, "1.5s")
	require.NotContains(t, out, "Ran 4 tests")
}

func TestWriteSummaryFailedShowsOutput(t *testing.T) {
	result := grading.Result{
		Outcome:  grading.OutcomeTestsFailed,
		Output:   "FAIL: test_add",
		Language: grading.LanguagePython,
		Tests:    &grading.TestOutcome{Run: 2, Passed: 1, Failed: 1},
	}

	var buf bytes.Buffer
	writeSummary(&buf, result, nil)

	out := buf.String()
	require.Contains(t, out, "FAILED")
	require.Contains(t, out, "FAIL: test_add")
	require.NotContains(t, out, "avg time")
}

func TestWriteJSONMatchesAPIShape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, completedResult(), nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &body))
	require.Equal(t, grading.MessageTestsCompleted, body["message"])
	results := body["results"].(map[string]interface{})
	require.EqualValues(t, 4, results["run"])
	require.EqualValues(t, 0.125, results["avgExecutionTime"])
	require.EqualValues(t, 9.5, results["avgMemoryUsage"])

	buf.Reset()
	require.NoError(t, writeJSON(&buf, grading.Result{}, errors.New("error downloading model solution")))
	body = map[string]interface{}{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &body))
	require.Equal(t, "Internal Server Error", body["message"])
	require.Equal(t, "error downloading model solution", body["error"])
	require.NotContains(t, body, "results")
}
