package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/grading"
)

type recordingConn struct {
	subject string
	data    []byte
	err     error
}

func (r *recordingConn) Publish(subject string, data []byte) error {
	r.subject = subject
	r.data = data
	return r.err
}

func TestNATSPublisherPublishesJSON(t *testing.T) {
	conn := &recordingConn{}
	publisher := NewNATSPublisher(conn, "", zerolog.Nop())

	result := grading.Result{
		AssignmentID: "a-1",
		UserID:       "u-1",
		Language:     grading.LanguageC,
		Outcome:      grading.OutcomeCompleted,
		Tests:        &grading.TestOutcome{Run: 20, Passed: 17, Failed: 3},
		Performance:  &grading.PerformanceProfile{AvgExecutionTimeSeconds: 0.145, AvgPeakMemoryMB: 3.5},
		Duration:     1500 * time.Millisecond,
	}
	require.NoError(t, publisher.PublishGraded(context.Background(), NewGradedEvent(result)))
	require.Equal(t, SubjectGradingCompleted, conn.subject)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(conn.data, &decoded))
	require.Equal(t, "a-1", decoded["assignment_id"])
	require.Equal(t, "completed", decoded["outcome"])
	require.EqualValues(t, 17, decoded["tests_passed"])
	require.EqualValues(t, 0.145, decoded["avg_execution_time"])
	require.EqualValues(t, 1500, decoded["duration_ms"])
}

func TestNewGradedEventOmitsMissingPerformance(t *testing.T) {
	event := NewGradedEvent(grading.Result{
		AssignmentID: "a-1",
		Language:     grading.LanguagePython,
		Outcome:      grading.OutcomeTestsFailed,
		Tests:        &grading.TestOutcome{Run: 5, Passed: 3, Failed: 2},
	})
	require.Nil(t, event.AvgExecutionTime)
	require.Nil(t, event.AvgMemoryUsage)
	require.Equal(t, 2, event.TestsFailed)
}

func TestNATSPublisherWrapsConnErrors(t *testing.T) {
	boom := errors.New("connection closed")
	publisher := NewNATSPublisher(&recordingConn{err: boom}, "custom.subject", zerolog.Nop())

	err := publisher.PublishGraded(context.Background(), GradedEvent{AssignmentID: "a-1"})
	require.ErrorIs(t, err, boom)
}

func TestConnectRequiresURL(t *testing.T) {
	_, err := Connect("", zerolog.Nop())
	require.Error(t, err)
}
