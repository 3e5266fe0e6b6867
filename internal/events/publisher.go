package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/grading"
)

// SubjectGradingCompleted is the default subject for finished gradings.
const SubjectGradingCompleted = "grading.completed"

// GradedEvent is published after a grading run produced a test outcome.
type GradedEvent struct {
	AssignmentID     string    `json:"assignment_id"`
	UserID           string    `json:"user_id,omitempty"`
	Language         string    `json:"language"`
	Outcome          string    `json:"outcome"`
	TestsRun         int       `json:"tests_run"`
	TestsPassed      int       `json:"tests_passed"`
	TestsFailed      int       `json:"tests_failed"`
	AvgExecutionTime *float64  `json:"avg_execution_time,omitempty"`
	AvgMemoryUsage   *float64  `json:"avg_memory_usage,omitempty"`
	DurationMs       int64     `json:"duration_ms"`
	GradedAt         time.Time `json:"graded_at"`
}

// NewGradedEvent builds the event payload of a finished grading.
func NewGradedEvent(result grading.Result) GradedEvent {
	event := GradedEvent{
		AssignmentID: result.AssignmentID,
		UserID:       result.UserID,
		Language:     string(result.Language),
		Outcome:      string(result.Outcome),
		DurationMs:   result.Duration.Milliseconds(),
		GradedAt:     time.Now().UTC(),
	}
	if result.Tests != nil {
		event.TestsRun = result.Tests.Run
		event.TestsPassed = result.Tests.Passed
		event.TestsFailed = result.Tests.Failed
	}
	if result.Performance != nil {
		avgTime := result.Performance.AvgExecutionTimeSeconds
		avgMemory := result.Performance.AvgPeakMemoryMB
		event.AvgExecutionTime = &avgTime
		event.AvgMemoryUsage = &avgMemory
	}
	return event
}

// Publisher announces grading results to other services.
type Publisher interface {
	PublishGraded(ctx context.Context, event GradedEvent) error
}

// Conn is the part of a NATS connection the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events as JSON messages.
type NATSPublisher struct {
	conn    Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSPublisher constructs a publisher on subject, falling back to
// SubjectGradingCompleted.
func NewNATSPublisher(conn Conn, subject string, logger zerolog.Logger) *NATSPublisher {
	if subject == "" {
		subject = SubjectGradingCompleted
	}
	return &NATSPublisher{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "grading_events").Logger(),
	}
}

func (p *NATSPublisher) PublishGraded(_ context.Context, event GradedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal graded event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish graded event: %w", err)
	}

	p.logger.Debug().
		Str("subject", p.subject).
		Str("assignment_id", event.AssignmentID).
		Str("outcome", event.Outcome).
		Msg("graded event published")
	return nil
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) PublishGraded(context.Context, GradedEvent) error { return nil }

// Connect dials NATS with reconnect handling that logs through logger.
func Connect(url string, logger zerolog.Logger) (*nats.Conn, error) {
	if url == "" {
		return nil, fmt.Errorf("nats url must not be empty")
	}

	log := logger.With().Str("component", "nats").Logger()
	conn, err := nats.Connect(url,
		nats.Name("gema-grader"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info().Msg("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return conn, nil
}
