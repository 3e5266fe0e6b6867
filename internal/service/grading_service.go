package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/events"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/storage"
	"github.com/noah-isme/gema-grader/pkg/archive"
)

var (
	// ErrReferenceNotFound indicates no reference archive is stored for the assignment.
	ErrReferenceNotFound = errors.New("model solution not found")
	// ErrStoredSubmissionNotFound indicates the user has not uploaded a submission yet.
	ErrStoredSubmissionNotFound = errors.New("submission not found")
	// ErrInvalidArchive indicates an uploaded archive cannot be read.
	ErrInvalidArchive = errors.New("invalid archive")
	// ErrScoresUnavailable indicates score persistence is not configured.
	ErrScoresUnavailable = errors.New("score persistence unavailable")
)

// Grader runs one grading request.
type Grader interface {
	Grade(ctx context.Context, req grading.Request) (grading.Result, error)
}

// ArchiveInspector validates archives without extracting them.
type ArchiveInspector interface {
	Inspect(payload []byte) (archive.Stats, error)
}

// GradingService exposes grading and archive management operations.
type GradingService interface {
	Grade(ctx context.Context, payload dto.GradeRequest) (grading.Result, error)
	GradeStored(ctx context.Context, assignmentID, userID, language string) (grading.Result, error)
	StoreSubmission(ctx context.Context, assignmentID, userID string, data []byte) (dto.StoredSubmissionResponse, error)
	PutReference(ctx context.Context, assignmentID string, data []byte) (dto.ReferenceResponse, error)
	DeleteReference(ctx context.Context, assignmentID string) error
	ListScores(ctx context.Context, assignmentID string) ([]dto.ScoreResponse, error)
}

// GradingDependencies groups the collaborators of the grading service.
// Scores and Publisher are optional.
type GradingDependencies struct {
	Grader      Grader
	Inspector   ArchiveInspector
	References  storage.ArchiveStore
	Submissions storage.ArchiveStore
	Scores      repository.SubmissionScoreRepository
	Publisher   events.Publisher
	Validator   *validator.Validate
	Logger      zerolog.Logger
}

type gradingService struct {
	grader      Grader
	inspector   ArchiveInspector
	references  storage.ArchiveStore
	submissions storage.ArchiveStore
	scores      repository.SubmissionScoreRepository
	publisher   events.Publisher
	validator   *validator.Validate
	logger      zerolog.Logger
}

// NewGradingService constructs the grading service.
func NewGradingService(deps GradingDependencies) GradingService {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	validate := deps.Validator
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}

	return &gradingService{
		grader:      deps.Grader,
		inspector:   deps.Inspector,
		references:  deps.References,
		submissions: deps.Submissions,
		scores:      deps.Scores,
		publisher:   publisher,
		validator:   validate,
		logger:      deps.Logger.With().Str("component", "grading_service").Logger(),
	}
}

func (s *gradingService) Grade(ctx context.Context, payload dto.GradeRequest) (grading.Result, error) {
	payload.AssignmentID = strings.TrimSpace(payload.AssignmentID)
	payload.UserID = strings.TrimSpace(payload.UserID)
	if payload.AssignmentID == "" || len(payload.Submission) == 0 {
		return grading.Result{}, grading.ErrMissingFields
	}

	language, err := grading.ParseLanguage(payload.Language)
	if err != nil {
		return grading.Result{}, err
	}
	payload.Language = string(language)

	if err := s.validator.Struct(payload); err != nil {
		return grading.Result{}, err
	}

	result, err := s.grader.Grade(ctx, grading.Request{
		AssignmentID: payload.AssignmentID,
		UserID:       payload.UserID,
		Language:     language,
		Submission:   payload.Submission,
	})
	if err != nil {
		return result, err
	}

	s.record(ctx, result)
	return result, nil
}

func (s *gradingService) GradeStored(ctx context.Context, assignmentID, userID, language string) (grading.Result, error) {
	key, err := storage.JoinKey(strings.TrimSpace(assignmentID), strings.TrimSpace(userID))
	if err != nil {
		return grading.Result{}, grading.ErrMissingFields
	}

	data, err := s.submissions.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return grading.Result{}, ErrStoredSubmissionNotFound
		}
		return grading.Result{}, fmt.Errorf("load stored submission: %w", err)
	}

	return s.Grade(ctx, dto.GradeRequest{
		AssignmentID: assignmentID,
		UserID:       userID,
		Language:     language,
		Submission:   data,
	})
}

func (s *gradingService) StoreSubmission(ctx context.Context, assignmentID, userID string, data []byte) (dto.StoredSubmissionResponse, error) {
	assignmentID = strings.TrimSpace(assignmentID)
	userID = strings.TrimSpace(userID)
	if assignmentID == "" || userID == "" || len(data) == 0 {
		return dto.StoredSubmissionResponse{}, grading.ErrMissingFields
	}

	stats, err := s.inspect(data)
	if err != nil {
		return dto.StoredSubmissionResponse{}, err
	}

	key, err := storage.JoinKey(assignmentID, userID)
	if err != nil {
		return dto.StoredSubmissionResponse{}, err
	}
	if err := s.submissions.Put(ctx, key, data); err != nil {
		return dto.StoredSubmissionResponse{}, fmt.Errorf("store submission: %w", err)
	}

	s.logger.Info().Str("assignment_id", assignmentID).Str("user_id", userID).Int("files", stats.Files).Msg("submission stored")
	return dto.StoredSubmissionResponse{
		AssignmentID: assignmentID,
		UserID:       userID,
		Format:       stats.Format,
		Files:        stats.Files,
		Bytes:        stats.Bytes,
	}, nil
}

func (s *gradingService) PutReference(ctx context.Context, assignmentID string, data []byte) (dto.ReferenceResponse, error) {
	assignmentID = strings.TrimSpace(assignmentID)
	if assignmentID == "" || len(data) == 0 {
		return dto.ReferenceResponse{}, grading.ErrMissingFields
	}

	stats, err := s.inspect(data)
	if err != nil {
		return dto.ReferenceResponse{}, err
	}

	key, err := storage.JoinKey(assignmentID)
	if err != nil {
		return dto.ReferenceResponse{}, err
	}
	if err := s.references.Put(ctx, key, data); err != nil {
		return dto.ReferenceResponse{}, fmt.Errorf("store model solution: %w", err)
	}

	s.logger.Info().Str("assignment_id", assignmentID).Int("files", stats.Files).Msg("model solution stored")
	return dto.ReferenceResponse{
		AssignmentID: assignmentID,
		Format:       stats.Format,
		Files:        stats.Files,
		Bytes:        stats.Bytes,
	}, nil
}

func (s *gradingService) DeleteReference(ctx context.Context, assignmentID string) error {
	key, err := storage.JoinKey(strings.TrimSpace(assignmentID))
	if err != nil {
		return grading.ErrMissingFields
	}

	if err := s.references.Delete(ctx, key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrReferenceNotFound
		}
		return fmt.Errorf("delete model solution: %w", err)
	}
	return nil
}

func (s *gradingService) ListScores(ctx context.Context, assignmentID string) ([]dto.ScoreResponse, error) {
	if s.scores == nil {
		return nil, ErrScoresUnavailable
	}
	assignmentID = strings.TrimSpace(assignmentID)
	if assignmentID == "" {
		return nil, grading.ErrMissingFields
	}

	scores, err := s.scores.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.ScoreResponse, 0, len(scores))
	for _, score := range scores {
		responses = append(responses, dto.NewScoreResponse(score))
	}
	return responses, nil
}

func (s *gradingService) inspect(data []byte) (archive.Stats, error) {
	stats, err := s.inspector.Inspect(data)
	if err != nil {
		return archive.Stats{}, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if stats.Files == 0 {
		return archive.Stats{}, fmt.Errorf("%w: archive contains no files", ErrInvalidArchive)
	}
	return stats, nil
}

// record persists the score and announces the result. Neither failure is
// surfaced to the caller.
func (s *gradingService) record(ctx context.Context, result grading.Result) {
	logger := s.logger.With().
		Str("assignment_id", result.AssignmentID).
		Str("user_id", result.UserID).
		Str("workspace_id", result.WorkspaceID).
		Str("correlation_id", middleware.CorrelationIDFromContext(ctx)).
		Logger()

	if s.scores != nil && result.UserID != "" && result.Tests != nil {
		score := newSubmissionScore(result)
		if err := s.scores.Upsert(ctx, &score); err != nil {
			logger.Error().Err(err).Msg("failed to persist submission score")
		}
	}

	if err := s.publisher.PublishGraded(ctx, events.NewGradedEvent(result)); err != nil {
		observability.EventPublishFailures().Inc()
		logger.Error().Err(err).Msg("failed to publish graded event")
	}
}

func newSubmissionScore(result grading.Result) models.SubmissionScore {
	tests := result.Tests
	details := datatypes.JSONMap{"duration_ms": result.Duration.Milliseconds()}
	if tests.Skipped != nil {
		details["skipped"] = *tests.Skipped
	}
	if tests.Errors != nil {
		details["errors"] = *tests.Errors
	}

	score := models.SubmissionScore{
		AssignmentID:   result.AssignmentID,
		UserID:         result.UserID,
		Language:       string(result.Language),
		Outcome:        string(result.Outcome),
		TestsRun:       tests.Run,
		TestsPassed:    tests.Passed,
		TestsFailed:    tests.Failed,
		HasPassedTests: result.Outcome == grading.OutcomeCompleted && tests.AllPassed(),
		Details:        details,
	}
	if result.Performance != nil {
		avgTime := result.Performance.AvgExecutionTimeSeconds
		avgMemory := result.Performance.AvgPeakMemoryMB
		score.AvgExecutionTime = &avgTime
		score.AvgMemoryUsage = &avgMemory
	}
	return score
}
