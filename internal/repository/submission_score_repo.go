package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

// SubmissionScoreRepository persists graded results keyed by assignment and user.
type SubmissionScoreRepository interface {
	Upsert(ctx context.Context, score *models.SubmissionScore) error
	Get(ctx context.Context, assignmentID, userID string) (models.SubmissionScore, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.SubmissionScore, error)
}

// NewSubmissionScoreRepository constructs a submission score repository.
func NewSubmissionScoreRepository(db *gorm.DB) SubmissionScoreRepository {
	return &submissionScoreRepository{db: db}
}

type submissionScoreRepository struct {
	db *gorm.DB
}

// Upsert inserts or replaces the score for (assignment_id, user_id). The
// performance columns are left untouched when the new score has none.
func (r *submissionScoreRepository) Upsert(ctx context.Context, score *models.SubmissionScore) error {
	columns := []string{"language", "outcome", "tests_run", "tests_passed", "tests_failed", "has_passed_tests", "details", "updated_at"}
	if score.AvgExecutionTime != nil {
		columns = append(columns, "avg_execution_time")
	}
	if score.AvgMemoryUsage != nil {
		columns = append(columns, "avg_memory_usage")
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "assignment_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(score).Error
}

func (r *submissionScoreRepository) Get(ctx context.Context, assignmentID, userID string) (models.SubmissionScore, error) {
	var score models.SubmissionScore
	err := r.db.WithContext(ctx).
		Where("assignment_id = ? AND user_id = ?", assignmentID, userID).
		First(&score).Error
	if err != nil {
		return models.SubmissionScore{}, err
	}
	return score, nil
}

// ListByAssignment orders scores the way the leaderboard ranks them.
func (r *submissionScoreRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]models.SubmissionScore, error) {
	var scores []models.SubmissionScore
	err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("has_passed_tests DESC, tests_passed DESC").
		Order("CASE WHEN avg_execution_time IS NULL THEN 1 ELSE 0 END, avg_execution_time ASC").
		Order("avg_memory_usage ASC").
		Find(&scores).Error
	if err != nil {
		return nil, err
	}
	return scores, nil
}
