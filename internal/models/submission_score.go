package models

import (
	"time"

	"gorm.io/datatypes"
)

// SubmissionScore stores the latest graded result of one student for one assignment.
type SubmissionScore struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	AssignmentID     string            `gorm:"size:128;not null;uniqueIndex:idx_submission_score_owner" json:"assignment_id"`
	UserID           string            `gorm:"size:128;not null;uniqueIndex:idx_submission_score_owner" json:"user_id"`
	Language         string            `gorm:"size:32;not null" json:"language"`
	Outcome          string            `gorm:"size:32;not null" json:"outcome"`
	TestsRun         int               `gorm:"not null;default:0" json:"tests_run"`
	TestsPassed      int               `gorm:"not null;default:0" json:"tests_passed"`
	TestsFailed      int               `gorm:"not null;default:0" json:"tests_failed"`
	HasPassedTests   bool              `gorm:"not null;default:false" json:"has_passed_tests"`
	AvgExecutionTime *float64          `json:"avg_execution_time"`
	AvgMemoryUsage   *float64          `json:"avg_memory_usage"`
	Details          datatypes.JSONMap `gorm:"type:json" json:"details,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// TableName keeps the table name used by the web application.
func (SubmissionScore) TableName() string {
	return "submissions"
}
