package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

func setupScoreTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.SubmissionScore{}))
	return db
}

func float(value float64) *float64 {
	return &value
}

func TestSubmissionScoreUpsertReplacesByOwner(t *testing.T) {
	db := setupScoreTestDB(t)
	repo := NewSubmissionScoreRepository(db)
	ctx := context.Background()

	first := &models.SubmissionScore{
		AssignmentID:     "a-1",
		UserID:           "u-1",
		Language:         "python",
		Outcome:          "completed",
		TestsRun:         5,
		TestsPassed:      5,
		HasPassedTests:   true,
		AvgExecutionTime: float(0.145),
		AvgMemoryUsage:   float(12.5),
	}
	require.NoError(t, repo.Upsert(ctx, first))

	second := &models.SubmissionScore{
		AssignmentID: "a-1",
		UserID:       "u-1",
		Language:     "python",
		Outcome:      "tests_failed",
		TestsRun:     5,
		TestsPassed:  3,
		TestsFailed:  2,
		Details:      datatypes.JSONMap{"errors": 0},
	}
	require.NoError(t, repo.Upsert(ctx, second))

	var count int64
	require.NoError(t, db.Model(&models.SubmissionScore{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	stored, err := repo.Get(ctx, "a-1", "u-1")
	require.NoError(t, err)
	require.Equal(t, 3, stored.TestsPassed)
	require.Equal(t, 2, stored.TestsFailed)
	require.False(t, stored.HasPassedTests)
	require.Equal(t, "tests_failed", stored.Outcome)
	require.NotNil(t, stored.AvgExecutionTime)
	require.InDelta(t, 0.145, *stored.AvgExecutionTime, 1e-9)
}

func TestSubmissionScoreListOrdersForLeaderboard(t *testing.T) {
	db := setupScoreTestDB(t)
	repo := NewSubmissionScoreRepository(db)
	ctx := context.Background()

	scores := []*models.SubmissionScore{
		{AssignmentID: "a-1", UserID: "slow", Language: "c", Outcome: "completed", TestsRun: 3, TestsPassed: 3, HasPassedTests: true, AvgExecutionTime: float(0.9), AvgMemoryUsage: float(1)},
		{AssignmentID: "a-1", UserID: "fast", Language: "c", Outcome: "completed", TestsRun: 3, TestsPassed: 3, HasPassedTests: true, AvgExecutionTime: float(0.1), AvgMemoryUsage: float(1)},
		{AssignmentID: "a-1", UserID: "failing", Language: "c", Outcome: "tests_failed", TestsRun: 3, TestsPassed: 1, TestsFailed: 2},
		{AssignmentID: "a-2", UserID: "other", Language: "c", Outcome: "completed", TestsRun: 1, TestsPassed: 1, HasPassedTests: true},
	}
	for _, score := range scores {
		require.NoError(t, repo.Upsert(ctx, score))
	}

	listed, err := repo.ListByAssignment(ctx, "a-1")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	require.Equal(t, "fast", listed[0].UserID)
	require.Equal(t, "slow", listed[1].UserID)
	require.Equal(t, "failing", listed[2].UserID)
}
