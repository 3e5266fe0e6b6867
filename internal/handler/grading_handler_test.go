package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/pkg/archive"
)

type stubGradingService struct {
	lastGrade      dto.GradeRequest
	lastStoredUser string
	lastReference  []byte
	result         grading.Result
	err            error
	gradeCalls     int
	referenceCalls int
}

func (s *stubGradingService) Grade(_ context.Context, payload dto.GradeRequest) (grading.Result, error) {
	s.gradeCalls++
	s.lastGrade = payload
	return s.result, s.err
}

func (s *stubGradingService) GradeStored(_ context.Context, assignmentID, userID, language string) (grading.Result, error) {
	s.gradeCalls++
	s.lastStoredUser = userID
	s.lastGrade = dto.GradeRequest{AssignmentID: assignmentID, UserID: userID, Language: language}
	return s.result, s.err
}

func (s *stubGradingService) StoreSubmission(_ context.Context, assignmentID, userID string, data []byte) (dto.StoredSubmissionResponse, error) {
	s.lastStoredUser = userID
	return dto.StoredSubmissionResponse{AssignmentID: assignmentID, UserID: userID, Format: archive.FormatZip, Bytes: int64(len(data))}, s.err
}

func (s *stubGradingService) PutReference(_ context.Context, assignmentID string, data []byte) (dto.ReferenceResponse, error) {
	s.referenceCalls++
	s.lastReference = data
	return dto.ReferenceResponse{AssignmentID: assignmentID, Format: archive.FormatZip, Bytes: int64(len(data))}, s.err
}

func (s *stubGradingService) DeleteReference(context.Context, string) error {
	s.referenceCalls++
	return s.err
}

func (s *stubGradingService) ListScores(_ context.Context, assignmentID string) ([]dto.ScoreResponse, error) {
	return []dto.ScoreResponse{{AssignmentID: assignmentID, UserID: "u-1", TestsPassed: 3}}, s.err
}

func passingResult() grading.Result {
	skipped := 0
	return grading.Result{
		Message: grading.MessageTestsCompleted,
		Output:  "Ran 3 tests\n\nOK",
		Outcome: grading.OutcomeCompleted,
		Tests:   &grading.TestOutcome{Run: 3, Passed: 3, Skipped: &skipped},
		Performance: &grading.PerformanceProfile{
			AvgExecutionTimeSeconds: 0.042,
			AvgPeakMemoryMB:         12.5,
		},
	}
}

// newGradingApp mounts the handler the way the router does, with a fixed identity.
func newGradingApp(svc service.GradingService, userID, role string) *fiber.App {
	app := fiber.New()
	identity := func(c *fiber.Ctx) error {
		if userID != "" {
			c.Locals("user_id", userID)
		}
		if role != "" {
			c.Locals("user_role", role)
		}
		return c.Next()
	}

	h := handler.NewGradingHandler(svc, grading.Languages, zerolog.New(io.Discard))
	h.RegisterLegacy(app.Group("/api"), identity)
	h.Register(app.Group("/api/v2/grading", identity))
	return app
}

func multipartRequest(t *testing.T, method, target string, fields map[string]string, files map[string][]byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}
	for name, data := range files {
		part, err := writer.CreateFormFile(name, name+".zip")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeGradingResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func TestGradingHandler_LegacyExecuteLanguage(t *testing.T) {
	svc := &stubGradingService{result: passingResult()}
	app := newGradingApp(svc, "", "")

	req := multipartRequest(t, http.MethodPost, "/api/execute-python",
		map[string]string{"assignment_id": "a-1"},
		map[string][]byte{"submissionZip": []byte("zip-bytes")})
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decodeGradingResponse(t, resp, &body)
	require.Equal(t, "Tests completed", body["message"])
	require.Equal(t, "Ran 3 tests\n\nOK", body["output"])

	results := body["results"].(map[string]interface{})
	require.EqualValues(t, 3, results["run"])
	require.EqualValues(t, 3, results["passed"])
	require.EqualValues(t, 0, results["failed"])
	require.EqualValues(t, 0.042, results["avgExecutionTime"])
	require.EqualValues(t, 12.5, results["avgMemoryUsage"])
	require.NotContains(t, results, "errors")

	require.Equal(t, "python", svc.lastGrade.Language)
	require.Equal(t, "a-1", svc.lastGrade.AssignmentID)
	require.Equal(t, []byte("zip-bytes"), svc.lastGrade.Submission)
	require.Empty(t, svc.lastGrade.UserID)
}

func TestGradingHandler_LegacyExecuteDefaultsToC(t *testing.T) {
	svc := &stubGradingService{result: passingResult()}
	app := newGradingApp(svc, "u-9", "student")

	req := multipartRequest(t, http.MethodPost, "/api/execute",
		map[string]string{"assignment_id": "a-1"},
		map[string][]byte{"submissionZip": []byte("zip")})
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "c", svc.lastGrade.Language)
	require.Equal(t, "u-9", svc.lastGrade.UserID)
}

func TestGradingHandler_FailedTestsOmitPerformance(t *testing.T) {
	errorsCount := 1
	svc := &stubGradingService{result: grading.Result{
		Message: grading.MessageTestsCompleted,
		Output:  "FAILED (failures=1, errors=1)",
		Outcome: grading.OutcomeTestsFailed,
		Tests:   &grading.TestOutcome{Run: 4, Passed: 2, Failed: 2, Errors: &errorsCount},
	}}
	app := newGradingApp(svc, "", "")

	req := multipartRequest(t, http.MethodPost, "/api/v2/grading/grade",
		map[string]string{"assignment_id": "a-1", "language": "python"},
		map[string][]byte{"submissionZip": []byte("zip")})
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decodeGradingResponse(t, resp, &body)
	results := body["results"].(map[string]interface{})
	require.EqualValues(t, 2, results["failed"])
	require.EqualValues(t, 1, results["errors"])
	require.NotContains(t, results, "avgExecutionTime")
	require.NotContains(t, results, "avgMemoryUsage")
}

func TestGradingHandler_GradeErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		statusCode int
		message    string
	}{
		{name: "missing_fields", err: grading.ErrMissingFields, statusCode: fiber.StatusBadRequest, message: "Missing required fields"},
		{name: "language", err: fmt.Errorf("%w: cobol", grading.ErrUnsupportedLanguage), statusCode: fiber.StatusBadRequest, message: "Unsupported language"},
		{name: "stored_missing", err: service.ErrStoredSubmissionNotFound, statusCode: fiber.StatusNotFound, message: "Submission not found"},
		{
			name:       "infrastructure",
			err:        &grading.InfraError{Stage: grading.StageDownload, Err: fmt.Errorf("error downloading model solution: %w", service.ErrReferenceNotFound)},
			statusCode: fiber.StatusInternalServerError,
			message:    "Internal Server Error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubGradingService{err: tc.err}
			app := newGradingApp(svc, "", "")

			req := multipartRequest(t, http.MethodPost, "/api/execute-python",
				map[string]string{"assignment_id": "a-1"},
				map[string][]byte{"submissionZip": []byte("zip")})
			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, tc.statusCode, resp.StatusCode)

			var body dto.GradeErrorResponse
			decodeGradingResponse(t, resp, &body)
			require.Equal(t, tc.message, body.Message)
			if tc.statusCode == fiber.StatusInternalServerError {
				require.Contains(t, body.Error, "error downloading model solution")
			}
		})
	}
}

func TestGradingHandler_MissingSubmissionIsForwarded(t *testing.T) {
	svc := &stubGradingService{err: grading.ErrMissingFields}
	app := newGradingApp(svc, "", "")

	req := multipartRequest(t, http.MethodPost, "/api/execute-java",
		map[string]string{"assignment_id": "a-1"}, nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Nil(t, svc.lastGrade.Submission)
}

func TestGradingHandler_ReferenceRequiresStaff(t *testing.T) {
	svc := &stubGradingService{}
	app := newGradingApp(svc, "u-1", "student")

	req := multipartRequest(t, http.MethodPut, "/api/v2/grading/assignments/a-1/reference", nil,
		map[string][]byte{"modelSolution": []byte("ref")})
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.Zero(t, svc.referenceCalls)

	app = newGradingApp(svc, "t-1", "teacher")
	req = multipartRequest(t, http.MethodPut, "/api/v2/grading/assignments/a-1/reference", nil,
		map[string][]byte{"modelSolution": []byte("ref")})
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, 1, svc.referenceCalls)
	require.Equal(t, []byte("ref"), svc.lastReference)
}

func TestGradingHandler_StoreSubmissionRequiresUser(t *testing.T) {
	svc := &stubGradingService{}
	app := newGradingApp(svc, "", "")

	req := multipartRequest(t, http.MethodPut, "/api/v2/grading/assignments/a-1/submissions", nil,
		map[string][]byte{"submissionZip": []byte("zip")})
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	app = newGradingApp(svc, "u-1", "student")
	req = multipartRequest(t, http.MethodPut, "/api/v2/grading/assignments/a-1/submissions", nil,
		map[string][]byte{"submissionZip": []byte("zip")})
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Equal(t, "u-1", svc.lastStoredUser)
}

func TestGradingHandler_RunStoredChecksOwnership(t *testing.T) {
	svc := &stubGradingService{result: passingResult()}
	app := newGradingApp(svc, "u-1", "student")

	req := httptest.NewRequest(http.MethodPost, "/api/v2/grading/assignments/a-1/submissions/u-2/run?language=rust", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.Zero(t, svc.gradeCalls)

	req = httptest.NewRequest(http.MethodPost, "/api/v2/grading/assignments/a-1/submissions/u-1/run?language=rust", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "rust", svc.lastGrade.Language)

	app = newGradingApp(svc, "t-1", "admin")
	req = httptest.NewRequest(http.MethodPost, "/api/v2/grading/assignments/a-1/submissions/u-2/run?language=rust", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "u-2", svc.lastStoredUser)
}

func TestGradingHandler_ListLanguagesAndScores(t *testing.T) {
	svc := &stubGradingService{}
	app := newGradingApp(svc, "u-1", "student")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/grading/languages", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var languages struct {
		Success bool     `json:"success"`
		Data    []string `json:"data"`
	}
	decodeGradingResponse(t, resp, &languages)
	require.True(t, languages.Success)
	require.Contains(t, languages.Data, "python")
	require.Contains(t, languages.Data, "javascript")

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/grading/assignments/a-1/scores", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var scores struct {
		Data []dto.ScoreResponse `json:"data"`
	}
	decodeGradingResponse(t, resp, &scores)
	require.Len(t, scores.Data, 1)
	require.Equal(t, "a-1", scores.Data[0].AssignmentID)
}
