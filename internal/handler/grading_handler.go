package handler

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

const (
	fieldSubmission    = "submissionZip"
	fieldModelSolution = "modelSolution"
	fieldAssignmentID  = "assignment_id"
	fieldLanguage      = "language"
)

// GradingHandler exposes the grading endpoints.
type GradingHandler struct {
	service   service.GradingService
	languages []grading.Language
	logger    zerolog.Logger
}

// NewGradingHandler constructs the handler.
func NewGradingHandler(service service.GradingService, languages []grading.Language, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		service:   service,
		languages: languages,
		logger:    logger.With().Str("component", "grading_handler").Logger(),
	}
}

// RegisterLegacy wires the per-language execute routes used by existing
// clients. Guards run before each route only, not on the whole prefix.
func (h *GradingHandler) RegisterLegacy(router fiber.Router, guards ...fiber.Handler) {
	route := guarded(guards)
	router.Post("/execute", route(h.gradeLanguage(grading.LanguageC))...)
	router.Post("/execute-:language", route(h.grade)...)
}

// Register wires the grading endpoints into the router group. gradeGuards run
// only in front of the endpoints that start a grading run.
func (h *GradingHandler) Register(router fiber.Router, gradeGuards ...fiber.Handler) {
	staff := middleware.RequireRole("teacher", "admin")
	gradeRoute := guarded(gradeGuards)

	router.Get("/languages", h.listLanguages)
	router.Post("/grade", gradeRoute(h.grade)...)

	assignments := router.Group("/assignments/:assignmentId")
	assignments.Put("/reference", staff, h.putReference)
	assignments.Delete("/reference", staff, h.deleteReference)
	assignments.Put("/submissions", h.storeSubmission)
	assignments.Post("/submissions/:userId/run", gradeRoute(h.runStored)...)
	assignments.Get("/scores", h.listScores)
}

func guarded(guards []fiber.Handler) func(fiber.Handler) []fiber.Handler {
	return func(handler fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, guards...), handler)
	}
}

func (h *GradingHandler) gradeLanguage(language grading.Language) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return h.gradeAs(c, string(language))
	}
}

func (h *GradingHandler) grade(c *fiber.Ctx) error {
	language := c.Params("language")
	if language == "" {
		language = c.FormValue(fieldLanguage)
	}
	return h.gradeAs(c, language)
}

func (h *GradingHandler) gradeAs(c *fiber.Ctx, language string) error {
	submission, err := readFormFile(c, fieldSubmission)
	if err != nil {
		return h.gradeError(c, err)
	}

	result, err := h.service.Grade(c.UserContext(), dto.GradeRequest{
		AssignmentID: c.FormValue(fieldAssignmentID),
		Language:     language,
		UserID:       userIDStringFromContext(c),
		Submission:   submission,
	})
	if err != nil {
		return h.gradeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(dto.NewGradeResponse(result))
}

func (h *GradingHandler) runStored(c *fiber.Ctx) error {
	assignmentID := c.Params("assignmentId")
	userID := c.Params("userId")
	if !canActFor(c, userID) {
		return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	}

	language := c.FormValue(fieldLanguage)
	if language == "" {
		language = c.Query(fieldLanguage)
	}

	result, err := h.service.GradeStored(c.UserContext(), assignmentID, userID, language)
	if err != nil {
		return h.gradeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(dto.NewGradeResponse(result))
}

func (h *GradingHandler) storeSubmission(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	data, err := readFormFile(c, fieldSubmission)
	if err != nil {
		return h.handleError(c, err)
	}

	response, err := h.service.StoreSubmission(c.UserContext(), c.Params("assignmentId"), userID, data)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission stored", response)
}

func (h *GradingHandler) putReference(c *fiber.Ctx) error {
	data, err := readFormFile(c, fieldModelSolution)
	if err != nil {
		return h.handleError(c, err)
	}

	response, err := h.service.PutReference(c.UserContext(), c.Params("assignmentId"), data)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "model solution stored", response)
}

func (h *GradingHandler) deleteReference(c *fiber.Ctx) error {
	if err := h.service.DeleteReference(c.UserContext(), c.Params("assignmentId")); err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "model solution deleted", nil)
}

func (h *GradingHandler) listScores(c *fiber.Ctx) error {
	scores, err := h.service.ListScores(c.UserContext(), c.Params("assignmentId"))
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "scores retrieved", scores)
}

func (h *GradingHandler) listLanguages(c *fiber.Ctx) error {
	names := make([]string, 0, len(h.languages))
	for _, language := range h.languages {
		names = append(names, string(language))
	}
	return utils.SendSuccess(c, "languages retrieved", names)
}

// gradeError renders errors in the shape grading clients expect.
func (h *GradingHandler) gradeError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, grading.ErrMissingFields):
		return c.Status(fiber.StatusBadRequest).JSON(dto.GradeErrorResponse{Message: "Missing required fields"})
	case errors.Is(err, grading.ErrUnsupportedLanguage):
		return c.Status(fiber.StatusBadRequest).JSON(dto.GradeErrorResponse{Message: "Unsupported language", Error: err.Error()})
	case errors.As(err, &validationErrors):
		return c.Status(fiber.StatusBadRequest).JSON(dto.GradeErrorResponse{Message: "Invalid request", Error: validationErrors.Error()})
	case errors.Is(err, service.ErrStoredSubmissionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.GradeErrorResponse{Message: "Submission not found", Error: err.Error()})
	default:
		requestLogger(h.logger, c).Error().Err(err).Bool("infrastructure", grading.IsInfraError(err)).Msg("grading failed")
		return c.Status(fiber.StatusInternalServerError).JSON(dto.GradeErrorResponse{Message: "Internal Server Error", Error: err.Error()})
	}
}

func (h *GradingHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, grading.ErrMissingFields):
		return utils.SendError(c, fiber.StatusBadRequest, "missing required fields")
	case errors.Is(err, service.ErrInvalidArchive):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrReferenceNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrScoresUnavailable):
		return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("grading operation failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

// readFormFile returns nil without error when the field is absent.
func readFormFile(c *fiber.Ctx, field string) ([]byte, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return nil, nil
	}

	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", field, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	return data, nil
}

func canActFor(c *fiber.Ctx, userID string) bool {
	switch strings.ToLower(userRoleFromContext(c)) {
	case "teacher", "admin":
		return true
	}
	caller := userIDStringFromContext(c)
	return caller != "" && caller == strings.TrimSpace(userID)
}
