package grading

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/pkg/archive"
	"github.com/noah-isme/gema-grader/pkg/runner"
)

// ReferenceSource returns the reference archive of an assignment.
type ReferenceSource interface {
	Get(ctx context.Context, assignmentID string) ([]byte, error)
}

// ArchiveExtractor unpacks an archive payload into a directory.
type ArchiveExtractor interface {
	Extract(ctx context.Context, payload []byte, target string) (archive.Stats, error)
}

// Request is one grading run's input.
type Request struct {
	AssignmentID string
	UserID       string
	Language     Language
	Submission   []byte
}

// EngineConfig groups engine tunables.
type EngineConfig struct {
	ScratchRoot    string
	CommandTimeout time.Duration
	SampleTimeout  time.Duration
	Logger         zerolog.Logger
}

// Engine runs the grading pipeline: download, extract, materialize, test,
// sample. Every run owns a fresh workspace that is removed before Grade
// returns.
type Engine struct {
	toolchains *Registry
	references ReferenceSource
	extractor  ArchiveExtractor
	runner     runner.Runner
	sampler    *Sampler
	cfg        EngineConfig
	tracer     trace.Tracer
	logger     zerolog.Logger

	removeWorkspace func(*Workspace) error
}

// NewEngine wires the pipeline collaborators together.
func NewEngine(toolchains *Registry, references ReferenceSource, extractor ArchiveExtractor, r runner.Runner, sampler *Sampler, cfg EngineConfig) *Engine {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 2 * time.Minute
	}
	if cfg.SampleTimeout <= 0 {
		cfg.SampleTimeout = cfg.CommandTimeout
	}

	return &Engine{
		toolchains: toolchains,
		references: references,
		extractor:  extractor,
		runner:     r,
		sampler:    sampler,
		cfg:        cfg,
		tracer:     otel.Tracer("github.com/noah-isme/gema-grader/internal/grading"),
		logger:     cfg.Logger.With().Str("component", "grading_engine").Logger(),

		removeWorkspace: (*Workspace).Destroy,
	}
}

// Languages lists the languages the engine can grade.
func (e *Engine) Languages() []Language {
	return e.toolchains.Languages()
}

// Grade runs one submission through the pipeline.
//
// Missing input and unknown languages are returned as plain errors before any
// workspace exists. Infrastructure failures are returned as *InfraError with
// a result whose Outcome is OutcomeInfrastructureError and carries no counts.
// Failing tests are not an error.
func (e *Engine) Grade(ctx context.Context, req Request) (result Result, err error) {
	start := time.Now()
	result = Result{
		Language:     req.Language,
		AssignmentID: req.AssignmentID,
		UserID:       req.UserID,
	}

	if strings.TrimSpace(req.AssignmentID) == "" || len(req.Submission) == 0 {
		return result, ErrMissingFields
	}
	toolchain, err := e.toolchains.Lookup(req.Language)
	if err != nil {
		return result, err
	}

	ctx, span := e.tracer.Start(ctx, "grading.grade", trace.WithAttributes(
		attribute.String("grading.language", string(req.Language)),
		attribute.String("grading.assignment_id", req.AssignmentID),
	))
	defer span.End()

	logger := e.logger.With().
		Str("language", string(req.Language)).
		Str("assignment_id", req.AssignmentID).
		Str("user_id", req.UserID).
		Logger()

	defer func() {
		result.Duration = time.Since(start)
		if err != nil {
			result.Outcome = OutcomeInfrastructureError
			result.Message = ""
			result.Tests = nil
			result.Performance = nil
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error().Err(err).Str("workspace_id", result.WorkspaceID).Msg("grading aborted by infrastructure error")
		} else {
			span.SetAttributes(attribute.String("grading.outcome", string(result.Outcome)))
			logger.Info().
				Str("workspace_id", result.WorkspaceID).
				Str("outcome", string(result.Outcome)).
				Dur("duration", result.Duration).
				Msg("grading finished")
		}
		observability.GradingRuns().WithLabelValues(string(req.Language), string(result.Outcome)).Inc()
	}()

	stage := StageDownload
	defer func() {
		if recovered := recover(); recovered != nil {
			err = infraError(stage, fmt.Errorf("panic: %v", recovered))
		}
	}()

	stageStart := time.Now()
	reference, err := e.references.Get(ctx, req.AssignmentID)
	if err != nil {
		return result, infraError(stage, fmt.Errorf("error downloading model solution: %w", err))
	}
	e.observe(req.Language, stage, stageStart)

	stage = StageWorkspace
	ws, err := NewWorkspace(e.cfg.ScratchRoot)
	if err != nil {
		return result, infraError(stage, err)
	}
	result.WorkspaceID = ws.ID
	defer e.destroy(ws, logger)

	stage = StageExtract
	stageStart = time.Now()
	if _, err := e.extractor.Extract(ctx, reference, ws.ReferenceDir()); err != nil {
		return result, infraError(stage, fmt.Errorf("model solution: %w", err))
	}
	if _, err := e.extractor.Extract(ctx, req.Submission, ws.SubmissionDir()); err != nil {
		return result, infraError(stage, fmt.Errorf("submission: %w", err))
	}
	e.observe(req.Language, stage, stageStart)

	stage = StageMaterialize
	stageStart = time.Now()
	project, err := Materialize(ws, toolchain.Merge)
	if err != nil {
		return result, infraError(stage, err)
	}
	e.observe(req.Language, stage, stageStart)

	stage = StageTest
	stageStart = time.Now()
	execution, err := toolchain.Execute(ctx, e.runner, project, e.cfg.CommandTimeout)
	if err != nil {
		return result, err
	}
	e.observe(req.Language, stage, stageStart)

	tests := execution.Tests
	result.Message = MessageTestsCompleted
	result.Output = execution.Output
	result.Outcome = execution.Outcome
	result.Tests = &tests
	if execution.Outcome == OutcomeTestsFailed {
		return result, nil
	}

	stage = StageSample
	stageStart = time.Now()
	profile, err := e.sampler.Sample(ctx, toolchain.MeasureInvocation(project, execution.Artifact, e.cfg.SampleTimeout))
	if err != nil {
		observability.SamplerFailures().WithLabelValues(string(req.Language)).Inc()
		return result, err
	}
	e.observe(req.Language, stage, stageStart)
	result.Performance = &profile

	return result, nil
}

func (e *Engine) destroy(ws *Workspace, logger zerolog.Logger) {
	if err := e.removeWorkspace(ws); err != nil {
		observability.WorkspaceCleanupFailures().Inc()
		logger.Error().Err(err).Str("workspace_id", ws.ID).Str("stage", string(StageCleanup)).Msg("failed to remove workspace")
	}
}

func (e *Engine) observe(lang Language, stage Stage, since time.Time) {
	observability.GradingStageDuration().WithLabelValues(string(lang), string(stage)).Observe(time.Since(since).Seconds())
}
