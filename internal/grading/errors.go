package grading

import (
	"errors"
	"fmt"
)

// Stage names the pipeline step an infrastructure failure happened in.
type Stage string

const (
	StageInput       Stage = "input"
	StageWorkspace   Stage = "workspace"
	StageDownload    Stage = "download"
	StageExtract     Stage = "extract"
	StageMaterialize Stage = "materialize"
	StageTest        Stage = "test"
	StagePackage     Stage = "package"
	StageArtifact    Stage = "artifact"
	StageSample      Stage = "sample"
	StageCleanup     Stage = "cleanup"
)

var (
	// ErrMissingFields indicates the request lacks the archive or assignment id.
	ErrMissingFields = errors.New("missing required fields")
	// ErrUnsupportedLanguage indicates no toolchain is registered for the language.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrRootFolderNotFound indicates the extracted archive has no project folder.
	ErrRootFolderNotFound = errors.New("could not determine root folder")
	// ErrManifestMissing indicates the submission lacks a required build manifest.
	ErrManifestMissing = errors.New("build manifest missing")
	// ErrReferenceIncomplete indicates the reference archive lacks tests or a manifest.
	ErrReferenceIncomplete = errors.New("reference archive incomplete")
	// ErrArtifactNotFound indicates packaging produced no runnable artifact.
	ErrArtifactNotFound = errors.New("packaged artifact not found")
	// ErrSamplingFailed indicates a measured run could not be completed or parsed.
	ErrSamplingFailed = errors.New("performance sampling failed")
)

// InfraError is a failure of the grading system itself, as opposed to a
// failing test suite. It always aborts the pipeline.
type InfraError struct {
	Stage Stage
	Err   error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *InfraError) Unwrap() error {
	return e.Err
}

func infraError(stage Stage, err error) error {
	var existing *InfraError
	if errors.As(err, &existing) {
		return err
	}
	return &InfraError{Stage: stage, Err: err}
}

// IsInfraError reports whether err is tagged as an infrastructure failure.
func IsInfraError(err error) bool {
	var infra *InfraError
	return errors.As(err, &infra)
}
