package grading

import (
	"context"
	"fmt"
	"time"

	"github.com/noah-isme/gema-grader/pkg/runner"
)

// Execution is the tagged result of running a toolchain's test and
// packaging steps against a materialized project.
type Execution struct {
	Outcome  Outcome
	Output   string
	Tests    TestOutcome
	Artifact string
	Steps    []runner.Result
}

// Execute runs the test command and, when it passes, the packaging step.
//
// A non-zero exit of the test command yields OutcomeTestsFailed with the
// counts parsed from its output. Every other failure is returned as an
// *InfraError and no test counts are reported.
func (t Toolchain) Execute(ctx context.Context, r runner.Runner, project Project, timeout time.Duration) (Execution, error) {
	var execution Execution

	testResult, err := r.Run(ctx, t.invocation(t.TestCommand, project, timeout))
	execution.Steps = append(execution.Steps, testResult)
	if err != nil {
		return execution, infraError(StageTest, err)
	}

	execution.Output = testResult.Output()
	execution.Tests = t.Parse(execution.Output)
	if !testResult.Succeeded() {
		execution.Outcome = OutcomeTestsFailed
		return execution, nil
	}

	if len(t.PackageCommand) > 0 {
		packageResult, err := r.Run(ctx, t.invocation(t.PackageCommand, project, timeout))
		execution.Steps = append(execution.Steps, packageResult)
		if err != nil {
			return execution, infraError(StagePackage, err)
		}
		if !packageResult.Succeeded() {
			return execution, infraError(StagePackage, fmt.Errorf("%s exited with status %d: %s",
				runner.Invocation{Command: t.PackageCommand}.String(), packageResult.ExitCode, tail(packageResult.Output(), 2048)))
		}
	}

	if t.RequiresArtifact() {
		artifact, err := FindArtifact(project.Root, t.Artifact)
		if err != nil {
			return execution, infraError(StageArtifact, err)
		}
		execution.Artifact = artifact
	}

	execution.Outcome = OutcomeCompleted
	return execution, nil
}

// MeasureInvocation builds the command the sampler runs repeatedly.
func (t Toolchain) MeasureInvocation(project Project, artifact string, timeout time.Duration) runner.Invocation {
	return t.invocation(t.measureArgs(artifact), project, timeout)
}

func (t Toolchain) invocation(command []string, project Project, timeout time.Duration) runner.Invocation {
	return runner.Invocation{
		Command: append([]string(nil), command...),
		Dir:     project.Root,
		Timeout: timeout,
		Image:   t.Image,
	}
}

func tail(output string, limit int) string {
	if len(output) <= limit {
		return output
	}
	return output[len(output)-limit:]
}
