package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/storage"
	"github.com/noah-isme/gema-grader/pkg/archive"
	"github.com/noah-isme/gema-grader/pkg/probe"
	"github.com/noah-isme/gema-grader/pkg/runner"
)

const localAssignment = "local"

// Exit codes reported to shells and CI jobs.
const (
	exitTestsFailed = 1
	exitInfraError  = 2
)

func main() {
	cmd := &cli.Command{
		Name:      "grade",
		Usage:     "grade a submission archive against a reference archive on this host",
		UsageText: "grade --language python --submission sub.zip --reference ref.zip",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "language",
				Aliases:  []string{"l"},
				Usage:    "submission language (python, java, c, cpp, rust, javascript)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "submission",
				Aliases:  []string{"s"},
				Usage:    "path to the submission archive",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "reference",
				Aliases:  []string{"r"},
				Usage:    "path to the reference solution archive",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "runs",
				Usage: "measured runs averaged for the performance profile",
				Value: grading.DefaultSampleRuns,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "timeout applied to every toolchain command",
				Value: 2 * time.Minute,
			},
			&cli.StringFlag{
				Name:  "probe",
				Usage: "resource probe: gnutime or process",
				Value: config.ProbeGNUTime,
			},
			&cli.StringFlag{
				Name:  "time-binary",
				Usage: "path to GNU time, resolved automatically when empty",
			},
			&cli.StringFlag{
				Name:  "toolchains",
				Usage: "YAML or JSON file overriding the built-in toolchain commands",
			},
			&cli.StringFlag{
				Name:  "scratch",
				Usage: "directory for temporary workspaces",
				Value: filepath.Join(os.TempDir(), "gema-grader"),
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print the API response body instead of a summary",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log pipeline progress to stderr",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInfraError)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	level := zerolog.WarnLevel
	if cmd.Bool("verbose") {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	language, err := grading.ParseLanguage(cmd.String("language"))
	if err != nil {
		return err
	}

	submission, err := os.ReadFile(cmd.String("submission"))
	if err != nil {
		return fmt.Errorf("read submission: %w", err)
	}
	reference, err := os.ReadFile(cmd.String("reference"))
	if err != nil {
		return fmt.Errorf("read reference: %w", err)
	}

	var overrides map[string]grading.ToolchainConfig
	if path := cmd.String("toolchains"); path != "" {
		overrides, err = config.LoadToolchains(path)
		if err != nil {
			return err
		}
	}
	toolchains, err := grading.NewRegistry(overrides)
	if err != nil {
		return err
	}

	references := storage.NewMemoryStore()
	if err := references.Put(ctx, localAssignment, reference); err != nil {
		return err
	}

	timeout := cmd.Duration("timeout")
	local := runner.NewLocalRunner(runner.LocalConfig{Timeout: timeout, Logger: logger})

	var measure probe.Probe
	switch cmd.String("probe") {
	case config.ProbeProcess:
		measure = probe.NewProcessProbe(local, 0)
	case config.ProbeGNUTime:
		measure = probe.NewGNUTimeProbe(local, cmd.String("time-binary"))
	default:
		return fmt.Errorf("unknown probe %q", cmd.String("probe"))
	}

	engine := grading.NewEngine(
		toolchains,
		references,
		archive.NewExtractor(archive.Config{Logger: logger}),
		local,
		grading.NewSampler(measure, cmd.Int("runs"), logger),
		grading.EngineConfig{
			ScratchRoot:    cmd.String("scratch"),
			CommandTimeout: timeout,
			Logger:         logger,
		},
	)

	result, gradeErr := engine.Grade(ctx, grading.Request{
		AssignmentID: localAssignment,
		Language:     language,
		Submission:   submission,
	})

	if cmd.Bool("json") {
		if err := writeJSON(os.Stdout, result, gradeErr); err != nil {
			return err
		}
	} else {
		writeSummary(os.Stdout, result, gradeErr)
	}

	switch {
	case gradeErr != nil:
		return cli.Exit("", exitInfraError)
	case result.Outcome == grading.OutcomeTestsFailed:
		return cli.Exit("", exitTestsFailed)
	}
	return nil
}
