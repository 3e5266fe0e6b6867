package grading

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/shlex"
)

// ArtifactPlaceholder is substituted with the packaged artifact path, relative
// to the project root, in the measure command.
const ArtifactPlaceholder = "{artifact}"

// MergePolicy describes how reference files are merged into a submission.
type MergePolicy struct {
	// TestsSource is the reference path copied into the project, "" for none.
	TestsSource string `mapstructure:"tests_source" json:"tests_source,omitempty"`
	// TestsTarget is where TestsSource lands inside the project root.
	TestsTarget string `mapstructure:"tests_target" json:"tests_target,omitempty"`
	// CopyReferenceTree copies every top-level reference entry into TestsTarget.
	CopyReferenceTree bool `mapstructure:"copy_reference_tree" json:"copy_reference_tree,omitempty"`
	// Manifest is copied from the reference root unless RequireManifest is set,
	// in which case it must already exist in the submission.
	Manifest        string   `mapstructure:"manifest" json:"manifest,omitempty"`
	RequireManifest bool     `mapstructure:"require_manifest" json:"require_manifest,omitempty"`
	CreateDirs      []string `mapstructure:"create_dirs" json:"create_dirs,omitempty"`
	// Shadowing lists root entries removed from the submission because the
	// build tool would prefer them over the trusted manifest or runner.
	Shadowing []string `mapstructure:"shadowing" json:"shadowing,omitempty"`
}

// ArtifactRule locates the runnable artifact produced by packaging.
type ArtifactRule struct {
	Dir    string `mapstructure:"dir" json:"dir,omitempty"`
	Suffix string `mapstructure:"suffix" json:"suffix,omitempty"`
}

// ToolchainConfig is the externally configurable form of a toolchain.
type ToolchainConfig struct {
	Image          string       `mapstructure:"image" json:"image,omitempty"`
	TestCommand    string       `mapstructure:"test_command" json:"test_command,omitempty"`
	PackageCommand string       `mapstructure:"package_command" json:"package_command,omitempty"`
	MeasureCommand string       `mapstructure:"measure_command" json:"measure_command,omitempty"`
	Parser         string       `mapstructure:"parser" json:"parser,omitempty"`
	Artifact       ArtifactRule `mapstructure:"artifact" json:"artifact,omitempty"`
	Merge          *MergePolicy `mapstructure:"merge" json:"merge,omitempty"`
}

// Toolchain is the resolved adapter record for one language.
type Toolchain struct {
	Language       Language
	Image          string
	TestCommand    []string
	PackageCommand []string
	MeasureCommand []string
	Artifact       ArtifactRule
	Merge          MergePolicy
	Parse          Parser
}

// RequiresArtifact reports whether packaging must yield an artifact.
func (t Toolchain) RequiresArtifact() bool {
	return len(t.PackageCommand) > 0 && t.Artifact.Suffix != ""
}

// DefaultToolchainConfigs returns the built-in command table.
func DefaultToolchainConfigs() map[Language]ToolchainConfig {
	makeMerge := MergePolicy{
		TestsSource: "tests",
		TestsTarget: "tests",
		Manifest:    "Makefile",
		CreateDirs:  []string{"bin"},
		Shadowing:   []string{"GNUmakefile", "makefile"},
	}

	return map[Language]ToolchainConfig{
		LanguageC: {
			Image:       "gcc:13",
			TestCommand: "make -f Makefile test",
			Parser:      "make",
			Merge:       &makeMerge,
		},
		LanguageCPP: {
			Image:       "gcc:13",
			TestCommand: "make -f Makefile test",
			Parser:      "make",
			Merge:       &makeMerge,
		},
		LanguagePython: {
			Image:       "python:3.12-slim",
			TestCommand: "python3 -P -m unittest discover -s tests -t .",
			Parser:      "unittest",
			Merge: &MergePolicy{
				TestsSource: "tests",
				TestsTarget: "tests",
				Shadowing:   []string{"unittest", "unittest.py"},
			},
		},
		LanguageJava: {
			Image:          "maven:3.9-eclipse-temurin-21",
			TestCommand:    "mvn test",
			PackageCommand: "mvn clean package",
			MeasureCommand: "java -jar " + ArtifactPlaceholder,
			Parser:         "surefire",
			Artifact:       ArtifactRule{Dir: "target", Suffix: ".jar"},
			Merge: &MergePolicy{
				TestsTarget:       "src",
				CopyReferenceTree: true,
				Manifest:          "pom.xml",
				RequireManifest:   true,
			},
		},
		LanguageRust: {
			Image:       "rust:1.80",
			TestCommand: "cargo test",
			Parser:      "cargo",
			Merge: &MergePolicy{
				TestsSource: "tests",
				TestsTarget: "tests",
				Manifest:    "Cargo.toml",
			},
		},
		LanguageJavaScript: {
			Image:       "node:20-slim",
			TestCommand: "node --test --test-reporter=tap tests/",
			Parser:      "node",
			Merge:       &MergePolicy{TestsSource: "tests", TestsTarget: "tests"},
		},
	}
}

// Registry resolves toolchains by language.
type Registry struct {
	toolchains map[Language]Toolchain
}

// NewRegistry builds a registry from the defaults with overrides applied
// field by field. Overrides for unknown languages are rejected.
func NewRegistry(overrides map[string]ToolchainConfig) (*Registry, error) {
	configs := DefaultToolchainConfigs()
	for name, override := range overrides {
		lang, err := ParseLanguage(name)
		if err != nil {
			return nil, err
		}
		configs[lang] = mergeConfig(configs[lang], override)
	}

	registry := &Registry{toolchains: make(map[Language]Toolchain, len(configs))}
	for lang, cfg := range configs {
		toolchain, err := resolveToolchain(lang, cfg)
		if err != nil {
			return nil, fmt.Errorf("toolchain %s: %w", lang, err)
		}
		registry.toolchains[lang] = toolchain
	}
	return registry, nil
}

// Lookup returns the toolchain for a language.
func (r *Registry) Lookup(lang Language) (Toolchain, error) {
	toolchain, ok := r.toolchains[lang]
	if !ok {
		return Toolchain{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	return toolchain, nil
}

// Languages lists the registered languages in sorted order.
func (r *Registry) Languages() []Language {
	langs := make([]Language, 0, len(r.toolchains))
	for lang := range r.toolchains {
		langs = append(langs, lang)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}

func mergeConfig(base, override ToolchainConfig) ToolchainConfig {
	if override.Image != "" {
		base.Image = override.Image
	}
	if override.TestCommand != "" {
		base.TestCommand = override.TestCommand
	}
	if override.PackageCommand != "" {
		base.PackageCommand = override.PackageCommand
	}
	if override.MeasureCommand != "" {
		base.MeasureCommand = override.MeasureCommand
	}
	if override.Parser != "" {
		base.Parser = override.Parser
	}
	if override.Artifact != (ArtifactRule{}) {
		base.Artifact = override.Artifact
	}
	if override.Merge != nil {
		base.Merge = override.Merge
	}
	return base
}

func resolveToolchain(lang Language, cfg ToolchainConfig) (Toolchain, error) {
	if strings.TrimSpace(cfg.TestCommand) == "" {
		return Toolchain{}, errors.New("test command is required")
	}

	parser, err := ParserFor(cfg.Parser)
	if err != nil {
		return Toolchain{}, err
	}

	testCmd, err := splitCommand(cfg.TestCommand)
	if err != nil {
		return Toolchain{}, err
	}
	packageCmd, err := splitCommand(cfg.PackageCommand)
	if err != nil {
		return Toolchain{}, err
	}
	measureCmd, err := splitCommand(cfg.MeasureCommand)
	if err != nil {
		return Toolchain{}, err
	}
	if len(measureCmd) == 0 {
		measureCmd = testCmd
	}

	toolchain := Toolchain{
		Language:       lang,
		Image:          cfg.Image,
		TestCommand:    testCmd,
		PackageCommand: packageCmd,
		MeasureCommand: measureCmd,
		Artifact:       cfg.Artifact,
		Parse:          parser,
	}
	if cfg.Merge != nil {
		toolchain.Merge = *cfg.Merge
	}
	for _, name := range toolchain.Merge.Shadowing {
		if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
			return Toolchain{}, fmt.Errorf("shadowing entry %q must be a plain file name", name)
		}
	}
	if toolchain.measureNeedsArtifact() && !toolchain.RequiresArtifact() {
		return Toolchain{}, fmt.Errorf("measure command references %s without a package command and artifact rule", ArtifactPlaceholder)
	}
	return toolchain, nil
}

func (t Toolchain) measureNeedsArtifact() bool {
	for _, arg := range t.MeasureCommand {
		if strings.Contains(arg, ArtifactPlaceholder) {
			return true
		}
	}
	return false
}

// measureArgs expands the artifact placeholder.
func (t Toolchain) measureArgs(artifact string) []string {
	args := make([]string, len(t.MeasureCommand))
	for i, arg := range t.MeasureCommand {
		args[i] = strings.ReplaceAll(arg, ArtifactPlaceholder, artifact)
	}
	return args
}

func splitCommand(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	args, err := shlex.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", raw, err)
	}
	return args, nil
}
