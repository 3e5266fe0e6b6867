package grading

import (
	"fmt"
	"regexp"
	"strconv"
)

// Parser turns raw toolchain output into test counts. Implementations must
// accept any input and fall back to zero counts when nothing matches.
type Parser func(output string) TestOutcome

var (
	makeSummaryPattern = regexp.MustCompile(`tests\s+(\d+)\s+(\d+)\s+(\d+)\s+(\d+)`)

	unittestRunPattern      = regexp.MustCompile(`Ran (\d+) tests?`)
	unittestFailuresPattern = regexp.MustCompile(`FAILED \((failures=(\d+))?`)
	unittestErrorsPattern   = regexp.MustCompile(`errors=(\d+)`)

	surefirePattern = regexp.MustCompile(`Tests run: (\d+), Failures: (\d+), Errors: (\d+), Skipped: (\d+)`)

	cargoResultPattern = regexp.MustCompile(`test result: \w+\. (\d+) passed; (\d+) failed; (\d+) ignored`)

	nodeTestsPattern   = regexp.MustCompile(`(?m)^(?:#|ℹ)\s*tests\s+(\d+)`)
	nodePassPattern    = regexp.MustCompile(`(?m)^(?:#|ℹ)\s*pass\s+(\d+)`)
	nodeFailPattern    = regexp.MustCompile(`(?m)^(?:#|ℹ)\s*fail\s+(\d+)`)
	nodeSkippedPattern = regexp.MustCompile(`(?m)^(?:#|ℹ)\s*skipped\s+(\d+)`)
)

var parsers = map[string]Parser{
	"make":     ParseMake,
	"unittest": ParseUnittest,
	"surefire": ParseSurefire,
	"cargo":    ParseCargo,
	"node":     ParseNode,
}

// ParserFor resolves a parser by its registry name.
func ParserFor(name string) (Parser, error) {
	parser, ok := parsers[name]
	if !ok {
		return nil, fmt.Errorf("unknown result parser %q", name)
	}
	return parser, nil
}

// ParseMake reads the `tests <suite> <run> <passed> <failed>` summary line
// printed by the reference Makefile harness.
func ParseMake(output string) TestOutcome {
	match := makeSummaryPattern.FindStringSubmatch(output)
	if match == nil {
		return TestOutcome{}
	}
	run := atoi(match[2])
	failed := atoi(match[4])
	return TestOutcome{Run: run, Passed: nonNegative(run - failed), Failed: failed}
}

// ParseUnittest reads the summary printed by python -m unittest.
func ParseUnittest(output string) TestOutcome {
	run := submatch(unittestRunPattern, output, 1)
	failures := submatch(unittestFailuresPattern, output, 2)
	errs := submatch(unittestErrorsPattern, output, 1)

	return TestOutcome{
		Run:    run,
		Passed: nonNegative(run - failures - errs),
		Failed: failures,
		Errors: intPtr(errs),
	}
}

// ParseSurefire reads the first Surefire summary line.
func ParseSurefire(output string) TestOutcome {
	match := surefirePattern.FindStringSubmatch(output)
	if match == nil {
		return TestOutcome{Skipped: intPtr(0)}
	}
	run := atoi(match[1])
	failures := atoi(match[2])
	errs := atoi(match[3])

	return TestOutcome{
		Run:     run,
		Passed:  nonNegative(run - failures - errs),
		Failed:  failures,
		Skipped: intPtr(atoi(match[4])),
	}
}

// ParseCargo sums every `test result:` line, one per test binary.
func ParseCargo(output string) TestOutcome {
	var passed, failed, ignored int
	for _, match := range cargoResultPattern.FindAllStringSubmatch(output, -1) {
		passed += atoi(match[1])
		failed += atoi(match[2])
		ignored += atoi(match[3])
	}
	return TestOutcome{
		Run:     passed + failed,
		Passed:  passed,
		Failed:  failed,
		Skipped: intPtr(ignored),
	}
}

// ParseNode reads the trailing summary of the node test runner, in either
// its TAP or spec reporter form.
func ParseNode(output string) TestOutcome {
	run := submatch(nodeTestsPattern, output, 1)
	failed := submatch(nodeFailPattern, output, 1)
	skipped := submatch(nodeSkippedPattern, output, 1)

	passed := nonNegative(run - failed - skipped)
	if nodePassPattern.MatchString(output) {
		passed = submatch(nodePassPattern, output, 1)
	}

	return TestOutcome{
		Run:     run,
		Passed:  passed,
		Failed:  failed,
		Skipped: intPtr(skipped),
	}
}

func submatch(pattern *regexp.Regexp, output string, group int) int {
	match := pattern.FindStringSubmatch(output)
	if match == nil || group >= len(match) {
		return 0
	}
	return atoi(match[group])
}

func atoi(raw string) int {
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return nonNegative(value)
}

func nonNegative(value int) int {
	if value < 0 {
		return 0
	}
	return value
}
