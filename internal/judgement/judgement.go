// Package judgement re-executes a test's judgement target against its
// previously stored measurement file, for retroactive verdict
// re-evaluation without re-running the test itself.
package judgement

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/kilroy-tests/orchestrator/internal/dag"
	"github.com/kilroy-tests/orchestrator/internal/logparser"
)

// Status values a Result can hold.
const (
	StatusPassed         = "passed"
	StatusFailed         = "failed"
	StatusSkipped        = "skipped"
	StatusJudgementError = "judgement_error"
)

// Result is the outcome of executing a judgement target.
type Result struct {
	Status           string
	Reason           string
	MeasurementsFile string
	JudgementOutput  *logparser.ParsedTestOutput
	ExitCode         *int
}

func skipped(reason string) Result {
	return Result{Status: StatusSkipped, Reason: reason}
}

// Execute looks up testName's judgement_executable in manifest, loads its
// stored measurements from measurementsDir, and runs the judgement
// target with the measurement file path as its sole argument.
func Execute(ctx context.Context, testName string, manifest *dag.Graph, measurementsDir string, timeout time.Duration) Result {
	node, ok := manifest.Nodes[testName]
	if !ok {
		return skipped(fmt.Sprintf("test %q not found in manifest", testName))
	}

	if node.JudgementExecutable == nil {
		return skipped("no judgement target configured")
	}
	judgementExecutable := *node.JudgementExecutable

	loaded, err := logparser.LoadMeasurements(testName, measurementsDir)
	if err != nil {
		return Result{Status: StatusJudgementError, Reason: fmt.Sprintf("loading measurements: %s", err)}
	}
	if loaded == nil {
		return skipped("no stored measurements available")
	}

	measurementFile := filepath.Join(measurementsDir, logparser.LabelToFilename(testName)+".json")

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, judgementExecutable, measurementFile)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if runErr != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return Result{
				Status:           StatusJudgementError,
				Reason:           fmt.Sprintf("judgement timed out after %s", timeout),
				MeasurementsFile: measurementFile,
			}
		}
		if _, ok := runErr.(*exec.ExitError); !ok {
			return Result{
				Status:           StatusJudgementError,
				Reason:           fmt.Sprintf("judgement executable not found: %s", judgementExecutable),
				MeasurementsFile: measurementFile,
			}
		}
	}

	exitCode := cmd.ProcessState.ExitCode()
	parsed := logparser.ParseTestOutput(stdout.String())

	status := StatusPassed
	reason := ""
	if exitCode != 0 {
		status = StatusFailed
		reason = fmt.Sprintf("exit code %d", exitCode)
	}

	return Result{
		Status:           status,
		Reason:           reason,
		MeasurementsFile: measurementFile,
		JudgementOutput:  &parsed,
		ExitCode:         &exitCode,
	}
}

// FindRejudgeableTests returns the names of tests that have both a
// judgement_executable configured and stored measurements available.
func FindRejudgeableTests(manifest *dag.Graph, measurementsDir string) []string {
	var eligible []string
	for name, node := range manifest.Nodes {
		if node.JudgementExecutable == nil {
			continue
		}
		loaded, err := logparser.LoadMeasurements(name, measurementsDir)
		if err != nil || loaded == nil {
			continue
		}
		eligible = append(eligible, name)
	}
	return eligible
}
