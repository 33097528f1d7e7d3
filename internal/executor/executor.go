// Package executor runs the tests named in a dag.Graph, either
// sequentially or with bounded parallelism, honoring the diagnostic
// (leaves-first, dependency-gated) and detection (roots-first,
// unconditional) execution modes, and classifies the aggregate outcome
// into an exit-code policy.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/kilroy-tests/orchestrator/internal/dag"
	"github.com/kilroy-tests/orchestrator/internal/procutil"
)

// Status is a single test's execution outcome.
type Status string

const (
	Passed                    Status = "passed"
	Failed                    Status = "failed"
	DependenciesFailed        Status = "dependencies_failed"
	PassedDependenciesFailed  Status = "passed+dependencies_failed"
	FailedDependenciesFailed  Status = "failed+dependencies_failed"
)

// IsFailure reports whether status counts toward the failure budget.
func (s Status) IsFailure() bool {
	return s == Failed || s == FailedDependenciesFailed
}

// TestResult is the outcome of running (or skipping) a single test.
type TestResult struct {
	Name       string
	Assertion  string
	Status     Status
	Duration   time.Duration
	Stdout     string
	Stderr     string
	ExitCode   int
	Lingering  bool
}

// Mode selects the execution order and dependency-gating policy.
type Mode string

const (
	Diagnostic Mode = "diagnostic"
	Detection  Mode = "detection"
)

func orderFor(g *dag.Graph, mode Mode) ([]string, error) {
	switch mode {
	case Diagnostic:
		return g.TopologicalSortLeavesFirst()
	case Detection:
		return g.BFSRootsFirst()
	default:
		return nil, fmt.Errorf("executor: unknown mode %q", mode)
	}
}

func runTest(ctx context.Context, node *dag.Node, timeout time.Duration) TestResult {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, node.Executable)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			lingering := false
			if cmd.Process != nil {
				lingering = procutil.TimedOutPIDStillAlive(cmd.Process.Pid)
			}
			stderr := fmt.Sprintf("test timed out after %s", timeout)
			if lingering {
				stderr += " (process still present after kill, possibly a detached child)"
			}
			return TestResult{
				Name:      node.Name,
				Assertion: node.Assertion,
				Status:    Failed,
				Duration:  duration,
				Stderr:    stderr,
				ExitCode:  -1,
				Lingering: lingering,
			}
		}
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return TestResult{
				Name:      node.Name,
				Assertion: node.Assertion,
				Status:    Failed,
				Duration:  duration,
				Stderr:    err.Error(),
				ExitCode:  -1,
			}
		}
		return TestResult{
			Name:      node.Name,
			Assertion: node.Assertion,
			Status:    Failed,
			Duration:  duration,
			Stdout:    stdout.String(),
			Stderr:    stderr.String(),
			ExitCode:  exitErr.ExitCode(),
		}
	}

	return TestResult{
		Name:      node.Name,
		Assertion: node.Assertion,
		Status:    Passed,
		Duration:  duration,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  0,
	}
}

// Sequential walks the chosen order on a single goroutine, stopping once
// the failure budget is exhausted.
type Sequential struct {
	Graph       *dag.Graph
	Mode        Mode
	MaxFailures *int
	Timeout     time.Duration

	results      map[string]TestResult
	failureCount int
}

// NewSequential constructs a Sequential executor with a default 300s
// per-test timeout.
func NewSequential(g *dag.Graph, mode Mode, maxFailures *int) *Sequential {
	return &Sequential{Graph: g, Mode: mode, MaxFailures: maxFailures, Timeout: 300 * time.Second}
}

// Execute runs every node in order, returning results in that order.
func (s *Sequential) Execute(ctx context.Context) ([]TestResult, error) {
	order, err := orderFor(s.Graph, s.Mode)
	if err != nil {
		return nil, err
	}

	s.results = make(map[string]TestResult, len(order))
	var out []TestResult

	for _, name := range order {
		if s.MaxFailures != nil && s.failureCount >= *s.MaxFailures {
			break
		}

		node := s.Graph.Nodes[name]

		if s.Mode == Diagnostic && s.dependencyFailed(name) {
			result := TestResult{Name: name, Assertion: node.Assertion, Status: DependenciesFailed}
			s.results[name] = result
			out = append(out, result)
			continue
		}

		result := runTest(ctx, node, s.Timeout)
		s.results[name] = result
		out = append(out, result)

		if result.Status == Failed {
			s.failureCount++
		}
	}

	return out, nil
}

func (s *Sequential) dependencyFailed(name string) bool {
	for _, dep := range s.Graph.GetDependencies(name) {
		if r, ok := s.results[dep]; ok {
			if r.Status == Failed || r.Status == DependenciesFailed {
				return true
			}
		}
	}
	return false
}
