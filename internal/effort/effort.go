// Package effort implements the SPRT-based rerun engine used by converge
// and max effort modes: tests are rerun until each is classified
// true_pass, true_fail, or flake, pooling cross-session evidence when a
// target hash is available.
package effort

import (
	"context"
	"time"

	"github.com/kilroy-tests/orchestrator/internal/dag"
	"github.com/kilroy-tests/orchestrator/internal/evidence"
	"github.com/kilroy-tests/orchestrator/internal/executor"
	"github.com/kilroy-tests/orchestrator/internal/lifecycle"
)

// Classification is the per-test verdict the rerun loop converges to.
type Classification string

const (
	TruePass     Classification = "true_pass"
	TrueFail     Classification = "true_fail"
	Flake        Classification = "flake"
	Undecided    Classification = "undecided"
)

// SPRTDecision mirrors evidence.Decision plus the "not_evaluated" case for
// tests outside the effort mode's target set.
type SPRTDecision string

const (
	DecisionAccept       SPRTDecision = "accept"
	DecisionReject       SPRTDecision = "reject"
	DecisionContinue     SPRTDecision = "continue"
	DecisionNotEvaluated SPRTDecision = "not_evaluated"
)

// Mode selects which initial-status tests get rerun.
type Mode string

const (
	Converge Mode = "converge"
	Max      Mode = "max"
)

// Result is the classification and evidence trail for a single test.
type Result struct {
	TestName       string
	Classification Classification
	InitialStatus  executor.Status
	Runs           int
	Passes         int
	SPRTDecision   SPRTDecision
}

// RunResult is the aggregate outcome of an effort session.
type RunResult struct {
	Classifications map[string]Result
	TotalReruns     int
}

func classify(name string, initialStatus executor.Status, decision evidence.Decision, runs, passes int) Result {
	var classification Classification
	if initialStatus == executor.Failed {
		switch decision {
		case evidence.Accept:
			classification = Flake
		case evidence.Reject:
			classification = TrueFail
		default:
			classification = Undecided
		}
	} else {
		switch decision {
		case evidence.Accept:
			classification = TruePass
		case evidence.Reject:
			classification = Flake
		default:
			classification = Undecided
		}
	}

	return Result{
		TestName:       name,
		Classification: classification,
		InitialStatus:  initialStatus,
		Runs:           runs,
		Passes:         passes,
		SPRTDecision:   SPRTDecision(decision),
	}
}

// Runner reruns tests via SPRT until each target test is classified or
// its per-test rerun budget is exhausted.
type Runner struct {
	Graph          *dag.Graph
	Store          *lifecycle.Store
	Config         lifecycle.Config
	CommitSHA      string
	MaxReruns      int
	Mode           Mode
	InitialResults []executor.TestResult
	Timeout        time.Duration

	// TargetHashes maps test name to an opaque content hash. When set,
	// SPRT evaluation pools same-hash history recorded in prior sessions
	// in addition to the current session's runs. Nil disables pooling.
	TargetHashes map[string]string
}

// NewRunner constructs a Runner with the documented defaults (100 max
// reruns, 300s per-test timeout, converge mode).
func NewRunner(g *dag.Graph, store *lifecycle.Store, cfg lifecycle.Config, commitSHA string, initialResults []executor.TestResult) *Runner {
	return &Runner{
		Graph:          g,
		Store:          store,
		Config:         cfg,
		CommitSHA:      commitSHA,
		MaxReruns:      100,
		Mode:           Converge,
		InitialResults: initialResults,
		Timeout:        300 * time.Second,
	}
}

func (r *Runner) targetHash(name string) string {
	if r.TargetHashes == nil {
		return ""
	}
	return r.TargetHashes[name]
}

func (r *Runner) priorEvidence(name string) (runs, passes int) {
	hash := r.targetHash(name)
	if hash == "" {
		return 0, 0
	}
	history := r.Store.GetSameHashHistory(name, hash)
	for _, h := range history {
		runs++
		if h.Passed {
			passes++
		}
	}
	return runs, passes
}

// runNodeOnce runs a single named test in isolation (no dependency
// edges), used by both Runner.Run's rerun loop (via executeTest below)
// and the HiFi evaluator in hifi.go to take one extra sample of a test
// without re-running its dependents.
func runNodeOnce(ctx context.Context, g *dag.Graph, name string, timeout time.Duration) executor.TestResult {
	node := g.Nodes[name]
	single := &dag.Graph{
		Nodes: map[string]*dag.Node{name: {
			Name:       node.Name,
			Assertion:  node.Assertion,
			Executable: node.Executable,
		}},
		Order: []string{name},
	}
	seq := executor.NewSequential(single, executor.Diagnostic, nil)
	seq.Timeout = timeout
	results, _ := seq.Execute(ctx)
	if len(results) == 0 {
		return executor.TestResult{Name: name, Status: executor.Failed}
	}
	return results[0]
}

func (r *Runner) executeTest(ctx context.Context, name string) executor.TestResult {
	return runNodeOnce(ctx, r.Graph, name, r.Timeout)
}

// Run executes the rerun loop. The initial run (phase 1) is assumed
// already done; Run performs phase 2, rerunning until SPRT classifies
// every targeted test.
func (r *Runner) Run(ctx context.Context) RunResult {
	minReliability := r.Config.MinReliability
	significance := r.Config.StatisticalSignificance

	sessionRuns := map[string]int{}
	sessionPasses := map[string]int{}
	totalRuns := map[string]int{}
	totalPasses := map[string]int{}
	initialStatus := map[string]executor.Status{}

	for _, res := range r.InitialResults {
		if res.Status == executor.DependenciesFailed {
			continue
		}
		passed := res.Status == executor.Passed
		sessionRuns[res.Name] = 1
		if passed {
			sessionPasses[res.Name] = 1
		}
		initialStatus[res.Name] = res.Status

		priorRuns, priorPasses := r.priorEvidence(res.Name)
		totalRuns[res.Name] = priorRuns + 1
		totalPasses[res.Name] = priorPasses
		if passed {
			totalPasses[res.Name]++
		}
	}

	targets := map[string]bool{}
	if r.Mode == Converge {
		for name, status := range initialStatus {
			if status == executor.Failed {
				targets[name] = true
			}
		}
	} else {
		for name := range initialStatus {
			targets[name] = true
		}
	}

	decided := map[string]Result{}
	for name := range targets {
		decision := evidence.SPRTEvaluate(totalRuns[name], totalPasses[name], minReliability, significance)
		if decision != evidence.Continue {
			decided[name] = classify(name, initialStatus[name], decision, totalRuns[name], totalPasses[name])
			delete(targets, name)
		}
	}

	totalReruns := 0
	perTestReruns := map[string]int{}
	for name := range targets {
		perTestReruns[name] = 0
	}

	for len(targets) > 0 {
		for name := range targets {
			if perTestReruns[name] >= r.MaxReruns {
				decided[name] = classify(name, initialStatus[name], evidence.Continue, totalRuns[name], totalPasses[name])
				delete(targets, name)
				continue
			}

			result := r.executeTest(ctx, name)
			totalReruns++
			perTestReruns[name]++

			passed := result.Status == executor.Passed
			sessionRuns[name]++
			if passed {
				sessionPasses[name]++
			}
			totalRuns[name]++
			if passed {
				totalPasses[name]++
			}

			r.Store.RecordRunHashed(name, passed, r.CommitSHA, r.targetHash(name))

			decision := evidence.SPRTEvaluate(totalRuns[name], totalPasses[name], minReliability, significance)
			if decision != evidence.Continue {
				decided[name] = classify(name, initialStatus[name], decision, totalRuns[name], totalPasses[name])
				delete(targets, name)
			}
		}
		_ = r.Store.Save()
	}

	for name, status := range initialStatus {
		if _, ok := decided[name]; ok {
			continue
		}
		classification := TrueFail
		if status == executor.Passed {
			classification = TruePass
		}
		decided[name] = Result{
			TestName:       name,
			Classification: classification,
			InitialStatus:  status,
			Runs:           totalRuns[name],
			Passes:         totalPasses[name],
			SPRTDecision:   DecisionNotEvaluated,
		}
	}

	return RunResult{Classifications: decided, TotalReruns: totalReruns}
}
