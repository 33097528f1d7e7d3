package lifecycle

import (
	"context"
	"time"

	"github.com/kilroy-tests/orchestrator/internal/dag"
	"github.com/kilroy-tests/orchestrator/internal/evidence"
	"github.com/kilroy-tests/orchestrator/internal/executor"
)

// TransitionEvent records a single lifecycle state change produced by
// the burn-in sweep or the result processor.
type TransitionEvent struct {
	Event    string
	Test     string
	OldState State
	NewState State
}

// SweepResult is the outcome of a burn-in sweep: tests decided (moved to
// stable or flaky) and tests still burning in after max iterations.
type SweepResult struct {
	Decided      map[string]State
	Undecided    []string
	TotalRuns    int
}

// BurnInSweep runs burning_in tests repeatedly, evaluating SPRT after
// each run, until every test is decided or MaxIterations is reached.
type BurnInSweep struct {
	Graph         *dag.Graph
	Store         *Store
	Config        Config
	CommitSHA     string
	MaxIterations int
	Timeout       time.Duration
}

// NewBurnInSweep constructs a sweep with the documented defaults
// (200 max iterations, 300s per-test timeout).
func NewBurnInSweep(g *dag.Graph, store *Store, cfg Config, commitSHA string) *BurnInSweep {
	return &BurnInSweep{
		Graph:         g,
		Store:         store,
		Config:        cfg,
		CommitSHA:     commitSHA,
		MaxIterations: 200,
		Timeout:       300 * time.Second,
	}
}

// Run executes the sweep loop. If testNames is nil, every burning_in
// test from the store is swept; otherwise only the intersection of
// testNames with burning_in tests.
func (b *BurnInSweep) Run(ctx context.Context, testNames []string) SweepResult {
	var burningIn []string
	if testNames != nil {
		for _, name := range testNames {
			if b.Store.GetTestState(name) == StateBurningIn {
				burningIn = append(burningIn, name)
			}
		}
	} else {
		burningIn = b.Store.GetTestsByState(StateBurningIn)
	}

	decided := make(map[string]State)
	totalRuns := 0
	iteration := 0

	for len(burningIn) > 0 && iteration < b.MaxIterations {
		iteration++

		var stillBurning []string
		for _, name := range burningIn {
			node, ok := b.Graph.Nodes[name]
			if !ok {
				continue
			}

			result := executor.NewSequential(singleNodeGraph(node), executor.Diagnostic, nil)
			result.Timeout = b.Timeout
			results, _ := result.Execute(ctx)
			passed := len(results) > 0 && results[0].Status == executor.Passed
			totalRuns++

			b.Store.RecordRun(name, passed, b.CommitSHA)
			_ = b.Store.Save()

			entry, ok := b.Store.GetTestEntry(name)
			if !ok {
				stillBurning = append(stillBurning, name)
				continue
			}
			runs, passes := RunsAndPassesFromHistory(entry.History)

			decision := evidence.SPRTEvaluate(runs, passes, b.Config.MinReliability, b.Config.StatisticalSignificance)
			switch decision {
			case evidence.Accept:
				_ = b.Store.SetTestState(name, StateStable, false)
				_ = b.Store.Save()
				decided[name] = StateStable
			case evidence.Reject:
				_ = b.Store.SetTestState(name, StateFlaky, false)
				_ = b.Store.Save()
				decided[name] = StateFlaky
			default:
				stillBurning = append(stillBurning, name)
			}
		}
		burningIn = stillBurning
	}

	return SweepResult{Decided: decided, Undecided: burningIn, TotalRuns: totalRuns}
}

// singleNodeGraph wraps a single dag.Node in a one-node graph so the
// sequential executor's subprocess-running machinery can be reused for
// an isolated burn-in run.
func singleNodeGraph(node *dag.Node) *dag.Graph {
	clone := *node
	clone.DependsOn = nil
	clone.Dependents = nil
	return &dag.Graph{Nodes: map[string]*dag.Node{clone.Name: &clone}, Order: []string{clone.Name}}
}

// DemotionOutcome mirrors evidence.DemotionOutcome for lifecycle callers
// that don't otherwise import internal/evidence.
type DemotionOutcome = evidence.DemotionOutcome

// HandleStableFailure re-runs a failed stable test up to maxReruns times,
// evaluating reverse-chronological SPRT over its full persisted history
// after each run, until demote/retain or exhaustion (inconclusive).
func HandleStableFailure(ctx context.Context, g *dag.Graph, store *Store, cfg Config, testName, commitSHA string, maxReruns int) DemotionOutcome {
	node, ok := g.Nodes[testName]
	if !ok {
		return evidence.Inconclusive
	}

	for i := 0; i < maxReruns; i++ {
		exec := executor.NewSequential(singleNodeGraph(node), executor.Diagnostic, nil)
		results, _ := exec.Execute(ctx)
		passed := len(results) > 0 && results[0].Status == executor.Passed

		store.RecordRun(testName, passed, commitSHA)
		_ = store.Save()

		history := store.GetTestHistory(testName)
		historyBools := make([]bool, len(history))
		for i, h := range history {
			historyBools[i] = h.Passed
		}

		decision := evidence.DemotionEvaluate(historyBools, cfg.MinReliability, cfg.StatisticalSignificance)
		switch decision {
		case evidence.Demote:
			_ = store.SetTestState(testName, StateFlaky, false)
			_ = store.Save()
			return evidence.Demote
		case evidence.Retain:
			return evidence.Retain
		}
	}
	return evidence.Inconclusive
}

// SyncDisabledState transitions DAG-disabled tests to the disabled
// lifecycle state and re-enables previously-disabled tests that are no
// longer marked disabled in the manifest.
func SyncDisabledState(g *dag.Graph, store *Store) []TransitionEvent {
	var events []TransitionEvent

	for name, node := range g.Nodes {
		current := store.GetTestState(name)

		switch {
		case node.Disabled && current != StateDisabled:
			old := current
			if old == "" {
				old = StateNew
			}
			_ = store.SetTestState(name, StateDisabled, false)
			events = append(events, TransitionEvent{Event: "disabled", Test: name, OldState: old, NewState: StateDisabled})
		case !node.Disabled && current == StateDisabled:
			_ = store.SetTestState(name, StateNew, false)
			events = append(events, TransitionEvent{Event: "re-enabled", Test: name, OldState: StateDisabled, NewState: StateNew})
		}
	}

	if len(events) > 0 {
		_ = store.Save()
	}
	return events
}

// FilterByState returns DAG test names matching any of includeStates.
// Tests absent from the store are treated as stable.
func FilterByState(g *dag.Graph, store *Store, includeStates map[State]bool) []string {
	if includeStates == nil {
		includeStates = map[State]bool{StateStable: true}
	}

	var out []string
	for name := range g.Nodes {
		state := store.GetTestState(name)
		if state == "" {
			if includeStates[StateStable] {
				out = append(out, name)
			}
			continue
		}
		if includeStates[state] {
			out = append(out, name)
		}
	}
	return out
}

// ProcessResults records every result that is neither dependencies_failed
// nor from a disabled test, and drives lifecycle transitions: burning_in
// tests get SPRT-evaluated after each run; a failing stable test is
// evaluated for demotion via the full persisted history. flaky/new tests
// are only recorded; disabled tests are skipped entirely.
func ProcessResults(results []executor.TestResult, store *Store, cfg Config, commitSHA string) []TransitionEvent {
	var events []TransitionEvent

	for _, result := range results {
		if result.Status == executor.DependenciesFailed {
			continue
		}

		state := store.GetTestState(result.Name)
		if state == StateDisabled {
			continue
		}

		passed := result.Status == executor.Passed
		store.RecordRun(result.Name, passed, commitSHA)
		_ = store.Save()

		switch {
		case state == StateBurningIn:
			entry, ok := store.GetTestEntry(result.Name)
			if !ok {
				continue
			}
			runs, passes := RunsAndPassesFromHistory(entry.History)
			decision := evidence.SPRTEvaluate(runs, passes, cfg.MinReliability, cfg.StatisticalSignificance)
			switch decision {
			case evidence.Accept:
				_ = store.SetTestState(result.Name, StateStable, false)
				_ = store.Save()
				events = append(events, TransitionEvent{Event: "accepted", Test: result.Name, OldState: StateBurningIn, NewState: StateStable})
			case evidence.Reject:
				_ = store.SetTestState(result.Name, StateFlaky, false)
				_ = store.Save()
				events = append(events, TransitionEvent{Event: "rejected", Test: result.Name, OldState: StateBurningIn, NewState: StateFlaky})
			}

		case state == StateStable && !passed:
			history := store.GetTestHistory(result.Name)
			historyBools := make([]bool, len(history))
			for i, h := range history {
				historyBools[i] = h.Passed
			}
			decision := evidence.DemotionEvaluate(historyBools, cfg.MinReliability, cfg.StatisticalSignificance)
			switch decision {
			case evidence.Demote:
				_ = store.SetTestState(result.Name, StateFlaky, false)
				_ = store.Save()
				events = append(events, TransitionEvent{Event: "demoted", Test: result.Name, OldState: StateStable, NewState: StateFlaky})
			case evidence.Inconclusive:
				_ = store.SetTestState(result.Name, StateBurningIn, false)
				_ = store.Save()
				events = append(events, TransitionEvent{Event: "suspicious", Test: result.Name, OldState: StateStable, NewState: StateBurningIn})
			}
		}
	}

	return events
}
