package effort

import (
	"context"
	"sort"
	"time"

	"github.com/kilroy-tests/orchestrator/internal/dag"
	"github.com/kilroy-tests/orchestrator/internal/evidence"
	"github.com/kilroy-tests/orchestrator/internal/executor"
	"github.com/kilroy-tests/orchestrator/internal/lifecycle"
)

// HiFiEvaluator reruns a target test set at the current commit until the
// E-value engine's test-set verdict resolves to GREEN or RED, or the
// rerun budget is exhausted.
type HiFiEvaluator struct {
	Graph     *dag.Graph
	Store     *lifecycle.Store
	Config    lifecycle.Config
	CommitSHA string
	MaxReruns int
	Timeout   time.Duration
	AlphaSet  float64
	BetaSet   float64

	// TargetTests scopes the evaluation to these names. Nil evaluates
	// every non-disabled test in Graph.
	TargetTests []string
}

// NewHiFiEvaluator constructs an evaluator with the documented defaults
// (cfg.MaxReruns reruns, 300s per-test timeout, alpha_set = beta_set = 0.05).
func NewHiFiEvaluator(g *dag.Graph, store *lifecycle.Store, cfg lifecycle.Config, commitSHA string) *HiFiEvaluator {
	return &HiFiEvaluator{
		Graph:     g,
		Store:     store,
		Config:    cfg,
		CommitSHA: commitSHA,
		MaxReruns: cfg.MaxReruns,
		Timeout:   300 * time.Second,
		AlphaSet:  0.05,
		BetaSet:   0.05,
	}
}

func (h *HiFiEvaluator) targetNames() []string {
	var names []string
	if h.TargetTests != nil {
		for _, name := range h.TargetTests {
			if node, ok := h.Graph.Nodes[name]; ok && !node.Disabled {
				names = append(names, name)
			}
		}
	} else {
		for name, node := range h.Graph.Nodes {
			if !node.Disabled {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func (h *HiFiEvaluator) computeVerdict(names []string) evidence.TestSetVerdict {
	values := make([]evidence.TestEValue, 0, len(names))
	for _, name := range names {
		history := h.Store.GetTestHistory(name)
		entries := make([]evidence.HistoryEntry, len(history))
		for i, rec := range history {
			entries[i] = evidence.HistoryEntry{Passed: rec.Passed, Commit: rec.Commit}
		}
		values = append(values, evidence.ComputeTestEValueHiFi(name, entries, h.CommitSHA, h.Config.MinReliability, evidence.DefaultMargin))
	}
	return evidence.ComputeTestSetVerdict(values, h.AlphaSet, h.BetaSet)
}

// HiFiResult is the outcome of a bounded rerun-until-verdict evaluation.
type HiFiResult struct {
	Verdict     evidence.TestSetVerdict
	TotalReruns int
}

// Evaluate runs the documented loop: compute the hifi verdict, return on
// GREEN/RED, else rerun every target test once and repeat, bounded by
// MaxReruns iterations. On exhaustion it returns the final (possibly
// UNDECIDED) verdict.
func (h *HiFiEvaluator) Evaluate(ctx context.Context) HiFiResult {
	names := h.targetNames()
	totalReruns := 0

	for iteration := 0; ; iteration++ {
		verdict := h.computeVerdict(names)
		if verdict.Verdict != evidence.Undecided || iteration >= h.MaxReruns {
			return HiFiResult{Verdict: verdict, TotalReruns: totalReruns}
		}

		for _, name := range names {
			result := runNodeOnce(ctx, h.Graph, name, h.Timeout)
			h.Store.RecordRun(name, result.Status == executor.Passed, h.CommitSHA)
			totalReruns++
		}
		_ = h.Store.Save()
	}
}
