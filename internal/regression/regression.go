// Package regression selects a bounded subset of stable tests likely to
// catch a regression for a given set of changed files, using bounded BFS
// expansion through a co-occurrence graph with hop decay and recency
// weighting, a dependency closure pass, and a fallback to the full
// manifest when too few tests are found.
package regression

import (
	"math"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kilroy-tests/orchestrator/internal/cooccurrence"
	"github.com/kilroy-tests/orchestrator/internal/dag"
)

// Config tunes the selection algorithm.
type Config struct {
	MaxTestPercentage     float64
	MaxHops               int
	DecayPerHop           float64
	RecencyHalfLifeDays   float64
	MinTests              int
	SourceExtensions      []string
}

// DefaultConfig mirrors the documented defaults (10% of the manifest, 2
// hops, 0.5 hop decay, 180-day recency half-life, minimum 3 tests).
func DefaultConfig() Config {
	return Config{
		MaxTestPercentage:   0.10,
		MaxHops:             2,
		DecayPerHop:         0.5,
		RecencyHalfLifeDays: 180.0,
		SourceExtensions:    append([]string(nil), cooccurrence.DefaultSourceExtensions...),
		MinTests:            3,
	}
}

// SelectionResult is the outcome of a regression selection run.
type SelectionResult struct {
	SelectedTests     []string
	Scores            map[string]float64
	SelectionReason   map[string]string
	FallbackUsed      bool
	TotalStableTests  int
	ChangedFiles      []string
}

// nowFunc is overridable in tests.
var nowFunc = func() time.Time { return time.Now().UTC() }

func daysSince(timestamp string) float64 {
	if timestamp == "" {
		return 365.0
	}
	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return 365.0
	}
	delta := nowFunc().Sub(t).Seconds() / 86400.0
	if delta < 0 {
		return 0.0
	}
	return delta
}

func recencyWeight(ageDays, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		return 1.0
	}
	return math.Exp(-0.693 * ageDays / halfLifeDays)
}

// ResolveTestLabel maps a test file path from git history to a manifest
// test label: first by substring match against the label's executable
// path, then by exact basename match, then by loose basename-in-label
// containment.
func ResolveTestLabel(testFilePath string, manifest *dag.Graph) (string, bool) {
	for label, node := range manifest.Nodes {
		if node.Executable != "" && strings.Contains(node.Executable, testFilePath) {
			return label, true
		}
	}

	basename := strings.TrimSuffix(path.Base(testFilePath), path.Ext(testFilePath))
	if _, ok := manifest.Nodes[basename]; ok {
		return basename, true
	}

	for label := range manifest.Nodes {
		if basename != "" && strings.Contains(label, basename) {
			return label, true
		}
	}

	return "", false
}

func stableTestLabels(manifest *dag.Graph) map[string]bool {
	out := make(map[string]bool, len(manifest.Nodes))
	for label := range manifest.Nodes {
		out[label] = true
	}
	return out
}

// AddDependencyClosure extends selectedTests with every test transitively
// reachable via DependsOn edges, so the selected subset is self-contained.
func AddDependencyClosure(selectedTests []string, manifest *dag.Graph) []string {
	closure := make(map[string]bool, len(selectedTests))
	var queue []string
	for _, t := range selectedTests {
		closure[t] = true
		queue = append(queue, t)
	}

	for len(queue) > 0 {
		test := queue[0]
		queue = queue[1:]
		node, ok := manifest.Nodes[test]
		if !ok {
			continue
		}
		for _, dep := range node.DependsOn {
			if !closure[dep] {
				if _, exists := manifest.Nodes[dep]; exists {
					closure[dep] = true
					queue = append(queue, dep)
				}
			}
		}
	}

	out := make([]string, 0, len(closure))
	for t := range closure {
		out = append(out, t)
	}
	return out
}

// SelectRegressionTests runs the bounded BFS co-occurrence expansion and
// returns the selected test subset.
func SelectRegressionTests(changedFiles []string, graph cooccurrence.Graph, manifest *dag.Graph, cfg Config) SelectionResult {
	allStableTests := stableTestLabels(manifest)
	maxTests := int(math.Ceil(float64(len(allStableTests)) * cfg.MaxTestPercentage))
	if maxTests < 1 {
		maxTests = 1
	}

	candidateScores := map[string]float64{}
	selectionReason := map[string]string{}
	visitedFiles := map[string]bool{}
	frontierFiles := map[string]bool{}

	for _, f := range changedFiles {
		ext := path.Ext(f)
		for _, sourceExt := range cfg.SourceExtensions {
			if ext == sourceExt {
				frontierFiles[f] = true
				break
			}
		}
	}
	for f := range frontierFiles {
		visitedFiles[f] = true
	}

	for hop := 0; hop <= cfg.MaxHops; hop++ {
		hopDecay := math.Pow(cfg.DecayPerHop, float64(hop))
		newSourceFiles := map[string]bool{}

		relatedCommits := map[string]bool{}
		for f := range frontierFiles {
			for _, ref := range graph.FileCommits[f] {
				if ref.Commit != "" {
					relatedCommits[ref.Commit] = true
				}
			}
		}

		for commitHash := range relatedCommits {
			commitData, ok := graph.CommitFiles[commitHash]
			if !ok {
				continue
			}
			ageDays := daysSince(commitData.Timestamp)
			recency := recencyWeight(ageDays, cfg.RecencyHalfLifeDays)

			for _, testFile := range commitData.TestFiles {
				testLabel, found := ResolveTestLabel(testFile, manifest)
				if !found || !allStableTests[testLabel] {
					continue
				}
				score := hopDecay * recency
				candidateScores[testLabel] += score
				if _, ok := selectionReason[testLabel]; !ok {
					selectionReason[testLabel] = hopReason(hop)
				}
			}

			for _, sourceFile := range commitData.SourceFiles {
				if !visitedFiles[sourceFile] {
					newSourceFiles[sourceFile] = true
				}
			}
		}

		if len(candidateScores) >= maxTests {
			break
		}
		if len(newSourceFiles) == 0 {
			break
		}

		for f := range newSourceFiles {
			visitedFiles[f] = true
		}
		frontierFiles = newSourceFiles
	}

	type scored struct {
		name  string
		score float64
	}
	ranked := make([]scored, 0, len(candidateScores))
	for name, score := range candidateScores {
		ranked = append(ranked, scored{name, score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].name < ranked[j].name
	})
	if len(ranked) > maxTests {
		ranked = ranked[:maxTests]
	}

	selected := make([]string, 0, len(ranked))
	scores := make(map[string]float64, len(ranked))
	for _, r := range ranked {
		selected = append(selected, r.name)
		scores[r.name] = r.score
	}

	selectedWithDeps := AddDependencyClosure(selected, manifest)
	for _, dep := range selectedWithDeps {
		if _, ok := scores[dep]; !ok {
			scores[dep] = 0.0
			selectionReason[dep] = "dependency closure"
		}
	}

	fallbackUsed := false
	if len(selectedWithDeps) < cfg.MinTests && len(allStableTests) > 0 {
		fallbackUsed = true
		present := make(map[string]bool, len(selectedWithDeps))
		for _, t := range selectedWithDeps {
			present[t] = true
		}
		for test := range allStableTests {
			if !present[test] {
				selectedWithDeps = append(selectedWithDeps, test)
				if _, ok := scores[test]; !ok {
					scores[test] = 0.0
				}
				if _, ok := selectionReason[test]; !ok {
					selectionReason[test] = "fallback (insufficient co-occurrence)"
				}
			}
		}
	}

	finalSelected := make(map[string]bool, len(selectedWithDeps))
	for _, t := range selectedWithDeps {
		finalSelected[t] = true
	}
	for k := range selectionReason {
		if !finalSelected[k] {
			delete(selectionReason, k)
		}
	}

	sort.Strings(selectedWithDeps)

	return SelectionResult{
		SelectedTests:    selectedWithDeps,
		Scores:           scores,
		SelectionReason:  selectionReason,
		FallbackUsed:     fallbackUsed,
		TotalStableTests: len(allStableTests),
		ChangedFiles:     changedFiles,
	}
}

func hopReason(hop int) string {
	return "co-occurrence hop " + strconv.Itoa(hop)
}
