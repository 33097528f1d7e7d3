package evidence

import (
	"math"
	"strconv"
)

// HistoryEntry is one recorded run outcome for a test, newest-first.
// Commit is empty for runs with no associated commit (treated as an
// independent singleton group in quick mode).
type HistoryEntry struct {
	Passed bool
	Commit string
}

// TestEValue is the E-value/S-value computation result for a single test.
type TestEValue struct {
	TestName        string
	EValue          float64 // evidence against reliability
	SValue          float64 // evidence for reliability (1/EValue in log-space)
	LogEValue       float64
	Runs            int
	Passes          int
	CommitsIncluded int
}

// computeLogRatio is shared by quick mode's per-commit pooling and hifi
// mode's current-commit evaluation; zero runs yield a log ratio of 0.
func computeLogRatio(runs, passes int, minReliability, margin float64) float64 {
	if runs <= 0 {
		return 0
	}
	return logRatio(runs, passes, minReliability, margin)
}

func zeroEValue(testName string) TestEValue {
	return TestEValue{TestName: testName, EValue: 1.0, SValue: 1.0, LogEValue: 0.0}
}

// ComputeTestEValueQuick pools evidence across all commits: history entries
// are grouped by commit, the log-ratio computed per group, and the groups
// summed (equivalent to the product of per-commit S-values). Entries with
// an empty Commit each form their own singleton group.
func ComputeTestEValueQuick(testName string, history []HistoryEntry, minReliability, margin float64) TestEValue {
	if len(history) == 0 {
		return zeroEValue(testName)
	}

	groups := make(map[string][]bool)
	noneCount := 0
	var order []string
	for _, entry := range history {
		key := entry.Commit
		if key == "" {
			key = syntheticGroupKey(noneCount)
			noneCount++
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], entry.Passed)
	}

	var totalLogS float64
	var totalRuns, totalPasses int
	for _, key := range order {
		outcomes := groups[key]
		runs := len(outcomes)
		passes := 0
		for _, p := range outcomes {
			if p {
				passes++
			}
		}
		totalRuns += runs
		totalPasses += passes
		totalLogS += computeLogRatio(runs, passes, minReliability, margin)
	}

	logE := clampLogValue(-totalLogS)
	return TestEValue{
		TestName:        testName,
		EValue:          math.Exp(logE),
		SValue:          math.Exp(-logE),
		LogEValue:       logE,
		Runs:            totalRuns,
		Passes:          totalPasses,
		CommitsIncluded: len(groups),
	}
}

func syntheticGroupKey(n int) string {
	return "__none_" + strconv.Itoa(n) + "__"
}

// ComputeTestEValueHiFi filters history to entries matching currentCommit
// and computes a single log-ratio from those runs only, with no
// cross-commit pooling.
func ComputeTestEValueHiFi(testName string, history []HistoryEntry, currentCommit string, minReliability, margin float64) TestEValue {
	runs, passes := 0, 0
	for _, entry := range history {
		if entry.Commit != currentCommit {
			continue
		}
		runs++
		if entry.Passed {
			passes++
		}
	}

	if runs == 0 {
		return zeroEValue(testName)
	}

	logS := computeLogRatio(runs, passes, minReliability, margin)
	logE := clampLogValue(-logS)
	return TestEValue{
		TestName:        testName,
		EValue:          math.Exp(logE),
		SValue:          math.Exp(-logE),
		LogEValue:       logE,
		Runs:            runs,
		Passes:          passes,
		CommitsIncluded: 1,
	}
}

// Verdict is the three-valued outcome of a test-set evaluation.
type Verdict string

const (
	Green     Verdict = "GREEN"
	Red       Verdict = "RED"
	Undecided Verdict = "UNDECIDED"
)

// TestSetVerdict is the aggregate verdict for a whole test set.
type TestSetVerdict struct {
	Verdict       Verdict
	ESet          float64
	MinSValue     float64
	RedThreshold  float64
	GreenThreshold float64
	NTests        int
	PerTest       []TestEValue
	WeakestTest   string // empty when NTests == 0
}

// ComputeTestSetVerdict combines per-test E-values into a RED/GREEN/
// UNDECIDED verdict. RED fires when the average E-value exceeds
// 1/alphaSet (Markov bound on family-wise false-alarm rate); GREEN fires
// when every S-value exceeds N/betaSet (union bound on aggregate Type II
// error). An empty test set is vacuously GREEN.
func ComputeTestSetVerdict(testEValues []TestEValue, alphaSet, betaSet float64) TestSetVerdict {
	n := len(testEValues)
	redThreshold := 1.0 / alphaSet

	if n == 0 {
		return TestSetVerdict{
			Verdict:        Green,
			ESet:           0,
			MinSValue:      math.Inf(1),
			RedThreshold:   redThreshold,
			GreenThreshold: 0,
			NTests:         0,
		}
	}

	var sumE float64
	minS := math.Inf(1)
	weakest := testEValues[0].TestName
	for _, tv := range testEValues {
		sumE += tv.EValue
		if tv.SValue < minS {
			minS = tv.SValue
			weakest = tv.TestName
		}
	}
	eSet := sumE / float64(n)
	greenThreshold := float64(n) / betaSet

	var verdict Verdict
	switch {
	case eSet > redThreshold:
		verdict = Red
	case minS > greenThreshold:
		verdict = Green
	default:
		verdict = Undecided
	}

	return TestSetVerdict{
		Verdict:        verdict,
		ESet:           eSet,
		MinSValue:      minS,
		RedThreshold:   redThreshold,
		GreenThreshold: greenThreshold,
		NTests:         n,
		PerTest:        append([]TestEValue(nil), testEValues...),
		WeakestTest:    weakest,
	}
}
