// Package evidence implements the statistical lifecycle layer: the
// per-test Sequential Probability Ratio Test decider and the test-set
// E-value aggregator that together classify tests as reliable/unreliable
// and produce a GREEN/RED/UNDECIDED verdict for a whole test set.
package evidence

import "math"

// Decision is the three-valued outcome of a SPRT evaluation.
type Decision string

const (
	Accept   Decision = "accept"
	Reject   Decision = "reject"
	Continue Decision = "continue"
)

// DefaultMargin is the default separation between the reliable and
// unreliable hypotheses' pass rates.
const DefaultMargin = 0.10

// logRatio computes the per-test log-likelihood ratio favouring H0
// (reliable, pass rate >= p0) over H1 (unreliable, pass rate <= p0-margin).
// Positive values favour reliability.
func logRatio(runs, passes int, p0, margin float64) float64 {
	p1 := p0 - margin
	if p1 <= 0 {
		p1 = 1e-9
	}
	if p1 >= 1 {
		p1 = 1 - 1e-9
	}
	if p0 <= 0 {
		p0 = 1e-9
	}
	if p0 >= 1 {
		p0 = 1 - 1e-9
	}

	fails := runs - passes
	return float64(passes)*math.Log(p0/p1) + float64(fails)*math.Log((1-p0)/(1-p1))
}

// clampLogValue bounds a log-domain value to [-700, 700] so that
// exponentiating it never overflows or underflows float64.
func clampLogValue(v float64) float64 {
	if v > 700 {
		return 700
	}
	if v < -700 {
		return -700
	}
	return v
}

// SPRTEvaluate is the pure SPRT decision function: given the number of
// runs and passes observed, the target reliability p0, and the
// statistical significance, it returns accept (test is reliable), reject
// (test is unreliable), or continue (insufficient evidence).
//
// significance is the confidence level (e.g. 0.95); the Wald error rate
// alpha = 1-significance drives the boundaries: accept when
// LR >= log((1-beta)/alpha), reject when LR <= log(beta/(1-alpha)), with
// beta symmetric to alpha. runs <= 0 always yields continue.
func SPRTEvaluate(runs, passes int, p0, significance float64, margin ...float64) Decision {
	if runs <= 0 {
		return Continue
	}

	m := DefaultMargin
	if len(margin) > 0 {
		m = margin[0]
	}

	alpha := 1 - significance
	beta := alpha
	lr := logRatio(runs, passes, p0, m)

	upper := math.Log((1 - beta) / alpha)
	lower := math.Log(beta / (1 - alpha))

	switch {
	case lr >= upper:
		return Accept
	case lr <= lower:
		return Reject
	default:
		return Continue
	}
}

// DemotionOutcome is the three-valued outcome of a reverse-chronological
// demotion evaluation.
type DemotionOutcome string

const (
	Retain       DemotionOutcome = "retain"
	Demote       DemotionOutcome = "demote"
	Inconclusive DemotionOutcome = "inconclusive"
)

// DemotionEvaluate re-runs SPRT over progressively larger suffixes of
// history (history[0] is the most recent run) until a non-continue
// decision or exhaustion. An accept decision retains the test's current
// stable status; a reject demotes it to flaky.
func DemotionEvaluate(history []bool, p0, significance float64, margin ...float64) DemotionOutcome {
	runs, passes := 0, 0
	for _, passed := range history {
		runs++
		if passed {
			passes++
		}
		switch SPRTEvaluate(runs, passes, p0, significance, margin...) {
		case Accept:
			return Retain
		case Reject:
			return Demote
		}
	}
	return Inconclusive
}
