package regression

import (
	"testing"
	"time"

	"github.com/kilroy-tests/orchestrator/internal/cooccurrence"
	"github.com/kilroy-tests/orchestrator/internal/dag"
)

func fixedNow(t *testing.T) func() {
	t.Helper()
	restore := nowFunc
	nowFunc = func() time.Time { return time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC) }
	return func() { nowFunc = restore }
}

func TestResolveTestLabel_MatchesByExecutablePath(t *testing.T) {
	manifest := dag.FromManifest(map[string]dag.ManifestTest{
		"checkout_test": {Executable: "bazel-out/tests/payments/checkout_test.py"},
	})
	label, ok := ResolveTestLabel("tests/payments/checkout_test.py", manifest)
	if !ok || label != "checkout_test" {
		t.Errorf("label = %q, ok = %v, want checkout_test", label, ok)
	}
}

func TestResolveTestLabel_ConventionBasedMatch(t *testing.T) {
	manifest := dag.FromManifest(map[string]dag.ManifestTest{
		"checkout_test": {Executable: "/bin/unrelated"},
	})
	label, ok := ResolveTestLabel("tests/payments/checkout_test.py", manifest)
	if !ok || label != "checkout_test" {
		t.Errorf("label = %q, ok = %v, want checkout_test", label, ok)
	}
}

func TestResolveTestLabel_NoMatch(t *testing.T) {
	manifest := dag.FromManifest(map[string]dag.ManifestTest{
		"other_test": {Executable: "/bin/other"},
	})
	_, ok := ResolveTestLabel("tests/unrelated_thing.py", manifest)
	if ok {
		t.Error("expected no match")
	}
}

func TestAddDependencyClosure_IncludesTransitiveDeps(t *testing.T) {
	manifest := dag.FromManifest(map[string]dag.ManifestTest{
		"root": {DependsOn: []string{"mid"}},
		"mid":  {DependsOn: []string{"leaf"}},
		"leaf": {},
	})
	closure := AddDependencyClosure([]string{"root"}, manifest)
	if len(closure) != 3 {
		t.Errorf("closure = %v, want 3 tests", closure)
	}
}

func TestSelectRegressionTests_ScoresByHopAndRecency(t *testing.T) {
	defer fixedNow(t)()

	manifest := dag.FromManifest(map[string]dag.ManifestTest{
		"checkout_test": {Executable: "/bin/checkout_test"},
	})

	graph := cooccurrence.Graph{
		FileCommits: map[string][]cooccurrence.FileCommitRef{
			"checkout.go": {{Commit: "c1", Timestamp: "2026-07-28T00:00:00Z"}},
		},
		CommitFiles: map[string]cooccurrence.CommitFiles{
			"c1": {
				Timestamp:   "2026-07-28T00:00:00Z",
				SourceFiles: []string{"checkout.go"},
				TestFiles:   []string{"tests/checkout_test.py"},
			},
		},
	}

	result := SelectRegressionTests([]string{"checkout.go"}, graph, manifest, DefaultConfig())

	if len(result.SelectedTests) != 1 || result.SelectedTests[0] != "checkout_test" {
		t.Fatalf("SelectedTests = %v, want [checkout_test]", result.SelectedTests)
	}
	if result.Scores["checkout_test"] <= 0 {
		t.Errorf("score = %v, want positive", result.Scores["checkout_test"])
	}
	// Only one test exists in the manifest, below DefaultConfig's min_tests
	// of 3, so the fallback path also triggers (harmlessly, since the
	// fallback set and the co-occurrence set are identical here).
	if !result.FallbackUsed {
		t.Error("expected fallback to trigger since selected count is below min_tests")
	}
}

func TestSelectRegressionTests_FallsBackWhenTooFewSelected(t *testing.T) {
	defer fixedNow(t)()

	manifest := dag.FromManifest(map[string]dag.ManifestTest{
		"a": {},
		"b": {},
		"c": {},
		"d": {},
	})
	graph := cooccurrence.Graph{}

	cfg := DefaultConfig()
	cfg.MinTests = 3
	result := SelectRegressionTests([]string{"unrelated.go"}, graph, manifest, cfg)

	if !result.FallbackUsed {
		t.Error("expected fallback to trigger with an empty co-occurrence graph")
	}
	if len(result.SelectedTests) != 4 {
		t.Errorf("SelectedTests = %v, want all 4 manifest tests", result.SelectedTests)
	}
}

func TestSelectRegressionTests_IgnoresNonSourceChangedFiles(t *testing.T) {
	manifest := dag.FromManifest(map[string]dag.ManifestTest{
		"only_test": {},
	})
	graph := cooccurrence.Graph{
		FileCommits: map[string][]cooccurrence.FileCommitRef{
			"README.md": {{Commit: "c1"}},
		},
	}
	cfg := DefaultConfig()
	cfg.MinTests = 0
	result := SelectRegressionTests([]string{"README.md"}, graph, manifest, cfg)

	if len(result.SelectedTests) != 0 {
		t.Errorf("SelectedTests = %v, want none (README.md is not a source extension)", result.SelectedTests)
	}
}

func TestDaysSince_UnparseableDefaultsToOneYear(t *testing.T) {
	if got := daysSince("not-a-date"); got != 365.0 {
		t.Errorf("daysSince = %v, want 365.0", got)
	}
}

func TestRecencyWeight_ZeroAgeIsOne(t *testing.T) {
	if got := recencyWeight(0, 180); got != 1.0 {
		t.Errorf("recencyWeight = %v, want 1.0", got)
	}
}

func TestRecencyWeight_HalfLifeHalves(t *testing.T) {
	got := recencyWeight(180, 180)
	if got < 0.49 || got > 0.51 {
		t.Errorf("recencyWeight at one half-life = %v, want ~0.5", got)
	}
}
