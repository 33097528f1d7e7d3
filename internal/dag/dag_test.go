package dag

import (
	"testing"
)

func strPtr(s string) *string { return &s }

func manifestFixture() map[string]ManifestTest {
	return map[string]ManifestTest{
		"root": {
			Assertion:  "root behaves",
			Executable: "./root_test",
			DependsOn:  []string{"mid"},
		},
		"mid": {
			Assertion:  "mid behaves",
			Executable: "./mid_test",
			DependsOn:  []string{"leaf"},
		},
		"leaf": {
			Assertion:  "leaf behaves",
			Executable: "./leaf_test",
		},
	}
}

func TestFromManifest_BuildsDependents(t *testing.T) {
	g := FromManifest(manifestFixture())

	if len(g.Nodes) != 3 {
		t.Fatalf("len(Nodes) = %d, want 3", len(g.Nodes))
	}
	if got := g.Nodes["leaf"].Dependents; len(got) != 1 || got[0] != "mid" {
		t.Errorf("leaf.Dependents = %v, want [mid]", got)
	}
	if got := g.Nodes["mid"].Dependents; len(got) != 1 || got[0] != "root" {
		t.Errorf("mid.Dependents = %v, want [root]", got)
	}
	if got := g.Nodes["root"].Dependents; len(got) != 0 {
		t.Errorf("root.Dependents = %v, want []", got)
	}
}

func TestFromManifest_Empty(t *testing.T) {
	g := FromManifest(nil)
	if len(g.Nodes) != 0 {
		t.Errorf("len(Nodes) = %d, want 0", len(g.Nodes))
	}
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func TestTopologicalSortLeavesFirst(t *testing.T) {
	g := FromManifest(manifestFixture())

	order, err := g.TopologicalSortLeavesFirst()
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 {
		t.Fatalf("order = %v, want 3 entries", order)
	}
	if indexOf(order, "leaf") > indexOf(order, "mid") {
		t.Errorf("leaf must precede mid in %v", order)
	}
	if indexOf(order, "mid") > indexOf(order, "root") {
		t.Errorf("mid must precede root in %v", order)
	}
}

func TestBFSRootsFirst(t *testing.T) {
	g := FromManifest(manifestFixture())

	order, err := g.BFSRootsFirst()
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 {
		t.Fatalf("order = %v, want 3 entries", order)
	}
	if order[0] != "root" {
		t.Errorf("order[0] = %q, want root", order[0])
	}
	if indexOf(order, "root") > indexOf(order, "mid") {
		t.Errorf("root must precede mid in %v", order)
	}
	if indexOf(order, "mid") > indexOf(order, "leaf") {
		t.Errorf("mid must precede leaf in %v", order)
	}
}

func TestDetectCycle(t *testing.T) {
	tests := map[string]ManifestTest{
		"a": {Executable: "./a", DependsOn: []string{"b"}},
		"b": {Executable: "./b", DependsOn: []string{"c"}},
		"c": {Executable: "./c", DependsOn: []string{"a"}},
	}
	g := FromManifest(tests)

	if _, err := g.TopologicalSortLeavesFirst(); err == nil {
		t.Fatal("expected cycle error, got nil")
	} else if _, ok := err.(*CycleError); !ok {
		t.Errorf("err = %T, want *CycleError", err)
	}

	if _, err := g.BFSRootsFirst(); err == nil {
		t.Fatal("expected cycle error, got nil")
	} else if _, ok := err.(*CycleError); !ok {
		t.Errorf("err = %T, want *CycleError", err)
	}
}

func TestGetDependenciesAndDependents(t *testing.T) {
	g := FromManifest(manifestFixture())

	if got := g.GetDependencies("root"); len(got) != 1 || got[0] != "mid" {
		t.Errorf("GetDependencies(root) = %v, want [mid]", got)
	}
	if got := g.GetDependencies("leaf"); len(got) != 0 {
		t.Errorf("GetDependencies(leaf) = %v, want []", got)
	}
	if got := g.GetDependencies("nonexistent"); got != nil {
		t.Errorf("GetDependencies(nonexistent) = %v, want nil", got)
	}

	if got := g.GetDependents("leaf"); len(got) != 1 || got[0] != "mid" {
		t.Errorf("GetDependents(leaf) = %v, want [mid]", got)
	}
}

func TestRemoveDisabled(t *testing.T) {
	tests := manifestFixture()
	mid := tests["mid"]
	mid.Disabled = true
	tests["mid"] = mid
	g := FromManifest(tests)

	removed := g.RemoveDisabled()
	if len(removed) != 1 || removed[0] != "mid" {
		t.Fatalf("removed = %v, want [mid]", removed)
	}
	if _, ok := g.Nodes["mid"]; ok {
		t.Error("mid still present after RemoveDisabled")
	}
	if got := g.Nodes["root"].DependsOn; len(got) != 0 {
		t.Errorf("root.DependsOn = %v after removing mid, want []", got)
	}
	if got := g.Nodes["leaf"].Dependents; len(got) != 0 {
		t.Errorf("leaf.Dependents = %v after removing mid, want []", got)
	}
}

func TestTopologicalSortLeavesFirst_TiesFollowInsertionOrder(t *testing.T) {
	tests := map[string]ManifestTest{
		"c": {Executable: "./c"},
		"a": {Executable: "./a"},
		"b": {Executable: "./b"},
	}
	order := []string{"c", "a", "b"}

	for i := 0; i < 20; i++ {
		g := FromManifestOrdered(order, tests)
		got, err := g.TopologicalSortLeavesFirst()
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"c", "a", "b"}
		if !equalStrings(got, want) {
			t.Fatalf("iteration %d: order = %v, want %v (insertion order among ties)", i, got, want)
		}
	}
}

func TestBFSRootsFirst_TiesFollowInsertionOrder(t *testing.T) {
	tests := map[string]ManifestTest{
		"c": {Executable: "./c"},
		"a": {Executable: "./a"},
		"b": {Executable: "./b"},
	}
	order := []string{"c", "a", "b"}

	for i := 0; i < 20; i++ {
		g := FromManifestOrdered(order, tests)
		got, err := g.BFSRootsFirst()
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"c", "a", "b"}
		if !equalStrings(got, want) {
			t.Fatalf("iteration %d: order = %v, want %v (insertion order among ties)", i, got, want)
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNodeJudgementExecutable(t *testing.T) {
	tests := map[string]ManifestTest{
		"judged": {
			Executable:          "./judged",
			JudgementExecutable: strPtr("./judge"),
		},
	}
	g := FromManifest(tests)
	node := g.Nodes["judged"]
	if node.JudgementExecutable == nil || *node.JudgementExecutable != "./judge" {
		t.Errorf("JudgementExecutable = %v, want ./judge", node.JudgementExecutable)
	}
}
