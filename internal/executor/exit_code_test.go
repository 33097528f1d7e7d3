package executor

import "testing"

func TestClassifyTestBlocking_RegressionStableBlocksOnFailOrUndecided(t *testing.T) {
	if !ClassifyTestBlocking(TrueFail, StateStable, Regression) {
		t.Error("stable+true_fail should block in regression mode")
	}
	if !ClassifyTestBlocking(Undecided, StateStable, Regression) {
		t.Error("stable+undecided should block in regression mode")
	}
	if ClassifyTestBlocking(Flake, StateStable, Regression) {
		t.Error("stable+flake should NOT block in regression mode (warning only)")
	}
	if ClassifyTestBlocking(TruePass, StateStable, Regression) {
		t.Error("stable+true_pass should never block")
	}
}

func TestClassifyTestBlocking_RegressionNonStableNeverBlocks(t *testing.T) {
	for _, state := range []LifecycleState{StateFlaky, StateBurningIn, StateNew, StateDisabled} {
		for _, cls := range []Classification{TruePass, TrueFail, Flake, Undecided} {
			if ClassifyTestBlocking(cls, state, Regression) {
				t.Errorf("%s+%s should not block in regression mode", state, cls)
			}
		}
	}
}

func TestClassifyTestBlocking_ConvergeIgnoresLifecycle(t *testing.T) {
	for _, state := range []LifecycleState{StateStable, StateFlaky, StateBurningIn, StateNew, StateDisabled} {
		if !ClassifyTestBlocking(TrueFail, state, Converge) {
			t.Errorf("%s+true_fail should block in converge mode", state)
		}
		if !ClassifyTestBlocking(Flake, state, Converge) {
			t.Errorf("%s+flake should block in converge mode", state)
		}
		if ClassifyTestBlocking(TruePass, state, Converge) {
			t.Errorf("%s+true_pass should not block in converge mode", state)
		}
	}
}

func TestClassifyTestBlocking_MaxModeSameAsConverge(t *testing.T) {
	if !ClassifyTestBlocking(Undecided, StateNew, Max) {
		t.Error("undecided should block in max mode regardless of lifecycle")
	}
}

func TestComputeExitCode_NoBlockingIsZero(t *testing.T) {
	classifications := []TestClassification{
		{Name: "a", Classification: TruePass, LifecycleState: StateStable},
		{Name: "b", Classification: Flake, LifecycleState: StateStable},
	}
	summary := ComputeExitCode(classifications, Regression)
	if summary.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", summary.ExitCode)
	}
	if len(summary.Warnings) != 1 {
		t.Errorf("Warnings = %v, want exactly one (stable+flake)", summary.Warnings)
	}
}

func TestComputeExitCode_BlockingSetsExitCodeOne(t *testing.T) {
	classifications := []TestClassification{
		{Name: "a", Classification: TrueFail, LifecycleState: StateStable},
	}
	summary := ComputeExitCode(classifications, Regression)
	if summary.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", summary.ExitCode)
	}
	if len(summary.BlockingTests) != 1 || summary.BlockingTests[0] != "a" {
		t.Errorf("BlockingTests = %v, want [a]", summary.BlockingTests)
	}
}

func TestComputeExitCode_UnsetLifecycleDefaultsToStable(t *testing.T) {
	classifications := []TestClassification{
		{Name: "a", Classification: TrueFail},
	}
	summary := ComputeExitCode(classifications, Regression)
	if summary.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1 (default-stable test_fail blocks)", summary.ExitCode)
	}
}
