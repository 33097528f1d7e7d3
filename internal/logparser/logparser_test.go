package logparser

import "testing"

func TestParseTestOutput_CollectsPlainOutput(t *testing.T) {
	parsed := ParseTestOutput("hello\nworld\n")
	if len(parsed.PlainOutput) != 3 {
		t.Fatalf("PlainOutput = %v, want 3 lines (incl. trailing empty)", parsed.PlainOutput)
	}
}

func TestParseTestOutput_TracksBlockSequence(t *testing.T) {
	raw := `[TST] {"type": "block_start", "block": "rigging"}
[TST] {"type": "block_end"}
[TST] {"type": "block_start", "block": "execution"}
[TST] {"type": "block_end"}
`
	parsed := ParseTestOutput(raw)
	if len(parsed.BlockSequence) != 2 || parsed.BlockSequence[0] != "rigging" || parsed.BlockSequence[1] != "execution" {
		t.Errorf("BlockSequence = %v, want [rigging execution]", parsed.BlockSequence)
	}
}

func TestParseTestOutput_AssignsFeatureToCurrentBlock(t *testing.T) {
	raw := `[TST] {"type": "block_start", "block": "execution"}
[TST] {"type": "feature", "name": "retry_logic"}
[TST] {"type": "block_end"}
`
	parsed := ParseTestOutput(raw)
	if len(parsed.Features) != 1 || parsed.Features[0].Name != "retry_logic" || parsed.Features[0].Block != "execution" {
		t.Errorf("Features = %v, want one retry_logic in execution", parsed.Features)
	}
}

func TestParseTestOutput_MeasurementOutsideBlockHasNoBlock(t *testing.T) {
	raw := `[TST] {"type": "measurement", "name": "latency_ms", "value": 42}
`
	parsed := ParseTestOutput(raw)
	if len(parsed.Measurements) != 1 || parsed.Measurements[0].Block != "" {
		t.Errorf("Measurements = %v, want one with empty block", parsed.Measurements)
	}
}

func TestParseTestOutput_ResultCaptured(t *testing.T) {
	raw := `[TST] {"type": "result", "status": "fail", "message": "expected 200 got 500"}
`
	parsed := ParseTestOutput(raw)
	if len(parsed.Results) != 1 || parsed.Results[0].Status != "fail" {
		t.Errorf("Results = %v, want one fail result", parsed.Results)
	}
}

func TestParseTestOutput_ErrorDuringRiggingSetsHasRiggingFailure(t *testing.T) {
	raw := `[TST] {"type": "block_start", "block": "rigging"}
[TST] {"type": "error", "message": "could not connect to fixture"}
[TST] {"type": "block_end"}
`
	parsed := ParseTestOutput(raw)
	if !parsed.HasRiggingFailure {
		t.Error("expected HasRiggingFailure = true")
	}
	if !IsRiggingFailure(parsed) {
		t.Error("IsRiggingFailure(parsed) = false, want true")
	}
}

func TestParseTestOutput_ErrorOutsideRiggingIsNotRiggingFailure(t *testing.T) {
	raw := `[TST] {"type": "block_start", "block": "execution"}
[TST] {"type": "error", "message": "assertion failed"}
[TST] {"type": "block_end"}
`
	parsed := ParseTestOutput(raw)
	if parsed.HasRiggingFailure {
		t.Error("expected HasRiggingFailure = false")
	}
}

func TestParseTestOutput_MalformedLineBecomesWarningNotError(t *testing.T) {
	raw := `[TST] {not valid json
`
	parsed := ParseTestOutput(raw)
	if len(parsed.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want 1 warning", parsed.Warnings)
	}
}

func TestParseTestOutput_UnknownTypeSkippedSilently(t *testing.T) {
	raw := `[TST] {"type": "future_event_kind", "payload": "whatever"}
`
	parsed := ParseTestOutput(raw)
	if len(parsed.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none for an unknown but well-formed type", parsed.Warnings)
	}
}

func TestRiggingFeatures_FiltersByBlock(t *testing.T) {
	raw := `[TST] {"type": "block_start", "block": "rigging"}
[TST] {"type": "feature", "name": "fixture_pool"}
[TST] {"type": "block_end"}
[TST] {"type": "block_start", "block": "execution"}
[TST] {"type": "feature", "name": "retry_logic"}
[TST] {"type": "block_end"}
`
	parsed := ParseTestOutput(raw)
	features := RiggingFeatures(parsed)
	if len(features) != 1 || features[0] != "fixture_pool" {
		t.Errorf("RiggingFeatures = %v, want [fixture_pool]", features)
	}
}
