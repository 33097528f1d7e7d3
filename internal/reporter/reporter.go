// Package reporter renders a terse plaintext summary of a test run's
// exit-code policy outcome. It is the minimum ambient reporting the CLI
// needs to print something useful on exit — not a structured report
// rendering subsystem.
package reporter

import (
	"fmt"
	"strings"

	"github.com/kilroy-tests/orchestrator/internal/executor"
)

// RenderSummary formats blocking tests, non-blocking tests, and
// warnings into a human-readable run summary.
func RenderSummary(summary executor.ExitCodeSummary) string {
	var b strings.Builder

	if len(summary.BlockingTests) == 0 {
		fmt.Fprintf(&b, "PASS: no blocking failures (%d non-blocking)\n", len(summary.NonBlockingTests))
	} else {
		fmt.Fprintf(&b, "FAIL: %d blocking failure(s)\n", len(summary.BlockingTests))
		for _, name := range summary.BlockingTests {
			fmt.Fprintf(&b, "  BLOCKING  %s\n", name)
		}
	}

	if len(summary.NonBlockingTests) > 0 {
		fmt.Fprintf(&b, "%d non-blocking:\n", len(summary.NonBlockingTests))
		for _, name := range summary.NonBlockingTests {
			fmt.Fprintf(&b, "  ok        %s\n", name)
		}
	}

	for _, w := range summary.Warnings {
		fmt.Fprintf(&b, "WARNING: %s\n", w)
	}

	fmt.Fprintf(&b, "exit code: %d\n", summary.ExitCode)

	return b.String()
}

// RenderRunIDLine formats a single correlation-ID log line, the shape
// logged once per run so the rest of a run's plain stderr lines can be
// tied back to it.
func RenderRunIDLine(runID string, mode string) string {
	return fmt.Sprintf("run=%s mode=%s\n", runID, mode)
}
