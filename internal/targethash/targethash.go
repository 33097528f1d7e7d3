// Package targethash computes opaque content hashes for test targets, the
// stationarity marker SPRT evidence pooling needs: two runs sharing a
// hash had identical inputs (binary, transitive deps, tooling,
// configuration) and are valid samples under the same conditions.
//
// Two backends are tried in order: a Bazel aquery backend when a Bazel
// workspace is configured, and a blake3-based local fallback otherwise.
package targethash

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/kilroy-tests/orchestrator/internal/dag"
)

// Compute returns a hash for each label in testLabels reachable via the
// configured backend. Labels that cannot be hashed are omitted from the
// result rather than causing an error — hashing is best-effort evidence
// metadata, never required for a test run to proceed.
func Compute(ctx context.Context, g *dag.Graph, testLabels []string, workspaceDir string) map[string]string {
	if len(testLabels) == 0 {
		return map[string]string{}
	}

	if workspaceDir == "" {
		workspaceDir = os.Getenv("BUILD_WORKSPACE_DIRECTORY")
	}

	if workspaceDir != "" {
		if hashes := aqueryHashes(ctx, testLabels, workspaceDir); hashes != nil {
			return hashes
		}
	}

	return localFallbackHashes(g, testLabels)
}

type aqueryTarget struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type aqueryAction struct {
	TargetID  string `json:"targetId"`
	ActionKey string `json:"actionKey"`
}

type aqueryResult struct {
	Targets []aqueryTarget `json:"targets"`
	Actions []aqueryAction `json:"actions"`
}

// aqueryHashes runs `bazel aquery --output=jsonproto` for testLabels and
// returns a composite hash per label derived from its action digests.
// Returns nil (not an empty map) when the backend is unavailable or the
// query failed, signaling the caller to fall back.
func aqueryHashes(ctx context.Context, testLabels []string, workspaceDir string) map[string]string {
	runCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	queryExpr := strings.Join(testLabels, " + ")
	cmd := exec.CommandContext(runCtx, "bazel", "aquery", "--output=jsonproto", queryExpr)
	cmd.Dir = workspaceDir

	out, err := cmd.Output()
	if err != nil {
		return nil
	}
	if len(strings.TrimSpace(string(out))) == 0 {
		return map[string]string{}
	}

	var parsed aqueryResult
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil
	}

	return extractHashes(parsed, testLabels)
}

func extractHashes(result aqueryResult, testLabels []string) map[string]string {
	labelSet := make(map[string]bool, len(testLabels))
	for _, l := range testLabels {
		labelSet[l] = true
	}

	targetsByID := make(map[string]string, len(result.Targets))
	for _, target := range result.Targets {
		if target.Label != "" {
			targetsByID[target.ID] = target.Label
		}
	}

	digestsByLabel := make(map[string][]string)
	for _, action := range result.Actions {
		label := targetsByID[action.TargetID]
		if label == "" || !labelSet[label] || action.ActionKey == "" {
			continue
		}
		digestsByLabel[label] = append(digestsByLabel[label], action.ActionKey)
	}

	out := make(map[string]string)
	for _, label := range testLabels {
		digests := digestsByLabel[label]
		if len(digests) == 0 {
			continue
		}
		sort.Strings(digests)
		h := blake3.New()
		_, _ = h.Write([]byte(strings.Join(digests, "\n")))
		sum := h.Sum(nil)
		out[label] = hex.EncodeToString(sum)[:16]
	}
	return out
}

// localFallbackHashes hashes each label's (executable path, dependency
// names, judgement executable) tuple with blake3 when no Bazel workspace
// is reachable. This doesn't capture transitive build inputs the way
// Bazel's action digest does, but still gives a stable stationarity
// marker for evidence pooling between runs of an unchanged manifest.
func localFallbackHashes(g *dag.Graph, testLabels []string) map[string]string {
	out := make(map[string]string, len(testLabels))
	for _, label := range testLabels {
		node, ok := g.Nodes[label]
		if !ok {
			continue
		}

		deps := append([]string(nil), node.DependsOn...)
		sort.Strings(deps)

		judgement := ""
		if node.JudgementExecutable != nil {
			judgement = *node.JudgementExecutable
		}

		h := blake3.New()
		fmt.Fprintf(h, "%s\n%s\n%s\n", node.Executable, strings.Join(deps, ","), judgement)
		sum := h.Sum(nil)
		out[label] = hex.EncodeToString(sum)[:16]
	}
	return out
}
