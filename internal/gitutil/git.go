// Package gitutil wraps the git plumbing commands the orchestrator consumes:
// log (for the co-occurrence graph), diff (for changed-file detection),
// rev-parse and status (for run context). Every external-tool error
// degrades to a returned error rather than a panic; callers decide whether
// absence of git is fatal.
package gitutil

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// CommandError wraps a failed git invocation with its captured output.
type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func runGit(dir string, args ...string) (string, string, error) {
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	outStr := stdout.String()
	errStr := stderr.String()
	if err != nil {
		return outStr, errStr, &CommandError{Args: args, Stdout: outStr, Stderr: errStr, Err: err}
	}
	return outStr, errStr, nil
}

// IsRepo reports whether dir is inside a git working tree.
func IsRepo(dir string) bool {
	out, _, err := runGit(dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "true"
}

// HeadSHA returns the current HEAD commit hash.
func HeadSHA(dir string) (string, error) {
	out, _, err := runGit(dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// StatusPorcelain returns the raw `git status --porcelain` output.
func StatusPorcelain(dir string) (string, error) {
	out, _, err := runGit(dir, "status", "--porcelain")
	if err != nil {
		return "", err
	}
	return out, nil
}

// IsClean reports whether the working tree has no uncommitted changes.
func IsClean(dir string) (bool, error) {
	out, err := StatusPorcelain(dir)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

// DiffNameOnly returns file paths changed between baseRef and HEAD
// (three-dot diff: the merge-base of baseRef and HEAD against HEAD).
func DiffNameOnly(dir, baseRef string) ([]string, error) {
	out, _, err := runGit(dir, "diff", "--name-only", baseRef+"...HEAD")
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

// LogCommitsNameOnly runs `git log --format=COMMIT %H %aI --name-only`,
// optionally bounded to max commits and/or a since..HEAD range, and
// returns the raw stdout for the co-occurrence graph builder to parse.
func LogCommitsNameOnly(dir string, maxHistory int, sinceCommit string) (string, error) {
	args := []string{"log", "--format=COMMIT %H %aI", "--name-only"}
	if maxHistory > 0 {
		args = append(args, fmt.Sprintf("-n%d", maxHistory))
	}
	if strings.TrimSpace(sinceCommit) != "" {
		args = append(args, sinceCommit+"..HEAD")
	}
	out, _, err := runGit(dir, args...)
	if err != nil {
		return "", err
	}
	return out, nil
}

func splitNonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}
