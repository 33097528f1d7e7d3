// Package cooccurrence builds a bidirectional file/commit index from git
// history: which source and test files changed together, used by
// internal/regression to select tests likely relevant to a diff. The
// graph updates incrementally from a watermark commit so re-analysis
// only walks new history.
package cooccurrence

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kilroy-tests/orchestrator/internal/gitutil"
)

// Classification is the bucket classify_file assigns a changed path to.
type Classification string

const (
	Source  Classification = "source"
	Test    Classification = "test"
	Ignored Classification = "ignored"
)

// DefaultSourceExtensions are the extensions treated as source when no
// override is supplied.
var DefaultSourceExtensions = []string{".py", ".java", ".cc", ".go", ".rs", ".ts", ".js", ".bzl"}

// DefaultTestPatterns are the basename glob patterns checked before
// falling back to extension-based classification.
var DefaultTestPatterns = []string{"*_test.*", "test_*.*", "*_spec.*"}

// ClassifyFile classifies filepath as source, test, or ignored. Test
// patterns are checked first, so "auth_test.py" classifies as test even
// though ".py" is a source extension. Nil slices use the package
// defaults.
func ClassifyFile(filepath string, sourceExtensions, testPatterns []string) Classification {
	if sourceExtensions == nil {
		sourceExtensions = DefaultSourceExtensions
	}
	if testPatterns == nil {
		testPatterns = DefaultTestPatterns
	}

	basename := path.Base(filepath)

	for _, pattern := range testPatterns {
		if ok, _ := doublestar.Match(pattern, basename); ok {
			return Test
		}
	}

	ext := path.Ext(filepath)
	for _, sourceExt := range sourceExtensions {
		if ext == sourceExt {
			return Source
		}
	}

	return Ignored
}

// Commit is a single parsed commit from `git log --name-only`.
type Commit struct {
	Hash      string
	Timestamp string
	Files     []string
}

// ParseGitLog parses output in the
// `git log --format='COMMIT %H %aI' --name-only` shape into a list of
// commits: a "COMMIT <hash> <timestamp>" header line, a blank line, the
// changed file paths, then a blank line before the next commit.
func ParseGitLog(gitOutput string) []Commit {
	var commits []Commit
	var current *Commit

	for _, rawLine := range strings.Split(gitOutput, "\n") {
		line := strings.TrimSpace(rawLine)

		if strings.HasPrefix(line, "COMMIT ") {
			if current != nil {
				commits = append(commits, *current)
			}
			parts := strings.SplitN(line, " ", 3)
			if len(parts) >= 3 {
				current = &Commit{Hash: parts[1], Timestamp: parts[2]}
			} else {
				current = nil
			}
			continue
		}

		if line != "" && current != nil {
			current.Files = append(current.Files, line)
		}
	}

	if current != nil {
		commits = append(commits, *current)
	}

	return commits
}

// FileCommitRef is one entry in a file's commit history: which commit
// touched it and when.
type FileCommitRef struct {
	Commit    string `json:"commit"`
	Timestamp string `json:"timestamp"`
}

// CommitFiles is the per-commit record of which files it touched,
// classified into source and test buckets.
type CommitFiles struct {
	Timestamp   string   `json:"timestamp"`
	SourceFiles []string `json:"source_files"`
	TestFiles   []string `json:"test_files"`
}

// Metadata records how and when the graph was built, for incremental
// updates and provenance.
type Metadata struct {
	BuiltAt              string   `json:"built_at"`
	LastCommit           string   `json:"last_commit,omitempty"`
	TotalCommitsAnalyzed int      `json:"total_commits_analyzed"`
	SourceExtensions     []string `json:"source_extensions"`
	TestPatterns         []string `json:"test_patterns"`
}

// Graph is the bidirectional co-occurrence index: which commits touched
// a file, and which files a commit touched.
type Graph struct {
	Metadata    Metadata                   `json:"metadata"`
	FileCommits map[string][]FileCommitRef `json:"file_commits"`
	CommitFiles map[string]CommitFiles     `json:"commit_files"`
}

// nowFunc is overridable in tests; production callers get the real
// clock via time.Now.
var nowFunc = func() time.Time { return time.Now().UTC() }

// BuildGraph folds commits into existingGraph (or a fresh graph if nil),
// skipping already-processed commits and commits with no source-file
// signal. Incremental: callers pass the previously-built graph plus only
// the commits newer than its watermark (existingGraph.Metadata.LastCommit).
func BuildGraph(commits []Commit, sourceExtensions, testPatterns []string, existingGraph *Graph) Graph {
	if sourceExtensions == nil {
		sourceExtensions = DefaultSourceExtensions
	}
	if testPatterns == nil {
		testPatterns = DefaultTestPatterns
	}

	fileCommits := map[string][]FileCommitRef{}
	commitFiles := map[string]CommitFiles{}
	totalAnalyzed := 0
	lastCommitHash := ""

	if existingGraph != nil {
		for k, v := range existingGraph.FileCommits {
			fileCommits[k] = append([]FileCommitRef(nil), v...)
		}
		for k, v := range existingGraph.CommitFiles {
			commitFiles[k] = v
		}
		totalAnalyzed = existingGraph.Metadata.TotalCommitsAnalyzed
		lastCommitHash = existingGraph.Metadata.LastCommit
	}

	newCommitsCount := 0
	firstNewCommit := ""

	for _, commit := range commits {
		if _, seen := commitFiles[commit.Hash]; seen {
			continue
		}

		var sourceFiles, testFiles []string
		for _, filepath := range commit.Files {
			switch ClassifyFile(filepath, sourceExtensions, testPatterns) {
			case Source:
				sourceFiles = append(sourceFiles, filepath)
			case Test:
				testFiles = append(testFiles, filepath)
			}
		}

		if len(sourceFiles) == 0 {
			continue
		}

		commitFiles[commit.Hash] = CommitFiles{
			Timestamp:   commit.Timestamp,
			SourceFiles: sourceFiles,
			TestFiles:   testFiles,
		}

		for _, filepath := range append(append([]string{}, sourceFiles...), testFiles...) {
			fileCommits[filepath] = append(fileCommits[filepath], FileCommitRef{
				Commit:    commit.Hash,
				Timestamp: commit.Timestamp,
			})
		}

		newCommitsCount++
		if firstNewCommit == "" {
			firstNewCommit = commit.Hash
		}
	}

	if firstNewCommit != "" {
		lastCommitHash = firstNewCommit
	}

	return Graph{
		Metadata: Metadata{
			BuiltAt:              nowFunc().Format(time.RFC3339),
			LastCommit:           lastCommitHash,
			TotalCommitsAnalyzed: totalAnalyzed + newCommitsCount,
			SourceExtensions:     sourceExtensions,
			TestPatterns:         testPatterns,
		},
		FileCommits: fileCommits,
		CommitFiles: commitFiles,
	}
}

// RunGitLog runs `git log --name-only` over repoRoot bounded to
// maxHistory commits, optionally only commits after sinceCommit
// (exclusive), and returns the raw output for ParseGitLog.
func RunGitLog(repoRoot string, maxHistory int, sinceCommit string) (string, error) {
	out, err := gitutil.LogCommitsNameOnly(repoRoot, maxHistory, sinceCommit)
	if err != nil {
		return "", fmt.Errorf("cooccurrence: git log failed: %w", err)
	}
	return out, nil
}

// CommitsTouchingFiles returns the deduplicated commit hashes that
// touched any of targetFiles, sorted lexically by hash (not by recency)
// — the raw signal internal/regression folds into its co-occurrence
// weighting.
func CommitsTouchingFiles(g Graph, targetFiles []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range targetFiles {
		for _, ref := range g.FileCommits[f] {
			if !seen[ref.Commit] {
				seen[ref.Commit] = true
				out = append(out, ref.Commit)
			}
		}
	}
	sort.Strings(out)
	return out
}

// LoadGraph reads a previously persisted Graph from path. A missing or
// corrupt file returns a zero-value Graph (empty LastCommit watermark), so
// BuildGraph treats it as a fresh build over full history.
func LoadGraph(path string) Graph {
	b, err := os.ReadFile(path)
	if err != nil {
		return Graph{}
	}
	var g Graph
	if err := json.Unmarshal(b, &g); err != nil {
		return Graph{}
	}
	return g
}

// SaveGraph atomically writes g to path, creating parent directories as
// needed.
func SaveGraph(path string, g Graph) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
