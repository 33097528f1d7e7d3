package cooccurrence

import (
	"path/filepath"
	"testing"
	"time"
)

func TestClassifyFile_TestPatternWinsOverSourceExtension(t *testing.T) {
	if got := ClassifyFile("pkg/auth_test.py", nil, nil); got != Test {
		t.Errorf("ClassifyFile = %v, want test", got)
	}
}

func TestClassifyFile_SourceExtension(t *testing.T) {
	if got := ClassifyFile("pkg/auth.go", nil, nil); got != Source {
		t.Errorf("ClassifyFile = %v, want source", got)
	}
}

func TestClassifyFile_Ignored(t *testing.T) {
	if got := ClassifyFile("README.md", nil, nil); got != Ignored {
		t.Errorf("ClassifyFile = %v, want ignored", got)
	}
}

func TestClassifyFile_CustomPatternsAndExtensions(t *testing.T) {
	got := ClassifyFile("widget.spec.ts", []string{".ts"}, []string{"*.spec.*"})
	if got != Test {
		t.Errorf("ClassifyFile = %v, want test", got)
	}
}

func TestParseGitLog_MultipleCommits(t *testing.T) {
	log := "COMMIT abc123 2026-01-01T00:00:00Z\n\nfoo.go\nfoo_test.go\n\nCOMMIT def456 2026-01-02T00:00:00Z\n\nbar.go\n"
	commits := ParseGitLog(log)

	if len(commits) != 2 {
		t.Fatalf("len(commits) = %d, want 2", len(commits))
	}
	if commits[0].Hash != "abc123" || len(commits[0].Files) != 2 {
		t.Errorf("commits[0] = %+v", commits[0])
	}
	if commits[1].Hash != "def456" || len(commits[1].Files) != 1 {
		t.Errorf("commits[1] = %+v", commits[1])
	}
}

func TestParseGitLog_EmptyInput(t *testing.T) {
	if commits := ParseGitLog(""); len(commits) != 0 {
		t.Errorf("commits = %v, want empty", commits)
	}
}

func TestBuildGraph_SkipsCommitsWithNoSourceFiles(t *testing.T) {
	commits := []Commit{
		{Hash: "a", Timestamp: "t1", Files: []string{"README.md"}},
	}
	g := BuildGraph(commits, nil, nil, nil)
	if len(g.CommitFiles) != 0 {
		t.Errorf("CommitFiles = %v, want empty (no source signal)", g.CommitFiles)
	}
}

func TestBuildGraph_IndexesSourceAndTestFiles(t *testing.T) {
	commits := []Commit{
		{Hash: "a", Timestamp: "t1", Files: []string{"foo.go", "foo_test.go"}},
	}
	g := BuildGraph(commits, nil, nil, nil)

	if len(g.CommitFiles) != 1 {
		t.Fatalf("CommitFiles = %v, want 1 entry", g.CommitFiles)
	}
	cf := g.CommitFiles["a"]
	if len(cf.SourceFiles) != 1 || cf.SourceFiles[0] != "foo.go" {
		t.Errorf("SourceFiles = %v, want [foo.go]", cf.SourceFiles)
	}
	if len(cf.TestFiles) != 1 || cf.TestFiles[0] != "foo_test.go" {
		t.Errorf("TestFiles = %v, want [foo_test.go]", cf.TestFiles)
	}
	if len(g.FileCommits["foo.go"]) != 1 || len(g.FileCommits["foo_test.go"]) != 1 {
		t.Errorf("FileCommits not indexed for both files: %v", g.FileCommits)
	}
	if g.Metadata.TotalCommitsAnalyzed != 1 {
		t.Errorf("TotalCommitsAnalyzed = %d, want 1", g.Metadata.TotalCommitsAnalyzed)
	}
}

func TestBuildGraph_IncrementalSkipsAlreadyProcessedCommits(t *testing.T) {
	restore := nowFunc
	nowFunc = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	defer func() { nowFunc = restore }()

	first := BuildGraph([]Commit{
		{Hash: "a", Timestamp: "t1", Files: []string{"foo.go"}},
	}, nil, nil, nil)

	second := BuildGraph([]Commit{
		{Hash: "a", Timestamp: "t1", Files: []string{"foo.go"}},
		{Hash: "b", Timestamp: "t2", Files: []string{"bar.go"}},
	}, nil, nil, &first)

	if second.Metadata.TotalCommitsAnalyzed != 2 {
		t.Errorf("TotalCommitsAnalyzed = %d, want 2", second.Metadata.TotalCommitsAnalyzed)
	}
	if len(second.CommitFiles) != 2 {
		t.Errorf("CommitFiles = %v, want 2 entries", second.CommitFiles)
	}
	if len(second.FileCommits["foo.go"]) != 1 {
		t.Errorf("foo.go should not be double-indexed: %v", second.FileCommits["foo.go"])
	}
}

func TestBuildGraph_PreservesLastCommitWhenNoNewCommits(t *testing.T) {
	existing := Graph{
		Metadata:    Metadata{LastCommit: "z", TotalCommitsAnalyzed: 5},
		FileCommits: map[string][]FileCommitRef{},
		CommitFiles: map[string]CommitFiles{"z": {}},
	}
	result := BuildGraph(nil, nil, nil, &existing)
	if result.Metadata.LastCommit != "z" {
		t.Errorf("LastCommit = %q, want z (unchanged)", result.Metadata.LastCommit)
	}
}

func TestCommitsTouchingFiles_DedupesAndSorts(t *testing.T) {
	g := Graph{
		FileCommits: map[string][]FileCommitRef{
			"foo.go": {{Commit: "b"}, {Commit: "a"}},
			"bar.go": {{Commit: "a"}},
		},
	}
	commits := CommitsTouchingFiles(g, []string{"foo.go", "bar.go"})
	if len(commits) != 2 {
		t.Fatalf("commits = %v, want 2 deduped", commits)
	}
}

func TestSaveAndLoadGraph_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	g := Graph{
		Metadata:    Metadata{LastCommit: "abc", TotalCommitsAnalyzed: 3},
		FileCommits: map[string][]FileCommitRef{"foo.go": {{Commit: "abc", Timestamp: "t1"}}},
		CommitFiles: map[string]CommitFiles{"abc": {Timestamp: "t1", SourceFiles: []string{"foo.go"}}},
	}

	if err := SaveGraph(path, g); err != nil {
		t.Fatal(err)
	}

	loaded := LoadGraph(path)
	if loaded.Metadata.LastCommit != "abc" || loaded.Metadata.TotalCommitsAnalyzed != 3 {
		t.Errorf("loaded.Metadata = %+v, want LastCommit=abc TotalCommitsAnalyzed=3", loaded.Metadata)
	}
	if len(loaded.FileCommits["foo.go"]) != 1 {
		t.Errorf("loaded.FileCommits = %v, want one foo.go entry", loaded.FileCommits)
	}
}

func TestLoadGraph_MissingFileReturnsZeroValue(t *testing.T) {
	loaded := LoadGraph(filepath.Join(t.TempDir(), "nonexistent.json"))
	if loaded.Metadata.LastCommit != "" {
		t.Errorf("LastCommit = %q, want empty for a missing file", loaded.Metadata.LastCommit)
	}
}
