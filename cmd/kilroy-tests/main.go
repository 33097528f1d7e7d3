package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kilroy-tests/orchestrator/internal/cooccurrence"
	"github.com/kilroy-tests/orchestrator/internal/effort"
	"github.com/kilroy-tests/orchestrator/internal/evidence"
	"github.com/kilroy-tests/orchestrator/internal/executor"
	"github.com/kilroy-tests/orchestrator/internal/gitutil"
	"github.com/kilroy-tests/orchestrator/internal/judgement"
	"github.com/kilroy-tests/orchestrator/internal/lifecycle"
	"github.com/kilroy-tests/orchestrator/internal/manifest"
	"github.com/kilroy-tests/orchestrator/internal/regression"
	"github.com/kilroy-tests/orchestrator/internal/reporter"
	"github.com/kilroy-tests/orchestrator/internal/targethash"
)

func signalCancelContext() (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(context.Background())
	sigCh := make(chan os.Signal, 1)
	stopCh := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-sigCh:
				cancel(fmt.Errorf("stopped by signal %s", sig.String()))
			case <-stopCh:
				return
			}
		}
	}()
	cleanup := func() {
		signal.Stop(sigCh)
		close(stopCh)
		cancel(nil)
	}
	return ctx, cleanup
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runCommand(os.Args[2:])
	case "converge":
		effortCommand(os.Args[2:], effort.Converge)
	case "max":
		effortCommand(os.Args[2:], effort.Max)
	case "status":
		statusCommand(os.Args[2:])
	case "regression-select":
		regressionSelectCommand(os.Args[2:])
	case "graph":
		graphCommand(os.Args[2:])
	case "judge":
		judgeCommand(os.Args[2:])
	case "hifi":
		hifiCommand(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  kilroy-tests run --manifest <file> [--mode diagnostic|detection] [--parallel N] [--status <file>] [--config <file>]")
	fmt.Fprintln(os.Stderr, "  kilroy-tests converge --manifest <file> --status <file> [--config <file>]")
	fmt.Fprintln(os.Stderr, "  kilroy-tests max --manifest <file> --status <file> [--config <file>]")
	fmt.Fprintln(os.Stderr, "  kilroy-tests status --status <file> [--test <name>]")
	fmt.Fprintln(os.Stderr, "  kilroy-tests regression-select --manifest <file> --graph <file> --changed <file1,file2,...>")
	fmt.Fprintln(os.Stderr, "  kilroy-tests graph update --repo <path> --graph <file> [--max-history N]")
	fmt.Fprintln(os.Stderr, "  kilroy-tests judge --manifest <file> --measurements <dir> --test <name>")
	fmt.Fprintln(os.Stderr, "  kilroy-tests hifi --manifest <file> --status <file> [--config <file>] [--tests <name1,name2,...>]")
}

func nextArg(args []string, i *int, flag string) string {
	*i++
	if *i >= len(args) {
		fmt.Fprintf(os.Stderr, "%s requires a value\n", flag)
		os.Exit(1)
	}
	return args[*i]
}

func loadManifestOrExit(path string) *manifest.Document {
	if path == "" {
		fmt.Fprintln(os.Stderr, "--manifest is required")
		os.Exit(1)
	}
	doc, err := manifest.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return doc
}

func newRunID() string {
	return ulid.Make().String()
}

func runCommand(args []string) {
	var manifestPath, mode, statusPath, configPath string
	var parallel int

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--manifest":
			manifestPath = nextArg(args, &i, "--manifest")
		case "--mode":
			mode = nextArg(args, &i, "--mode")
		case "--parallel":
			n, err := strconv.Atoi(nextArg(args, &i, "--parallel"))
			if err != nil {
				fmt.Fprintln(os.Stderr, "--parallel requires an integer")
				os.Exit(1)
			}
			parallel = n
		case "--status":
			statusPath = nextArg(args, &i, "--status")
		case "--config":
			configPath = nextArg(args, &i, "--config")
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}

	doc := loadManifestOrExit(manifestPath)
	g := doc.Graph()
	g.RemoveDisabled()

	execMode := executor.Diagnostic
	if mode == "detection" {
		execMode = executor.Detection
	}

	cfg := lifecycle.DefaultConfig()
	if configPath != "" {
		cfg = lifecycle.LoadConfig(configPath)
	}

	runID := newRunID()
	fmt.Fprint(os.Stderr, reporter.RenderRunIDLine(runID, string(execMode)))

	ctx, cleanup := signalCancelContext()
	defer cleanup()

	var results []executor.TestResult
	var err error
	if parallel != 0 {
		results, err = executor.NewParallel(g, execMode, cfg.MaxFailures, parallel).Execute(ctx)
	} else {
		results, err = executor.NewSequential(g, execMode, cfg.MaxFailures).Execute(ctx)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	commitSHA := currentCommitSHA()

	var store *lifecycle.Store
	if statusPath != "" {
		store = lifecycle.OpenStore(statusPath)
		lifecycle.ProcessResults(results, store, cfg, commitSHA)
		if err := store.Save(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	classifications := make([]executor.TestClassification, 0, len(results))
	for _, r := range results {
		if r.Status == executor.DependenciesFailed {
			continue
		}
		c := executor.TestClassification{Name: r.Name}
		switch r.Status {
		case executor.Passed, executor.PassedDependenciesFailed:
			c.Classification = executor.TruePass
		default:
			c.Classification = executor.TrueFail
		}
		if store != nil {
			c.LifecycleState = executor.LifecycleState(store.GetTestState(r.Name))
		}
		classifications = append(classifications, c)
	}

	summary := executor.ComputeExitCode(classifications, executor.Regression)
	fmt.Print(reporter.RenderSummary(summary))
	os.Exit(summary.ExitCode)
}

func effortCommand(args []string, mode effort.Mode) {
	var manifestPath, statusPath, configPath string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--manifest":
			manifestPath = nextArg(args, &i, "--manifest")
		case "--status":
			statusPath = nextArg(args, &i, "--status")
		case "--config":
			configPath = nextArg(args, &i, "--config")
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}

	if statusPath == "" {
		fmt.Fprintln(os.Stderr, "--status is required")
		os.Exit(1)
	}

	doc := loadManifestOrExit(manifestPath)
	g := doc.Graph()
	g.RemoveDisabled()

	cfg := lifecycle.DefaultConfig()
	if configPath != "" {
		cfg = lifecycle.LoadConfig(configPath)
	}

	store := lifecycle.OpenStore(statusPath)
	commitSHA := currentCommitSHA()

	ctx, cleanup := signalCancelContext()
	defer cleanup()

	initial, err := executor.NewSequential(g, executor.Diagnostic, cfg.MaxFailures).Execute(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	runner := effort.NewRunner(g, store, cfg, commitSHA, initial)
	runner.Mode = mode
	runner.MaxReruns = cfg.MaxReruns

	labels := make([]string, 0, len(g.Nodes))
	for name := range g.Nodes {
		labels = append(labels, name)
	}
	runner.TargetHashes = targethash.Compute(ctx, g, labels, "")

	result := runner.Run(ctx)

	if err := store.Save(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	exitCode := 0
	for name, r := range result.Classifications {
		blocking := r.Classification == effort.TrueFail || r.Classification == effort.Flake || r.Classification == effort.Undecided
		fmt.Printf("%s: %s (runs=%d passes=%d decision=%s)\n", name, r.Classification, r.Runs, r.Passes, r.SPRTDecision)
		if blocking {
			exitCode = 1
		}
	}
	fmt.Printf("total_reruns=%d\n", result.TotalReruns)
	os.Exit(exitCode)
}

func hifiCommand(args []string) {
	var manifestPath, statusPath, configPath, tests string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--manifest":
			manifestPath = nextArg(args, &i, "--manifest")
		case "--status":
			statusPath = nextArg(args, &i, "--status")
		case "--config":
			configPath = nextArg(args, &i, "--config")
		case "--tests":
			tests = nextArg(args, &i, "--tests")
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}

	if statusPath == "" {
		fmt.Fprintln(os.Stderr, "--status is required")
		os.Exit(1)
	}

	doc := loadManifestOrExit(manifestPath)
	g := doc.Graph()
	g.RemoveDisabled()

	cfg := lifecycle.DefaultConfig()
	if configPath != "" {
		cfg = lifecycle.LoadConfig(configPath)
	}

	store := lifecycle.OpenStore(statusPath)
	commitSHA := currentCommitSHA()

	ctx, cleanup := signalCancelContext()
	defer cleanup()

	evaluator := effort.NewHiFiEvaluator(g, store, cfg, commitSHA)
	if tests != "" {
		evaluator.TargetTests = strings.Split(tests, ",")
	}

	result := evaluator.Evaluate(ctx)

	if err := store.Save(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	verdict := result.Verdict
	fmt.Printf("verdict=%s e_set=%.4f min_s_value=%.4f weakest_test=%s total_reruns=%d\n",
		verdict.Verdict, verdict.ESet, verdict.MinSValue, verdict.WeakestTest, result.TotalReruns)
	for _, pt := range verdict.PerTest {
		fmt.Printf("%s: s_value=%.4f runs=%d passes=%d\n", pt.TestName, pt.SValue, pt.Runs, pt.Passes)
	}

	if verdict.Verdict == evidence.Green {
		os.Exit(0)
	}
	os.Exit(1)
}

func statusCommand(args []string) {
	var statusPath, testName string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--status":
			statusPath = nextArg(args, &i, "--status")
		case "--test":
			testName = nextArg(args, &i, "--test")
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if statusPath == "" {
		fmt.Fprintln(os.Stderr, "--status is required")
		os.Exit(1)
	}

	store := lifecycle.OpenStore(statusPath)

	if testName != "" {
		entry, ok := store.GetTestEntry(testName)
		if !ok {
			fmt.Printf("%s: no recorded entry\n", testName)
			os.Exit(1)
		}
		fmt.Printf("%s: state=%s last_updated=%s history=%d\n", testName, entry.State, entry.LastUpdated.Format(time.RFC3339), len(entry.History))
		os.Exit(0)
	}

	for name, entry := range store.GetAllTests() {
		fmt.Printf("%s: state=%s history=%d\n", name, entry.State, len(entry.History))
	}
}

func regressionSelectCommand(args []string) {
	var manifestPath, graphPath, changed string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--manifest":
			manifestPath = nextArg(args, &i, "--manifest")
		case "--graph":
			graphPath = nextArg(args, &i, "--graph")
		case "--changed":
			changed = nextArg(args, &i, "--changed")
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if graphPath == "" {
		fmt.Fprintln(os.Stderr, "--graph is required")
		os.Exit(1)
	}

	doc := loadManifestOrExit(manifestPath)
	g := doc.Graph()

	var changedFiles []string
	if changed != "" {
		changedFiles = strings.Split(changed, ",")
	}

	cg := cooccurrence.LoadGraph(graphPath)
	result := regression.SelectRegressionTests(changedFiles, cg, g, regression.DefaultConfig())

	for _, name := range result.SelectedTests {
		fmt.Printf("%s: score=%.4f reason=%s\n", name, result.Scores[name], result.SelectionReason[name])
	}
	if result.FallbackUsed {
		fmt.Fprintln(os.Stderr, "WARNING: fell back to the full manifest (too few tests selected)")
	}
	fmt.Printf("selected=%d total_stable=%d\n", len(result.SelectedTests), result.TotalStableTests)
}

func graphCommand(args []string) {
	if len(args) < 1 || args[0] != "update" {
		usage()
		os.Exit(1)
	}
	args = args[1:]

	var repoPath, graphPath string
	maxHistory := 1000
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--repo":
			repoPath = nextArg(args, &i, "--repo")
		case "--graph":
			graphPath = nextArg(args, &i, "--graph")
		case "--max-history":
			n, err := strconv.Atoi(nextArg(args, &i, "--max-history"))
			if err != nil {
				fmt.Fprintln(os.Stderr, "--max-history requires an integer")
				os.Exit(1)
			}
			maxHistory = n
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if repoPath == "" || graphPath == "" {
		usage()
		os.Exit(1)
	}

	existing := cooccurrence.LoadGraph(graphPath)

	out, err := cooccurrence.RunGitLog(repoPath, maxHistory, existing.Metadata.LastCommit)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	commits := cooccurrence.ParseGitLog(out)

	updated := cooccurrence.BuildGraph(commits, nil, nil, &existing)
	if err := cooccurrence.SaveGraph(graphPath, updated); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("total_commits_analyzed=%d last_commit=%s\n", updated.Metadata.TotalCommitsAnalyzed, updated.Metadata.LastCommit)
}

func judgeCommand(args []string) {
	var manifestPath, measurementsDir, testName string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--manifest":
			manifestPath = nextArg(args, &i, "--manifest")
		case "--measurements":
			measurementsDir = nextArg(args, &i, "--measurements")
		case "--test":
			testName = nextArg(args, &i, "--test")
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if measurementsDir == "" {
		fmt.Fprintln(os.Stderr, "--measurements is required")
		os.Exit(1)
	}

	doc := loadManifestOrExit(manifestPath)
	g := doc.Graph()

	ctx, cleanup := signalCancelContext()
	defer cleanup()

	if testName != "" {
		result := judgement.Execute(ctx, testName, g, measurementsDir, 60*time.Second)
		fmt.Printf("%s: status=%s reason=%q\n", testName, result.Status, result.Reason)
		if result.Status == judgement.StatusFailed || result.Status == judgement.StatusJudgementError {
			os.Exit(1)
		}
		os.Exit(0)
	}

	eligible := judgement.FindRejudgeableTests(g, measurementsDir)
	exitCode := 0
	for _, name := range eligible {
		result := judgement.Execute(ctx, name, g, measurementsDir, 60*time.Second)
		fmt.Printf("%s: status=%s reason=%q\n", name, result.Status, result.Reason)
		if result.Status == judgement.StatusFailed || result.Status == judgement.StatusJudgementError {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

func currentCommitSHA() string {
	sha, err := gitutil.HeadSHA(".")
	if err != nil {
		return ""
	}
	return sha
}
