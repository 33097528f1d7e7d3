package executor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/kilroy-tests/orchestrator/internal/dag"
)

// Parallel executes tests with bounded concurrency (a sliding window):
// a node dispatches as soon as its dependencies are done, without
// waiting for a whole "wave" to finish. In diagnostic mode a failed
// dependency marks dependents dependencies_failed immediately, without
// dispatch; a dependency that fails *while* a dependent is already
// running produces a combined status (e.g. passed+dependencies_failed)
// so the race is visible rather than silently lost.
type Parallel struct {
	Graph       *dag.Graph
	Mode        Mode
	MaxFailures *int
	MaxParallel int
	Timeout     time.Duration

	mu            sync.Mutex
	results       map[string]TestResult
	resultList    []TestResult
	failureCount  int
	startTimes    map[string]time.Time
	depFailTimes  map[string]time.Time
	stopped       bool
}

// NewParallel constructs a Parallel executor. maxParallel <= 0 defaults
// to the number of available CPUs.
func NewParallel(g *dag.Graph, mode Mode, maxFailures *int, maxParallel int) *Parallel {
	if maxParallel <= 0 {
		maxParallel = runtime.NumCPU()
		if maxParallel <= 0 {
			maxParallel = 4
		}
	}
	return &Parallel{
		Graph:       g,
		Mode:        mode,
		MaxFailures: maxFailures,
		MaxParallel: maxParallel,
		Timeout:     300 * time.Second,
	}
}

// Execute runs the DAG to completion and returns results in completion
// order (not the ready/dependency order).
func (p *Parallel) Execute(ctx context.Context) ([]TestResult, error) {
	if _, err := orderFor(p.Graph, p.Mode); err != nil {
		return nil, err
	}
	if len(p.Graph.Nodes) == 0 {
		return nil, nil
	}

	p.results = make(map[string]TestResult, len(p.Graph.Nodes))
	p.startTimes = make(map[string]time.Time, len(p.Graph.Nodes))
	p.depFailTimes = make(map[string]time.Time, len(p.Graph.Nodes))

	pending := make(map[string]bool, len(p.Graph.Nodes))
	for name := range p.Graph.Nodes {
		pending[name] = true
	}
	running := make(map[string]bool)
	done := make(map[string]bool, len(p.Graph.Nodes))

	sem := make(chan struct{}, p.MaxParallel)
	completions := make(chan string, len(p.Graph.Nodes))

	for len(pending) > 0 || len(running) > 0 {
		p.mu.Lock()
		stopped := p.stopped
		p.mu.Unlock()
		if stopped && len(running) == 0 {
			break
		}

		var ready []string
		for name := range pending {
			if stopped {
				break
			}
			deps := p.Graph.GetDependencies(name)

			if p.Mode == Diagnostic {
				if p.anyDepFailed(deps) {
					node := p.Graph.Nodes[name]
					p.recordImmediate(name, TestResult{Name: name, Assertion: node.Assertion, Status: DependenciesFailed})
					delete(pending, name)
					done[name] = true
					continue
				}
				if allDone(deps, done) {
					ready = append(ready, name)
				}
			} else {
				if allDone(deps, done) {
					ready = append(ready, name)
				}
			}
		}

		for _, name := range ready {
			delete(pending, name)
			running[name] = true
			sem <- struct{}{}
			go func(name string) {
				defer func() { <-sem }()
				p.runAndRecord(ctx, name, completions)
			}(name)
		}

		if len(ready) == 0 && (len(pending) > 0 || len(running) > 0) {
			if len(running) == 0 {
				break
			}
			name := <-completions
			delete(running, name)
			done[name] = true
		} else {
			drainNonBlocking(completions, running, done)
		}
	}

	for len(running) > 0 {
		name := <-completions
		delete(running, name)
		done[name] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resultList, nil
}

func drainNonBlocking(completions <-chan string, running map[string]bool, done map[string]bool) {
	for {
		select {
		case name := <-completions:
			delete(running, name)
			done[name] = true
		default:
			return
		}
	}
}

func allDone(deps []string, done map[string]bool) bool {
	for _, d := range deps {
		if !done[d] {
			return false
		}
	}
	return true
}

func (p *Parallel) anyDepFailed(deps []string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, dep := range deps {
		if r, ok := p.results[dep]; ok {
			switch r.Status {
			case Failed, DependenciesFailed, PassedDependenciesFailed, FailedDependenciesFailed:
				return true
			}
		}
	}
	return false
}

func (p *Parallel) recordImmediate(name string, result TestResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[name] = result
	p.resultList = append(p.resultList, result)
	p.depFailTimes[name] = time.Now()
}

func (p *Parallel) runAndRecord(ctx context.Context, name string, completions chan<- string) {
	node := p.Graph.Nodes[name]

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		completions <- name
		return
	}
	p.startTimes[name] = time.Now()
	p.mu.Unlock()

	result := runTest(ctx, node, p.Timeout)

	p.mu.Lock()
	if p.Mode == Diagnostic {
		result = p.applyCombinedStatus(name, result)
	}
	p.results[name] = result
	p.resultList = append(p.resultList, result)

	if result.Status == DependenciesFailed || result.Status == FailedDependenciesFailed || result.Status == PassedDependenciesFailed {
		p.depFailTimes[name] = time.Now()
	}

	if result.Status == Failed || result.Status == FailedDependenciesFailed {
		p.failureCount++
		if p.MaxFailures != nil && p.failureCount >= *p.MaxFailures {
			p.stopped = true
		}
	}
	p.mu.Unlock()

	completions <- name
}

// applyCombinedStatus checks whether a dependency failed after this
// test started but before it finished — a race the diagnostic mode must
// surface rather than silently resolve in either direction. Caller must
// hold p.mu.
func (p *Parallel) applyCombinedStatus(name string, result TestResult) TestResult {
	if result.Status != Passed && result.Status != Failed {
		return result
	}

	start := p.startTimes[name]
	for _, dep := range p.Graph.GetDependencies(name) {
		failTime, ok := p.depFailTimes[dep]
		if ok && failTime.After(start) {
			if result.Status == Passed {
				result.Status = PassedDependenciesFailed
			} else {
				result.Status = FailedDependenciesFailed
			}
			return result
		}
	}
	return result
}
