package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// State is a burn-in lifecycle state.
type State string

const (
	StateNew        State = "new"
	StateBurningIn  State = "burning_in"
	StateStable     State = "stable"
	StateFlaky      State = "flaky"
	StateDisabled   State = "disabled"
)

var validStates = map[State]bool{
	StateNew:       true,
	StateBurningIn: true,
	StateStable:    true,
	StateFlaky:     true,
	StateDisabled:  true,
}

// HistoryRecord is one recorded run outcome, newest entries first.
type HistoryRecord struct {
	Passed     bool   `json:"passed"`
	Commit     string `json:"commit,omitempty"`
	TargetHash string `json:"target_hash,omitempty"`
}

// TestEntry is the full per-test record kept in the status file.
type TestEntry struct {
	State       State           `json:"state"`
	History     []HistoryRecord `json:"history"`
	LastUpdated time.Time       `json:"last_updated"`
}

// historyCap bounds per-test history length; oldest entries are dropped.
const historyCap = 200

type statusDoc struct {
	Tests map[string]TestEntry `json:"tests"`
}

// Store manages the .tests/status JSON state file that tracks per-test
// burn-in lifecycle state and run history.
type Store struct {
	path string
	data statusDoc
}

// OpenStore loads path if it exists, defaulting to an empty test set
// otherwise. A corrupt or unreadable file resets to the empty state
// rather than failing the run (see §7.5).
func OpenStore(path string) *Store {
	s := &Store{path: path, data: statusDoc{Tests: map[string]TestEntry{}}}

	b, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var doc statusDoc
	if err := json.Unmarshal(b, &doc); err != nil || doc.Tests == nil {
		return s
	}
	s.data = doc
	return s
}

// Save atomically writes the status document back to disk.
func (s *Store) Save() error {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return atomicWriteFile(s.path, b)
}

// GetTestState returns the state of a test, or "" if the test has no
// recorded entry.
func (s *Store) GetTestState(name string) State {
	entry, ok := s.data.Tests[name]
	if !ok {
		return ""
	}
	return entry.State
}

// GetTestEntry returns the full entry for name and whether it exists.
func (s *Store) GetTestEntry(name string) (TestEntry, bool) {
	entry, ok := s.data.Tests[name]
	return entry, ok
}

// SetTestState sets or updates name's state. clearHistory starts a fresh
// burn-in cycle by discarding prior run history.
func (s *Store) SetTestState(name string, state State, clearHistory bool) error {
	if !validStates[state] {
		return fmt.Errorf("lifecycle: invalid state %q", state)
	}

	existing := s.data.Tests[name]
	history := existing.History
	if clearHistory {
		history = nil
	}
	s.data.Tests[name] = TestEntry{
		State:       state,
		History:     history,
		LastUpdated: time.Now().UTC(),
	}
	return nil
}

// RecordRun prepends a run outcome to name's history (creating the entry
// with state "new" if absent) and caps history at historyCap entries.
func (s *Store) RecordRun(name string, passed bool, commit string) {
	entry, ok := s.data.Tests[name]
	if !ok {
		entry = TestEntry{State: StateNew}
	}
	entry.LastUpdated = time.Now().UTC()
	entry.History = append([]HistoryRecord{{Passed: passed, Commit: commit}}, entry.History...)
	if len(entry.History) > historyCap {
		entry.History = entry.History[:historyCap]
	}
	s.data.Tests[name] = entry
}

// GetTestHistory returns name's run history, newest-first, or nil if
// name has no entry.
func (s *Store) GetTestHistory(name string) []HistoryRecord {
	entry, ok := s.data.Tests[name]
	if !ok {
		return nil
	}
	return entry.History
}

// RecordRunHashed is RecordRun with an accompanying target hash, used by
// the effort runner to pool cross-session evidence keyed by content hash.
func (s *Store) RecordRunHashed(name string, passed bool, commit, targetHash string) {
	entry, ok := s.data.Tests[name]
	if !ok {
		entry = TestEntry{State: StateNew}
	}
	entry.LastUpdated = time.Now().UTC()
	entry.History = append([]HistoryRecord{{Passed: passed, Commit: commit, TargetHash: targetHash}}, entry.History...)
	if len(entry.History) > historyCap {
		entry.History = entry.History[:historyCap]
	}
	s.data.Tests[name] = entry
}

// GetSameHashHistory returns the subset of name's history recorded under
// targetHash, the evidence the effort runner pools across sessions as
// long as the build target's content hash hasn't changed.
func (s *Store) GetSameHashHistory(name, targetHash string) []HistoryRecord {
	if targetHash == "" {
		return nil
	}
	var out []HistoryRecord
	for _, h := range s.GetTestHistory(name) {
		if h.TargetHash == targetHash {
			out = append(out, h)
		}
	}
	return out
}

// RunsAndPassesFromHistory derives aggregate run/pass counts from a
// history slice.
func RunsAndPassesFromHistory(history []HistoryRecord) (runs, passes int) {
	runs = len(history)
	for _, h := range history {
		if h.Passed {
			passes++
		}
	}
	return runs, passes
}

// GetAllTests returns a copy of every tracked test's entry.
func (s *Store) GetAllTests() map[string]TestEntry {
	out := make(map[string]TestEntry, len(s.data.Tests))
	for k, v := range s.data.Tests {
		out[k] = v
	}
	return out
}

// GetTestsByState returns the names of all tests in the given state,
// sorted for deterministic output.
func (s *Store) GetTestsByState(state State) []string {
	var names []string
	for name, entry := range s.data.Tests {
		if entry.State == state {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// RemoveTest deletes name's entry, reporting whether it existed.
func (s *Store) RemoveTest(name string) bool {
	if _, ok := s.data.Tests[name]; !ok {
		return false
	}
	delete(s.data.Tests, name)
	return true
}
