// Package manifest loads and structurally validates the test manifest
// file (test_set + test_set_tests), the input internal/dag.FromManifest
// builds a Graph from.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kilroy-tests/orchestrator/internal/dag"
)

// testSetTestsSchema validates the shape of a single test_set_tests
// entry: assertion and executable required, the rest optional. Unknown
// fields are deliberately allowed (manifest forward compatibility, see
// from_manifest's documented tolerance).
const testSetTestsSchema = `{
	"type": "object",
	"properties": {
		"assertion": {"type": "string"},
		"executable": {"type": "string"},
		"depends_on": {"type": "array", "items": {"type": "string"}},
		"requirement_id": {"type": "string"},
		"judgement_executable": {"type": "string"},
		"disabled": {"type": "boolean"}
	},
	"required": ["assertion", "executable"]
}`

// TestSet is the manifest's top-level test_set metadata block.
type TestSet struct {
	Name          string   `json:"name"`
	Assertion     string   `json:"assertion"`
	RequirementID string   `json:"requirement_id,omitempty"`
	Tests         []string `json:"tests,omitempty"`
	Subsets       []string `json:"subsets,omitempty"`
}

// Document is the decoded manifest file.
type Document struct {
	TestSet      TestSet
	TestSetTests map[string]dag.ManifestTest

	// TestOrder holds the test_set_tests keys in the order they appear
	// in the source JSON text. dag.FromManifestOrdered uses this to
	// preserve manifest insertion order through graph traversal, since
	// the map above cannot carry it.
	TestOrder []string
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("test_set_tests.json", strings.NewReader(testSetTestsSchema)); err != nil {
		return nil, err
	}
	return c.Compile("test_set_tests.json")
}

// Load reads and parses a manifest file at path, structurally validating
// every test_set_tests entry against the embedded schema.
func Load(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes and validates manifest JSON from b.
func Parse(b []byte) (*Document, error) {
	var raw struct {
		TestSet      TestSet         `json:"test_set"`
		TestSetTests json.RawMessage `json:"test_set_tests"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("manifest: invalid JSON: %w", err)
	}

	order, err := objectKeyOrder(raw.TestSetTests)
	if err != nil {
		return nil, fmt.Errorf("manifest: test_set_tests: %w", err)
	}

	var entries map[string]json.RawMessage
	if raw.TestSetTests != nil {
		if err := json.Unmarshal(raw.TestSetTests, &entries); err != nil {
			return nil, fmt.Errorf("manifest: invalid JSON: %w", err)
		}
	}

	s, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("manifest: compiling schema: %w", err)
	}

	doc := &Document{
		TestSet:      raw.TestSet,
		TestSetTests: make(map[string]dag.ManifestTest, len(entries)),
		TestOrder:    order,
	}

	for _, name := range order {
		rawEntry := entries[name]
		var asAny any
		if err := json.Unmarshal(rawEntry, &asAny); err != nil {
			return nil, fmt.Errorf("manifest: test %q: invalid entry: %w", name, err)
		}
		if err := s.Validate(asAny); err != nil {
			return nil, fmt.Errorf("manifest: test %q: %w", name, err)
		}

		var entry dag.ManifestTest
		if err := json.Unmarshal(rawEntry, &entry); err != nil {
			return nil, fmt.Errorf("manifest: test %q: decode: %w", name, err)
		}
		doc.TestSetTests[name] = entry
	}

	return doc, nil
}

// objectKeyOrder walks a JSON object's top-level keys in source-text
// order. A nil or non-object raw value yields a nil order with no
// error, matching an absent or malformed test_set_tests block (for a
// non-object value, Parse's map decode then reports the error).
func objectKeyOrder(raw json.RawMessage) ([]string, error) {
	if raw == nil {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return nil, nil
	}

	var order []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		order = append(order, key)

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}
	return order, nil
}

// Graph builds the dag.Graph for this manifest's test_set_tests,
// preserving the manifest file's key order for traversal tie-breaking.
func (d *Document) Graph() *dag.Graph {
	return dag.FromManifestOrdered(d.TestOrder, d.TestSetTests)
}
