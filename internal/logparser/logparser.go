// Package logparser parses the [TST] structured sentinel lines tests
// write to stdout, extracting block phases, features, measurements,
// results, and errors for forward-compatible consumption — unknown event
// types and malformed lines are skipped rather than rejected.
package logparser

import (
	"encoding/json"
	"strings"
)

// Sentinel prefixes a structured log line.
const Sentinel = "[TST] "

// Feature is a named capability declared during a block.
type Feature struct {
	Name  string `json:"name"`
	Block string `json:"block,omitempty"`
}

// Measurement is a captured metric value within a block.
type Measurement struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	Block string `json:"block,omitempty"`
}

// Result is a pass/fail assertion recorded within a block.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Block   string `json:"block,omitempty"`
}

// LogError is an error event recorded within a block.
type LogError struct {
	Message string `json:"message"`
	Block   string `json:"block,omitempty"`
}

// ParsedTestOutput is the result of scanning a test's stdout for [TST]
// sentinel lines.
type ParsedTestOutput struct {
	BlockSequence     []string
	Features          []Feature
	Measurements      []Measurement
	Results           []Result
	Errors            []LogError
	PlainOutput       []string
	Warnings          []string
	HasRiggingFailure bool
}

type sentinelEvent struct {
	Type        string `json:"type"`
	Block       string `json:"block"`
	Name        string `json:"name"`
	Value       any    `json:"value"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	Description string `json:"description"`
	Passed      *bool  `json:"passed"`
	Action      string `json:"action"`
	Unit        string `json:"unit"`
}

// ParseTestOutput scans lines for the [TST] sentinel prefix, parsing each
// as a JSON event and dispatching on its type field. Lines without the
// prefix are collected as plain output.
func ParseTestOutput(raw string) ParsedTestOutput {
	lines := strings.Split(raw, "\n")

	var parsed ParsedTestOutput
	currentBlock := ""
	haveBlock := false

	for _, line := range lines {
		if !strings.HasPrefix(line, Sentinel) {
			parsed.PlainOutput = append(parsed.PlainOutput, line)
			continue
		}

		jsonStr := strings.TrimPrefix(line, Sentinel)

		var raw map[string]any
		if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
			parsed.Warnings = append(parsed.Warnings, "malformed [TST] line, skipping: "+line)
			continue
		}

		typeVal, ok := raw["type"]
		if !ok {
			parsed.Warnings = append(parsed.Warnings, "[TST] line missing type field, skipping: "+line)
			continue
		}
		eventType, ok := typeVal.(string)
		if !ok {
			parsed.Warnings = append(parsed.Warnings, "[TST] line missing type field, skipping: "+line)
			continue
		}

		var entry sentinelEvent
		_ = json.Unmarshal([]byte(jsonStr), &entry)
		entry.Type = eventType

		switch entry.Type {
		case "phase", "block_start":
			if entry.Block != "" {
				currentBlock = entry.Block
				haveBlock = true
				parsed.BlockSequence = append(parsed.BlockSequence, entry.Block)
			}
		case "block_end":
			currentBlock = ""
			haveBlock = false
		case "feature":
			parsed.Features = append(parsed.Features, Feature{Name: entry.Name, Block: blockOrEmpty(currentBlock, haveBlock)})
		case "measurement":
			parsed.Measurements = append(parsed.Measurements, Measurement{Name: entry.Name, Value: entry.Value, Block: blockOrEmpty(currentBlock, haveBlock)})
		case "result":
			parsed.Results = append(parsed.Results, Result{Status: entry.Status, Message: entry.Message, Block: blockOrEmpty(currentBlock, haveBlock)})
		case "error":
			parsed.Errors = append(parsed.Errors, LogError{Message: entry.Message, Block: blockOrEmpty(currentBlock, haveBlock)})
		default:
			// unknown type, skipped for forward compatibility
		}
	}

	for _, e := range parsed.Errors {
		if e.Block == "rigging" {
			parsed.HasRiggingFailure = true
			break
		}
	}

	return parsed
}

func blockOrEmpty(block string, have bool) string {
	if !have {
		return ""
	}
	return block
}

// IsRiggingFailure reports whether any parsed error occurred during the
// rigging phase (the test failed to even start, as opposed to failing
// its assertions).
func IsRiggingFailure(parsed ParsedTestOutput) bool {
	return parsed.HasRiggingFailure
}

// RiggingFeatures returns feature names declared during the rigging
// block.
func RiggingFeatures(parsed ParsedTestOutput) []string {
	var out []string
	for _, f := range parsed.Features {
		if f.Block == "rigging" {
			out = append(out, f.Name)
		}
	}
	return out
}
