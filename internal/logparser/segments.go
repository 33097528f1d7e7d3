package logparser

import (
	"encoding/json"
	"strings"
)

// Segment is either a TextSegment or a BlockSegment, in the order they
// appeared in a test's stdout.
type Segment interface {
	isSegment()
}

// TextSegment is plain output not inside any structured block.
type TextSegment struct {
	Text string
}

func (TextSegment) isSegment() {}

// SegmentFeature is a feature declared inside a block segment.
type SegmentFeature struct {
	Name   string `json:"name"`
	Action string `json:"action,omitempty"`
}

// SegmentMeasurement is a measurement recorded inside a block segment.
type SegmentMeasurement struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

// Assertion is a normalized result event, accepting either the
// name/passed shape or the status/message shape.
type Assertion struct {
	Description string `json:"description"`
	Status      string `json:"status"`
}

// BlockSegment is a structured block delimited by block_start/block_end
// sentinel events, carrying any plain-text logs interleaved within it.
type BlockSegment struct {
	Block        string
	Description  string
	Logs         string
	Error        *string
	Features     []SegmentFeature
	Measurements []SegmentMeasurement
	Assertions   []Assertion
}

func (*BlockSegment) isSegment() {}

func normalizeAssertion(entry map[string]any) Assertion {
	if nameVal, ok := entry["name"]; ok {
		name, _ := nameVal.(string)
		status := "unknown"
		if passedVal, ok := entry["passed"]; ok {
			if passed, ok := passedVal.(bool); ok {
				if passed {
					status = "passed"
				} else {
					status = "failed"
				}
			} else if passedVal != nil {
				status = stringifyAny(passedVal)
			}
		}
		return Assertion{Description: name, Status: status}
	}

	status, _ := entry["status"].(string)
	if status == "" {
		status = "unknown"
	}
	message, _ := entry["message"].(string)
	return Assertion{Description: message, Status: status}
}

func stringifyAny(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// ParseStdoutSegments splits a test's stdout into interleaved text and
// block segments, allowing unified rendering of structured and
// unstructured output. Malformed or non-object [TST] lines are treated
// as plain text rather than dropped, since they may still carry useful
// diagnostic content.
func ParseStdoutSegments(stdout string) []Segment {
	if stdout == "" {
		return nil
	}

	lines := strings.Split(stdout, "\n")
	var segments []Segment
	var textAccum []string
	var currentBlock *BlockSegment

	appendLine := func(line string) {
		if currentBlock != nil {
			if currentBlock.Logs != "" {
				currentBlock.Logs += "\n"
			}
			currentBlock.Logs += line
		} else {
			textAccum = append(textAccum, line)
		}
	}

	flushText := func() {
		if len(textAccum) > 0 {
			segments = append(segments, TextSegment{Text: strings.Join(textAccum, "\n")})
			textAccum = nil
		}
	}

	flushBlock := func() {
		if currentBlock != nil {
			currentBlock.Logs = strings.Trim(currentBlock.Logs, "\n")
			segments = append(segments, currentBlock)
			currentBlock = nil
		}
	}

	for _, line := range lines {
		if !strings.HasPrefix(line, Sentinel) {
			appendLine(line)
			continue
		}

		jsonStr := strings.TrimPrefix(line, Sentinel)

		var entry map[string]any
		if err := json.Unmarshal([]byte(jsonStr), &entry); err != nil {
			appendLine(line)
			continue
		}

		typeVal, ok := entry["type"]
		if !ok {
			appendLine(line)
			continue
		}
		eventType, ok := typeVal.(string)
		if !ok {
			appendLine(line)
			continue
		}

		switch eventType {
		case "phase", "block_start":
			blockName, ok := entry["block"].(string)
			if !ok {
				continue
			}
			flushBlock()
			flushText()
			description, _ := entry["description"].(string)
			currentBlock = &BlockSegment{Block: blockName, Description: description}

		case "block_end":
			flushBlock()

		default:
			if currentBlock == nil {
				continue
			}
			switch eventType {
			case "feature":
				name, _ := entry["name"].(string)
				feat := SegmentFeature{Name: name}
				if action, ok := entry["action"].(string); ok {
					feat.Action = action
				}
				currentBlock.Features = append(currentBlock.Features, feat)

			case "measurement":
				name, _ := entry["name"].(string)
				m := SegmentMeasurement{Name: name, Value: entry["value"]}
				if unit, ok := entry["unit"].(string); ok {
					m.Unit = unit
				}
				currentBlock.Measurements = append(currentBlock.Measurements, m)

			case "result":
				currentBlock.Assertions = append(currentBlock.Assertions, normalizeAssertion(entry))

			case "error":
				message, _ := entry["message"].(string)
				currentBlock.Error = &message

			default:
				// unknown event types inside blocks are silently skipped
			}
		}
	}

	flushBlock()
	flushText()

	return segments
}
