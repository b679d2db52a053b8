// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import (
	"encoding/json"
	"strings"
)

// ParsePlan interprets arbitrary LLM text as a Plan. It is total and
// pure: it never returns an error and identical input always yields
// identical output.
//
// Description:
//
//	Markdown fences are unwrapped first. If the trimmed text then
//	begins with '{', a JSON decode is attempted; on success the plan
//	is returned verbatim (version defaulted to 1). Any decode failure
//	falls back to an EXPLAIN plan whose single display_text step
//	carries the raw text. Empty input yields a READ plan with no
//	steps.
func ParsePlan(text string) Plan {
	raw := text
	trimmed := strings.TrimSpace(unwrapFence(text))

	if trimmed == "" {
		return Plan{Intent: IntentRead, Version: 1}
	}

	if strings.HasPrefix(trimmed, "{") {
		var p Plan
		if err := json.Unmarshal([]byte(trimmed), &p); err == nil {
			if p.Intent == "" {
				p.Intent = IntentExplain
			}
			if p.Version == 0 {
				p.Version = 1
			}
			return p
		}
	}

	return explainPlan(raw)
}

// explainPlan wraps non-structured text in a display-only plan.
func explainPlan(raw string) Plan {
	return Plan{
		Intent: IntentExplain,
		Steps: []Step{
			{
				StepID:    "1",
				Tool:      DisplayTextTool,
				Arguments: map[string]string{"text": raw},
			},
		},
		Version: 1,
	}
}

// unwrapFence strips a single surrounding markdown code fence. The
// fence language tag (```json) is ignored. Text without a surrounding
// fence passes through unchanged.
func unwrapFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}

	body := trimmed[3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// Drop the language tag line.
		firstLine := strings.TrimSpace(body[:nl])
		if firstLine == "" || isFenceTag(firstLine) {
			body = body[nl+1:]
		}
	}

	end := strings.LastIndex(body, "```")
	if end < 0 {
		return text
	}
	return body[:end]
}

// isFenceTag reports whether s looks like a fence language tag rather
// than content.
func isFenceTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// ToolCall is a single-tool dispatch request embedded in chat text.
type ToolCall struct {
	// Tool is the requested tool name (validated downstream against
	// the whitelist, never here).
	Tool string

	// Args is the flat key/value argument list from the block.
	Args map[string]string
}

// ParseToolCall detects a TOOL_CALL: block anywhere in free text.
//
// Description:
//
//	The block is indentation-delimited:
//
//	  TOOL_CALL:
//	    tool: <name>
//	    args:
//	      <key>: <value>
//
//	Lines less indented than the block body end it. In chat mode a
//	detected tool call takes precedence over the JSON plan path.
//
// Outputs:
//
//	*ToolCall - The parsed call, nil when absent or malformed.
//	bool - Whether a well-formed block was found.
func ParseToolCall(text string) (*ToolCall, bool) {
	lines := strings.Split(text, "\n")

	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "TOOL_CALL:" {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, false
	}

	call := &ToolCall{Args: map[string]string{}}
	inArgs := false
	argIndent := -1

	for _, line := range lines[start+1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := indentOf(line)
		if indent == 0 {
			break // block ended
		}
		key, value, ok := splitKeyValue(line)
		if !ok {
			break
		}

		switch {
		case key == "tool" && !inArgs:
			call.Tool = value
		case key == "args" && value == "":
			inArgs = true
			argIndent = -1
		case inArgs:
			if argIndent == -1 {
				argIndent = indent
			}
			if indent < argIndent {
				// Dedented below the args body: treat as a new
				// top-level field of the block.
				inArgs = false
				if key == "tool" {
					call.Tool = value
				}
				continue
			}
			call.Args[key] = value
		}
	}

	if call.Tool == "" {
		return nil, false
	}
	return call, true
}

// indentOf counts leading spaces, with tabs counted as one level.
func indentOf(line string) int {
	n := 0
	for _, r := range line {
		if r == ' ' {
			n++
		} else if r == '\t' {
			n += 4
		} else {
			break
		}
	}
	return n
}

// splitKeyValue parses a "key: value" line.
func splitKeyValue(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	idx := strings.Index(trimmed, ":")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(trimmed[:idx]), strings.TrimSpace(trimmed[idx+1:]), true
}
