// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import (
	"reflect"
	"testing"
)

func TestParsePlanStructuredJSON(t *testing.T) {
	text := `{
  "plan_id": "abc-123",
  "intent": "REFACTOR",
  "steps": [
    {"step_id": "1", "tool": "file_read", "arguments": {"path": "main.go"}},
    {"step_id": "2", "tool": "patch_apply", "arguments": {"patch": "..."}, "requires_confirmation": true}
  ]
}`
	p := ParsePlan(text)
	if p.PlanID != "abc-123" || p.Intent != IntentRefactor {
		t.Fatalf("got %+v", p)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(p.Steps))
	}
	if p.Steps[0].Tool != "file_read" || p.Steps[1].RequiresConfirmation != true {
		t.Errorf("steps not returned verbatim: %+v", p.Steps)
	}
	if p.Version != 1 {
		t.Errorf("Version = %d, want defaulted 1", p.Version)
	}
}

func TestParsePlanFenceUnwrap(t *testing.T) {
	fenced := "```json\n{\"plan_id\": \"p1\", \"intent\": \"READ\", \"steps\": []}\n```"
	p := ParsePlan(fenced)
	if p.PlanID != "p1" || p.Intent != IntentRead {
		t.Errorf("fence not unwrapped: %+v", p)
	}
}

func TestParsePlanMalformedJSONFallsBack(t *testing.T) {
	// Scenario from the parser contract: braces that never close.
	text := "{this is not valid json but reasonable"
	p := ParsePlan(text)

	if p.Intent != IntentExplain {
		t.Fatalf("Intent = %q, want EXPLAIN", p.Intent)
	}
	if len(p.Steps) != 1 || p.Steps[0].Tool != DisplayTextTool {
		t.Fatalf("want single display_text step, got %+v", p.Steps)
	}
	if p.Steps[0].Arguments["text"] != text {
		t.Error("raw text must be preserved in the fallback step")
	}
}

func TestParsePlanJSONBurriedInProse(t *testing.T) {
	// Well-formed JSON appearing later in the text is still prose.
	text := "Here is my plan:\n{\"plan_id\": \"x\", \"intent\": \"READ\", \"steps\": []}"
	p := ParsePlan(text)
	if p.Intent != IntentExplain {
		t.Errorf("leading prose must force the explain path, got %+v", p)
	}
}

func TestParsePlanEmpty(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\t\n"} {
		p := ParsePlan(input)
		if p.Intent != IntentRead || len(p.Steps) != 0 {
			t.Errorf("ParsePlan(%q) = %+v, want empty READ plan", input, p)
		}
	}
}

func TestParsePlanPure(t *testing.T) {
	inputs := []string{
		"",
		"{broken",
		"plain explanation text",
		"```json\n{\"plan_id\": \"p\", \"intent\": \"WRITE\", \"steps\": []}\n```",
	}
	for _, in := range inputs {
		first := ParsePlan(in)
		for i := 0; i < 3; i++ {
			if next := ParsePlan(in); !reflect.DeepEqual(first, next) {
				t.Errorf("ParsePlan(%q) not deterministic", in)
			}
		}
	}
}

func TestParseToolCall(t *testing.T) {
	t.Run("glob scenario", func(t *testing.T) {
		text := "I'll list those files.\n\nTOOL_CALL:\n  tool: file_glob\n  args:\n    pattern: **/*.rs\n    root: src\n"
		call, ok := ParseToolCall(text)
		if !ok {
			t.Fatal("tool call not detected")
		}
		if call.Tool != "file_glob" {
			t.Errorf("Tool = %q", call.Tool)
		}
		want := map[string]string{"pattern": "**/*.rs", "root": "src"}
		if !reflect.DeepEqual(call.Args, want) {
			t.Errorf("Args = %v, want %v", call.Args, want)
		}
	})

	t.Run("block ends at dedent", func(t *testing.T) {
		text := "TOOL_CALL:\n  tool: file_read\n  args:\n    path: a.go\nAnd then some trailing prose: with a colon."
		call, ok := ParseToolCall(text)
		if !ok {
			t.Fatal("tool call not detected")
		}
		if len(call.Args) != 1 || call.Args["path"] != "a.go" {
			t.Errorf("trailing prose leaked into args: %v", call.Args)
		}
	})

	t.Run("no block", func(t *testing.T) {
		if _, ok := ParseToolCall("just chatting about TOOL_CALL syntax inline"); ok {
			t.Error("inline mention is not a block")
		}
	})

	t.Run("block without tool name", func(t *testing.T) {
		if _, ok := ParseToolCall("TOOL_CALL:\n  args:\n    x: y\n"); ok {
			t.Error("block without tool: line is malformed")
		}
	})

	t.Run("no args", func(t *testing.T) {
		call, ok := ParseToolCall("TOOL_CALL:\n  tool: git_status\n")
		if !ok || call.Tool != "git_status" {
			t.Fatalf("got %+v ok=%v", call, ok)
		}
		if len(call.Args) != 0 {
			t.Errorf("Args = %v, want empty", call.Args)
		}
	})
}

func TestPlanValidate(t *testing.T) {
	whitelist := map[string]bool{"file_read": true, "git_status": true}

	t.Run("all whitelisted", func(t *testing.T) {
		p := Plan{Steps: []Step{
			{StepID: "1", Tool: "file_read"},
			{StepID: "2", Tool: DisplayTextTool},
		}}
		if err := p.Validate(whitelist); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})

	t.Run("unknown tool rejected", func(t *testing.T) {
		p := Plan{Steps: []Step{{StepID: "1", Tool: "rm_rf"}}}
		err := p.Validate(whitelist)
		if err == nil {
			t.Fatal("expected validation failure")
		}
	})
}

func TestPlanRevise(t *testing.T) {
	base := Plan{
		PlanID:  "p",
		Intent:  IntentWrite,
		Steps:   []Step{{StepID: "1", Tool: "file_write"}},
		Version: 1,
	}
	next := base.Revise([]Step{
		{StepID: "1", Tool: "file_read"},
		{StepID: "2", Tool: "file_write"},
	})

	if next.Version != 2 {
		t.Errorf("Version = %d, want 2", next.Version)
	}
	if base.Version != 1 || base.Steps[0].Tool != "file_write" {
		t.Error("Revise mutated the original plan")
	}
	if len(next.Steps) != 2 {
		t.Errorf("revised steps = %+v", next.Steps)
	}
}
