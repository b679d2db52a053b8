// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// NewPatchApplyTool applies a unified diff to files under the project
// root. It is gated: the assistant surfaces the patch for confirmation
// before execution.
func NewPatchApplyTool() Tool {
	meta := Metadata{
		Name:        "patch_apply",
		Category:    CategorySpecialized,
		Description: "Apply a unified diff to project files",
		Params: map[string]ParamSpec{
			"patch": {Type: "string", Required: true},
		},
		Examples: []Example{
			{
				Scenario:  "A plan step rewrites two functions in one file",
				Command:   "patch_apply patch: --- a/x.go ...",
				Reasoning: "A diff expresses a targeted edit without resending the file",
			},
		},
		Gated:        true,
		VisibleToLLM: true,
		TokenCost:    140,
		Class:        ClassWrite,
	}

	return NewTool(meta, func(ctx context.Context, inv Invocation) (*Result, error) {
		patch, err := inv.Arg("patch", true)
		if err != nil {
			return nil, err
		}

		fileDiffs, err := diff.ParseMultiFileDiff([]byte(patch))
		if err != nil {
			return failure(fmt.Sprintf("parsing patch: %v", err)), nil
		}
		if len(fileDiffs) == 0 {
			return failure("patch contains no file changes"), nil
		}

		var artifacts []Artifact
		var applied []string
		for _, fd := range fileDiffs {
			rel := stripDiffPrefix(fd.NewName)
			if rel == "/dev/null" {
				rel = stripDiffPrefix(fd.OrigName)
			}
			abs, err := resolvePath(inv.ProjectRoot, rel)
			if err != nil {
				return failure(err.Error()), nil
			}

			original := ""
			if data, readErr := os.ReadFile(abs); readErr == nil {
				original = string(data)
			} else if stripDiffPrefix(fd.OrigName) != "/dev/null" {
				return failure(fmt.Sprintf("reading %s: %v", rel, readErr)), nil
			}

			updated, err := applyHunks(original, fd.Hunks)
			if err != nil {
				return failure(fmt.Sprintf("applying hunks to %s: %v", rel, err)), nil
			}
			if err := os.WriteFile(abs, []byte(updated), 0644); err != nil {
				return failure(fmt.Sprintf("writing %s: %v", rel, err)), nil
			}
			applied = append(applied, rel)
			artifacts = append(artifacts, Artifact{
				Kind:    "patch",
				Path:    rel,
				Payload: fmt.Sprintf("%d hunks applied", len(fd.Hunks)),
			})
		}

		return &Result{
			Output:    fmt.Sprintf("applied patch to %s", strings.Join(applied, ", ")),
			Success:   true,
			Artifacts: artifacts,
		}, nil
	})
}

// stripDiffPrefix removes the conventional a/ b/ prefixes from diff
// file names.
func stripDiffPrefix(name string) string {
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}

// applyHunks applies ordered hunks to content. Context and deletion
// lines must match the original exactly; a mismatch aborts the whole
// apply so files are never half-patched.
func applyHunks(content string, hunks []*diff.Hunk) (string, error) {
	lines := splitKeepingTrailing(content)
	var out []string
	cursor := 0 // index into lines, 0-based

	for _, h := range hunks {
		start := int(h.OrigStartLine) - 1
		if h.OrigLines == 0 {
			// Pure insertion hunk: OrigStartLine is the line after
			// which new lines are inserted.
			start = int(h.OrigStartLine)
		}
		if start < cursor || start > len(lines) {
			return "", fmt.Errorf("hunk at line %d out of order", h.OrigStartLine)
		}
		out = append(out, lines[cursor:start]...)
		cursor = start

		for _, body := range strings.Split(strings.TrimSuffix(string(h.Body), "\n"), "\n") {
			// A bare empty line is a blank context line whose
			// trailing space was stripped. LLMs and many diff
			// tools emit these.
			if body == "" {
				body = " "
			}
			op, text := body[0], body[1:]
			switch op {
			case ' ':
				if cursor >= len(lines) || lines[cursor] != text {
					return "", fmt.Errorf("context mismatch at line %d", cursor+1)
				}
				out = append(out, text)
				cursor++
			case '-':
				if cursor >= len(lines) || lines[cursor] != text {
					return "", fmt.Errorf("deletion mismatch at line %d", cursor+1)
				}
				cursor++
			case '+':
				out = append(out, text)
			case '\\':
				// "\ No newline at end of file" marker
			default:
				return "", fmt.Errorf("malformed hunk line %q", body)
			}
		}
	}

	out = append(out, lines[cursor:]...)
	if len(out) == 0 {
		return "", nil
	}
	return strings.Join(out, "\n") + "\n", nil
}

// splitKeepingTrailing splits content into lines without treating the
// trailing newline as producing an empty final line.
func splitKeepingTrailing(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}
