// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Diagnostic is one compiler or linter finding.
type Diagnostic struct {
	File     string
	Line     int
	Code     string
	Message  string
	Severity string
}

// DiagnosticRunner produces diagnostics for a path. Implementations
// wrap whatever checker the project uses; the tool layer only cares
// about the findings.
type DiagnosticRunner interface {
	Run(ctx context.Context, root, target string) ([]Diagnostic, error)
}

// ExecDiagnosticRunner shells out to a configured checker command and
// returns its raw lines as diagnostics. Lines are not parsed beyond
// capture; the model reads them as-is.
type ExecDiagnosticRunner struct {
	// Argv is the checker command, e.g. ["go", "vet", "./..."].
	Argv []string
}

func (r *ExecDiagnosticRunner) Run(ctx context.Context, root, target string) ([]Diagnostic, error) {
	if len(r.Argv) == 0 {
		return nil, fmt.Errorf("no checker command configured")
	}
	args := r.Argv[1:]
	if target != "" {
		args = append(append([]string{}, args...), target)
	}
	cmd := exec.CommandContext(ctx, r.Argv[0], args...)
	cmd.Dir = root

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	// A non-zero exit with findings is the normal case for checkers.
	runErr := cmd.Run()
	if _, ok := runErr.(*exec.ExitError); runErr != nil && !ok {
		return nil, fmt.Errorf("running %s: %w", r.Argv[0], runErr)
	}

	var diags []Diagnostic
	for _, line := range strings.Split(buf.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		diags = append(diags, Diagnostic{Message: line, Severity: "error"})
	}
	return diags, nil
}

// NewDiagCheckTool runs the configured diagnostic checker. A nil
// runner leaves the tool registered but failing with a clear message,
// so plans referencing it degrade instead of panicking.
func NewDiagCheckTool(runner DiagnosticRunner) Tool {
	meta := Metadata{
		Name:        "diag_check",
		Category:    CategorySpecialized,
		Description: "Run the project's diagnostic checker and report findings",
		Params: map[string]ParamSpec{
			"target": {Type: "string", Required: false},
		},
		VisibleToLLM: true,
		TokenCost:    110,
		Class:        ClassBuild,
	}

	return NewTool(meta, func(ctx context.Context, inv Invocation) (*Result, error) {
		if runner == nil {
			return failure("no diagnostic checker configured"), nil
		}
		target := inv.Args["target"]
		if target != "" {
			if _, err := resolvePath(inv.ProjectRoot, target); err != nil {
				return failure(err.Error()), nil
			}
		}

		diags, err := runner.Run(ctx, inv.ProjectRoot, target)
		if err != nil {
			return failure(fmt.Sprintf("diagnostic run: %v", err)), nil
		}

		var sb strings.Builder
		var artifacts []Artifact
		for _, d := range diags {
			if d.File != "" {
				fmt.Fprintf(&sb, "%s:%d: %s\n", d.File, d.Line, d.Message)
			} else {
				sb.WriteString(d.Message + "\n")
			}
			artifacts = append(artifacts, Artifact{
				Kind:    "diagnostic",
				Code:    d.Code,
				Path:    d.File,
				Payload: d.Message,
			})
		}
		if len(diags) == 0 {
			sb.WriteString("no diagnostics reported")
		}

		return &Result{
			Output:    sb.String(),
			Success:   true,
			Artifacts: artifacts,
		}, nil
	})
}

// PatternHit is one remembered pattern returned by memory_search.
type PatternHit struct {
	ID      string
	Summary string
	Score   float64
}

// PatternSearcher looks up previously observed patterns relevant to a
// query. The memory subsystem behind it is external to the assistant.
type PatternSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]PatternHit, error)
}

// NewMemorySearchTool queries the pattern memory. Like diag_check it
// degrades to a failed result when no searcher is wired.
func NewMemorySearchTool(searcher PatternSearcher) Tool {
	meta := Metadata{
		Name:        "memory_search",
		Category:    CategorySpecialized,
		Description: "Search remembered patterns from earlier sessions",
		Params: map[string]ParamSpec{
			"query": {Type: "string", Required: true},
		},
		VisibleToLLM: true,
		TokenCost:    100,
		Class:        ClassSearch,
	}

	return NewTool(meta, func(ctx context.Context, inv Invocation) (*Result, error) {
		query, err := inv.Arg("query", true)
		if err != nil {
			return nil, err
		}
		if searcher == nil {
			return failure("no pattern memory configured"), nil
		}

		hits, err := searcher.Search(ctx, query, 10)
		if err != nil {
			return failure(fmt.Sprintf("memory search: %v", err)), nil
		}

		var sb strings.Builder
		for _, h := range hits {
			fmt.Fprintf(&sb, "[%.2f] %s: %s\n", h.Score, h.ID, h.Summary)
		}
		if len(hits) == 0 {
			sb.WriteString("no matching patterns")
		}

		return &Result{Output: sb.String(), Success: true}, nil
	})
}
