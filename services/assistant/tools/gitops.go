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
)

// runGit executes a git subcommand in the project root. Stderr is
// folded into the output so the model sees the actual git message.
func runGit(ctx context.Context, root string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = root

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		return failure(fmt.Sprintf("git %s: %v", args[0], err)), nil
	}

	return &Result{
		Output:   buf.String(),
		Success:  exitCode == 0,
		ExitCode: exitCode,
	}, nil
}

// NewGitStatusTool reports working tree status via git status --porcelain.
func NewGitStatusTool() Tool {
	meta := Metadata{
		Name:         "git_status",
		Category:     CategorySpecialized,
		Description:  "Show the git working tree status",
		Params:       map[string]ParamSpec{},
		VisibleToLLM: true,
		TokenCost:    70,
		Class:        ClassGit,
	}

	return NewTool(meta, func(ctx context.Context, inv Invocation) (*Result, error) {
		return runGit(ctx, inv.ProjectRoot, "status", "--porcelain=v1", "--branch")
	})
}

// NewGitDiffTool shows uncommitted changes, optionally for one path.
func NewGitDiffTool() Tool {
	meta := Metadata{
		Name:        "git_diff",
		Category:    CategorySpecialized,
		Description: "Show uncommitted changes as a unified diff",
		Params: map[string]ParamSpec{
			"path": {Type: "string", Required: false},
		},
		VisibleToLLM: true,
		TokenCost:    75,
		Class:        ClassGit,
	}

	return NewTool(meta, func(ctx context.Context, inv Invocation) (*Result, error) {
		args := []string{"diff"}
		if p := inv.Args["path"]; p != "" {
			if _, err := resolvePath(inv.ProjectRoot, p); err != nil {
				return failure(err.Error()), nil
			}
			args = append(args, "--", p)
		}
		return runGit(ctx, inv.ProjectRoot, args...)
	})
}
