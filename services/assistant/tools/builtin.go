// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// maxReadBytes bounds file_read output fed into the prompt.
const maxReadBytes = 256 * 1024

// maxGrepMatches bounds grep_search output.
const maxGrepMatches = 200

// resolvePath joins rel against root and rejects escapes. Every
// builtin that touches the filesystem goes through this.
func resolvePath(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: path", ErrMissingArgument)
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed: %q", rel)
	}
	joined := filepath.Join(root, rel)
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes project root: %q", rel)
	}
	return joined, nil
}

// NewFileReadTool reads one file relative to the project root.
func NewFileReadTool() Tool {
	meta := Metadata{
		Name:        "file_read",
		Category:    CategoryCore,
		Description: "Read the contents of a file in the project",
		Params: map[string]ParamSpec{
			"path": {Type: "string", Required: true},
		},
		Examples: []Example{
			{
				Scenario:  "User asks what main.go does",
				Command:   "file_read path: main.go",
				Reasoning: "The file content is needed before explaining it",
			},
		},
		VisibleToLLM: true,
		TokenCost:    80,
		Class:        ClassRead,
	}

	return NewTool(meta, func(ctx context.Context, inv Invocation) (*Result, error) {
		rel, err := inv.Arg("path", true)
		if err != nil {
			return nil, err
		}
		abs, err := resolvePath(inv.ProjectRoot, rel)
		if err != nil {
			return failure(err.Error()), nil
		}

		data, err := os.ReadFile(abs)
		if err != nil {
			return failure(fmt.Sprintf("reading %s: %v", rel, err)), nil
		}
		if len(data) > maxReadBytes {
			data = data[:maxReadBytes]
		}

		return &Result{
			Output:  string(data),
			Success: true,
			Artifacts: []Artifact{
				{Kind: "file", Path: rel, Payload: fmt.Sprintf("%d bytes", len(data))},
			},
		}, nil
	})
}

// NewFileWriteTool writes a file relative to the project root,
// creating parent directories as needed.
func NewFileWriteTool() Tool {
	meta := Metadata{
		Name:        "file_write",
		Category:    CategoryCore,
		Description: "Write content to a file in the project (creates or overwrites)",
		Params: map[string]ParamSpec{
			"path":    {Type: "string", Required: true},
			"content": {Type: "string", Required: true},
		},
		NotExamples: []Example{
			{
				Scenario:  "User asks to modify three lines of a large file",
				Command:   "file_write path: big.go content: ...",
				Reasoning: "patch_apply is the right tool for targeted edits",
			},
		},
		VisibleToLLM: true,
		TokenCost:    90,
		Class:        ClassWrite,
	}

	return NewTool(meta, func(ctx context.Context, inv Invocation) (*Result, error) {
		rel, err := inv.Arg("path", true)
		if err != nil {
			return nil, err
		}
		content, err := inv.Arg("content", true)
		if err != nil {
			return nil, err
		}
		abs, err := resolvePath(inv.ProjectRoot, rel)
		if err != nil {
			return failure(err.Error()), nil
		}

		if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
			return failure(fmt.Sprintf("creating directory for %s: %v", rel, err)), nil
		}
		if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
			return failure(fmt.Sprintf("writing %s: %v", rel, err)), nil
		}

		return &Result{
			Output:  fmt.Sprintf("wrote %d bytes to %s", len(content), rel),
			Success: true,
			Artifacts: []Artifact{
				{Kind: "file", Path: rel, Payload: fmt.Sprintf("%d bytes written", len(content))},
			},
		}, nil
	})
}

// NewFileGlobTool lists files matching a glob pattern. The pattern
// supports ** for any number of path segments.
func NewFileGlobTool() Tool {
	meta := Metadata{
		Name:        "file_glob",
		Category:    CategoryCore,
		Description: "List project files matching a glob pattern",
		Params: map[string]ParamSpec{
			"pattern": {Type: "string", Required: true},
			"root":    {Type: "string", Required: false},
		},
		Examples: []Example{
			{
				Scenario:  "User asks to list .rs files in src",
				Command:   "file_glob pattern: **/*.rs root: src",
				Reasoning: "A recursive glob enumerates matching files cheaply",
			},
		},
		VisibleToLLM: true,
		TokenCost:    85,
		Class:        ClassRead,
	}

	return NewTool(meta, func(ctx context.Context, inv Invocation) (*Result, error) {
		pattern, err := inv.Arg("pattern", true)
		if err != nil {
			return nil, err
		}
		root := inv.Args["root"]
		base := inv.ProjectRoot
		if root != "" {
			base, err = resolvePath(inv.ProjectRoot, root)
			if err != nil {
				return failure(err.Error()), nil
			}
		}

		var matches []string
		walkErr := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable entries are skipped, not fatal
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				if d.Name() == ".git" || d.Name() == ".quillan" {
					return filepath.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(base, p)
			if err != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if globMatch(pattern, rel) {
				matches = append(matches, rel)
			}
			return nil
		})
		if walkErr != nil {
			return failure(fmt.Sprintf("walking %s: %v", root, walkErr)), nil
		}

		sort.Strings(matches)
		return &Result{
			Output:  strings.Join(matches, "\n"),
			Success: true,
		}, nil
	})
}

// globMatch matches a slash-separated glob where ** spans any number
// of path segments and the remaining segments use path.Match rules.
func globMatch(pattern, name string) bool {
	return segmentMatch(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func segmentMatch(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	if pat[0] == "**" {
		// ** may consume zero or more segments.
		for i := 0; i <= len(segs); i++ {
			if segmentMatch(pat[1:], segs[i:]) {
				return true
			}
		}
		return false
	}
	if len(segs) == 0 {
		return false
	}
	ok, err := path.Match(pat[0], segs[0])
	if err != nil || !ok {
		return false
	}
	return segmentMatch(pat[1:], segs[1:])
}

// NewGrepSearchTool searches file contents with a regular expression.
func NewGrepSearchTool() Tool {
	meta := Metadata{
		Name:        "grep_search",
		Category:    CategoryCore,
		Description: "Search project files for a regular expression",
		Params: map[string]ParamSpec{
			"pattern": {Type: "string", Required: true},
			"root":    {Type: "string", Required: false},
		},
		VisibleToLLM: true,
		TokenCost:    85,
		Class:        ClassSearch,
	}

	return NewTool(meta, func(ctx context.Context, inv Invocation) (*Result, error) {
		pattern, err := inv.Arg("pattern", true)
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return failure(fmt.Sprintf("invalid pattern: %v", err)), nil
		}

		base := inv.ProjectRoot
		if root := inv.Args["root"]; root != "" {
			base, err = resolvePath(inv.ProjectRoot, root)
			if err != nil {
				return failure(err.Error()), nil
			}
		}

		var lines []string
		walkErr := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
			if err != nil || len(lines) >= maxGrepMatches {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				if d.Name() == ".git" || d.Name() == ".quillan" {
					return filepath.SkipDir
				}
				return nil
			}
			rel, relErr := filepath.Rel(base, p)
			if relErr != nil {
				return nil
			}
			file, err := os.Open(p)
			if err != nil {
				return nil
			}
			defer file.Close()

			scanner := bufio.NewScanner(file)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			lineNo := 0
			for scanner.Scan() && len(lines) < maxGrepMatches {
				lineNo++
				if re.MatchString(scanner.Text()) {
					lines = append(lines, fmt.Sprintf("%s:%d:%s", filepath.ToSlash(rel), lineNo, scanner.Text()))
				}
			}
			return nil
		})
		if walkErr != nil {
			return failure(fmt.Sprintf("searching: %v", walkErr)), nil
		}

		return &Result{
			Output:  strings.Join(lines, "\n"),
			Success: true,
		}, nil
	})
}

// DefaultTriggers returns the keyword triggers for the specialized
// tool set.
func DefaultTriggers() []Trigger {
	return []Trigger{
		{Keyword: "patch", ToolName: "patch_apply"},
		{Keyword: "diff", ToolName: "patch_apply"},
		{Keyword: "apply", ToolName: "patch_apply"},

		{Keyword: "git", ToolName: "git_status"},
		{Keyword: "commit", ToolName: "git_status"},
		{Keyword: "git", ToolName: "git_diff"},
		{Keyword: "changed", ToolName: "git_diff"},

		{Keyword: "error", ToolName: "diag_check"},
		{Keyword: "warning", ToolName: "diag_check"},
		{Keyword: "diagnostic", ToolName: "diag_check"},
		{Keyword: "lint", ToolName: "diag_check"},
		{Keyword: "compile", ToolName: "diag_check"},

		{Keyword: "remember", ToolName: "memory_search"},
		{Keyword: "similar", ToolName: "memory_search"},
		{Keyword: "pattern", ToolName: "memory_search"},
		{Keyword: "before", ToolName: "memory_search"},
	}
}

// NewDefaultRegistry builds the full whitelist with all builtins.
//
// Inputs:
//
//	diag - Diagnostic runner; nil disables diag_check gracefully.
//	patterns - Pattern searcher; nil disables memory_search gracefully.
func NewDefaultRegistry(diag DiagnosticRunner, patterns PatternSearcher) *Registry {
	return NewRegistry(
		NewFileReadTool(),
		NewFileWriteTool(),
		NewFileGlobTool(),
		NewGrepSearchTool(),
		NewPatchApplyTool(),
		NewGitStatusTool(),
		NewGitDiffTool(),
		NewDiagCheckTool(diag),
		NewMemorySearchTool(patterns),
	)
}
