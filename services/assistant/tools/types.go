// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tools defines the constrained tool set the assistant may
// execute against a project, the whitelist registry, the progressive
// discovery engine, and the evidence-recording executor.
//
// The tool set is closed: every tool is registered at process start
// and the registry is immutable afterwards. Discovery, parsing, and
// execution all validate against the same registry, so a tool name
// that is not in the whitelist can never reach execution.
//
// Thread Safety:
//
//	The registry is immutable after construction and therefore safe
//	for concurrent use without locking. The executor is safe for
//	concurrent use.
package tools

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for tool dispatch.
var (
	// ErrToolNotWhitelisted indicates a tool name outside the registry.
	ErrToolNotWhitelisted = errors.New("tool not in whitelist")

	// ErrMissingArgument indicates a required parameter was absent.
	ErrMissingArgument = errors.New("missing required argument")

	// ErrExecutionTimeout indicates the tool exceeded its class timeout.
	ErrExecutionTimeout = errors.New("tool execution timed out")
)

// Category classifies a tool for discovery purposes.
type Category string

const (
	// CategoryCore tools are always visible to the LLM.
	CategoryCore Category = "core"

	// CategorySpecialized tools appear only when a discovery trigger
	// matches the query or recent output.
	CategorySpecialized Category = "specialized"
)

// TimeoutClass selects the execution deadline for a tool.
type TimeoutClass string

const (
	// ClassRead covers file reads and globs.
	ClassRead TimeoutClass = "read"

	// ClassSearch covers content search.
	ClassSearch TimeoutClass = "search"

	// ClassWrite covers file writes and patch application.
	ClassWrite TimeoutClass = "write"

	// ClassGit covers git subprocess calls.
	ClassGit TimeoutClass = "git"

	// ClassBuild covers builds and diagnostics.
	ClassBuild TimeoutClass = "build"
)

// Timeout returns the execution deadline for the class.
func (c TimeoutClass) Timeout() time.Duration {
	switch c {
	case ClassRead:
		return 10 * time.Second
	case ClassSearch, ClassWrite, ClassGit:
		return 30 * time.Second
	case ClassBuild:
		return 120 * time.Second
	default:
		return 30 * time.Second
	}
}

// ParamSpec describes one tool parameter for the schema export.
type ParamSpec struct {
	// Type is the JSON-ish type name ("string", "bool", ...).
	Type string `json:"type"`

	// Required marks parameters that must be present.
	Required bool `json:"required"`
}

// Example is a (scenario, command, reasoning) triple. Examples double
// as documentation and as discoverability test fixtures; NotExamples
// document when a tool should NOT be chosen.
type Example struct {
	// Scenario is the user situation.
	Scenario string `json:"scenario"`

	// Command is the tool invocation that fits the scenario.
	Command string `json:"command"`

	// Reasoning explains why this tool fits (or does not).
	Reasoning string `json:"reasoning"`
}

// Metadata is the static, immutable contract of one tool.
type Metadata struct {
	// Name is the unique tool identifier.
	Name string `json:"name"`

	// Category is core or specialized.
	Category Category `json:"category"`

	// Description is the one-line summary shown to the LLM.
	Description string `json:"description"`

	// Params declares the accepted arguments.
	Params map[string]ParamSpec `json:"parameters"`

	// Examples are positive usage triples.
	Examples []Example `json:"examples,omitempty"`

	// NotExamples are negative usage triples.
	NotExamples []Example `json:"not_examples,omitempty"`

	// Gated tools require an explicit trigger before becoming visible.
	Gated bool `json:"gated"`

	// VisibleToLLM controls inclusion in the prompt schema at all.
	VisibleToLLM bool `json:"visible_to_llm"`

	// TokenCost is the fixed prompt-size estimate for this tool.
	TokenCost int `json:"token_cost"`

	// Class selects the execution timeout.
	Class TimeoutClass `json:"-"`
}

// Invocation is one request to run a tool.
type Invocation struct {
	// Tool is the whitelisted tool name.
	Tool string

	// Args is the flat key/value argument map from the parser.
	Args map[string]string

	// ProjectRoot is the directory the tool operates against.
	ProjectRoot string
}

// Arg returns a named argument, failing if required and absent.
func (inv Invocation) Arg(name string, required bool) (string, error) {
	v, ok := inv.Args[name]
	if !ok && required {
		return "", errors.Join(ErrMissingArgument, errors.New(name))
	}
	return v, nil
}

// Artifact is a typed payload produced by a tool execution. Artifacts
// are persisted alongside the execution record in the evidence log.
type Artifact struct {
	// Kind classifies the payload (file, diff, diagnostic, ...).
	Kind string `json:"kind"`

	// Code is an optional machine code (e.g. a diagnostic code).
	Code string `json:"code,omitempty"`

	// Path is the file the artifact concerns, if any.
	Path string `json:"path,omitempty"`

	// Payload is the artifact body.
	Payload string `json:"payload"`
}

// Result is the outcome of a single tool execution.
type Result struct {
	// Output is the tool output shown to the LLM.
	Output string

	// Success reports whether the tool succeeded.
	Success bool

	// ExitCode is the subprocess exit code, 0 for in-process tools.
	ExitCode int

	// ErrorMessage carries failure detail.
	ErrorMessage string

	// Duration is filled by the executor.
	Duration time.Duration

	// Artifacts are typed payloads for the evidence log.
	Artifacts []Artifact
}

// Tool is one executable capability.
type Tool interface {
	// Metadata returns the static contract. Must be constant.
	Metadata() Metadata

	// Execute runs the tool. The context carries the class deadline.
	Execute(ctx context.Context, inv Invocation) (*Result, error)
}

// funcTool adapts a function to the Tool interface.
type funcTool struct {
	meta Metadata
	run  func(ctx context.Context, inv Invocation) (*Result, error)
}

// NewTool builds a Tool from metadata and a handler function.
func NewTool(meta Metadata, run func(ctx context.Context, inv Invocation) (*Result, error)) Tool {
	return &funcTool{meta: meta, run: run}
}

func (t *funcTool) Metadata() Metadata { return t.meta }

func (t *funcTool) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	return t.run(ctx, inv)
}

// failure builds a failed Result with the given message.
func failure(msg string) *Result {
	return &Result{Success: false, ErrorMessage: msg, Output: msg}
}
