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
	"time"

	"github.com/quillan-ai/quillan/pkg/logging"
	"github.com/quillan-ai/quillan/services/assistant/telemetry"
)

// Recorder persists execution outcomes. The evidence log implements
// this; tests inject fakes.
type Recorder interface {
	// Record appends one execution record plus artifacts and returns
	// the execution id.
	Record(ctx context.Context, tool string, args map[string]string, result *Result) (int64, error)
}

// Executor dispatches whitelisted tool invocations with per-class
// timeouts and records every outcome in the evidence log.
//
// Failures are recorded, never swallowed: a failed tool yields a
// failed Result (fed back to the LLM for self-correction), and only
// whitelist violations return an error instead of a Result.
//
// Thread Safety: Executor is safe for concurrent use.
type Executor struct {
	registry *Registry
	recorder Recorder
	logger   *logging.Logger
}

// NewExecutor creates an executor over the registry. recorder may be
// nil (execution then proceeds unrecorded; the CLI never wires it
// that way, tests sometimes do).
func NewExecutor(registry *Registry, recorder Recorder, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Executor{
		registry: registry,
		recorder: recorder,
		logger:   logger,
	}
}

// Execute runs one tool invocation.
//
// Description:
//
//	Validates the tool against the whitelist, applies the class
//	timeout, runs the tool off the event-delivery path, records the
//	outcome, and returns the Result. Tool-level failures come back as
//	a failed Result with a nil error so the chat loop can feed them
//	to the LLM; only invariant violations (unknown tool) error out.
//
// Inputs:
//
//	ctx - Caller context; the class timeout is layered on top.
//	inv - The invocation (tool, args, project root).
//
// Outputs:
//
//	*Result - Always non-nil when err is nil.
//	error - ErrToolNotWhitelisted for unknown tools.
func (e *Executor) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	tool, ok := e.registry.Get(inv.Tool)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotWhitelisted, inv.Tool)
	}

	meta := tool.Metadata()
	timeout := meta.Class.Timeout()
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := tool.Execute(execCtx, inv)
	elapsed := time.Since(start)

	switch {
	case err != nil && execCtx.Err() == context.DeadlineExceeded:
		result = failure(fmt.Sprintf("%v after %s", ErrExecutionTimeout, timeout))
	case err != nil:
		result = failure(err.Error())
	case result == nil:
		result = failure("tool returned no result")
	}
	result.Duration = elapsed

	telemetry.ObserveToolExecution(inv.Tool, result.Success, elapsed)
	e.logger.Info("tool executed",
		"tool", inv.Tool,
		"success", result.Success,
		"duration_ms", elapsed.Milliseconds(),
	)

	if e.recorder != nil {
		if _, recErr := e.recorder.Record(ctx, inv.Tool, inv.Args, result); recErr != nil {
			// The execution already happened; a recording failure is
			// surfaced in logs but does not fail the tool.
			e.logger.Error("recording execution failed",
				"tool", inv.Tool,
				"error", recErr.Error(),
			)
		}
	}

	return result, nil
}
