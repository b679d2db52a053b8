// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent provides the session orchestration engine for the
// assistant CLI.
//
// The package owns the conversation frame stack, the per-session chat
// loop (one background LLM call at a time, results delivered over a
// session-tagged event channel), and the top-level application state
// machine that separates chat mode from plan approval mode.
//
// Thread Safety:
//
//	All exported types are designed for concurrent use. Sessions are
//	owned by their ChatLoop; other goroutines interact only via the
//	event channel.
package agent

import (
	"context"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleSystem is the instruction frame prepended to conversations.
	RoleSystem Role = "system"

	// RoleUser is input typed by the user (or a tool result fed back).
	RoleUser Role = "user"

	// RoleAssistant is LLM output.
	RoleAssistant Role = "assistant"
)

// Turn is one immutable message in a conversation.
type Turn struct {
	// Role is the author of this turn.
	Role Role `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// ChatEventKind enumerates events emitted by a background LLM call.
type ChatEventKind string

const (
	// EventStarted signals the call left the queue and is on the wire.
	EventStarted ChatEventKind = "started"

	// EventChunk carries an incremental response fragment.
	EventChunk ChatEventKind = "chunk"

	// EventComplete carries the full response text.
	EventComplete ChatEventKind = "complete"

	// EventError carries a terminal call failure.
	EventError ChatEventKind = "error"
)

// ChatEvent is one message from a background LLM call to the
// foreground loop. Events are tagged with the session that spawned
// them; events from superseded sessions are discarded on receipt.
type ChatEvent struct {
	// SessionID tags the session this event belongs to.
	SessionID string

	// Kind is the event discriminator.
	Kind ChatEventKind

	// Text is the chunk or complete response text.
	Text string

	// Err is set for EventError.
	Err error

	// Timestamp is when the event was emitted.
	Timestamp time.Time
}

// LoopActionKind enumerates the actions the UI must perform after an
// event is processed.
type LoopActionKind string

const (
	// ActionNone means no externally visible work resulted.
	ActionNone LoopActionKind = "none"

	// ActionExecuteTool means a tool call was detected and must run.
	ActionExecuteTool LoopActionKind = "execute_tool"

	// ActionLoopComplete means the round-trip finished with plain text.
	ActionLoopComplete LoopActionKind = "loop_complete"

	// ActionReportError means the call failed after retries.
	ActionReportError LoopActionKind = "report_error"
)

// LoopAction is the closed result variant of ProcessEvent.
type LoopAction struct {
	// Kind discriminates the variant.
	Kind LoopActionKind

	// ToolName is set for ActionExecuteTool.
	ToolName string

	// ToolArgs is set for ActionExecuteTool.
	ToolArgs map[string]string

	// Response is the assistant text for ActionLoopComplete.
	Response string

	// Err is set for ActionReportError.
	Err error
}

// LoopState tracks where a session is in its round-trip.
type LoopState string

const (
	// LoopIdle means no call is outstanding.
	LoopIdle LoopState = "idle"

	// LoopAwaitingLLM means a background call is in flight.
	LoopAwaitingLLM LoopState = "awaiting_llm"

	// LoopComplete means the session finished its final round-trip.
	LoopComplete LoopState = "complete"
)

// AppState is the top-level application mode.
//
// Chat interactions keep the machine in StateRunning; only explicit
// plan-mode input enters the planning states. Quitting is reachable
// from every state.
type AppState string

const (
	// StateRunning is normal chat operation.
	StateRunning AppState = "RUNNING"

	// StatePlanningInProgress means a plan request is with the LLM.
	StatePlanningInProgress AppState = "PLANNING_IN_PROGRESS"

	// StatePlanReady means a parsed plan awaits approval.
	StatePlanReady AppState = "PLAN_READY"

	// StatePlanError means plan generation or parsing failed.
	StatePlanError AppState = "PLAN_ERROR"

	// StateEditingPlan means the user is editing the pending plan.
	StateEditingPlan AppState = "EDITING_PLAN"

	// StateQuitting is terminal.
	StateQuitting AppState = "QUITTING"
)

// String returns the state name.
func (s AppState) String() string {
	return string(s)
}

// IsTerminal reports whether the state ends the application loop.
func (s AppState) IsTerminal() bool {
	return s == StateQuitting
}

// AllAppStates returns every AppState, in declaration order.
func AllAppStates() []AppState {
	return []AppState{
		StateRunning,
		StatePlanningInProgress,
		StatePlanReady,
		StatePlanError,
		StateEditingPlan,
		StateQuitting,
	}
}

// LLMAdapter is the loop's view of an LLM provider. Implementations
// live in services/assistant/llm and are injected at wiring time.
//
// Send must format the entire ordered turn list into the provider's
// multi-turn message array; collapsing history into a single message
// is a contract violation. Send performs no internal retry; the chat
// loop owns the retry policy.
type LLMAdapter interface {
	// ProviderName returns a stable provider identifier.
	ProviderName() string

	// Send performs one blocking round-trip and returns response text.
	Send(ctx context.Context, turns []Turn) (string, error)
}

// ToolResult is the outcome of one tool execution fed back into the
// conversation for the continuation call.
type ToolResult struct {
	// ToolName is the executed tool.
	ToolName string

	// Output is the tool output (or error text on failure).
	Output string

	// Success reports whether the tool succeeded.
	Success bool
}
