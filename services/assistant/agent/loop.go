// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quillan-ai/quillan/pkg/logging"
	"github.com/quillan-ai/quillan/services/assistant/plan"
	"github.com/quillan-ai/quillan/services/assistant/telemetry"
)

// retryableError is what transport errors expose to the loop without
// the loop importing the transport package.
type retryableError interface {
	Retryable() bool
}

// ChatLoop drives one session's LLM round-trips.
//
// Description:
//
//	Start appends the user turn and spawns one background call; the
//	foreground consumes ChatEvents from Events and feeds them to
//	ProcessEvent. At most one call is outstanding per session. A new
//	Start supersedes the current session: the old call keeps running
//	but its events are discarded on receipt.
//
//	Retry lives here, never in adapters: retryable transport failures
//	are retried with doubling backoff before an Error event surfaces.
//
// Thread Safety: ChatLoop is safe for concurrent use. The event
// channel is single-consumer.
type ChatLoop struct {
	mu       sync.Mutex
	session  *Session
	inFlight bool

	adapter          LLMAdapter
	logger           *logging.Logger
	events           chan ChatEvent
	retries          int
	maxContinuations int
	backoff          time.Duration
	systemPrompt     string
}

// LoopOption configures a ChatLoop.
type LoopOption func(*ChatLoop)

// WithRetries sets how many times a retryable transport failure is
// retried before an Error event is emitted.
func WithRetries(n int) LoopOption {
	return func(l *ChatLoop) { l.retries = n }
}

// WithMaxContinuations bounds automatic tool-chain depth.
func WithMaxContinuations(n int) LoopOption {
	return func(l *ChatLoop) { l.maxContinuations = n }
}

// WithSystemPrompt seeds each new session with a system turn.
func WithSystemPrompt(prompt string) LoopOption {
	return func(l *ChatLoop) { l.systemPrompt = prompt }
}

// WithLoopLogger sets the structured logger.
func WithLoopLogger(logger *logging.Logger) LoopOption {
	return func(l *ChatLoop) { l.logger = logger }
}

// withBackoff shrinks the retry backoff for tests.
func withBackoff(d time.Duration) LoopOption {
	return func(l *ChatLoop) { l.backoff = d }
}

// NewChatLoop creates a loop over the given adapter.
func NewChatLoop(adapter LLMAdapter, opts ...LoopOption) *ChatLoop {
	l := &ChatLoop{
		adapter:          adapter,
		logger:           logging.Default(),
		events:           make(chan ChatEvent, 16),
		retries:          2,
		maxContinuations: 8,
		backoff:          250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Events returns the single-consumer event channel.
func (l *ChatLoop) Events() <-chan ChatEvent {
	return l.events
}

// SessionID returns the current session id, empty before first Start.
func (l *ChatLoop) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return ""
	}
	return l.session.ID
}

// History returns a copy of the current session's turns.
func (l *ChatLoop) History() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return nil
	}
	return l.session.Frames.Render()
}

// Start begins a new session with the user's message.
//
// Description:
//
//	Mints a fresh session (superseding any current one, in-flight or
//	not), appends the user turn, and spawns the background call. The
//	superseded call is not killed; its events carry a stale session
//	id and ProcessEvent discards them.
func (l *ChatLoop) Start(ctx context.Context, userMessage string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// The superseded call, if any, is tagged with the old session id
	// and its events will be discarded, so it no longer counts as
	// outstanding.
	l.inFlight = false
	l.session = NewSession(l.systemPrompt)
	l.session.Frames.Append(Turn{Role: RoleUser, Content: userMessage})
	return l.spawnLocked(ctx)
}

// Ask appends a user turn to the current session and spawns a call,
// keeping history. Used for follow-up turns; falls back to Start
// semantics when no session exists.
func (l *ChatLoop) Ask(ctx context.Context, userMessage string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session == nil {
		l.session = NewSession(l.systemPrompt)
	}
	if l.inFlight {
		return fmt.Errorf("%w: %s", ErrSessionInFlight, l.session.ID)
	}
	l.session.Frames.Append(Turn{Role: RoleUser, Content: userMessage})
	return l.spawnLocked(ctx)
}

// InjectContext appends a user context turn without spawning a call.
// Used by /open to load file content into the conversation.
func (l *ChatLoop) InjectContext(content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session == nil {
		l.session = NewSession(l.systemPrompt)
	}
	if l.inFlight {
		return fmt.Errorf("%w: %s", ErrSessionInFlight, l.session.ID)
	}
	l.session.Frames.Append(Turn{Role: RoleUser, Content: content})
	return nil
}

// ContinueAfterTool appends a tool result turn and spawns the
// continuation call.
//
// Outputs:
//
//	error - ErrNoSession, ErrSessionInFlight, or ErrContinuationLimit.
func (l *ChatLoop) ContinueAfterTool(ctx context.Context, result ToolResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session == nil {
		return ErrNoSession
	}
	if l.inFlight {
		return fmt.Errorf("%w: %s", ErrSessionInFlight, l.session.ID)
	}
	if l.session.Continuations >= l.maxContinuations {
		return fmt.Errorf("%w (%d)", ErrContinuationLimit, l.maxContinuations)
	}
	l.session.Continuations++
	telemetry.ObserveContinuationDepth(l.session.Continuations)

	status := "ok"
	if !result.Success {
		status = "failed"
	}
	l.session.Frames.Append(Turn{
		Role:    RoleUser,
		Content: fmt.Sprintf("TOOL_RESULT %s (%s):\n%s", result.ToolName, status, result.Output),
	})
	return l.spawnLocked(ctx)
}

// spawnLocked launches the background call for the current session.
// Caller holds l.mu.
func (l *ChatLoop) spawnLocked(ctx context.Context) error {
	if l.inFlight {
		return fmt.Errorf("%w: %s", ErrSessionInFlight, l.session.ID)
	}
	l.inFlight = true
	l.session.State = LoopAwaitingLLM

	sessionID := l.session.ID
	turns := l.session.Frames.Render()

	go l.call(ctx, sessionID, turns)
	return nil
}

// call performs the adapter round-trip with the loop's retry policy
// and emits events tagged with the spawning session id.
func (l *ChatLoop) call(ctx context.Context, sessionID string, turns []Turn) {
	l.emit(ChatEvent{SessionID: sessionID, Kind: EventStarted, Timestamp: time.Now()})

	var text string
	var err error
	backoff := l.backoff
	for attempt := 0; ; attempt++ {
		text, err = l.adapter.Send(ctx, turns)
		if err == nil {
			break
		}

		var re retryableError
		retryable := errors.As(err, &re) && re.Retryable()
		if !retryable || attempt >= l.retries {
			break
		}
		l.logger.Warn("llm call failed, retrying",
			"provider", l.adapter.ProviderName(),
			"attempt", attempt+1,
			"error", err,
		)
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			continue
		}
		break
	}

	telemetry.ObserveLLMCall(l.adapter.ProviderName(), err)
	if err != nil {
		l.emit(ChatEvent{SessionID: sessionID, Kind: EventError, Err: err, Timestamp: time.Now()})
		return
	}
	l.emit(ChatEvent{SessionID: sessionID, Kind: EventComplete, Text: text, Timestamp: time.Now()})
}

// emit never blocks forever: if the consumer is gone the event is
// dropped, which only happens during shutdown.
func (l *ChatLoop) emit(ev ChatEvent) {
	select {
	case l.events <- ev:
	case <-time.After(5 * time.Second):
		l.logger.Warn("event channel stalled, dropping event",
			"session_id", ev.SessionID, "kind", ev.Kind)
	}
}

// ProcessEvent applies one event to the current session.
//
// Description:
//
//	Events whose session id does not match the current session are
//	discarded: a restarted session must never be corrupted by a
//	superseded call's late events. On Complete the response text is
//	interpreted: a TOOL_CALL block yields ActionExecuteTool, plain
//	text yields ActionLoopComplete. The assistant turn is appended in
//	both cases; Response always carries the raw text.
func (l *ChatLoop) ProcessEvent(event ChatEvent) LoopAction {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session == nil || event.SessionID != l.session.ID {
		telemetry.ObserveStaleEvent()
		l.logger.Debug("discarding stale event",
			"event_session", event.SessionID, "kind", event.Kind)
		return LoopAction{Kind: ActionNone}
	}

	switch event.Kind {
	case EventStarted, EventChunk:
		return LoopAction{Kind: ActionNone}

	case EventError:
		l.inFlight = false
		l.session.State = LoopIdle
		return LoopAction{Kind: ActionReportError, Err: event.Err}

	case EventComplete:
		l.inFlight = false
		l.session.Frames.Append(Turn{Role: RoleAssistant, Content: event.Text})

		if call, ok := plan.ParseToolCall(event.Text); ok {
			l.session.State = LoopIdle
			return LoopAction{
				Kind:     ActionExecuteTool,
				ToolName: call.Tool,
				ToolArgs: call.Args,
				Response: event.Text,
			}
		}

		l.session.State = LoopComplete
		return LoopAction{Kind: ActionLoopComplete, Response: event.Text}

	default:
		return LoopAction{Kind: ActionNone}
	}
}
