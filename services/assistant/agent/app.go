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
	"strings"
	"sync"

	"github.com/quillan-ai/quillan/pkg/logging"
	"github.com/quillan-ai/quillan/services/assistant/evidence"
	"github.com/quillan-ai/quillan/services/assistant/plan"
	"github.com/quillan-ai/quillan/services/assistant/tools"
)

// recentOutputWindow bounds how many tool outputs feed discovery.
const recentOutputWindow = 5

// recurringFailureThreshold is the Q6 cutoff that gates a plan step
// behind confirmation before apply.
const recurringFailureThreshold = 2

// ConfirmFunc decides whether a confirmation-gated step may run. The
// REPL wires an interactive prompt; tests wire a constant.
type ConfirmFunc func(step plan.Step) bool

// App is the top-level controller tying the chat loop, the state
// machine, tool execution, planning, and the evidence log together.
//
// Description:
//
//	Input is dispatched into two isolated lanes. The chat lane keeps
//	the state machine in Running and never creates Plan objects; the
//	plan lane is entered only by the explicit /plan command. Both
//	lanes share the ChatLoop, the evidence log, and the whitelist.
//
// Thread Safety: App is safe for concurrent use; in the CLI it is
// driven by one foreground goroutine.
type App struct {
	mu sync.Mutex

	machine   *StateMachine
	loop      *ChatLoop
	executor  *tools.Executor
	registry  *tools.Registry
	discovery *tools.DiscoveryEngine
	plans     *plan.Store
	log       *evidence.Log
	logger    *logging.Logger

	projectRoot string
	confirm     ConfirmFunc
	whitelist   map[string]bool

	pending       *plan.Plan
	recentOutputs []string
	quit          bool
}

// AppDeps carries the wiring for NewApp. Loop, Executor, Registry,
// Discovery, Plans, and ProjectRoot are required; Log, Logger, and
// Confirm are optional.
type AppDeps struct {
	Loop        *ChatLoop
	Executor    *tools.Executor
	Registry    *tools.Registry
	Discovery   *tools.DiscoveryEngine
	Plans       *plan.Store
	Log         *evidence.Log
	Logger      *logging.Logger
	ProjectRoot string
	Confirm     ConfirmFunc
}

// NewApp builds the application controller.
func NewApp(deps AppDeps) (*App, error) {
	switch {
	case deps.Loop == nil:
		return nil, fmt.Errorf("app requires a chat loop")
	case deps.Executor == nil:
		return nil, fmt.Errorf("app requires an executor")
	case deps.Registry == nil:
		return nil, fmt.Errorf("app requires a tool registry")
	case deps.Discovery == nil:
		return nil, fmt.Errorf("app requires a discovery engine")
	case deps.Plans == nil:
		return nil, fmt.Errorf("app requires a plan store")
	case deps.ProjectRoot == "":
		return nil, fmt.Errorf("app requires a project root")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}

	whitelist := make(map[string]bool)
	for _, name := range deps.Registry.Names() {
		whitelist[name] = true
	}

	return &App{
		machine:     NewStateMachine(),
		loop:        deps.Loop,
		executor:    deps.Executor,
		registry:    deps.Registry,
		discovery:   deps.Discovery,
		plans:       deps.Plans,
		log:         deps.Log,
		logger:      deps.Logger,
		projectRoot: deps.ProjectRoot,
		confirm:     deps.Confirm,
		whitelist:   whitelist,
	}, nil
}

// State returns the current application state.
func (a *App) State() AppState {
	return a.machine.Current()
}

// QuitRequested reports whether the quit flag is set.
func (a *App) QuitRequested() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quit
}

// Events exposes the chat loop's event channel for the REPL tick.
func (a *App) Events() <-chan ChatEvent {
	return a.loop.Events()
}

// PendingPlan returns the plan awaiting approval, nil if none.
func (a *App) PendingPlan() *plan.Plan {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return nil
	}
	p := *a.pending
	return &p
}

// HandleInput dispatches one line of user input.
//
// Outputs:
//
//	string - Immediate feedback to print; empty when a background
//	call was spawned and output arrives via HandleEvent.
//	error - ErrQuitting after quit, lane errors otherwise.
func (a *App) HandleInput(ctx context.Context, input string) (string, error) {
	a.mu.Lock()
	if a.quit {
		a.mu.Unlock()
		return "", ErrQuitting
	}
	a.mu.Unlock()

	cmd, ok := ParseCommand(input)
	if !ok {
		return a.handleChat(ctx, input)
	}

	switch cmd.Kind {
	case CommandQuit:
		return a.handleQuit()
	case CommandHelp:
		return HelpText, nil
	case CommandOpen:
		return a.handleOpen(ctx, cmd.Arg)
	case CommandPlan:
		return a.handlePlanRequest(ctx, cmd.Arg)
	case CommandApply:
		return a.handleApply(ctx)
	default:
		return a.handleChat(ctx, input)
	}
}

// handleQuit is honored from every state, immediately, even with a
// background call outstanding.
func (a *App) handleQuit() (string, error) {
	if err := a.machine.TransitionTo(StateQuitting); err != nil && !errors.Is(err, ErrQuitting) {
		return "", err
	}
	a.mu.Lock()
	a.quit = true
	a.mu.Unlock()
	return "bye", nil
}

// handleChat runs the chat lane. It never creates a Plan and never
// leaves Running (abandoning a pending plan drops back to Running
// first).
func (a *App) handleChat(ctx context.Context, input string) (string, error) {
	switch a.machine.Current() {
	case StatePlanningInProgress, StateEditingPlan:
		return "a plan request is in flight; wait or /q", nil
	case StatePlanReady, StatePlanError:
		if err := a.machine.TransitionTo(StateRunning); err != nil {
			return "", err
		}
		a.mu.Lock()
		a.pending = nil
		a.mu.Unlock()
	}

	err := a.loop.Ask(ctx, input)
	if errors.Is(err, ErrSessionInFlight) {
		// New input while a call is outstanding supersedes the
		// session; the old call's events become stale.
		err = a.loop.Start(ctx, input)
	}
	return "", err
}

// handleOpen loads a file into the conversation via the file_read
// tool, so the read lands in the evidence log like any other tool use.
func (a *App) handleOpen(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "usage: /open <path>", nil
	}

	result, err := a.executor.Execute(ctx, tools.Invocation{
		Tool:        "file_read",
		Args:        map[string]string{"path": path},
		ProjectRoot: a.projectRoot,
	})
	if err != nil {
		return "", err
	}
	if !result.Success {
		return fmt.Sprintf("open failed: %s", result.ErrorMessage), nil
	}

	content := fmt.Sprintf("Contents of %s:\n%s", path, result.Output)
	if err := a.loop.InjectContext(content); err != nil {
		return "", err
	}
	return fmt.Sprintf("loaded %s (%d bytes)", path, len(result.Output)), nil
}

// handlePlanRequest enters the plan lane: a fresh plan from Running,
// an edit of the pending plan from PlanReady.
func (a *App) handlePlanRequest(ctx context.Context, request string) (string, error) {
	switch a.machine.Current() {
	case StateRunning, StatePlanError:
		if request == "" {
			return "usage: /plan <request>", nil
		}
		if err := a.machine.TransitionTo(StatePlanningInProgress); err != nil {
			return "", err
		}
		prompt, err := a.buildPlanPrompt(ctx, request, nil)
		if err != nil {
			return "", err
		}
		return "", a.startPlanCall(ctx, prompt)

	case StatePlanReady:
		if request == "" {
			return "usage: /plan <edit instructions>", nil
		}
		a.mu.Lock()
		pending := a.pending
		a.mu.Unlock()
		if pending == nil {
			return "", ErrNoPendingPlan
		}
		if err := a.machine.TransitionTo(StateEditingPlan); err != nil {
			return "", err
		}
		prompt, err := a.buildPlanPrompt(ctx, request, pending)
		if err != nil {
			return "", err
		}
		return "", a.startPlanCall(ctx, prompt)

	default:
		return "a plan request is already in flight", nil
	}
}

// startPlanCall spawns the LLM call for a plan prompt, superseding
// any in-flight chat call.
func (a *App) startPlanCall(ctx context.Context, prompt string) error {
	err := a.loop.Ask(ctx, prompt)
	if errors.Is(err, ErrSessionInFlight) {
		err = a.loop.Start(ctx, prompt)
	}
	return err
}

// buildPlanPrompt assembles the planning prompt: tool schema,
// discovered tool set, evidence summary, the user request, and the
// current plan when editing.
func (a *App) buildPlanPrompt(ctx context.Context, request string, editing *plan.Plan) (string, error) {
	schema, err := tools.SchemaJSON(a.registry)
	if err != nil {
		return "", fmt.Errorf("exporting tool schema: %w", err)
	}

	a.mu.Lock()
	recent := append([]string(nil), a.recentOutputs...)
	a.mu.Unlock()
	discovered := a.discovery.Discover(request, recent)

	var sb strings.Builder
	sb.WriteString("Respond with a plan as a single JSON object.\n")
	sb.WriteString("Available tools: " + strings.Join(discovered.Names(), ", ") + "\n")
	sb.WriteString("Core tool schema:\n")
	sb.Write(schema)
	sb.WriteString("\n")

	if a.log != nil {
		summary, err := a.log.RenderEvidenceSummary(ctx)
		if err != nil {
			a.logger.Warn("evidence summary unavailable", "error", err)
		} else {
			sb.WriteString(summary)
		}
	}

	if editing != nil {
		sb.WriteString("Current plan (revise per the instructions, keep plan_id):\n")
		fmt.Fprintf(&sb, "plan_id: %s (version %d)\n", editing.PlanID, editing.Version)
	}

	sb.WriteString("Request: " + request)
	return sb.String(), nil
}

// HandleEvent applies one chat event and performs whatever action
// falls out: tool execution with continuation in the chat lane, plan
// parsing in the plan lane.
//
// Outputs:
//
//	string - Text to print, empty when nothing user-visible happened.
func (a *App) HandleEvent(ctx context.Context, ev ChatEvent) (string, error) {
	action := a.loop.ProcessEvent(ev)
	if action.Kind == ActionNone {
		return "", nil
	}

	switch a.machine.Current() {
	case StatePlanningInProgress, StateEditingPlan:
		return a.finishPlanCall(action)
	default:
		return a.finishChatCall(ctx, action)
	}
}

// finishChatCall handles a chat-lane action.
func (a *App) finishChatCall(ctx context.Context, action LoopAction) (string, error) {
	switch action.Kind {
	case ActionLoopComplete:
		return action.Response, nil

	case ActionReportError:
		return fmt.Sprintf("llm call failed: %v", action.Err), nil

	case ActionExecuteTool:
		return a.executeAndContinue(ctx, action)

	default:
		return "", nil
	}
}

// executeAndContinue runs a tool call from chat and spawns the
// continuation. Tool failures and whitelist rejections are fed back
// to the model so it can self-correct.
func (a *App) executeAndContinue(ctx context.Context, action LoopAction) (string, error) {
	result, err := a.executor.Execute(ctx, tools.Invocation{
		Tool:        action.ToolName,
		Args:        action.ToolArgs,
		ProjectRoot: a.projectRoot,
	})

	toolResult := ToolResult{ToolName: action.ToolName}
	if errors.Is(err, tools.ErrToolNotWhitelisted) {
		toolResult.Output = err.Error()
	} else if err != nil {
		return "", err
	} else {
		toolResult.Output = result.Output
		toolResult.Success = result.Success
		a.rememberOutput(result.Output)
	}

	contErr := a.loop.ContinueAfterTool(ctx, toolResult)
	if errors.Is(contErr, ErrContinuationLimit) {
		return fmt.Sprintf("stopped: %v", contErr), nil
	}
	if contErr != nil {
		return "", contErr
	}
	return fmt.Sprintf("[%s] %s", action.ToolName, summarize(toolResult.Output)), nil
}

// rememberOutput keeps the sliding window of tool outputs that feeds
// discovery triggers.
func (a *App) rememberOutput(output string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recentOutputs = append(a.recentOutputs, output)
	if len(a.recentOutputs) > recentOutputWindow {
		a.recentOutputs = a.recentOutputs[len(a.recentOutputs)-recentOutputWindow:]
	}
}

// finishPlanCall handles a plan-lane action: the response text is
// parsed as a plan, validated against the whitelist, versioned, and
// stored.
func (a *App) finishPlanCall(action LoopAction) (string, error) {
	if action.Kind == ActionReportError {
		if err := a.machine.TransitionTo(StatePlanError); err != nil {
			return "", err
		}
		return fmt.Sprintf("plan generation failed: %v", action.Err), nil
	}

	parsed := plan.ParsePlan(action.Response)

	a.mu.Lock()
	editing := a.machine.Current() == StateEditingPlan && a.pending != nil
	if editing {
		revised := a.pending.Revise(parsed.Steps)
		parsed = revised
	} else if parsed.PlanID == "" {
		parsed.PlanID = plan.NewPlanID()
	}
	a.mu.Unlock()

	if err := parsed.Validate(a.whitelist); err != nil {
		if terr := a.machine.TransitionTo(StatePlanError); terr != nil {
			return "", terr
		}
		return fmt.Sprintf("plan rejected: %v", err), nil
	}

	if editing {
		parsed.Version = 0 // store assigns the next version
	}
	stored, err := a.plans.Put(parsed)
	if err != nil {
		if terr := a.machine.TransitionTo(StatePlanError); terr != nil {
			return "", terr
		}
		return fmt.Sprintf("plan not persisted: %v", err), nil
	}

	a.mu.Lock()
	a.pending = &stored
	a.mu.Unlock()
	if err := a.machine.TransitionTo(StatePlanReady); err != nil {
		return "", err
	}

	return renderPlan(stored), nil
}

// handleApply executes the approved plan's steps in order, after the
// recurring-failure check gates risky steps behind confirmation.
func (a *App) handleApply(ctx context.Context) (string, error) {
	if a.machine.Current() != StatePlanReady {
		return "", ErrNoPendingPlan
	}
	a.mu.Lock()
	pending := a.pending
	a.mu.Unlock()
	if pending == nil {
		return "", ErrNoPendingPlan
	}

	steps, err := a.gateRecurringFailures(ctx, pending.Steps)
	if err != nil {
		a.logger.Warn("recurring-failure check unavailable", "error", err)
		steps = pending.Steps
	}

	var sb strings.Builder
	for _, step := range steps {
		if step.Tool == plan.DisplayTextTool {
			sb.WriteString(step.Arguments["text"] + "\n")
			continue
		}
		if step.RequiresConfirmation && (a.confirm == nil || !a.confirm(step)) {
			fmt.Fprintf(&sb, "step %s (%s): skipped, not confirmed\n", step.StepID, step.Tool)
			continue
		}

		result, err := a.executor.Execute(ctx, tools.Invocation{
			Tool:        step.Tool,
			Args:        step.Arguments,
			ProjectRoot: a.projectRoot,
		})
		if err != nil {
			return "", err
		}
		status := "ok"
		if !result.Success {
			status = "failed: " + result.ErrorMessage
		}
		fmt.Fprintf(&sb, "step %s (%s): %s\n", step.StepID, step.Tool, status)
		a.rememberOutput(result.Output)
	}

	a.mu.Lock()
	a.pending = nil
	a.mu.Unlock()
	if err := a.machine.TransitionTo(StateRunning); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// gateRecurringFailures marks steps whose tool+file pair has failed
// repeatedly as requiring confirmation.
func (a *App) gateRecurringFailures(ctx context.Context, steps []plan.Step) ([]plan.Step, error) {
	if a.log == nil {
		return steps, nil
	}
	recurring, err := a.log.RecurringFailures(ctx, recurringFailureThreshold)
	if err != nil {
		return nil, err
	}
	if len(recurring) == 0 {
		return steps, nil
	}

	failing := make(map[string]bool, len(recurring))
	for _, r := range recurring {
		failing[r.Tool+"\x00"+r.FilePath] = true
	}

	out := make([]plan.Step, len(steps))
	copy(out, steps)
	for i := range out {
		path := out[i].Arguments["path"]
		if path == "" {
			path = out[i].Arguments["target"]
		}
		if failing[out[i].Tool+"\x00"+path] {
			out[i].RequiresConfirmation = true
		}
	}
	return out, nil
}

// renderPlan formats a plan for user review.
func renderPlan(p plan.Plan) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "plan %s v%d (%s):\n", p.PlanID, p.Version, p.Intent)
	for _, s := range p.Steps {
		marker := " "
		if s.RequiresConfirmation {
			marker = "!"
		}
		fmt.Fprintf(&sb, "%s %s. %s %v\n", marker, s.StepID, s.Tool, s.Arguments)
	}
	sb.WriteString("/apply to execute, /plan <instructions> to edit")
	return sb.String()
}

// summarize truncates tool output for the one-line progress echo.
func summarize(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
