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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quillan-ai/quillan/services/assistant/evidence"
	"github.com/quillan-ai/quillan/services/assistant/plan"
	"github.com/quillan-ai/quillan/services/assistant/tools"
)

type appFixture struct {
	app     *App
	adapter *scriptedAdapter
	log     *evidence.Log
	plans   *plan.Store
	root    string
}

func newAppFixture(t *testing.T, adapter *scriptedAdapter) *appFixture {
	t.Helper()
	root := t.TempDir()

	elog, err := evidence.OpenLog(filepath.Join(t.TempDir(), "evidence.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { elog.Close() })

	registry := tools.NewDefaultRegistry(nil, nil)
	plans, err := plan.NewStore(filepath.Join(root, ".quillan", "plans"))
	if err != nil {
		t.Fatal(err)
	}

	app, err := NewApp(AppDeps{
		Loop:        NewChatLoop(adapter, withBackoff(time.Millisecond)),
		Executor:    tools.NewExecutor(registry, elog, nil),
		Registry:    registry,
		Discovery:   tools.NewDiscoveryEngine(registry, tools.DefaultTriggers()),
		Plans:       plans,
		Log:         elog,
		ProjectRoot: root,
	})
	if err != nil {
		t.Fatal(err)
	}

	return &appFixture{app: app, adapter: adapter, log: elog, plans: plans, root: root}
}

// pump runs one input and applies events until output or error.
func (f *appFixture) pump(t *testing.T, input string) string {
	t.Helper()
	ctx := context.Background()

	out, err := f.app.HandleInput(ctx, input)
	if err != nil {
		t.Fatalf("HandleInput(%q): %v", input, err)
	}
	if out != "" {
		return out
	}

	for {
		select {
		case ev := <-f.app.Events():
			out, err := f.app.HandleEvent(ctx, ev)
			if err != nil {
				t.Fatalf("HandleEvent: %v", err)
			}
			if out != "" {
				return out
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for output")
		}
	}
}

func (f *appFixture) executionCount(t *testing.T) int {
	t.Helper()
	rate, err := f.log.SuccessRateOverWindow(context.Background(), 1_000_000)
	if err != nil {
		t.Fatal(err)
	}
	return rate.Total
}

const planJSON = `{
  "plan_id": "",
  "intent": "WRITE",
  "steps": [
    {"step_id": "1", "tool": "file_write", "arguments": {"path": "out.txt", "content": "hello"}}
  ]
}`

func TestChatLaneIsolation(t *testing.T) {
	f := newAppFixture(t, &scriptedAdapter{responses: []string{
		"sure", "here is an answer", "done",
	}})

	for _, input := range []string{"hi", "explain main.rs", "thanks"} {
		f.pump(t, input)
	}

	if f.app.State() != StateRunning {
		t.Errorf("chat drove state to %s", f.app.State())
	}
	if f.app.PendingPlan() != nil {
		t.Error("chat created a plan")
	}
	entries, err := os.ReadDir(filepath.Join(f.root, ".quillan", "plans"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("chat persisted %d plan files", len(entries))
	}
	if n := f.executionCount(t); n != 0 {
		t.Errorf("chat text produced %d execution rows", n)
	}
}

func TestChatToolCallExecutesAndContinues(t *testing.T) {
	f := newAppFixture(t, &scriptedAdapter{responses: []string{
		"TOOL_CALL:\n  tool: file_read\n  args:\n    path: hello.txt\n",
		"the file says hello",
	}})
	if err := os.WriteFile(filepath.Join(f.root, "hello.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	first := f.pump(t, "what does hello.txt say")
	if !strings.Contains(first, "file_read") {
		t.Errorf("expected tool echo, got %q", first)
	}

	// The continuation call completes with the final answer.
	var final string
	ctx := context.Background()
	for final == "" {
		select {
		case ev := <-f.app.Events():
			out, err := f.app.HandleEvent(ctx, ev)
			if err != nil {
				t.Fatal(err)
			}
			final = out
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for continuation")
		}
	}
	if final != "the file says hello" {
		t.Errorf("final = %q", final)
	}

	if n := f.executionCount(t); n != 1 {
		t.Errorf("execution rows = %d, want 1", n)
	}
}

func TestPlanLaneLifecycle(t *testing.T) {
	revised := `{
  "intent": "WRITE",
  "steps": [
    {"step_id": "1", "tool": "file_read", "arguments": {"path": "out.txt"}},
    {"step_id": "2", "tool": "file_write", "arguments": {"path": "out.txt", "content": "revised"}}
  ]
}`
	f := newAppFixture(t, &scriptedAdapter{responses: []string{planJSON, revised}})

	out := f.pump(t, "/plan write a greeting file")
	if f.app.State() != StatePlanReady {
		t.Fatalf("state = %s, want PLAN_READY", f.app.State())
	}
	if !strings.Contains(out, "file_write") {
		t.Errorf("plan rendering missing steps: %q", out)
	}

	pending := f.app.PendingPlan()
	if pending == nil || pending.Version != 1 {
		t.Fatalf("pending = %+v", pending)
	}

	// Editing mints version 2 with the same plan id.
	f.pump(t, "/plan read before writing")
	edited := f.app.PendingPlan()
	if edited == nil || edited.Version != 2 || edited.PlanID != pending.PlanID {
		t.Fatalf("edited = %+v", edited)
	}
	if f.app.State() != StatePlanReady {
		t.Fatalf("state after edit = %s", f.app.State())
	}

	// Version 1 stays queryable.
	v1, err := f.plans.Get(pending.PlanID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(v1.Steps) != 1 {
		t.Errorf("v1 = %+v", v1)
	}

	// Apply executes the steps and returns to Running.
	summary, err := f.app.HandleInput(context.Background(), "/apply")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(summary, "step 2 (file_write): ok") {
		t.Errorf("apply summary: %q", summary)
	}
	if f.app.State() != StateRunning {
		t.Errorf("state after apply = %s", f.app.State())
	}
	data, err := os.ReadFile(filepath.Join(f.root, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "revised" {
		t.Errorf("out.txt = %q", data)
	}
}

func TestPlanWithUnknownToolRejected(t *testing.T) {
	bad := `{"intent": "WRITE", "steps": [{"step_id": "1", "tool": "rm_rf", "arguments": {}}]}`
	f := newAppFixture(t, &scriptedAdapter{responses: []string{bad}})

	out := f.pump(t, "/plan do something sketchy")
	if f.app.State() != StatePlanError {
		t.Fatalf("state = %s, want PLAN_ERROR", f.app.State())
	}
	if !strings.Contains(out, "rejected") {
		t.Errorf("out = %q", out)
	}
	if _, err := f.app.HandleInput(context.Background(), "/apply"); !errors.Is(err, ErrNoPendingPlan) {
		t.Errorf("apply after rejection: %v", err)
	}
}

func TestApplyGatesRecurringFailures(t *testing.T) {
	f := newAppFixture(t, &scriptedAdapter{responses: []string{`{
  "intent": "REFACTOR",
  "steps": [
    {"step_id": "1", "tool": "patch_apply", "arguments": {"path": "a.go", "patch": "garbage"}}
  ]
}`}})

	// Two prior failures of the same tool+file pair.
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := f.log.Record(ctx, "patch_apply", map[string]string{"path": "a.go"},
			&tools.Result{Success: false, ErrorMessage: "context mismatch"})
		if err != nil {
			t.Fatal(err)
		}
	}

	f.pump(t, "/plan patch a.go again")
	if f.app.State() != StatePlanReady {
		t.Fatalf("state = %s", f.app.State())
	}

	// No confirm function is wired: the gated step must be skipped.
	summary, err := f.app.HandleInput(ctx, "/apply")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(summary, "skipped, not confirmed") {
		t.Errorf("summary = %q", summary)
	}
}

func TestEmergencyExitFromEveryState(t *testing.T) {
	states := []AppState{
		StateRunning,
		StatePlanningInProgress,
		StatePlanReady,
		StatePlanError,
		StateEditingPlan,
	}
	for _, state := range states {
		t.Run(string(state), func(t *testing.T) {
			f := newAppFixture(t, &scriptedAdapter{responses: []string{"x"}})
			f.app.machine.current = state

			out, err := f.app.HandleInput(context.Background(), "/q")
			if err != nil {
				t.Fatalf("/q from %s: %v", state, err)
			}
			if out != "bye" {
				t.Errorf("out = %q", out)
			}
			if f.app.State() != StateQuitting {
				t.Errorf("state = %s, want QUITTING", f.app.State())
			}
			if !f.app.QuitRequested() {
				t.Error("quit flag not set")
			}

			if _, err := f.app.HandleInput(context.Background(), "hello"); !errors.Is(err, ErrQuitting) {
				t.Errorf("input after quit: %v", err)
			}
		})
	}
}

func TestOpenCommand(t *testing.T) {
	f := newAppFixture(t, &scriptedAdapter{responses: []string{"ack"}})
	if err := os.WriteFile(filepath.Join(f.root, "notes.md"), []byte("remember this"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := f.app.HandleInput(context.Background(), "/open notes.md")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "loaded notes.md") {
		t.Errorf("out = %q", out)
	}

	// The open lands in the evidence log like any tool use.
	if n := f.executionCount(t); n != 1 {
		t.Errorf("execution rows = %d, want 1", n)
	}

	// And the content rides along on the next chat turn.
	f.pump(t, "summarize what I opened")
	history := f.app.loop.History()
	found := false
	for _, turn := range history {
		if strings.Contains(turn.Content, "remember this") {
			found = true
		}
	}
	if !found {
		t.Error("opened file content not in conversation history")
	}
}
