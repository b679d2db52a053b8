// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"errors"
	"testing"
)

func TestStateMachineHappyPath(t *testing.T) {
	m := NewStateMachine()
	if m.Current() != StateRunning {
		t.Fatalf("initial state = %s", m.Current())
	}

	path := []AppState{
		StatePlanningInProgress,
		StatePlanReady,
		StateEditingPlan,
		StatePlanReady,
		StateRunning,
	}
	for _, next := range path {
		if err := m.TransitionTo(next); err != nil {
			t.Fatalf("TransitionTo(%s) from %s: %v", next, m.Current(), err)
		}
	}
}

func TestStateMachinePlanError(t *testing.T) {
	m := NewStateMachine()
	if err := m.TransitionTo(StatePlanningInProgress); err != nil {
		t.Fatal(err)
	}
	if err := m.TransitionTo(StatePlanError); err != nil {
		t.Fatal(err)
	}

	t.Run("retry planning", func(t *testing.T) {
		if !m.CanTransitionTo(StatePlanningInProgress) {
			t.Error("PlanError should allow retrying the plan request")
		}
	})
	t.Run("back to chat", func(t *testing.T) {
		if err := m.TransitionTo(StateRunning); err != nil {
			t.Errorf("PlanError -> Running: %v", err)
		}
	})
}

func TestStateMachineRejectsInvalidMoves(t *testing.T) {
	cases := []struct {
		from AppState
		to   AppState
	}{
		{StateRunning, StatePlanReady},
		{StateRunning, StateEditingPlan},
		{StatePlanningInProgress, StateRunning},
		{StatePlanReady, StatePlanningInProgress},
	}
	for _, tc := range cases {
		m := &StateMachine{current: tc.from}
		err := m.TransitionTo(tc.to)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s -> %s: err = %v, want ErrInvalidTransition", tc.from, tc.to, err)
		}
		if m.Current() != tc.from {
			t.Errorf("failed transition moved state to %s", m.Current())
		}
	}
}

func TestQuittingReachableFromEveryState(t *testing.T) {
	for _, from := range AllAppStates() {
		if from == StateQuitting {
			continue
		}
		t.Run(string(from), func(t *testing.T) {
			m := &StateMachine{current: from}
			if err := m.TransitionTo(StateQuitting); err != nil {
				t.Fatalf("quit from %s: %v", from, err)
			}
			if !m.Current().IsTerminal() {
				t.Error("Quitting should be terminal")
			}
		})
	}
}

func TestQuittingIsTerminal(t *testing.T) {
	m := &StateMachine{current: StateQuitting}
	for _, next := range AllAppStates() {
		if err := m.TransitionTo(next); !errors.Is(err, ErrQuitting) {
			t.Errorf("TransitionTo(%s) from Quitting: %v, want ErrQuitting", next, err)
		}
	}
}
