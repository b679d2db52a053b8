// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"fmt"
	"sync"
)

// validTransitions is the closed transition table. Quitting is
// reachable from every state and is handled before the table lookup.
var validTransitions = map[AppState][]AppState{
	StateRunning:            {StateRunning, StatePlanningInProgress},
	StatePlanningInProgress: {StatePlanReady, StatePlanError},
	StatePlanReady:          {StateEditingPlan, StateRunning},
	StatePlanError:          {StateRunning, StatePlanningInProgress},
	StateEditingPlan:        {StatePlanReady, StatePlanError, StateRunning},
	StateQuitting:           {},
}

// StateMachine is the top-level application mode controller.
//
// Description:
//
//	Chat input keeps the machine in Running; only explicit plan-mode
//	input enters the planning states. Quitting is terminal and
//	unconditionally reachable.
//
// Thread Safety: StateMachine is safe for concurrent use.
type StateMachine struct {
	mu      sync.Mutex
	current AppState
}

// NewStateMachine starts in StateRunning.
func NewStateMachine() *StateMachine {
	return &StateMachine{current: StateRunning}
}

// Current returns the current state.
func (m *StateMachine) Current() AppState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// TransitionTo moves to the next state.
//
// Outputs:
//
//	error - ErrQuitting when already terminal, ErrInvalidTransition
//	when the table forbids the move. Quitting is always allowed.
func (m *StateMachine) TransitionTo(next AppState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == StateQuitting {
		return fmt.Errorf("%w: cannot leave %s", ErrQuitting, StateQuitting)
	}
	if next == StateQuitting {
		m.current = StateQuitting
		return nil
	}

	for _, allowed := range validTransitions[m.current] {
		if allowed == next {
			m.current = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, next)
}

// CanTransitionTo reports whether the move is allowed without
// performing it.
func (m *StateMachine) CanTransitionTo(next AppState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == StateQuitting {
		return false
	}
	if next == StateQuitting {
		return true
	}
	for _, allowed := range validTransitions[m.current] {
		if allowed == next {
			return true
		}
	}
	return false
}
