// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import "sync"

// FrameStack is the ordered conversation history for one session.
//
// Description:
//
//	Turns are append-only and immutable once appended. Render returns
//	a copy in insertion order; adapters rely on that ordering when
//	shaping the provider message array.
//
// Thread Safety: FrameStack is safe for concurrent use.
type FrameStack struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewFrameStack creates an empty frame stack.
func NewFrameStack() *FrameStack {
	return &FrameStack{}
}

// NewFrameStackWithSystem creates a frame stack seeded with a system
// turn. An empty prompt seeds nothing.
func NewFrameStackWithSystem(systemPrompt string) *FrameStack {
	fs := NewFrameStack()
	if systemPrompt != "" {
		fs.Append(Turn{Role: RoleSystem, Content: systemPrompt})
	}
	return fs
}

// Append adds a turn to the end of the stack.
func (fs *FrameStack) Append(turn Turn) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.turns = append(fs.turns, turn)
}

// Render returns a copy of all turns in insertion order.
func (fs *FrameStack) Render() []Turn {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]Turn, len(fs.turns))
	copy(out, fs.turns)
	return out
}

// Len returns the number of turns.
func (fs *FrameStack) Len() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.turns)
}

// Last returns the most recent turn, if any.
func (fs *FrameStack) Last() (Turn, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if len(fs.turns) == 0 {
		return Turn{}, false
	}
	return fs.turns[len(fs.turns)-1], true
}
