// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import "github.com/google/uuid"

// Session is one conversation owned by a ChatLoop.
//
// A session is superseded when the loop starts a new one; events
// tagged with a superseded id are discarded on receipt. Only the
// owning ChatLoop mutates a session.
type Session struct {
	// ID tags every event this session's background calls emit.
	ID string

	// Frames is the ordered conversation history.
	Frames *FrameStack

	// State tracks where the session is in its round-trip.
	State LoopState

	// Continuations counts automatic tool-chain rounds.
	Continuations int
}

// NewSession mints a session seeded with an optional system prompt.
func NewSession(systemPrompt string) *Session {
	return &Session{
		ID:     uuid.NewString(),
		Frames: NewFrameStackWithSystem(systemPrompt),
		State:  LoopIdle,
	}
}
