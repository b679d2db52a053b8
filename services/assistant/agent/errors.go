// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import "errors"

// Sentinel errors for the orchestration engine.
var (
	// ErrSessionInFlight indicates Start was called while a prior call
	// for the same session is still outstanding.
	ErrSessionInFlight = errors.New("a call for this session is already in flight")

	// ErrInvalidTransition indicates a disallowed app-state transition.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNoSession indicates an operation that requires an active
	// session found none.
	ErrNoSession = errors.New("no active session")

	// ErrContinuationLimit indicates the automatic tool-chain depth
	// bound was reached.
	ErrContinuationLimit = errors.New("continuation depth limit reached")

	// ErrQuitting indicates input arrived after the quit command.
	ErrQuitting = errors.New("application is quitting")

	// ErrNoPendingPlan indicates /apply or an edit arrived with no
	// plan awaiting approval.
	ErrNoPendingPlan = errors.New("no plan awaiting approval")
)
