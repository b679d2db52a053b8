// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package plan defines the structured, user-approvable unit of work
// the assistant derives from LLM output, the defensive parser that
// produces it from arbitrary text, and the versioned on-disk store.
//
// Plans are immutable once created. Editing a plan produces a new
// version; prior versions stay on disk and remain queryable.
package plan

import (
	"errors"
	"fmt"
)

// Sentinel errors for plan handling.
var (
	// ErrPlanNotFound indicates no stored plan matches the id/version.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrVersionExists indicates a Put would overwrite a stored version.
	ErrVersionExists = errors.New("plan version already exists")

	// ErrCannotDiscardBase indicates a Discard aimed at version 1.
	ErrCannotDiscardBase = errors.New("cannot discard the base plan version")

	// ErrStepToolUnknown indicates a step references a tool outside
	// the whitelist.
	ErrStepToolUnknown = errors.New("plan step references unknown tool")
)

// Intent classifies what a plan is for.
type Intent string

const (
	IntentRead     Intent = "READ"
	IntentExplain  Intent = "EXPLAIN"
	IntentWrite    Intent = "WRITE"
	IntentRefactor Intent = "REFACTOR"
	IntentDiagnose Intent = "DIAGNOSE"
)

// DisplayTextTool is the pseudo-tool carried by the fallback step
// when LLM output is not a structured plan. It is rendered to the
// user, never executed.
const DisplayTextTool = "display_text"

// Step is one ordered action in a plan.
type Step struct {
	// StepID identifies the step within its plan.
	StepID string `json:"step_id"`

	// Tool is the whitelisted tool name (or DisplayTextTool).
	Tool string `json:"tool"`

	// Arguments is the flat key/value argument map.
	Arguments map[string]string `json:"arguments,omitempty"`

	// Precondition is free text describing what must hold first.
	Precondition string `json:"precondition,omitempty"`

	// RequiresConfirmation gates the step behind explicit approval.
	// Set by the LLM, or by the recurring-failure check before apply.
	RequiresConfirmation bool `json:"requires_confirmation,omitempty"`
}

// EvidenceRef points a plan at a grounding record in the execution log.
type EvidenceRef struct {
	// Query names the evidence query that produced the grounding.
	Query string `json:"query"`

	// ExecutionID is the referenced execution record, 0 if the
	// reference is to a query result rather than a single record.
	ExecutionID int64 `json:"execution_id,omitempty"`
}

// Plan is a structured, user-approvable unit of work.
//
// Immutability: a Plan value is never modified after creation. Revise
// returns a fresh value with a bumped version; the store refuses to
// overwrite any persisted version.
type Plan struct {
	// PlanID identifies the plan across versions. Assigned by the
	// application when the LLM leaves it empty.
	PlanID string `json:"plan_id"`

	// Intent classifies the plan.
	Intent Intent `json:"intent"`

	// Steps execute in order and never reorder.
	Steps []Step `json:"steps"`

	// EvidenceReferenced grounds the plan in the execution log.
	EvidenceReferenced []EvidenceRef `json:"evidence_referenced,omitempty"`

	// Version starts at 1 and increments on each edit.
	Version int `json:"version"`
}

// Revise returns a new plan version carrying the given steps. The
// receiver is untouched; evidence references carry over.
func (p Plan) Revise(steps []Step) Plan {
	next := Plan{
		PlanID:             p.PlanID,
		Intent:             p.Intent,
		Steps:              make([]Step, len(steps)),
		EvidenceReferenced: append([]EvidenceRef(nil), p.EvidenceReferenced...),
		Version:            p.Version + 1,
	}
	copy(next.Steps, steps)
	return next
}

// Executable reports whether the plan has steps that run tools, as
// opposed to a pure display/explanation plan.
func (p Plan) Executable() bool {
	for _, s := range p.Steps {
		if s.Tool != DisplayTextTool {
			return true
		}
	}
	return false
}

// Validate checks every step tool against the whitelist. The
// display_text pseudo-tool is always allowed.
//
// Inputs:
//
//	whitelist - Set of registered tool names.
//
// Outputs:
//
//	error - ErrStepToolUnknown (wrapped with the offending name) on
//	the first step whose tool is not whitelisted.
func (p Plan) Validate(whitelist map[string]bool) error {
	for _, s := range p.Steps {
		if s.Tool == DisplayTextTool {
			continue
		}
		if !whitelist[s.Tool] {
			return fmt.Errorf("%w: %q in step %s", ErrStepToolUnknown, s.Tool, s.StepID)
		}
	}
	return nil
}
