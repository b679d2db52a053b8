// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"sort"
	"strings"
)

// CoreTokenCeiling bounds the prompt cost of the always-included core
// set. Exceeding it is a registration-time defect, checked by
// NewDiscoveryEngine.
const CoreTokenCeiling = 1200

// Trigger associates a keyword with a specialized tool. A specialized
// tool becomes visible when any of its triggers matches a
// case-insensitive substring of the query or of recent tool output.
type Trigger struct {
	// Keyword is matched case-insensitively as a substring.
	Keyword string

	// ToolName is the specialized tool made visible on match.
	ToolName string
}

// DiscoveryResult is the tool set selected for one prompt.
type DiscoveryResult struct {
	// Core is the fixed always-available set, sorted by name.
	Core []Metadata

	// Specialized is the triggered subset, sorted by name.
	Specialized []Metadata

	// TotalTokenCost is the summed fixed estimate of both sets.
	TotalTokenCost int
}

// Names returns every selected tool name (core then specialized).
func (d DiscoveryResult) Names() []string {
	out := make([]string, 0, len(d.Core)+len(d.Specialized))
	for _, m := range d.Core {
		out = append(out, m.Name)
	}
	for _, m := range d.Specialized {
		out = append(out, m.Name)
	}
	return out
}

// DiscoveryEngine selects the relevant tool subset for a query.
//
// Description:
//
//	Core tools are always included; specialized tools are included
//	iff at least one trigger matches. Every returned tool is a member
//	of the registry by construction: triggers pointing at unknown
//	tools are dropped at engine build time.
//
// Thread Safety: immutable after construction.
type DiscoveryEngine struct {
	registry *Registry
	triggers []Trigger
	coreCost int
}

// NewDiscoveryEngine builds a discovery engine over the registry.
//
// Triggers referencing tools absent from the registry are discarded
// so discovery can never introduce a non-whitelisted tool.
func NewDiscoveryEngine(registry *Registry, triggers []Trigger) *DiscoveryEngine {
	kept := make([]Trigger, 0, len(triggers))
	for _, tr := range triggers {
		if registry.Contains(tr.ToolName) {
			kept = append(kept, tr)
		}
	}

	coreCost := 0
	for _, meta := range registry.ByCategory(CategoryCore) {
		coreCost += meta.TokenCost
	}

	return &DiscoveryEngine{
		registry: registry,
		triggers: kept,
		coreCost: coreCost,
	}
}

// CoreTokenCost returns the summed cost of the core set.
func (e *DiscoveryEngine) CoreTokenCost() int {
	return e.coreCost
}

// CoreWithinCeiling reports whether the core set fits the ceiling.
// Checked at startup; a violation is a registration defect.
func (e *DiscoveryEngine) CoreWithinCeiling() bool {
	return e.coreCost <= CoreTokenCeiling
}

// Discover selects the tool set for a query.
//
// Inputs:
//
//	query - The user's input.
//	recentOutputs - Recent tool outputs; an error diagnostic here can
//	                trigger the diagnostic tool even when the query
//	                does not mention it.
//
// Outputs:
//
//	DiscoveryResult - Core + triggered specialized tools, both sorted
//	by name so repeated calls with the same inputs are identical.
func (e *DiscoveryEngine) Discover(query string, recentOutputs []string) DiscoveryResult {
	haystacks := make([]string, 0, len(recentOutputs)+1)
	haystacks = append(haystacks, strings.ToLower(query))
	for _, out := range recentOutputs {
		haystacks = append(haystacks, strings.ToLower(out))
	}

	triggered := make(map[string]bool)
	for _, tr := range e.triggers {
		kw := strings.ToLower(tr.Keyword)
		for _, hay := range haystacks {
			if strings.Contains(hay, kw) {
				triggered[tr.ToolName] = true
				break
			}
		}
	}

	result := DiscoveryResult{
		Core: e.registry.ByCategory(CategoryCore),
	}
	for _, meta := range result.Core {
		result.TotalTokenCost += meta.TokenCost
	}

	var specialized []Metadata
	for name := range triggered {
		tool, ok := e.registry.Get(name)
		if !ok {
			continue // unreachable: triggers are pruned at build time
		}
		meta := tool.Metadata()
		if !meta.VisibleToLLM {
			continue
		}
		specialized = append(specialized, meta)
		result.TotalTokenCost += meta.TokenCost
	}
	sort.Slice(specialized, func(i, j int) bool {
		return specialized[i].Name < specialized[j].Name
	})
	result.Specialized = specialized

	return result
}
