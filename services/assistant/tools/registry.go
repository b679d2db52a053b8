// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import "sort"

// Registry is the global tool whitelist.
//
// Description:
//
//	The registry is constructed once at startup from the full tool
//	set and never mutated afterwards. It is passed by reference into
//	the discovery engine, the parser validation path, and the
//	executor, so all three share one source of truth without hidden
//	global state.
//
// Thread Safety: immutable after construction; safe for concurrent
// use without locking.
type Registry struct {
	byName map[string]Tool
	names  []string // sorted
}

// NewRegistry builds an immutable registry from the given tools.
// Duplicate names keep the last registration.
func NewRegistry(tools ...Tool) *Registry {
	byName := make(map[string]Tool, len(tools))
	for _, tool := range tools {
		if tool == nil {
			continue
		}
		byName[tool.Metadata().Name] = tool
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Registry{byName: byName, names: names}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.byName[name]
	return tool, ok
}

// Contains reports whitelist membership.
func (r *Registry) Contains(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Names returns all whitelisted tool names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	return len(r.byName)
}

// ByCategory returns metadata for every tool in the category, sorted
// by name for deterministic output.
func (r *Registry) ByCategory(category Category) []Metadata {
	var out []Metadata
	for _, name := range r.names {
		meta := r.byName[name].Metadata()
		if meta.Category == category {
			out = append(out, meta)
		}
	}
	return out
}

// AllMetadata returns metadata for every tool, sorted by name.
func (r *Registry) AllMetadata() []Metadata {
	out := make([]Metadata, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.byName[name].Metadata())
	}
	return out
}
