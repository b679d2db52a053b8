// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"reflect"
	"testing"
)

func discoveryFixture() (*Registry, *DiscoveryEngine) {
	reg := NewRegistry(
		stubTool("file_read", CategoryCore, 80),
		stubTool("file_write", CategoryCore, 90),
		stubTool("grep_search", CategoryCore, 85),
		stubTool("patch_apply", CategorySpecialized, 140),
		stubTool("diag_check", CategorySpecialized, 110),
	)
	eng := NewDiscoveryEngine(reg, []Trigger{
		{Keyword: "patch", ToolName: "patch_apply"},
		{Keyword: "diff", ToolName: "patch_apply"},
		{Keyword: "error", ToolName: "diag_check"},
		{Keyword: "ghost", ToolName: "not_registered"},
	})
	return reg, eng
}

func TestDiscoverCoreAlwaysIncluded(t *testing.T) {
	_, eng := discoveryFixture()

	res := eng.Discover("what does this project do", nil)
	if len(res.Specialized) != 0 {
		t.Errorf("no trigger matched, got specialized %v", res.Specialized)
	}
	got := res.Names()
	want := []string{"file_read", "file_write", "grep_search"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestDiscoverTriggersOnQuery(t *testing.T) {
	_, eng := discoveryFixture()

	res := eng.Discover("please apply this PATCH to main.go", nil)
	if len(res.Specialized) != 1 || res.Specialized[0].Name != "patch_apply" {
		t.Fatalf("expected patch_apply triggered, got %v", res.Names())
	}
	wantCost := 80 + 90 + 85 + 140
	if res.TotalTokenCost != wantCost {
		t.Errorf("TotalTokenCost = %d, want %d", res.TotalTokenCost, wantCost)
	}
}

func TestDiscoverTriggersOnRecentOutput(t *testing.T) {
	_, eng := discoveryFixture()

	// The query says nothing about diagnostics; a recent tool output
	// mentioning an error still surfaces diag_check.
	res := eng.Discover("continue", []string{"main.go:12: Error E0308 mismatched types"})
	if len(res.Specialized) != 1 || res.Specialized[0].Name != "diag_check" {
		t.Fatalf("expected diag_check triggered by output, got %v", res.Names())
	}
}

func TestDiscoverOutputStable(t *testing.T) {
	_, eng := discoveryFixture()

	first := eng.Discover("patch and error handling", []string{"diff context"})
	second := eng.Discover("patch and error handling", []string{"diff context"})
	if !reflect.DeepEqual(first, second) {
		t.Error("identical inputs produced different discovery results")
	}
	if first.Specialized[0].Name != "diag_check" || first.Specialized[1].Name != "patch_apply" {
		t.Errorf("specialized set not sorted by name: %v", first.Names())
	}
}

func TestDiscoverNeverLeavesWhitelist(t *testing.T) {
	reg, eng := discoveryFixture()

	// "ghost" triggers a tool that was never registered; the engine
	// must have dropped it at construction.
	probes := []string{
		"ghost patch error diff",
		"GHOST",
		"nothing at all",
	}
	for _, q := range probes {
		for _, name := range eng.Discover(q, []string{"ghost in the output"}).Names() {
			if !reg.Contains(name) {
				t.Errorf("discovery returned %q which is not in the registry", name)
			}
		}
	}
}

func TestCoreTokenCeiling(t *testing.T) {
	_, eng := discoveryFixture()

	if got := eng.CoreTokenCost(); got != 255 {
		t.Errorf("CoreTokenCost() = %d, want 255", got)
	}
	if !eng.CoreWithinCeiling() {
		t.Error("fixture core set should fit the ceiling")
	}

	big := NewRegistry(
		stubTool("a", CategoryCore, 700),
		stubTool("b", CategoryCore, 700),
	)
	over := NewDiscoveryEngine(big, nil)
	if over.CoreWithinCeiling() {
		t.Error("1400 token core set should exceed the ceiling")
	}
}

func TestDefaultTriggersPointAtRegisteredTools(t *testing.T) {
	reg := NewDefaultRegistry(nil, nil)
	for _, tr := range DefaultTriggers() {
		if !reg.Contains(tr.ToolName) {
			t.Errorf("trigger %q -> %q references unregistered tool", tr.Keyword, tr.ToolName)
		}
	}

	eng := NewDiscoveryEngine(reg, DefaultTriggers())
	if !eng.CoreWithinCeiling() {
		t.Errorf("default core set costs %d tokens, over the ceiling", eng.CoreTokenCost())
	}
}
