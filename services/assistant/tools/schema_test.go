// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestSchemaJSONDeterministic(t *testing.T) {
	reg := NewDefaultRegistry(nil, nil)

	first, err := SchemaJSON(reg)
	if err != nil {
		t.Fatalf("SchemaJSON: %v", err)
	}
	for i := 0; i < 5; i++ {
		next, err := SchemaJSON(reg)
		if err != nil {
			t.Fatalf("SchemaJSON: %v", err)
		}
		if !bytes.Equal(first, next) {
			t.Fatalf("schema output changed between calls:\n%s\nvs\n%s", first, next)
		}
	}
}

func TestSchemaJSONCoreOnly(t *testing.T) {
	reg := NewRegistry(
		stubTool("b_core", CategoryCore, 10),
		stubTool("a_core", CategoryCore, 10),
		stubTool("z_spec", CategorySpecialized, 10),
	)

	raw, err := SchemaJSON(reg)
	if err != nil {
		t.Fatalf("SchemaJSON: %v", err)
	}

	var doc struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(doc.Tools) != 2 {
		t.Fatalf("got %d tools, want 2 (core only)", len(doc.Tools))
	}
	if doc.Tools[0].Name != "a_core" || doc.Tools[1].Name != "b_core" {
		t.Errorf("tools not in name order: %v", doc.Tools)
	}
}
