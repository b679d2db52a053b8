// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import "encoding/json"

// schemaDoc is the wire shape of the tool schema export.
type schemaDoc struct {
	Tools []schemaTool `json:"tools"`
}

type schemaTool struct {
	Name string `json:"name"`
	// encoding/json sorts map keys, which keeps the parameter order
	// stable across calls.
	Parameters map[string]ParamSpec `json:"parameters"`
}

// SchemaJSON exports the core-tool contract used to brief the LLM.
//
// Description:
//
//	Enumerates exactly the core tools, sorted by name, with their
//	parameter specs. The output is byte-identical across calls with
//	the same registry: tools are emitted in sorted-name order and
//	parameter maps marshal with sorted keys.
//
// Outputs:
//
//	[]byte - The JSON document.
//	error - Non-nil only on marshal failure (should not happen for
//	        static metadata).
func SchemaJSON(registry *Registry) ([]byte, error) {
	core := registry.ByCategory(CategoryCore)

	doc := schemaDoc{Tools: make([]schemaTool, 0, len(core))}
	for _, meta := range core {
		if !meta.VisibleToLLM {
			continue
		}
		params := meta.Params
		if params == nil {
			params = map[string]ParamSpec{}
		}
		doc.Tools = append(doc.Tools, schemaTool{
			Name:       meta.Name,
			Parameters: params,
		})
	}

	return json.Marshal(doc)
}
