// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evidence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := OpenGraph(filepath.Join(t.TempDir(), "graph"))
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestGraphEntities(t *testing.T) {
	g := newTestGraph(t)

	require.NoError(t, g.PutEntity("file:main.rs", "file"))
	require.NoError(t, g.PutEntity("file:lib.rs", "file"))
	require.NoError(t, g.PutEntity("tool:file_read", "tool"))

	ok, err := g.HasEntity("file:main.rs")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.HasEntity("file:missing.rs")
	require.NoError(t, err)
	assert.False(t, ok)

	files, err := g.Entities("file:")
	require.NoError(t, err)
	assert.Equal(t, []string{"file:lib.rs", "file:main.rs"}, files, "key order is stable")
}

func TestGraphEdges(t *testing.T) {
	g := newTestGraph(t)

	require.NoError(t, g.PutEntity("tool:patch_apply", "tool"))
	require.NoError(t, g.PutEntity("file:a.go", "file"))
	require.NoError(t, g.AddEdge("tool:patch_apply", EdgeTouched, "file:a.go"))

	edges, err := g.EdgesFrom("tool:patch_apply")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, Edge{From: "tool:patch_apply", Type: EdgeTouched, To: "file:a.go"}, edges[0])
}

func TestGraphForbiddenEdgesRejected(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.PutEntity("a", "x"))
	require.NoError(t, g.PutEntity("b", "x"))

	for _, edgeType := range []string{"replaces", "deletes", "invalidates"} {
		err := g.AddEdge("a", edgeType, "b")
		require.ErrorIs(t, err, ErrForbiddenEdge, edgeType)
	}

	// Rejection happens before any store access: nothing was written.
	edges, err := g.EdgesFrom("a")
	require.NoError(t, err)
	assert.Empty(t, edges)
}
