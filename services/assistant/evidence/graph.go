// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evidence

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrForbiddenEdge indicates an edge type that is rejected outright,
// independent of whether the graph write would succeed.
var ErrForbiddenEdge = errors.New("forbidden edge type")

// EdgeTouched records that a tool acted on a file.
const EdgeTouched = "touched"

// forbiddenEdgeTypes are edge types that would let the secondary
// index contradict the append-only relational log, so they are never
// written.
var forbiddenEdgeTypes = map[string]bool{
	"replaces":    true,
	"deletes":     true,
	"invalidates": true,
}

// entityRecord is the stored value for an entity key.
type entityRecord struct {
	Kind      string `json:"kind"`
	UpdatedAt string `json:"updated_at"`
}

// Graph is the Badger-backed entity/edge store indexing the
// execution log.
//
// Keys:
//
//	ent/<id>                 -> entityRecord JSON
//	edge/<from>/<type>/<to>  -> RFC3339 timestamp
//
// Thread Safety: Graph is safe for concurrent use.
type Graph struct {
	db    *badger.DB
	clock func() time.Time
}

// OpenGraph opens (creating if needed) the graph store at dir.
func OpenGraph(dir string) (*Graph, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening graph store: %w", err)
	}
	return &Graph{db: db, clock: time.Now}, nil
}

// Close closes the underlying store.
func (g *Graph) Close() error {
	return g.db.Close()
}

// PutEntity upserts one entity.
func (g *Graph) PutEntity(id, kind string) error {
	if id == "" {
		return fmt.Errorf("entity id is empty")
	}
	value, err := json.Marshal(entityRecord{
		Kind:      kind,
		UpdatedAt: g.clock().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding entity: %w", err)
	}
	return g.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("ent/"+id), value)
	})
}

// HasEntity reports whether an entity exists.
func (g *Graph) HasEntity(id string) (bool, error) {
	found := false
	err := g.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("ent/" + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// AddEdge records a typed edge between two entities.
//
// Forbidden edge types are rejected before any store access; the
// rejection does not depend on the write succeeding.
func (g *Graph) AddEdge(from, edgeType, to string) error {
	if forbiddenEdgeTypes[edgeType] {
		return fmt.Errorf("%w: %q", ErrForbiddenEdge, edgeType)
	}
	if from == "" || to == "" || edgeType == "" {
		return fmt.Errorf("edge requires from, type, and to")
	}
	key := fmt.Sprintf("edge/%s/%s/%s", from, edgeType, to)
	value := []byte(g.clock().UTC().Format(time.RFC3339))
	return g.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Edge is one stored relation.
type Edge struct {
	From string
	Type string
	To   string
}

// EdgesFrom lists edges leaving an entity, in key order (Badger
// iterates sorted, so the order is stable).
func (g *Graph) EdgesFrom(from string) ([]Edge, error) {
	prefix := []byte("edge/" + from + "/")

	var edges []Edge
	err := g.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			parts := strings.SplitN(rest, "/", 2)
			if len(parts) != 2 {
				continue
			}
			edges = append(edges, Edge{From: from, Type: parts[0], To: parts[1]})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterating edges: %w", err)
	}
	return edges, nil
}

// Entities lists entity ids with the given kind prefix (e.g. "file:"),
// in key order.
func (g *Graph) Entities(idPrefix string) ([]string, error) {
	prefix := []byte("ent/" + idPrefix)

	var ids []string
	err := g.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), "ent/"))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return ids, nil
}
