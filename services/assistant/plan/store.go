// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Store persists plans as <dir>/<plan_id>_v<N>.json.
//
// Description:
//
//	The store is append-only at the version level: Put never
//	overwrites an existing version file, Discard removes only the
//	newest version and never version 1. Files are written through a
//	temp-file rename so readers never observe a partial plan.
//
// Thread Safety: Store is safe for concurrent use.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore opens (creating if needed) the plan directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating plan directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// NewPlanID mints a fresh plan identifier.
func NewPlanID() string {
	return uuid.NewString()
}

// Put persists a plan version.
//
// A zero Version is assigned the next version for the plan id (1 for
// a new plan). A non-zero Version must not already exist on disk.
func (s *Store) Put(p Plan) (Plan, error) {
	if p.PlanID == "" {
		return Plan{}, fmt.Errorf("plan has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions, err := s.versionsLocked(p.PlanID)
	if err != nil {
		return Plan{}, err
	}

	if p.Version == 0 {
		p.Version = 1
		if n := len(versions); n > 0 {
			p.Version = versions[n-1] + 1
		}
	} else {
		for _, v := range versions {
			if v == p.Version {
				return Plan{}, fmt.Errorf("%w: %s v%d", ErrVersionExists, p.PlanID, p.Version)
			}
		}
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return Plan{}, fmt.Errorf("encoding plan: %w", err)
	}

	final := s.path(p.PlanID, p.Version)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return Plan{}, fmt.Errorf("writing plan: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return Plan{}, fmt.Errorf("committing plan: %w", err)
	}
	return p, nil
}

// Get loads one specific version.
func (s *Store) Get(planID string, version int) (Plan, error) {
	data, err := os.ReadFile(s.path(planID, version))
	if os.IsNotExist(err) {
		return Plan{}, fmt.Errorf("%w: %s v%d", ErrPlanNotFound, planID, version)
	}
	if err != nil {
		return Plan{}, fmt.Errorf("reading plan: %w", err)
	}

	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return Plan{}, fmt.Errorf("decoding plan %s v%d: %w", planID, version, err)
	}
	return p, nil
}

// Latest loads the newest stored version of a plan.
func (s *Store) Latest(planID string) (Plan, error) {
	s.mu.Lock()
	versions, err := s.versionsLocked(planID)
	s.mu.Unlock()
	if err != nil {
		return Plan{}, err
	}
	if len(versions) == 0 {
		return Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	return s.Get(planID, versions[len(versions)-1])
}

// Versions lists stored versions for a plan id in ascending order.
func (s *Store) Versions(planID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versionsLocked(planID)
}

// Discard removes the newest version of a plan. The base version is
// never removed; discarding it is a caller error.
func (s *Store) Discard(planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, err := s.versionsLocked(planID)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	newest := versions[len(versions)-1]
	if newest == 1 {
		return fmt.Errorf("%w: %s", ErrCannotDiscardBase, planID)
	}
	if err := os.Remove(s.path(planID, newest)); err != nil {
		return fmt.Errorf("discarding plan %s v%d: %w", planID, newest, err)
	}
	return nil
}

func (s *Store) path(planID string, version int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_v%d.json", planID, version))
}

// versionsLocked scans the directory for versions of one plan id.
func (s *Store) versionsLocked(planID string) ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing plans: %w", err)
	}

	prefix := planID + "_v"
	var versions []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json"))
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}
