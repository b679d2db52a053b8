// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "plans"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStorePutAssignsVersions(t *testing.T) {
	s := newTestStore(t)
	id := NewPlanID()

	first, err := s.Put(Plan{PlanID: id, Intent: IntentWrite})
	if err != nil {
		t.Fatal(err)
	}
	if first.Version != 1 {
		t.Errorf("first Version = %d, want 1", first.Version)
	}

	second, err := s.Put(first.Revise([]Step{{StepID: "1", Tool: "file_read"}}))
	if err != nil {
		t.Fatal(err)
	}
	if second.Version != 2 {
		t.Errorf("second Version = %d, want 2", second.Version)
	}

	versions, err := s.Versions(id)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(versions, []int{1, 2}) {
		t.Errorf("Versions = %v", versions)
	}
}

func TestStorePutNeverOverwrites(t *testing.T) {
	s := newTestStore(t)
	id := NewPlanID()

	if _, err := s.Put(Plan{PlanID: id, Intent: IntentRead, Version: 1}); err != nil {
		t.Fatal(err)
	}
	_, err := s.Put(Plan{PlanID: id, Intent: IntentWrite, Version: 1})
	if !errors.Is(err, ErrVersionExists) {
		t.Fatalf("err = %v, want ErrVersionExists", err)
	}
}

func TestStoreLatestAndGet(t *testing.T) {
	s := newTestStore(t)
	id := NewPlanID()

	v1, _ := s.Put(Plan{PlanID: id, Intent: IntentRead})
	s.Put(v1.Revise([]Step{{StepID: "1", Tool: "grep_search"}}))

	latest, err := s.Latest(id)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Version != 2 || latest.Steps[0].Tool != "grep_search" {
		t.Errorf("Latest = %+v", latest)
	}

	// The prior version stays queryable after the edit.
	prior, err := s.Get(id, 1)
	if err != nil {
		t.Fatal(err)
	}
	if prior.Version != 1 || len(prior.Steps) != 0 {
		t.Errorf("Get(v1) = %+v", prior)
	}
}

func TestStoreGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("nope", 1); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("err = %v, want ErrPlanNotFound", err)
	}
	if _, err := s.Latest("nope"); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("err = %v, want ErrPlanNotFound", err)
	}
}

func TestStoreDiscard(t *testing.T) {
	s := newTestStore(t)
	id := NewPlanID()

	v1, _ := s.Put(Plan{PlanID: id, Intent: IntentWrite})

	t.Run("base version is protected", func(t *testing.T) {
		if err := s.Discard(id); !errors.Is(err, ErrCannotDiscardBase) {
			t.Errorf("err = %v, want ErrCannotDiscardBase", err)
		}
	})

	t.Run("newest version is dropped", func(t *testing.T) {
		s.Put(v1.Revise(nil))
		if err := s.Discard(id); err != nil {
			t.Fatal(err)
		}
		latest, err := s.Latest(id)
		if err != nil {
			t.Fatal(err)
		}
		if latest.Version != 1 {
			t.Errorf("after discard Latest = v%d, want v1", latest.Version)
		}
	})
}

func TestStoreFilenameLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plans")
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	p, err := s.Put(Plan{PlanID: "deadbeef", Intent: IntentRead})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "deadbeef_v1.json")); err != nil {
		t.Errorf("expected deadbeef_v1.json on disk: %v", err)
	}
	if p.Version != 1 {
		t.Errorf("Version = %d", p.Version)
	}
}
