// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const patchOriginal = `package main

import "fmt"

func main() {
	fmt.Println("hello")
}
`

const patchText = `--- a/main.go
+++ b/main.go
@@ -3,5 +3,5 @@
 import "fmt"

 func main() {
-	fmt.Println("hello")
+	fmt.Println("hello, world")
 }
`

func TestPatchApplyTool(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "main.go", patchOriginal)

	tool := NewPatchApplyTool()
	res, err := tool.Execute(context.Background(), Invocation{
		Tool:        "patch_apply",
		Args:        map[string]string{"patch": patchText},
		ProjectRoot: root,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("apply failed: %s", res.ErrorMessage)
	}

	data, err := os.ReadFile(filepath.Join(root, "main.go"))
	if err != nil {
		t.Fatal(err)
	}
	want := `package main

import "fmt"

func main() {
	fmt.Println("hello, world")
}
`
	if string(data) != want {
		t.Errorf("patched content:\n%s\nwant:\n%s", data, want)
	}

	if len(res.Artifacts) != 1 || res.Artifacts[0].Kind != "patch" {
		t.Errorf("artifacts = %+v", res.Artifacts)
	}
}

func TestPatchApplyBlankContextLine(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "notes.txt", "alpha\n\nbeta\n")

	// The blank context line carries no trailing space, the way LLMs
	// and whitespace-stripping editors emit diffs.
	patch := "--- a/notes.txt\n+++ b/notes.txt\n@@ -1,3 +1,3 @@\n alpha\n\n-beta\n+gamma\n"

	tool := NewPatchApplyTool()
	res, err := tool.Execute(context.Background(), Invocation{
		Tool:        "patch_apply",
		Args:        map[string]string{"patch": patch},
		ProjectRoot: root,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("apply failed: %s", res.ErrorMessage)
	}

	data, err := os.ReadFile(filepath.Join(root, "notes.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "alpha\n\ngamma\n" {
		t.Errorf("patched content:\n%q", data)
	}
}

func TestPatchApplyContextMismatchLeavesFileUntouched(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "main.go", "completely different content\n")

	tool := NewPatchApplyTool()
	res, err := tool.Execute(context.Background(), Invocation{
		Tool:        "patch_apply",
		Args:        map[string]string{"patch": patchText},
		ProjectRoot: root,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("mismatched context should fail the apply")
	}

	data, err := os.ReadFile(filepath.Join(root, "main.go"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "completely different content\n" {
		t.Error("failed apply must not modify the file")
	}
}

func TestPatchApplyRejectsGarbage(t *testing.T) {
	tool := NewPatchApplyTool()
	res, err := tool.Execute(context.Background(), Invocation{
		Tool:        "patch_apply",
		Args:        map[string]string{"patch": "not a diff at all"},
		ProjectRoot: t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("non-diff input should fail")
	}
}

func TestPatchApplyIsGated(t *testing.T) {
	meta := NewPatchApplyTool().Metadata()
	if !meta.Gated {
		t.Error("patch_apply must be gated behind confirmation")
	}
	if meta.Category != CategorySpecialized {
		t.Errorf("category = %q, want specialized", meta.Category)
	}
}
