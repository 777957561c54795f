// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fileutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("creating dir for %q: %v", p, err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("writing %q: %v", p, err)
		}
	}
}

func TestMaybeCopyPathContents(t *testing.T) {
	tree := map[string]string{
		"top.txt":                               "top",
		"subdir/example.com/htmlreturn/go.mod":  "module example.com/htmlreturn",
		"subdir/example.com/htmlreturn/main.go": "package main",
	}
	testCases := []struct {
		name          string
		copyCondition func(path string, d fs.DirEntry) (bool, error)
		wantExcluded  []string // relative path from source directory
	}{
		{
			name:          "copyAll",
			copyCondition: AllPaths,
		},
		{
			name: "skipFile",
			copyCondition: func(path string, d fs.DirEntry) (bool, error) {
				return filepath.Base(path) != "go.mod", nil
			},
			wantExcluded: []string{"subdir/example.com/htmlreturn/go.mod"},
		},
		{
			name: "skipDir",
			copyCondition: func(path string, d fs.DirEntry) (bool, error) {
				return !(d.IsDir() && filepath.Base(path) == "subdir"), nil
			},
			wantExcluded: []string{"subdir/example.com/htmlreturn/go.mod", "subdir/example.com/htmlreturn/main.go"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			src := t.TempDir()
			dest := t.TempDir()
			writeTree(t, src, tree)

			if err := MaybeCopyPathContents(dest, src, tc.copyCondition); err != nil {
				t.Fatalf("MaybeCopyPathContents(%q, %q) failed: %v", dest, src, err)
			}

			excluded := map[string]bool{}
			for _, p := range tc.wantExcluded {
				excluded[p] = true
			}
			for rel := range tree {
				_, err := os.Stat(filepath.Join(dest, rel))
				exists := err == nil
				if exists == excluded[rel] {
					t.Errorf("file %q copied=%t, want copied=%t", rel, exists, !excluded[rel])
				}
			}
		})
	}
}

func TestCopyFileKeepsMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dest := filepath.Join(dir, "dest")
	if err := os.WriteFile(src, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	if err := CopyFile(dest, src); err != nil {
		t.Fatalf("CopyFile() failed: %v", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Mode().Perm(); got != 0755 {
		t.Errorf("mode of copied file = %v, want %v", got, fs.FileMode(0755))
	}
}

func TestCopyFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := CopyFile(filepath.Join(dir, "dest"), filepath.Join(dir, "missing"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("CopyFile() got error %v, want fs.ErrNotExist", err)
	}
}

func TestRemoveAllForce(t *testing.T) {
	root := filepath.Join(t.TempDir(), "layer")
	writeTree(t, root, map[string]string{
		"a/b/c.txt": "c",
		"d.txt":     "d",
	})
	// Leave nothing writable, listable, or traversable.
	for _, p := range []string{filepath.Join(root, "a/b/c.txt"), filepath.Join(root, "d.txt")} {
		if err := os.Chmod(p, 0400); err != nil {
			t.Fatal(err)
		}
	}
	for _, p := range []string{filepath.Join(root, "a/b"), filepath.Join(root, "a"), root} {
		if err := os.Chmod(p, 0); err != nil {
			t.Fatal(err)
		}
	}

	if err := RemoveAllForce(root); err != nil {
		t.Fatalf("RemoveAllForce() failed: %v", err)
	}
	if _, err := os.Lstat(root); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("%q still exists after RemoveAllForce(), stat error: %v", root, err)
	}
}

func TestRemoveAllForceMissing(t *testing.T) {
	err := RemoveAllForce(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("RemoveAllForce() got error %v, want fs.ErrNotExist", err)
	}
}
