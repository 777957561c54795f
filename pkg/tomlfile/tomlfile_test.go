// Copyright 2024 Google LLC
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

package tomlfile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type sample struct {
	Name  string            `toml:"name"`
	Count int               `toml:"count"`
	Tags  map[string]string `toml:"tags"`
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	want := sample{Name: "n", Count: 3, Tags: map[string]string{"k": "v"}}

	if err := Write(path, want); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	var got sample
	if _, err := Read(path, &got); err != nil {
		t.Fatalf("Read() failed: %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteReplacesWithoutLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.toml")
	if err := os.WriteFile(path, []byte("name = \"old\"\nextra = true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Write(path, sample{Name: "new"}); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	var got map[string]interface{}
	if _, err := Read(path, &got); err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if _, ok := got["extra"]; ok {
		t.Errorf("Write() kept key %q from the previous content", "extra")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries after Write(), want 1", len(entries))
	}
}

func TestReadMissing(t *testing.T) {
	var v sample
	_, err := Read(filepath.Join(t.TempDir(), "missing.toml"), &v)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Read() got error %v, want fs.ErrNotExist", err)
	}
}

func TestReadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("name = "), 0644); err != nil {
		t.Fatal(err)
	}
	var v sample
	_, err := Read(path, &v)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("Read() got error %v, want *DecodeError", err)
	}
	if de.Path != path {
		t.Errorf("DecodeError.Path = %q, want %q", de.Path, path)
	}
}
