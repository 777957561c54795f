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

package fetch

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/GoogleCloudPlatform/cnbkit/internal/testserver"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/buildererror"
	"github.com/google/go-cmp/cmp"
)

type tarEntry struct {
	name     string
	typeflag byte
	body     string
	linkname string
}

// writeTarball writes a gzipped tarball with the given entries and returns
// its path.
func writeTarball(t *testing.T, entries []tarEntry) string {
	t.Helper()
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	for _, e := range entries {
		h := &tar.Header{Name: e.name, Typeflag: e.typeflag, Linkname: e.linkname, Mode: 0644}
		switch e.typeflag {
		case tar.TypeDir:
			h.Mode = 0755
		case tar.TypeReg:
			h.Size = int64(len(e.body))
		}
		if err := tw.WriteHeader(h); err != nil {
			t.Fatalf("writing tar header %q: %v", e.name, err)
		}
		if e.typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("writing tar entry %q: %v", e.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gzw.Close(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "archive.tar.gz")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

var runtimeArchive = []tarEntry{
	{name: "lib/", typeflag: tar.TypeDir},
	{name: "lib/foo.txt", typeflag: tar.TypeReg, body: "foo"},
	{name: "lib/bin/", typeflag: tar.TypeDir},
	{name: "lib/bin/run", typeflag: tar.TypeReg, body: "#!/bin/sh"},
	{name: "lib/current", typeflag: tar.TypeSymlink, linkname: "bin/run"},
}

func TestTarball(t *testing.T) {
	testCases := []struct {
		name            string
		httpStatus      int
		stripComponents int
		entries         []tarEntry
		response        string
		wantFiles       []string
		wantError       bool
	}{
		{
			name:      "simple untar",
			entries:   runtimeArchive,
			wantFiles: []string{"lib/foo.txt", "lib/bin/run", "lib/current"},
		},
		{
			name:            "strip components",
			entries:         runtimeArchive,
			stripComponents: 1,
			wantFiles:       []string{"foo.txt", "bin/run", "current"},
		},
		{
			name:       "not found",
			httpStatus: http.StatusNotFound,
			wantError:  true,
		},
		{
			name:       "corrupt tar file",
			response:   `{"not": "a tarball"}`,
			httpStatus: http.StatusOK,
			wantError:  true,
		},
		{
			name:            "strip too many components",
			entries:         runtimeArchive,
			stripComponents: 2,
			wantError:       true,
		},
		{
			name:      "path traversal",
			entries:   []tarEntry{{name: "../evil.txt", typeflag: tar.TypeReg, body: "evil"}},
			wantError: true,
		},
		{
			name:      "absolute symlink",
			entries:   []tarEntry{{name: "passwd", typeflag: tar.TypeSymlink, linkname: "/etc/passwd"}},
			wantError: true,
		},
		{
			name:      "symlink out of root",
			entries:   []tarEntry{{name: "up", typeflag: tar.TypeSymlink, linkname: "../../outside"}},
			wantError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			opts := []testserver.Option{testserver.WithStatus(tc.httpStatus)}
			if tc.entries != nil {
				opts = append(opts, testserver.WithFile(writeTarball(t, tc.entries)))
			} else {
				opts = append(opts, testserver.WithJSON(tc.response))
			}
			server := testserver.New(t, opts...)

			dir := t.TempDir()
			err := Tarball(server.URL, dir, tc.stripComponents)
			if tc.wantError == (err == nil) {
				t.Fatalf("Tarball(%q, %q, %v) got error: %v, want error? %v", server.URL, dir, tc.stripComponents, err, tc.wantError)
			}

			for _, f := range tc.wantFiles {
				fp := filepath.Join(dir, f)
				if _, err := os.Lstat(fp); err != nil {
					t.Errorf("Failed to extract. Missing file: %s (%v)", fp, err)
				}
			}
		})
	}
}

func TestTarballNotFoundStatus(t *testing.T) {
	server := testserver.New(t, testserver.WithStatus(http.StatusNotFound))

	err := Tarball(server.URL, t.TempDir(), 0)

	var be *buildererror.Error
	if !errors.As(err, &be) || be.Status != buildererror.StatusNotFound {
		t.Errorf("Tarball() got error %v, want status %v", err, buildererror.StatusNotFound)
	}
}

func TestFile(t *testing.T) {
	server := testserver.New(t, testserver.WithJSON("runtime binary"))
	out := filepath.Join(t.TempDir(), "runtime")

	if err := File(server.URL, out); err != nil {
		t.Fatalf("File(%q, %q) failed: %v", server.URL, out, err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "runtime binary" {
		t.Errorf("File() wrote %q, want %q", got, "runtime binary")
	}
}

func TestFileNotFoundCreatesNothing(t *testing.T) {
	server := testserver.New(t, testserver.WithStatus(http.StatusNotFound))
	out := filepath.Join(t.TempDir(), "runtime")

	if err := File(server.URL, out); err == nil {
		t.Fatalf("File(%q, %q) succeeded, want error", server.URL, out)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("File() created %s for a failed download", out)
	}
}

func TestJSON(t *testing.T) {
	testCases := []struct {
		name       string
		httpStatus int
		response   string
		wantError  bool
		want       map[string]string
	}{
		{
			name:     "simple json",
			response: `{"foo": "bar"}`,
			want:     map[string]string{"foo": "bar"},
		},
		{
			name:       "not found",
			httpStatus: http.StatusNotFound,
			wantError:  true,
		},
		{
			name:       "invalid json",
			response:   "foo bar",
			httpStatus: http.StatusOK,
			wantError:  true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := testserver.New(
				t,
				testserver.WithStatus(tc.httpStatus),
				testserver.WithJSON(tc.response))

			var got map[string]string
			err := JSON(server.URL, &got)
			if tc.wantError == (err == nil) {
				t.Fatalf("JSON(%q, &got) got error: %v, want error? %v", server.URL, err, tc.wantError)
			}
			if !cmp.Equal(got, tc.want) {
				t.Errorf("JSON(%q, &got) = %v, want %v", server.URL, got, tc.want)
			}
		})
	}
}

func TestGetURL(t *testing.T) {
	testCases := []struct {
		name       string
		httpStatus int
		response   string
		wantError  bool
		want       string
	}{
		{
			name:     "plain body",
			response: `foo, bar`,
			want:     `foo, bar`,
		},
		{
			name:       "not found",
			httpStatus: http.StatusNotFound,
			wantError:  true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := testserver.New(
				t,
				testserver.WithStatus(tc.httpStatus),
				testserver.WithJSON(tc.response))

			var buf bytes.Buffer
			err := GetURL(server.URL, io.Writer(&buf))
			if tc.wantError == (err == nil) {
				t.Fatalf("GetURL(%q, buffer) got error: %v, want error? %v", server.URL, err, tc.wantError)
			}
			if tc.want != buf.String() {
				t.Errorf("GetURL(%q, buffer) = %v, want %v", server.URL, buf.String(), tc.want)
			}
		})
	}
}
