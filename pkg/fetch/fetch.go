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

// Package fetch contains functions for downloading various content types via HTTP.
package fetch

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/GoogleCloudPlatform/cnbkit/pkg/buildererror"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	userAgent = "cnbkit"
	retryMax  = 3
)

// Tarball downloads a gzipped tarball from a URL and extracts it into the
// provided directory, dropping the first stripComponents path elements of
// every entry.
func Tarball(url, dir string, stripComponents int) error {
	response, err := doGet(url)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	return untar(dir, response.Body, stripComponents)
}

// File downloads a file from a URL and writes it to the provided path.
func File(url, outPath string) error {
	response, err := doGet(url)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	out, err := os.Create(outPath)
	if err != nil {
		return buildererror.Wrapf(err, buildererror.StatusInternal, "creating %s", outPath)
	}
	defer out.Close()
	if _, err := io.Copy(out, response.Body); err != nil {
		return buildererror.Wrapf(err, buildererror.StatusInternal, "writing %s", outPath)
	}
	return nil
}

// JSON fetches a JSON payload from a URL and unmarshals it into the value pointed to by v.
func JSON(url string, v interface{}) error {
	response, err := doGet(url)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return buildererror.InternalErrorf("reading response body from %q: %v", url, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return buildererror.InternalErrorf("decoding response from %q: %v", url, err)
	}
	return nil
}

// GetURL makes an HTTP GET request to given URL and writes the body to the provided writer.
func GetURL(url string, f io.Writer) error {
	response, err := doGet(url)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if _, err = io.Copy(f, response.Body); err != nil {
		return buildererror.InternalErrorf("copying response body: %v", err)
	}

	return nil
}

// untar extracts a tarball from a reader and writes it to the given directory.
func untar(dir string, r io.Reader, stripComponents int) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return buildererror.InternalErrorf("creating gzip reader: %v", err)
	}
	defer gzr.Close()

	madeDir := map[string]bool{}
	tr := tar.NewReader(gzr)

	for {
		header, err := tr.Next()

		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return buildererror.InternalErrorf("untaring file: %v", err)
		case header == nil:
			continue
		}

		target, err := tarDestination(header.Name, dir, header.Typeflag, stripComponents)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if _, err := os.Stat(target); err != nil {
				if err := os.MkdirAll(target, os.FileMode(header.Mode)|0700); err != nil {
					return buildererror.InternalErrorf("creating directory %q: %v", target, err)
				}
				madeDir[target] = true
			}
		case tar.TypeReg:
			// Parent directories normally come first in the archive.
			parent := filepath.Dir(target)
			if !madeDir[parent] {
				if err := os.MkdirAll(parent, 0755); err != nil {
					return buildererror.InternalErrorf("creating directory %q: %v", parent, err)
				}
				madeDir[parent] = true
			}

			f, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return buildererror.InternalErrorf("opening file %q: %v", target, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return buildererror.InternalErrorf("copying file %q: %v", target, err)
			}
			if err := f.Close(); err != nil {
				return buildererror.InternalErrorf("closing file %q: %v", target, err)
			}
		case tar.TypeSymlink:
			targetPath := filepath.Join(filepath.Dir(target), header.Linkname)
			if filepath.IsAbs(header.Linkname) || !isValidTarDestination(targetPath, filepath.Clean(dir), header.Typeflag) {
				return buildererror.InternalErrorf("symlink %q -> %q traverses out of root", target, header.Linkname)
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return buildererror.InternalErrorf("symlinking %q to %q: %v", target, header.Linkname, err)
			}
		case tar.TypeLink:
			link, err := tarDestination(header.Linkname, dir, header.Typeflag, stripComponents)
			if err != nil {
				return err
			}
			if err := os.Link(link, target); err != nil {
				return buildererror.InternalErrorf("linking %q to %q: %v", target, link, err)
			}
		default:
			return buildererror.InternalErrorf("unsupported tar entry %q of type %v", header.Name, header.Typeflag)
		}
	}
}

// tarDestination returns the filepath that a tar entry should be written to when extracted.
func tarDestination(tarPath, rootDir string, tarType byte, stripComponents int) (string, error) {
	rootDir = filepath.Clean(rootDir)
	path := filepath.Join(rootDir, filepath.Clean(tarPath))

	if stripComponents > 0 {
		drop := strings.Count(rootDir, string(filepath.Separator)) + stripComponents + 1
		parts := strings.Split(path, string(filepath.Separator))
		if drop >= len(parts) && tarType == tar.TypeDir {
			// A stripped away directory; returning rootDir makes this a no-op.
			return rootDir, nil
		}
		if drop >= len(parts) {
			return "", buildererror.InternalErrorf("stripped too many components (%v)", stripComponents)
		}
		path = filepath.Join(rootDir, filepath.Join(parts[drop:]...))
	}

	// Only allow extraction either directly into the root, or within a subdirectory from the root.
	if isValidTarDestination(path, rootDir, tarType) {
		return path, nil
	}
	return "", buildererror.InternalErrorf("tar entry %q traverses out of root", tarPath)
}

// isValidTarDestination protects against a path traversal vulnerability by ensuring the final path
// is within the target directory.
func isValidTarDestination(dest, rootDir string, tarType byte) bool {
	destDir := dest
	if tarType != tar.TypeDir {
		destDir = filepath.Dir(dest)
	}
	return destDir == rootDir ||
		strings.HasPrefix(destDir, rootDir+string(filepath.Separator))
}

// doGet performs an HTTP GET request for a URL.
func doGet(url string) (*http.Response, error) {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.Logger = nil
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, buildererror.UserErrorf("fetching %s: %v", url, err)
	}

	req.Header.Set("User-Agent", userAgent)

	response, err := retryClient.StandardClient().Do(req)
	if err != nil {
		return nil, buildererror.UserErrorf("requesting %s: %v", url, err)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		defer response.Body.Close()
		return nil, buildererror.Errorf(statusFor(response.StatusCode), "fetching %s returned HTTP status: %d", url, response.StatusCode)
	}
	return response, nil
}

func statusFor(httpStatus int) buildererror.Status {
	switch httpStatus {
	case http.StatusNotFound:
		return buildererror.StatusNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return buildererror.StatusPermissionDenied
	}
	return buildererror.StatusUnknown
}
