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

// Package fileutil contains utilities for filesystem operations.
package fileutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// AllPaths indicates all paths should be recursively walked for functions
// that walk the filesystem.
var AllPaths = func(path string, d fs.DirEntry) (bool, error) {
	return true, nil
}

// MaybeCopyPathContents recursively copies the contents of srcPath to destPath.
// Paths for which copyCondition returns false are skipped; a skipped
// directory is not descended into.
func MaybeCopyPathContents(destPath, srcPath string, copyCondition func(path string, d fs.DirEntry) (bool, error)) error {
	return filepath.WalkDir(srcPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Skip the root
		if path == srcPath {
			return nil
		}

		shouldCopy, err := copyCondition(path, d)
		if err != nil {
			return err
		}
		if !shouldCopy {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		relPath, err := filepath.Rel(srcPath, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(destPath, relPath)

		if d.IsDir() {
			return os.MkdirAll(dest, 0755)
		}
		return CopyFile(dest, path)
	})
}

// CopyFile copies a file from src to dest, keeping the permission bits of src.
func CopyFile(dest, src string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	info, err := srcFile.Stat()
	if err != nil {
		return err
	}

	destFile, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, srcFile); err != nil {
		return err
	}
	// OpenFile applies the umask, so the mode is set explicitly.
	return destFile.Chmod(info.Mode().Perm())
}

// RemoveAllForce removes path and everything below it, first granting the
// owner the permissions needed to traverse and unlink every entry. Unlike
// os.RemoveAll, a missing path is reported as an fs.ErrNotExist error.
func RemoveAllForce(path string) error {
	if _, err := os.Lstat(path); err != nil {
		return err
	}

	// WalkDir visits a directory before reading its entries, so the chmod
	// below lands in time for the directory to be listed.
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.Chmod(p, info.Mode().Perm()|0700)
		}
		return os.Chmod(p, info.Mode().Perm()|0200)
	})
	if err != nil {
		return err
	}

	return os.RemoveAll(path)
}
