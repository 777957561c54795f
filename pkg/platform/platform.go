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

// Package platform reads the platform directory passed to the detect and build phases.
package platform

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/GoogleCloudPlatform/cnbkit/pkg/env"
)

// Platform holds the platform directory and the environment variables the
// platform provides through it.
type Platform struct {
	dir string
	env env.Env
}

// FromPath reads the platform directory rooted at dir. Every regular file in
// <dir>/env becomes a variable named after the file, with the file content
// as its value. A missing env directory yields an empty environment.
func FromPath(dir string) (*Platform, error) {
	e, err := readEnvDir(filepath.Join(dir, "env"))
	if err != nil {
		return nil, err
	}
	return &Platform{dir: dir, env: e}, nil
}

// New returns a Platform with the given directory and environment.
func New(dir string, e env.Env) *Platform {
	return &Platform{dir: dir, env: e}
}

// Dir returns the platform directory.
func (p *Platform) Dir() string {
	return p.dir
}

// Env returns the environment variables provided by the platform.
func (p *Platform) Env() env.Env {
	return p.env
}

func readEnvDir(dir string) (env.Env, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return env.Empty(), nil
	}
	if err != nil {
		return env.Env{}, fmt.Errorf("reading platform env dir %s: %w", dir, err)
	}

	vars := map[string]string{}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		// Stat follows symlinks.
		info, err := os.Stat(path)
		if err != nil {
			return env.Env{}, fmt.Errorf("stat %s: %w", path, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return env.Env{}, fmt.Errorf("reading platform env var %s: %w", path, err)
		}
		vars[entry.Name()] = string(data)
	}
	return env.New(vars), nil
}
