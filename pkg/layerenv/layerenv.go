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

// Package layerenv models the environment variables a layer contributes to
// the build and launch environments, and their env/ directory encoding.
package layerenv

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/buildpacks/libcnb/v2"

	"github.com/GoogleCloudPlatform/cnbkit/pkg/env"
)

// Behavior determines how a variable modifies an existing environment.
// Behaviors are applied in the order they are declared here.
type Behavior int

const (
	// Append appends the value to the existing value, separated by the delimiter.
	Append Behavior = iota
	// Default sets the value only if the variable is not set.
	Default
	// Delimiter sets the delimiter used by Append and Prepend.
	Delimiter
	// Override replaces the existing value.
	Override
	// Prepend prepends the value to the existing value, separated by the delimiter.
	Prepend
)

var behaviorSuffixes = map[Behavior]string{
	Append:    ".append",
	Default:   ".default",
	Delimiter: ".delim",
	Override:  ".override",
	Prepend:   ".prepend",
}

func (b Behavior) String() string {
	return strings.TrimPrefix(behaviorSuffixes[b], ".")
}

// Scope selects the environment a variable is contributed to.
type Scope struct {
	kind    scopeKind
	process string
}

type scopeKind int

const (
	allScope scopeKind = iota
	buildScope
	launchScope
	processScope
)

var (
	// All applies to both the build and the launch environment.
	All = Scope{kind: allScope}
	// Build applies to the environment of subsequent buildpacks.
	Build = Scope{kind: buildScope}
	// Launch applies to every process of the image.
	Launch = Scope{kind: launchScope}
)

// Process applies to the launch environment of a single process type.
func Process(processType string) Scope {
	return Scope{kind: processScope, process: processType}
}

func (s Scope) String() string {
	switch s.kind {
	case buildScope:
		return "build"
	case launchScope:
		return "launch"
	case processScope:
		return "process " + s.process
	}
	return "all"
}

// delta is a set of modifications keyed the way they are stored on disk,
// e.g. "PATH.prepend".
type delta libcnb.Environment

type entry struct {
	behavior Behavior
	name     string
	value    string
}

func (d delta) insert(b Behavior, name, value string) {
	d[name+behaviorSuffixes[b]] = value
}

func (d delta) entries() []entry {
	var out []entry
	for key, value := range d {
		for b, suffix := range behaviorSuffixes {
			if name := strings.TrimSuffix(key, suffix); name != key {
				out = append(out, entry{behavior: b, name: name, value: value})
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].behavior != out[j].behavior {
			return out[i].behavior < out[j].behavior
		}
		return out[i].name < out[j].name
	})
	return out
}

func (d delta) apply(e env.Env) env.Env {
	vars := e.Map()
	for _, en := range d.entries() {
		switch en.behavior {
		case Override:
			vars[en.name] = en.value
		case Default:
			if _, ok := vars[en.name]; !ok {
				vars[en.name] = en.value
			}
		case Append:
			if prev := vars[en.name]; prev != "" {
				vars[en.name] = prev + d[en.name+behaviorSuffixes[Delimiter]] + en.value
			} else {
				vars[en.name] = en.value
			}
		case Prepend:
			if prev := vars[en.name]; prev != "" {
				vars[en.name] = en.value + d[en.name+behaviorSuffixes[Delimiter]] + prev
			} else {
				vars[en.name] = en.value
			}
		}
	}
	return env.New(vars)
}

func readDelta(dir string) (delta, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	d := delta{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		name, b, ok := parseFileName(e.Name())
		if !ok {
			continue
		}
		d.insert(b, name, string(data))
	}
	return d, nil
}

// parseFileName splits an env file name into the variable name and its
// behavior. A file without an extension overrides the variable; files with
// unknown extensions are ignored.
func parseFileName(fileName string) (string, Behavior, bool) {
	ext := filepath.Ext(fileName)
	name := strings.TrimSuffix(fileName, ext)
	if ext == "" || name == "" {
		return fileName, Override, true
	}
	for b, suffix := range behaviorSuffixes {
		if ext == suffix {
			return name, b, true
		}
	}
	return "", 0, false
}

func (d delta) write(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for fileName, value := range d {
		if err := os.WriteFile(filepath.Join(dir, fileName), []byte(value), 0644); err != nil {
			return err
		}
	}
	return nil
}

// LayerEnv is the environment contribution of a single layer.
type LayerEnv struct {
	all       delta
	build     delta
	launch    delta
	processes map[string]delta

	// Entries derived from the layer's bin, lib, include and pkgconfig
	// directories. These are populated by ReadFromLayerDir only.
	layerPathsBuild  delta
	layerPathsLaunch delta
}

// New returns an empty LayerEnv.
func New() *LayerEnv {
	return &LayerEnv{
		all:              delta{},
		build:            delta{},
		launch:           delta{},
		processes:        map[string]delta{},
		layerPathsBuild:  delta{},
		layerPathsLaunch: delta{},
	}
}

func (l *LayerEnv) target(s Scope) delta {
	switch s.kind {
	case buildScope:
		return l.build
	case launchScope:
		return l.launch
	case processScope:
		d, ok := l.processes[s.process]
		if !ok {
			d = delta{}
			l.processes[s.process] = d
		}
		return d
	}
	return l.all
}

// Insert adds a modification of variable name in the given scope. A later
// insert with the same scope, behavior and name replaces the earlier one.
func (l *LayerEnv) Insert(s Scope, b Behavior, name, value string) {
	l.target(s).insert(b, name, value)
}

// Chain is Insert returning the receiver, for building a LayerEnv in one expression.
func (l *LayerEnv) Chain(s Scope, b Behavior, name, value string) *LayerEnv {
	l.Insert(s, b, name, value)
	return l
}

// Apply returns the result of applying the modifications visible in scope to e.
// e itself is not modified.
func (l *LayerEnv) Apply(s Scope, e env.Env) env.Env {
	var deltas []delta
	switch s.kind {
	case allScope:
		deltas = []delta{l.all}
	case buildScope:
		deltas = []delta{l.all, l.build, l.layerPathsBuild}
	case launchScope:
		deltas = []delta{l.all, l.launch, l.layerPathsLaunch}
	case processScope:
		deltas = []delta{l.all}
		if d, ok := l.processes[s.process]; ok {
			deltas = append(deltas, d)
		}
	}
	for _, d := range deltas {
		e = d.apply(e)
	}
	return e
}

// ApplyToEmpty is Apply on an empty environment.
func (l *LayerEnv) ApplyToEmpty(s Scope) env.Env {
	return l.Apply(s, env.Empty())
}

type layerPath struct {
	name  string
	scope Scope
	dir   string
}

var layerPaths = []layerPath{
	{"PATH", Build, "bin"},
	{"LIBRARY_PATH", Build, "lib"},
	{"LD_LIBRARY_PATH", Build, "lib"},
	{"CPATH", Build, "include"},
	{"PKG_CONFIG_PATH", Build, "pkgconfig"},
	{"PATH", Launch, "bin"},
	{"LD_LIBRARY_PATH", Launch, "lib"},
}

// ReadFromLayerDir reads the env, env.build and env.launch directories of
// layerDir, including process specific subdirectories of env.launch. The
// lifecycle's implicit contributions of the layer's bin, lib, include and
// pkgconfig directories are added as well.
func ReadFromLayerDir(layerDir string) (*LayerEnv, error) {
	l := New()

	for _, lp := range layerPaths {
		path := filepath.Join(layerDir, lp.dir)
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			continue
		}
		target := l.layerPathsBuild
		if lp.scope == Launch {
			target = l.layerPathsLaunch
		}
		target.insert(Prepend, lp.name, path)
		target.insert(Delimiter, lp.name, string(os.PathListSeparator))
	}

	dirs := []struct {
		name   string
		target *delta
	}{
		{"env", &l.all},
		{"env.build", &l.build},
		{"env.launch", &l.launch},
	}
	for _, dir := range dirs {
		d, err := readDelta(filepath.Join(layerDir, dir.name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", dir.name, err)
		}
		*dir.target = d
	}

	launchDir := filepath.Join(layerDir, "env.launch")
	entries, err := os.ReadDir(launchDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		d, err := readDelta(filepath.Join(launchDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading env.launch/%s: %w", e.Name(), err)
		}
		l.processes[e.Name()] = d
	}
	return l, nil
}

// WriteToLayerDir replaces the env, env.build and env.launch directories of
// layerDir with the content of l.
func (l *LayerEnv) WriteToLayerDir(layerDir string) error {
	if err := l.all.write(filepath.Join(layerDir, "env")); err != nil {
		return err
	}
	if err := l.build.write(filepath.Join(layerDir, "env.build")); err != nil {
		return err
	}
	launchDir := filepath.Join(layerDir, "env.launch")
	if err := l.launch.write(launchDir); err != nil {
		return err
	}
	for process, d := range l.processes {
		if err := d.write(filepath.Join(launchDir, process)); err != nil {
			return err
		}
	}
	return nil
}
