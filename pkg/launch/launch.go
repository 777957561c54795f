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

// Package launch models the launch.toml file a buildpack writes at the end of the build phase.
package launch

import (
	"regexp"

	"github.com/buildpacks/libcnb/v2"
	"github.com/pkg/errors"
)

var processTypeRegexp = regexp.MustCompile(`^[[:alnum:]._-]+$`)

// ProcessType names a process, such as "web" or "worker".
type ProcessType string

// ParseProcessType validates s as a process type.
func ParseProcessType(s string) (ProcessType, error) {
	if !processTypeRegexp.MatchString(s) {
		return "", errors.Errorf("invalid process type %q", s)
	}
	return ProcessType(s), nil
}

// MustProcessType is like ParseProcessType but panics on invalid input.
// It is intended for process types that are constants in buildpack code.
func MustProcessType(s string) ProcessType {
	t, err := ParseProcessType(s)
	if err != nil {
		panic(err)
	}
	return t
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ProcessType) UnmarshalText(text []byte) error {
	parsed, err := ParseProcessType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Process is a process the image can be launched with.
type Process struct {
	Type             ProcessType `toml:"type"`
	Command          []string    `toml:"command"`
	Args             []string    `toml:"args,omitempty"`
	Default          bool        `toml:"default,omitempty"`
	WorkingDirectory string      `toml:"working-dir,omitempty"`
}

// ProcessOption configures a Process.
type ProcessOption func(p *Process)

// WithArgs appends user-overridable arguments to the process.
func WithArgs(args ...string) ProcessOption {
	return func(p *Process) {
		p.Args = append(p.Args, args...)
	}
}

// AsDefault marks the process as the default process of the image.
func AsDefault(p *Process) {
	p.Default = true
}

// WithWorkingDirectory sets the directory the process is started in.
func WithWorkingDirectory(dir string) ProcessOption {
	return func(p *Process) {
		p.WorkingDirectory = dir
	}
}

// NewProcess returns a process of the given type running command.
func NewProcess(t ProcessType, command []string, opts ...ProcessOption) Process {
	p := Process{Type: t, Command: command}
	for _, o := range opts {
		o(&p)
	}
	return p
}

// Launch is the content of launch.toml.
type Launch struct {
	Labels    []libcnb.Label `toml:"labels,omitempty"`
	Processes []Process      `toml:"processes,omitempty"`
	Slices    []libcnb.Slice `toml:"slices,omitempty"`
}

// Validate checks that at most one process is the default and that every
// process has a command.
func (l Launch) Validate() error {
	defaults := 0
	seen := map[ProcessType]bool{}
	for _, p := range l.Processes {
		if _, err := ParseProcessType(string(p.Type)); err != nil {
			return err
		}
		if len(p.Command) == 0 {
			return errors.Errorf("process %q has no command", p.Type)
		}
		if seen[p.Type] {
			return errors.Errorf("duplicate process type %q", p.Type)
		}
		seen[p.Type] = true
		if p.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return errors.Errorf("%d processes are marked as default, want at most one", defaults)
	}
	return nil
}

// Builder accumulates the content of launch.toml.
type Builder struct {
	launch Launch
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Process adds a process.
func (b *Builder) Process(p Process) *Builder {
	b.launch.Processes = append(b.launch.Processes, p)
	return b
}

// Label adds an image label.
func (b *Builder) Label(key, value string) *Builder {
	b.launch.Labels = append(b.launch.Labels, libcnb.Label{Key: key, Value: value})
	return b
}

// Slice adds a slice of application paths exported as a separate image layer.
func (b *Builder) Slice(paths ...string) *Builder {
	b.launch.Slices = append(b.launch.Slices, libcnb.Slice{Paths: paths})
	return b
}

// Build returns the accumulated Launch.
func (b *Builder) Build() Launch {
	l := Launch{}
	l.Labels = append(l.Labels, b.launch.Labels...)
	l.Processes = append(l.Processes, b.launch.Processes...)
	l.Slices = append(l.Slices, b.launch.Slices...)
	return l
}
