// Copyright 2020 Google LLC
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

// Package env specifies environment variables used to configure buildpack behavior
// and provides an immutable view over a set of environment variables.
package env

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

const (
	// BuildpackDir is set by the lifecycle to the root directory of the running buildpack.
	BuildpackDir = "CNB_BUILDPACK_DIR"

	// TargetOS is the operating system of the target image.
	// Example: `linux`.
	TargetOS = "CNB_TARGET_OS"

	// TargetArch is the CPU architecture of the target image.
	// Example: `amd64`, `arm64`.
	TargetArch = "CNB_TARGET_ARCH"

	// TargetArchVariant is the optional CPU architecture variant of the target image.
	// Example: `v8`.
	TargetArchVariant = "CNB_TARGET_ARCH_VARIANT"

	// TargetDistroName is the name of the target operating system distribution.
	// Example: `ubuntu`.
	TargetDistroName = "CNB_TARGET_DISTRO_NAME"

	// TargetDistroVersion is the version of the target operating system distribution.
	// Example: `22.04`.
	TargetDistroVersion = "CNB_TARGET_DISTRO_VERSION"

	// DebugMode enables more verbose logging.
	// Example: `true`, `True`, `1` will enable debug mode.
	DebugMode = "BP_DEBUG"

	// NoColor disables colored output.
	// Example: `true`, `True`, `1` will disable colors.
	NoColor = "BP_NO_COLOR"
)

// Env is a read-only set of environment variables.
type Env struct {
	vars map[string]string
}

// New returns an Env holding a copy of vars.
func New(vars map[string]string) Env {
	c := make(map[string]string, len(vars))
	for k, v := range vars {
		c[k] = v
	}
	return Env{vars: c}
}

// Empty returns an Env without any variables.
func Empty() Env {
	return Env{vars: map[string]string{}}
}

// FromCurrent returns the environment of the current process.
func FromCurrent() Env {
	vars := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = v
	}
	return Env{vars: vars}
}

// Get returns the value of name, or "" if it is not set.
func (e Env) Get(name string) string {
	return e.vars[name]
}

// Lookup returns the value of name and whether it is set.
func (e Env) Lookup(name string) (string, bool) {
	v, ok := e.vars[name]
	return v, ok
}

// Contains reports whether name is set.
func (e Env) Contains(name string) bool {
	_, ok := e.vars[name]
	return ok
}

// Len returns the number of variables.
func (e Env) Len() int {
	return len(e.vars)
}

// Keys returns the sorted variable names.
func (e Env) Keys() []string {
	keys := make([]string, 0, len(e.vars))
	for k := range e.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the variables.
func (e Env) Map() map[string]string {
	return New(e.vars).vars
}

// With returns a new Env with name set to value.
func (e Env) With(name, value string) Env {
	n := New(e.vars)
	n.vars[name] = value
	return n
}

// Without returns a new Env with name removed.
func (e Env) Without(name string) Env {
	n := New(e.vars)
	delete(n.vars, name)
	return n
}

// Merge returns a new Env holding e's variables overridden by other's.
func (e Env) Merge(other Env) Env {
	n := New(e.vars)
	for k, v := range other.vars {
		n.vars[k] = v
	}
	return n
}

// Environ returns the variables in "KEY=value" form, sorted by key.
func (e Env) Environ() []string {
	out := make([]string, 0, len(e.vars))
	for _, k := range e.Keys() {
		out = append(out, k+"="+e.vars[k])
	}
	return out
}

// IsDebugMode returns true if the buildpack debug mode is enabled.
func IsDebugMode() (bool, error) {
	return IsPresentAndTrue(DebugMode)
}

// IsPresentAndTrue returns true if the environment variable evaluates to True.
func IsPresentAndTrue(varName string) (bool, error) {
	return FromCurrent().IsPresentAndTrue(varName)
}

// IsPresentAndTrue returns true if the variable is set and evaluates to True.
func (e Env) IsPresentAndTrue(varName string) (bool, error) {
	varValue, present := e.vars[varName]
	if !present {
		return false, nil
	}

	parsed, err := strconv.ParseBool(varValue)
	if err != nil {
		return false, fmt.Errorf("parsing %s: %v", varName, err)
	}

	return parsed, nil
}
