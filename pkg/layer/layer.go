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

// Package layer implements the on-disk representation of buildpack layers
// and the lifecycle that decides, per build, whether a cached layer is
// reused or recreated.
package layer

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var reservedNames = map[string]bool{
	"build":  true,
	"launch": true,
	"store":  true,
}

// Name is a validated layer name.
type Name string

// NewName validates s as a layer name. Names must be non-empty, must not be
// one of the lifecycle's reserved file names (build, launch, store) and
// must not contain a path separator.
func NewName(s string) (Name, error) {
	switch {
	case s == "", s == ".", s == "..":
		return "", errors.Errorf("invalid layer name %q", s)
	case reservedNames[s]:
		return "", errors.Errorf("invalid layer name %q: name is reserved", s)
	case strings.ContainsAny(s, `/\`):
		return "", errors.Errorf("invalid layer name %q: must not contain a path separator", s)
	}
	return Name(s), nil
}

// MustName is like NewName but panics if s is not a valid name. It is
// intended for layer names that are constants in buildpack code.
func MustName(s string) Name {
	n, err := NewName(s)
	if err != nil {
		panic(err)
	}
	return n
}

func (n Name) String() string {
	return string(n)
}

// Types are the lifecycle flags of a layer.
type Types struct {
	Launch bool `toml:"launch"`
	Build  bool `toml:"build"`
	Cache  bool `toml:"cache"`
}

func (t Types) String() string {
	return fmt.Sprintf("launch=%t build=%t cache=%t", t.Launch, t.Build, t.Cache)
}

// GenericMetadata is layer metadata of unknown shape.
type GenericMetadata = map[string]interface{}

// ContentMetadata is the content of a layer's <name>.toml file. Types is nil
// when the file has no [types] table, which is how the lifecycle restores
// metadata of cached layers.
type ContentMetadata[M any] struct {
	Types    *Types `toml:"types"`
	Metadata M      `toml:"metadata"`
}

// Error is returned when reading or writing a layer fails for reasons other
// than malformed metadata.
type Error struct {
	Op   string
	Name Name
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("layer %q: %s: %v", string(e.Name), e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// MetadataParseError is returned when a layer's metadata file exists but its
// content does not match the requested metadata shape.
type MetadataParseError struct {
	Name Name
	Path string
	Err  error
}

func (e *MetadataParseError) Error() string {
	return fmt.Sprintf("layer %q: parsing metadata %s: %v", string(e.Name), e.Path, e.Err)
}

func (e *MetadataParseError) Unwrap() error {
	return e.Err
}
