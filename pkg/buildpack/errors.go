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

package buildpack

import (
	"fmt"
)

// ErrorKind identifies the step of a phase that failed.
type ErrorKind int

const (
	// ErrorKindBuildpack is an error returned by the buildpack's own detect or
	// build function.
	ErrorKindBuildpack ErrorKind = iota
	ErrorKindCannotDetermineAppDir
	ErrorKindCannotDetermineBuildpackDir
	ErrorKindCannotDetermineTarget
	ErrorKindCannotReadDescriptor
	ErrorKindCannotReadPlatform
	ErrorKindCannotReadBuildpackPlan
	ErrorKindCannotReadStore
	ErrorKindCannotWriteBuildPlan
	ErrorKindCannotWriteLaunch
	ErrorKindCannotWriteStore
	ErrorKindCannotWriteSBOM
	ErrorKindLayer
)

var errorKindDescriptions = map[ErrorKind]string{
	ErrorKindBuildpack:                   "buildpack error",
	ErrorKindCannotDetermineAppDir:       "cannot determine application directory",
	ErrorKindCannotDetermineBuildpackDir: "cannot determine buildpack directory",
	ErrorKindCannotDetermineTarget:       "cannot determine target",
	ErrorKindCannotReadDescriptor:        "cannot read buildpack descriptor",
	ErrorKindCannotReadPlatform:          "cannot read platform",
	ErrorKindCannotReadBuildpackPlan:     "cannot read buildpack plan",
	ErrorKindCannotReadStore:             "cannot read store",
	ErrorKindCannotWriteBuildPlan:        "cannot write build plan",
	ErrorKindCannotWriteLaunch:           "cannot write launch.toml",
	ErrorKindCannotWriteStore:            "cannot write store.toml",
	ErrorKindCannotWriteSBOM:             "cannot write SBOM",
	ErrorKindLayer:                       "layer error",
}

func (k ErrorKind) String() string {
	if d, ok := errorKindDescriptions[k]; ok {
		return d
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is passed to the error handler when a phase fails.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
