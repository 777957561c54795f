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

// Package execd provides helpers for exec.d programs, which the launcher
// runs before the application to compute environment variables.
package execd

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
)

// outputFD is the file descriptor the launcher reads exec.d output from.
const outputFD = 3

// WriteOutput writes vars as a TOML table to file descriptor 3.
func WriteOutput(vars map[string]string) error {
	f := os.NewFile(outputFD, "/dev/fd/3")
	if f == nil {
		return fmt.Errorf("file descriptor %d is not available", outputFD)
	}
	defer f.Close()
	return WriteOutputTo(f, vars)
}

// WriteOutputTo writes vars as a TOML table to w.
func WriteOutputTo(w io.Writer, vars map[string]string) error {
	if vars == nil {
		vars = map[string]string{}
	}
	if err := toml.NewEncoder(w).Encode(vars); err != nil {
		return fmt.Errorf("encoding exec.d output: %w", err)
	}
	return nil
}
