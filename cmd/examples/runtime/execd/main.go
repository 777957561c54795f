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

// Implements the runtime-env exec.d program of the examples/runtime buildpack.
// It sizes the runtime's worker pool to the CPUs of the container it is
// launched in.
package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/GoogleCloudPlatform/cnbkit/pkg/env"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/execd"
)

const (
	workersEnv = "RUNTIME_WORKERS"
	homeEnv    = "RUNTIME_HOME"
	binEnv     = "RUNTIME_BIN"
)

func main() {
	if err := execd.WriteOutput(launchEnv(env.FromCurrent(), runtime.NumCPU())); err != nil {
		fmt.Fprintf(os.Stderr, "runtime-env: %v\n", err)
		os.Exit(1)
	}
}

// launchEnv returns the variables to add to the launch environment. Values
// already set by the user are left alone.
func launchEnv(e env.Env, cpus int) map[string]string {
	vars := map[string]string{}
	if !e.Contains(workersEnv) {
		vars[workersEnv] = strconv.Itoa(cpus)
	}
	if home, ok := e.Lookup(homeEnv); ok && home != "" {
		vars[binEnv] = home + "/bin/runtime"
	}
	return vars
}
