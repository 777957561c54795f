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

// Implements the examples/basics buildpack.
// The basics buildpack opts in for any non-empty application, contributes a
// launch layer holding a greeting script and sets the image processes from
// a Procfile when there is one.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/GoogleCloudPlatform/cnbkit/pkg/buildererror"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/buildpack"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/launch"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/layer"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/layerenv"
)

const (
	planName   = "basics"
	layerName  = layer.Name("greeting")
	webProcess = "web"

	greetingScript = `#!/bin/sh
echo "${GREETING}, world!"
`
)

var (
	processRe = regexp.MustCompile(`(?m)^(\w+):\s*(.+)$`)
)

func main() {
	buildpack.Main(detectFn, buildFn)
}

func detectFn(ctx *buildpack.DetectContext) (buildpack.DetectResult, error) {
	entries, err := os.ReadDir(ctx.AppDir())
	if err != nil {
		return buildpack.DetectResult{}, fmt.Errorf("listing application files: %w", err)
	}
	if len(entries) == 0 {
		return buildpack.OptOut("application directory is empty"), nil
	}
	plan, err := buildpack.NewBuildPlanBuilder().Provides(planName).Requires(planName).Build()
	if err != nil {
		return buildpack.DetectResult{}, err
	}
	return buildpack.OptIn(fmt.Sprintf("found %d application files", len(entries)), buildpack.WithBuildPlan(plan)), nil
}

func buildFn(ctx *buildpack.BuildContext) (buildpack.BuildResult, error) {
	l, err := ctx.UncachedLayer(layerName, layer.UncachedDefinition{Launch: true})
	if err != nil {
		return buildpack.BuildResult{}, err
	}
	binDir := filepath.Join(l.Path(), "bin")
	if err := os.MkdirAll(binDir, 0755); err != nil {
		return buildpack.BuildResult{}, fmt.Errorf("creating %s: %w", binDir, err)
	}
	if err := os.WriteFile(filepath.Join(binDir, "greet"), []byte(greetingScript), 0755); err != nil {
		return buildpack.BuildResult{}, fmt.Errorf("writing greeting script: %w", err)
	}
	greeting := "Hello"
	if v, ok := ctx.Platform().Env().Lookup("GREETING"); ok {
		greeting = v
	}
	if err := l.ReplaceEnv(layerenv.New().Chain(layerenv.Launch, layerenv.Default, "GREETING", greeting)); err != nil {
		return buildpack.BuildResult{}, err
	}

	processes, err := readProcfile(ctx)
	if err != nil {
		return buildpack.BuildResult{}, err
	}
	if len(processes) == 0 {
		processes = []launch.Process{launch.NewProcess(webProcess, []string{"greet"}, launch.AsDefault)}
	}
	b := launch.NewBuilder()
	for _, p := range processes {
		b.Process(p)
	}
	return buildpack.Success(buildpack.WithLaunch(b.Build())), nil
}

// readProcfile returns the processes of the application's Procfile, or none
// if it has no Procfile.
func readProcfile(ctx *buildpack.BuildContext) ([]launch.Process, error) {
	content, err := os.ReadFile(filepath.Join(ctx.AppDir(), "Procfile"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading Procfile: %w", err)
	}
	return parseProcfile(ctx, string(content))
}

// parseProcfile returns the processes defined by the given Procfile
// contents. The web process, or the first one without a web process, is the
// default.
func parseProcfile(ctx *buildpack.BuildContext, content string) ([]launch.Process, error) {
	matches := processRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil, buildererror.UserErrorf("did not find any processes in Procfile")
	}

	var processes []launch.Process
	found := make(map[string]bool, len(matches))
	for _, match := range matches {
		name, command := match[1], strings.TrimSpace(match[2])
		if found[name] {
			ctx.Warnf("Skipping duplicate %s process: %s", name, command)
			continue
		}
		found[name] = true
		t, err := launch.ParseProcessType(name)
		if err != nil {
			return nil, buildererror.UserErrorf("invalid process type %q in Procfile: %v", name, err)
		}
		processes = append(processes, launch.NewProcess(t, []string{"sh", "-c", command}))
	}

	def := 0
	for i, p := range processes {
		if p.Type == webProcess {
			def = i
			break
		}
	}
	processes[def].Default = true
	return processes, nil
}
