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

// Package buildpack is a framework for implementing Cloud Native Buildpacks
// (https://buildpacks.io/).
//
// A buildpack binary calls Main from its main function. The lifecycle runs
// the same binary as bin/detect and bin/build, and Main dispatches to the
// matching phase function based on the name it was invoked as.
package buildpack

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/GoogleCloudPlatform/cnbkit/pkg/descriptor"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/env"
	"github.com/heroku/color"
)

// ExitCode is the status a phase binary exits with.
type ExitCode int

// Exit codes defined by the buildpack API.
const (
	ExitSuccess                  ExitCode = 0
	ExitUnspecifiedError         ExitCode = 1
	ExitDetectPassed                      = ExitSuccess
	ExitDetectFailed             ExitCode = 100
	ExitAPIMismatch              ExitCode = 254
	ExitUnexpectedExecutableName ExitCode = 255
)

// SupportedAPI is the buildpack API version implemented by this package.
var SupportedAPI = descriptor.API{Major: 0, Minor: 10}

const (
	detectName = "detect"
	buildName  = "build"
)

// DetectFn is the callback signature for the detect phase.
type DetectFn func(*DetectContext) (DetectResult, error)

// BuildFn is the callback signature for the build phase.
type BuildFn func(*BuildContext) (BuildResult, error)

// ErrorHandler is called with the error of a failed phase before the
// process exits.
type ErrorHandler func(error)

type config struct {
	errorHandler ErrorHandler
	out          io.Writer
}

// Option configures Main and Run.
type Option func(*config)

// WithErrorHandler replaces the default handler, which prints the error to
// stderr.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *config) {
		c.errorHandler = h
	}
}

// WithOutput sets where log output and the default error handler write to.
// Defaults to stderr.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		c.out = w
	}
}

// Main is the entrypoint of a buildpack binary. It does not return.
func Main(detect DetectFn, build BuildFn, opts ...Option) {
	os.Exit(int(Run(os.Args, env.FromCurrent(), detect, build, opts...)))
}

// Run runs the phase selected by args[0] and returns the code the process
// should exit with. The current working directory is the application
// directory.
func Run(args []string, e env.Env, detect DetectFn, build BuildFn, opts ...Option) ExitCode {
	cfg := &config{out: os.Stderr}
	for _, o := range opts {
		o(cfg)
	}
	if noColor, _ := e.IsPresentAndTrue(env.NoColor); noColor || e.Contains("NO_COLOR") {
		color.Disable(true)
	}
	if cfg.errorHandler == nil {
		cfg.errorHandler = defaultErrorHandler(cfg.out)
	}

	bpDir, ok := e.Lookup(env.BuildpackDir)
	if !ok || bpDir == "" {
		fmt.Fprintf(cfg.out, "%v\n", newError(ErrorKindCannotDetermineBuildpackDir, fmt.Errorf("%s is not set", env.BuildpackDir)))
		return ExitAPIMismatch
	}
	api, err := descriptor.ReadAPI(bpDir)
	if err != nil {
		fmt.Fprintf(cfg.out, "Cannot read buildpack API version: %v\n", err)
		return ExitAPIMismatch
	}
	if api != SupportedAPI {
		fmt.Fprintf(cfg.out, "Buildpack API version %s is not supported, this buildpack framework supports %s\n", api, SupportedAPI)
		return ExitAPIMismatch
	}

	if len(args) == 0 {
		fmt.Fprintf(cfg.out, "Unknown command, expected %q or %q\n", detectName, buildName)
		return ExitUnexpectedExecutableName
	}
	var code ExitCode
	switch name := filepath.Base(args[0]); name {
	case detectName:
		if len(args) != 3 {
			fmt.Fprintf(cfg.out, "Usage: %s <platform_dir> <build_plan>\n", name)
			return ExitUnspecifiedError
		}
		code, err = runDetect(args[1], args[2], bpDir, e, detect, cfg)
	case buildName:
		if len(args) != 4 {
			fmt.Fprintf(cfg.out, "Usage: %s <layers_dir> <platform_dir> <buildpack_plan>\n", name)
			return ExitUnspecifiedError
		}
		code, err = runBuild(args[1], args[2], args[3], bpDir, e, build, cfg)
	default:
		fmt.Fprintf(cfg.out, "Unknown command %q, expected %q or %q\n", name, detectName, buildName)
		return ExitUnexpectedExecutableName
	}

	if err != nil {
		cfg.errorHandler(err)
		return ExitUnspecifiedError
	}
	return code
}

var errorHeader = color.New(color.FgRed, color.Bold).SprintfFunc()

func defaultErrorHandler(w io.Writer) ErrorHandler {
	return func(err error) {
		fmt.Fprintf(w, "%s\n%v\n", errorHeader("[Error: buildpack failed]"), err)
	}
}

// buildpackError wraps an error returned by a phase function, leaving
// errors produced by this package unchanged.
func buildpackError(err error) error {
	if _, ok := err.(*Error); ok {
		return err
	}
	return newError(ErrorKindBuildpack, err)
}
