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
	"github.com/GoogleCloudPlatform/cnbkit/pkg/env"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/tomlfile"
)

// DetectResult represents the result of the detect run and the reason for it.
type DetectResult struct {
	pass   bool
	reason string
	plan   *BuildPlan
}

// Pass reports whether the buildpack opted in.
func (r DetectResult) Pass() bool {
	return r.pass
}

// Reason returns the logged explanation of the result.
func (r DetectResult) Reason() string {
	return r.reason
}

// BuildPlan returns the build plan of a passing result, or nil.
func (r DetectResult) BuildPlan() *BuildPlan {
	return r.plan
}

// DetectResultOption configures a DetectResult.
type DetectResultOption func(r *DetectResult)

// WithBuildPlan adds a build plan to the detect result. A passing result
// with a plan writes it even if it is empty.
func WithBuildPlan(plan BuildPlan) DetectResultOption {
	return func(r *DetectResult) {
		r.plan = &plan
	}
}

// OptIn is used during the detect phase to opt in to the build process.
func OptIn(reason string, opts ...DetectResultOption) DetectResult {
	return opt(true, "Opting in: "+reason, opts...)
}

// OptInAlways is used to always opt into the build process.
func OptInAlways(opts ...DetectResultOption) DetectResult {
	return OptIn("always enabled", opts...)
}

// OptInFileFound is used to opt into the build process based on file presence.
func OptInFileFound(file string, opts ...DetectResultOption) DetectResult {
	return OptIn("found "+file, opts...)
}

// OptInEnvSet is used to opt into the build process based on env var presence.
func OptInEnvSet(env string, opts ...DetectResultOption) DetectResult {
	return OptIn(env+" set", opts...)
}

// OptOut is used during the detect phase to opt out of the build process.
func OptOut(reason string) DetectResult {
	return opt(false, "Opting out: "+reason)
}

// OptOutFileNotFound is used to opt out of the build process based on file absence.
func OptOutFileNotFound(file string) DetectResult {
	return OptOut(file + " not found")
}

// OptOutEnvNotSet is used to opt out of the build process based on env var absence.
func OptOutEnvNotSet(env string) DetectResult {
	return OptOut(env + " not set")
}

func opt(pass bool, reason string, opts ...DetectResultOption) DetectResult {
	r := DetectResult{pass: pass, reason: reason}
	for _, o := range opts {
		o(&r)
	}
	return r
}

func runDetect(platformDir, planPath, buildpackDir string, e env.Env, fn DetectFn, cfg *config) (ExitCode, error) {
	c, err := newCommon(platformDir, buildpackDir, e, cfg)
	if err != nil {
		return ExitUnspecifiedError, err
	}
	ctx := &DetectContext{common: c}

	result, err := fn(ctx)
	if err != nil {
		return ExitUnspecifiedError, buildpackError(err)
	}
	if result.reason != "" {
		ctx.Logf("%s", result.reason)
	}
	if !result.pass {
		return ExitDetectFailed, nil
	}
	if result.plan != nil {
		if err := tomlfile.Write(planPath, result.plan); err != nil {
			return ExitUnspecifiedError, newError(ErrorKindCannotWriteBuildPlan, err)
		}
	}
	return ExitDetectPassed, nil
}
