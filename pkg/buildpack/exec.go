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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/GoogleCloudPlatform/cnbkit/pkg/buildererror"
)

var (
	divider = strings.Repeat("-", 80)
)

// ExecResult bundles exec results.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Combined string
}

type execParams struct {
	cmd         []string
	userFailure bool
	dir         string
	env         []string
}

// ExecOption configures Exec.
type ExecOption func(o *execParams)

// WithEnv sets environment variables (of the form "KEY=value") on top of
// the buildpack's environment.
func WithEnv(env ...string) ExecOption {
	return func(o *execParams) {
		o.env = env
	}
}

// WithWorkDir sets a specific working directory. Defaults to the
// application directory.
func WithWorkDir(dir string) ExecOption {
	return func(o *execParams) {
		o.dir = dir
	}
}

// WithUserAttribution indicates that a failure of the command is attributed
// to the user. The command output is logged even without debug logging.
func WithUserAttribution(o *execParams) {
	o.userFailure = true
}

// Exec runs the given command. A non-zero exit status is reported as an
// error alongside the result. Errors are *buildererror.Error values.
func (p *phase) Exec(cmd []string, opts ...ExecOption) (*ExecResult, error) {
	params := execParams{cmd: cmd, dir: p.appDir}
	for _, o := range opts {
		o(&params)
	}

	result, err := p.configuredExec(params)
	if err == nil {
		return result, nil
	}

	var be *buildererror.Error
	switch {
	case result == nil:
		be = buildererror.Wrapf(err, buildererror.StatusInternal, "running %q", strings.Join(cmd, " "))
	case params.userFailure:
		be = buildererror.UserErrorf("%s", result.Combined)
	default:
		be = buildererror.InternalErrorf("%s", result.Combined)
	}
	be.ID = buildererror.GenerateErrorID(params.cmd...)
	return result, be
}

func (p *phase) configuredExec(params execParams) (*ExecResult, error) {
	if len(params.cmd) < 1 {
		return nil, errors.New("no command provided")
	}
	if params.cmd[0] == "" {
		return nil, errors.New("empty command provided")
	}

	// System commands are only logged in debug mode.
	log := params.userFailure || p.Debug()
	optionalLogf := func(format string, args ...interface{}) {
		if log {
			p.Logf(format, args...)
		}
	}

	readableCmd := strings.Join(params.cmd, " ")
	if len(params.env) > 0 {
		readableCmd = fmt.Sprintf("%s (%s)", readableCmd, strings.Join(params.env, " "))
	}
	optionalLogf(divider)
	optionalLogf("Running %q", readableCmd)

	defer func(start time.Time) {
		truncated := readableCmd
		if len(truncated) > 60 {
			truncated = truncated[:60] + "..."
		}
		optionalLogf("Done %q (%v)", truncated, time.Since(start))
	}(time.Now())

	ecmd := exec.Command(params.cmd[0], params.cmd[1:]...)
	ecmd.Dir = params.dir
	ecmd.Env = append(p.env.Environ(), params.env...)

	var outb, errb bytes.Buffer
	combinedb := lockingBuffer{}
	if log {
		combinedb.tee = p.log.Out
	}
	ecmd.Stdout = io.MultiWriter(&outb, &combinedb)
	ecmd.Stderr = io.MultiWriter(&errb, &combinedb)

	exitCode := 0
	if err := ecmd.Run(); err != nil {
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			return nil, fmt.Errorf("executing command %q: %w", readableCmd, err)
		}
		exitCode = ee.ExitCode()
	}

	result := &ExecResult{
		ExitCode: exitCode,
		Stdout:   strings.TrimSpace(outb.String()),
		Stderr:   strings.TrimSpace(errb.String()),
		Combined: strings.TrimSpace(combinedb.String()),
	}
	if exitCode != 0 {
		return result, fmt.Errorf("executing command %q: exit code %d", readableCmd, exitCode)
	}
	return result, nil
}

type lockingBuffer struct {
	buf bytes.Buffer
	sync.Mutex

	// tee, if set, also receives everything written.
	tee io.Writer
}

func (lb *lockingBuffer) Write(p []byte) (int, error) {
	lb.Lock()
	defer lb.Unlock()
	if lb.tee != nil {
		lb.tee.Write(p)
	}
	return lb.buf.Write(p)
}

func (lb *lockingBuffer) String() string {
	lb.Lock()
	defer lb.Unlock()
	return lb.buf.String()
}
