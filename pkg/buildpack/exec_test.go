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
	"os"
	"strings"
	"testing"

	"github.com/GoogleCloudPlatform/cnbkit/pkg/buildererror"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/env"
)

func newTestPhase(t *testing.T, vars map[string]string) (*phase, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	e := env.New(vars).With("PATH", os.Getenv("PATH"))
	return newPhase(&out, e, t.TempDir()), &out
}

func TestLogging(t *testing.T) {
	testCases := []struct {
		name      string
		debug     string
		want      []string
		wantNotIn []string
	}{
		{
			name:      "default",
			want:      []string{"info line\n", "Warning: careful\n"},
			wantNotIn: []string{"DEBUG:", "CACHE"},
		},
		{
			name:  "debug",
			debug: "true",
			want:  []string{"info line\n", "DEBUG: details\n", `***** CACHE HIT: "node"`, `***** CACHE MISS: "npm"`},
		},
		{
			name:      "invalid debug value",
			debug:     "yes please",
			want:      []string{"Warning: parsing BP_DEBUG"},
			wantNotIn: []string{"DEBUG: details"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			vars := map[string]string{}
			if tc.debug != "" {
				vars[env.DebugMode] = tc.debug
			}
			p, out := newTestPhase(t, vars)

			p.Logf("info %s", "line")
			p.Debugf("details")
			p.Warnf("careful")
			p.CacheHit("node")
			p.CacheMiss("npm")

			for _, w := range tc.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("output %q does not contain %q", out.String(), w)
				}
			}
			for _, w := range tc.wantNotIn {
				if strings.Contains(out.String(), w) {
					t.Errorf("output %q contains %q", out.String(), w)
				}
			}
		})
	}
}

func TestExec(t *testing.T) {
	p, _ := newTestPhase(t, nil)

	result, err := p.Exec([]string{"sh", "-c", "echo out; echo err >&2"})

	if err != nil {
		t.Fatalf("Exec() failed: %v", err)
	}
	if result.Stdout != "out" || result.Stderr != "err" || result.ExitCode != 0 {
		t.Errorf("Exec() = %+v, want stdout %q and stderr %q", result, "out", "err")
	}
	if !strings.Contains(result.Combined, "out") || !strings.Contains(result.Combined, "err") {
		t.Errorf("Combined = %q, want both streams", result.Combined)
	}
}

func TestExecOptions(t *testing.T) {
	p, _ := newTestPhase(t, nil)
	dir := t.TempDir()

	result, err := p.Exec([]string{"sh", "-c", `echo "$GREETING"; pwd`}, WithEnv("GREETING=hello"), WithWorkDir(dir))

	if err != nil {
		t.Fatalf("Exec() failed: %v", err)
	}
	lines := strings.Split(result.Stdout, "\n")
	if len(lines) != 2 || lines[0] != "hello" {
		t.Fatalf("Exec() stdout = %q, want greeting and working directory", result.Stdout)
	}
	if !strings.HasSuffix(lines[1], dir) {
		t.Errorf("working directory = %q, want %q", lines[1], dir)
	}
}

func TestExecDefaultsToAppDir(t *testing.T) {
	p, _ := newTestPhase(t, nil)

	result, err := p.Exec([]string{"pwd"})

	if err != nil {
		t.Fatalf("Exec() failed: %v", err)
	}
	if !strings.HasSuffix(result.Stdout, p.AppDir()) {
		t.Errorf("working directory = %q, want %q", result.Stdout, p.AppDir())
	}
}

func TestExecFailure(t *testing.T) {
	testCases := []struct {
		name       string
		opts       []ExecOption
		wantStatus buildererror.Status
		wantLogged bool
	}{
		{
			name:       "system command",
			wantStatus: buildererror.StatusInternal,
		},
		{
			name:       "user command",
			opts:       []ExecOption{WithUserAttribution},
			wantStatus: buildererror.StatusUnknown,
			wantLogged: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, out := newTestPhase(t, nil)
			cmd := []string{"sh", "-c", "echo compilation failed; exit 3"}

			result, err := p.Exec(cmd, tc.opts...)

			var be *buildererror.Error
			if !errors.As(err, &be) {
				t.Fatalf("Exec() error = %v, want a *buildererror.Error", err)
			}
			if result == nil || result.ExitCode != 3 {
				t.Errorf("Exec() result = %+v, want exit code 3", result)
			}
			if be.Status != tc.wantStatus {
				t.Errorf("Status = %v, want %v", be.Status, tc.wantStatus)
			}
			if be.ID != buildererror.GenerateErrorID(cmd...) {
				t.Errorf("ID = %q, want %q", be.ID, buildererror.GenerateErrorID(cmd...))
			}
			if got := strings.Contains(out.String(), "compilation failed"); got != tc.wantLogged {
				t.Errorf("command output logged = %t, want %t; output:\n%s", got, tc.wantLogged, out.String())
			}
		})
	}
}

func TestExecInvalidCommand(t *testing.T) {
	p, _ := newTestPhase(t, nil)

	for _, cmd := range [][]string{nil, {""}, {"/does/not/exist"}} {
		result, err := p.Exec(cmd)
		if err == nil {
			t.Errorf("Exec(%q) succeeded, want error", cmd)
		}
		if result != nil {
			t.Errorf("Exec(%q) result = %+v, want nil", cmd, result)
		}
	}
}
