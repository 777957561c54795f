// Copyright 2021 Google LLC
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

// Package buildpacktest contains utilities for testing buildpacks that
// use the `buildpack` package.
package buildpacktest

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GoogleCloudPlatform/cnbkit/pkg/buildpack"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/env"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/fileutil"
)

type buildpackPhase string

const (
	detectPhase buildpackPhase = "Detect"
	buildPhase  buildpackPhase = "Build"

	// runTestAsHelperProcessEnv is an env variable that signals the current
	// golang test being run is actually a child process of the main golang
	// test process. The child process is used to execute the buildpack phase
	// under test without impacting the main test process. The env value is
	// the buildpackPhase to execute.
	//
	// This is similar to how the exec package tests exec.Command
	// (see https://golang.org/src/os/exec/exec_test.go).
	runTestAsHelperProcessEnv = "RUN_TEST_AS_HELPER_PROCESS"

	// rootEnv passes the directory holding the phase's directories to the
	// child process.
	rootEnv = "BUILDPACKTEST_ROOT"

	defaultDescriptor = `
api = "0.10"

[buildpack]
id = "example/test"
name = "Test Buildpack"
version = "0.0.1"
`
)

// targetEnv is the target every phase runs for.
var targetEnv = []string{
	env.TargetOS + "=linux",
	env.TargetArch + "=amd64",
	env.TargetDistroName + "=ubuntu",
	env.TargetDistroVersion + "=22.04",
}

type config struct {
	buildpackPhase buildpackPhase
	buildFn        buildpack.BuildFn
	detectFn       buildpack.DetectFn
	testName       string
	files          map[string]string
	buildpackFiles map[string]string
	envs           []string
	appPath        string
	descriptor     string
	plan           string
	layersDir      string
}

// Result encapsulates the result of a buildpack phase ran as a child process.
type Result struct {
	// Output is the combined stdout and stderr of executing the build function
	// or detect function in a child process. Almost all buildpack output is
	// logged to stderr.
	//
	// Some extraneous Go test output appears in the Output here due to
	// re-using the main test binary as the entrypoint for the child process.
	Output string
	// ExitCode is the exit code of the child process that ran the buildpack
	// function.
	ExitCode int
	// LayersDir is the layers directory of a build.
	LayersDir string
	// PlanPath is the build plan written by detect, or the buildpack plan
	// read by build.
	PlanPath string
}

// CommandExecuted returns true if the command was executed using ctx.Exec
// with debug logging enabled.
func (r *Result) CommandExecuted(command string) bool {
	i := strings.Index(r.Output, "Running ")
	return i >= 0 && strings.Contains(r.Output[i:], command)
}

// Option is a type for buildpack test options.
type Option func(cfg *config)

// WithTestName specifies the test case name if a table-driven test is being
// used. This is important when invoking the test binary again as a child
// process to execute the buildpack phase.
func WithTestName(testName string) Option {
	return func(cfg *config) {
		cfg.testName = testName
	}
}

// WithApp specifies a directory whose content is copied into the
// application directory.
func WithApp(appPath string) Option {
	return func(cfg *config) {
		cfg.appPath = appPath
	}
}

// WithFiles specifies files, relative to the application directory, and
// their content.
func WithFiles(files map[string]string) Option {
	return func(cfg *config) {
		cfg.files = files
	}
}

// WithBuildpackFiles specifies files, relative to the buildpack directory,
// and their content.
func WithBuildpackFiles(files map[string]string) Option {
	return func(cfg *config) {
		cfg.buildpackFiles = files
	}
}

// WithEnvs specifies env vars to set for the buildpack test.
func WithEnvs(envs ...string) Option {
	return func(cfg *config) {
		cfg.envs = envs
	}
}

// WithDescriptor replaces the default buildpack.toml.
func WithDescriptor(content string) Option {
	return func(cfg *config) {
		cfg.descriptor = content
	}
}

// WithBuildpackPlan sets the content of the buildpack plan passed to build.
func WithBuildpackPlan(content string) Option {
	return func(cfg *config) {
		cfg.plan = content
	}
}

// WithLayersDir runs build against an existing layers directory, such as
// the one of a previous build.
func WithLayersDir(dir string) Option {
	return func(cfg *config) {
		cfg.layersDir = dir
	}
}

// TestDetect is a helper for testing a buildpack's implementation of /bin/detect.
// This MUST be called from a test function with the name `func TestDetect(t *testing.T)`
// A child process will be started that looks for that test name. The child
// process will run a buildpack phase instead of the test again, however.
func TestDetect(t *testing.T, detectFn buildpack.DetectFn, testName string, files map[string]string, envs []string, want buildpack.ExitCode) {
	t.Helper()
	result, err := RunDetect(t, detectFn, WithTestName(testName), WithFiles(files), WithEnvs(envs...))
	if err != nil && result == nil {
		t.Fatalf("running detect: %v", err)
	}

	if result.ExitCode != int(want) {
		t.Errorf("unexpected exit status %d, want %d", result.ExitCode, want)
		t.Errorf("\ncombined stdout, stderr: %s", result.Output)
	}
}

// RunDetect runs detectFn in a child process. This MUST be called from a
// test function with the name `func TestDetect(t *testing.T)`.
func RunDetect(t *testing.T, detectFn buildpack.DetectFn, opts ...Option) (*Result, error) {
	t.Helper()
	cfg := &config{
		buildpackPhase: detectPhase,
		detectFn:       detectFn,
	}
	for _, o := range opts {
		o(cfg)
	}
	return runBuildpackPhaseForTest(t, cfg)
}

// RunBuild is a helper for testing a buildpack's implementation of /bin/build.
// This MUST be called from a test function with the stub `func TestBuild(t *testing.T)`
// A child process will be started that looks for that test name. The child
// process will run a buildpack phase instead of the test again, however.
func RunBuild(t *testing.T, buildFn buildpack.BuildFn, opts ...Option) (*Result, error) {
	t.Helper()
	cfg := &config{
		buildpackPhase: buildPhase,
		buildFn:        buildFn,
	}
	for _, o := range opts {
		o(cfg)
	}
	return runBuildpackPhaseForTest(t, cfg)
}

// layout is the set of directories a phase runs with.
type layout struct {
	root         string
	appDir       string
	buildpackDir string
	platformDir  string
	layersDir    string
	planPath     string
}

func newLayout(root, layersDir string) layout {
	if layersDir == "" {
		layersDir = filepath.Join(root, "layers")
	}
	return layout{
		root:         root,
		appDir:       filepath.Join(root, "app"),
		buildpackDir: filepath.Join(root, "buildpack"),
		platformDir:  filepath.Join(root, "platform"),
		layersDir:    layersDir,
		planPath:     filepath.Join(root, "plan.toml"),
	}
}

// runBuildpackPhaseForTest runs a buildpack phase as a separate child process.
// A child process is used to avoid the test suite itself being terminated by
// the call to os.Exit() that ends every phase.
func runBuildpackPhaseForTest(t *testing.T, cfg *config) (*Result, error) {
	t.Helper()
	if bp := os.Getenv(runTestAsHelperProcessEnv); bp != "" {
		runBuildpackPhaseMain(cfg)
		return &Result{}, nil
	}

	root := t.TempDir()
	l := newLayout(root, cfg.layersDir)
	if err := setUp(l, cfg); err != nil {
		t.Fatalf("setting up buildpack phase: %v", err)
	}

	// Invoke buildpack phase in a separate process. This is done
	// by executing the current tests again in a separate process and adding
	// the env var that signals the buildpack phase should be run (args[0]
	// is the current running binary).
	testDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getting working directory: %v", err)
	}
	testBinary := filepath.Join(testDir, os.Args[0])
	if filepath.IsAbs(os.Args[0]) {
		testBinary = os.Args[0]
	}
	args := []string{fmt.Sprintf("-test.run=Test%s/^%s$", cfg.buildpackPhase, strings.ReplaceAll(cfg.testName, " ", "_"))}
	if cfg.testName == "" {
		args[0] = fmt.Sprintf("-test.run=^Test%s$", cfg.buildpackPhase)
	}
	cmd := exec.Command(testBinary, args...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", runTestAsHelperProcessEnv, cfg.buildpackPhase),
		fmt.Sprintf("%s=%s", rootEnv, root),
		fmt.Sprintf("%s=%s", env.BuildpackDir, l.buildpackDir),
		// Logs all ctx.Exec commands.
		fmt.Sprintf("%s=true", env.DebugMode),
	)
	cmd.Env = append(cmd.Env, targetEnv...)
	cmd.Env = append(cmd.Env, cfg.envs...)
	if cfg.layersDir != "" {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s_LAYERS=%s", rootEnv, cfg.layersDir))
	}

	t.Logf("running command %v", cmd)

	output, err := cmd.CombinedOutput()
	exitCode := 0
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		exitCode = ee.ExitCode()
	} else if err != nil {
		return nil, err
	}
	return &Result{
		// Almost all buildpack output is logged to Stderr.
		Output:    string(output),
		ExitCode:  exitCode,
		LayersDir: l.layersDir,
		PlanPath:  l.planPath,
	}, err
}

func setUp(l layout, cfg *config) error {
	for _, dir := range []string{l.appDir, l.buildpackDir, l.platformDir, l.layersDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	if cfg.appPath != "" {
		if err := fileutil.MaybeCopyPathContents(l.appDir, cfg.appPath, fileutil.AllPaths); err != nil {
			return fmt.Errorf("unable to copy app directory %q to %q: %w", cfg.appPath, l.appDir, err)
		}
	}
	descriptor := cfg.descriptor
	if descriptor == "" {
		descriptor = defaultDescriptor
	}
	files := map[string]string{filepath.Join(l.buildpackDir, "buildpack.toml"): descriptor}
	for f, c := range cfg.files {
		files[filepath.Join(l.appDir, f)] = c
	}
	for f, c := range cfg.buildpackFiles {
		files[filepath.Join(l.buildpackDir, f)] = c
	}
	if cfg.buildpackPhase == buildPhase {
		files[l.planPath] = cfg.plan
	}
	for fn, c := range files {
		if err := os.MkdirAll(filepath.Dir(fn), 0755); err != nil {
			return fmt.Errorf("creating directory tree %s: %w", filepath.Dir(fn), err)
		}
		if err := os.WriteFile(fn, []byte(c), 0755); err != nil {
			return fmt.Errorf("writing file %s: %w", fn, err)
		}
	}
	return nil
}

// runBuildpackPhaseMain runs a buildpack phase. It is the equivalent
// of `func main()` for a helper process and never returns.
func runBuildpackPhaseMain(cfg *config) {
	l := newLayout(os.Getenv(rootEnv), os.Getenv(rootEnv+"_LAYERS"))
	if err := os.Chdir(l.appDir); err != nil {
		fmt.Fprintf(os.Stderr, "changing to app dir %q: %v\n", l.appDir, err)
		os.Exit(1)
	}

	var args []string
	switch cfg.buildpackPhase {
	case detectPhase:
		args = []string{filepath.Join(l.buildpackDir, "bin", "detect"), l.platformDir, l.planPath}
	default:
		args = []string{filepath.Join(l.buildpackDir, "bin", "build"), l.layersDir, l.platformDir, l.planPath}
	}

	// Do not allow any other Go test validation to continue in the child
	// process.
	os.Exit(int(buildpack.Run(args, env.FromCurrent(), cfg.detectFn, cfg.buildFn)))
}
