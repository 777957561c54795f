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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/buildererror"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/env"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/launch"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/layer"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/sbom"
	"github.com/buildpacks/libcnb/v2"
	"github.com/google/go-cmp/cmp"
)

const testBuildpackPlan = `
[[entries]]
name = "node"

[entries.metadata]
version = "20"
`

type runtimeMetadata struct {
	Version string `toml:"version"`
}

func webLaunch() launch.Launch {
	return launch.NewBuilder().
		Process(launch.NewProcess("web", []string{"node", "server.js"}, launch.AsDefault)).
		Label("org.example.runtime", "node").
		Build()
}

func TestBuildWritesResults(t *testing.T) {
	f := newFixture(t, "0.10")
	writeTestFile(t, f.planPath, testBuildpackPlan)
	writeTestFile(t, filepath.Join(f.layersDir, "store.toml"), "[metadata]\nruns = 1\n")

	var gotPlan libcnb.BuildpackPlan
	var gotStore *libcnb.Store
	code := f.build(func(ctx *BuildContext) (BuildResult, error) {
		gotPlan = ctx.BuildpackPlan()
		gotStore = ctx.Store()
		if _, err := ctx.UncachedLayer("web", layer.UncachedDefinition{Launch: true}); err != nil {
			return BuildResult{}, err
		}
		return Success(
			WithLaunch(webLaunch()),
			WithStore(libcnb.Store{Metadata: map[string]interface{}{"runs": 2}}),
			WithLaunchSBOM(sbom.FromBytes(sbom.CycloneDXJSON, []byte(`{"bomFormat":"CycloneDX"}`))),
		), nil
	})

	if code != ExitSuccess {
		t.Fatalf("build exit code = %d, want %d; output:\n%s", code, ExitSuccess, f.out.String())
	}
	if len(gotPlan.Entries) != 1 || gotPlan.Entries[0].Name != "node" {
		t.Errorf("BuildpackPlan() = %+v, want one entry named node", gotPlan)
	}
	if gotStore == nil || gotStore.Metadata["runs"] != int64(1) {
		t.Errorf("Store() = %+v, want runs = 1", gotStore)
	}

	var gotLaunch launch.Launch
	if _, err := toml.DecodeFile(filepath.Join(f.layersDir, "launch.toml"), &gotLaunch); err != nil {
		t.Fatalf("decoding launch.toml: %v", err)
	}
	if diff := cmp.Diff(webLaunch(), gotLaunch); diff != "" {
		t.Errorf("launch.toml mismatch (-want +got):\n%s", diff)
	}
	var store libcnb.Store
	if _, err := toml.DecodeFile(filepath.Join(f.layersDir, "store.toml"), &store); err != nil {
		t.Fatalf("decoding store.toml: %v", err)
	}
	if store.Metadata["runs"] != int64(2) {
		t.Errorf("store.toml metadata = %v, want runs = 2", store.Metadata)
	}
	if !exists(t, filepath.Join(f.layersDir, "launch.sbom.cdx.json")) {
		t.Error("launch SBOM was not written")
	}
	for _, name := range []string{"build.sbom.cdx.json", "build.sbom.spdx.json", "build.sbom.syft.json"} {
		if exists(t, filepath.Join(f.layersDir, name)) {
			t.Errorf("%s written although no build SBOM was set", name)
		}
	}
	if !exists(t, filepath.Join(f.layersDir, "web")) {
		t.Error("layer directory was not created")
	}
	if !strings.Contains(f.out.String(), "======== example/test@1.2.3 ========") {
		t.Errorf("output %q does not contain the buildpack header", f.out.String())
	}
}

func TestBuildWithoutOptionalOutputs(t *testing.T) {
	f := newFixture(t, "0.10")
	writeTestFile(t, f.planPath, "")

	code := f.build(func(ctx *BuildContext) (BuildResult, error) {
		if ctx.Store() != nil {
			t.Errorf("Store() = %+v, want nil without store.toml", ctx.Store())
		}
		return Success(), nil
	})

	if code != ExitSuccess {
		t.Fatalf("build exit code = %d, want %d; output:\n%s", code, ExitSuccess, f.out.String())
	}
	entries, err := os.ReadDir(f.layersDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("layers dir has %d entries, want 0", len(entries))
	}
}

func TestBuildErrors(t *testing.T) {
	errBoom := errors.New("boom")
	testCases := []struct {
		name     string
		mutate   func(t *testing.T, f *fixture)
		fn       BuildFn
		wantKind ErrorKind
		wantErr  error
	}{
		{
			name: "buildpack error",
			fn: func(*BuildContext) (BuildResult, error) {
				return Success(WithLaunch(webLaunch()), WithStore(libcnb.Store{Metadata: map[string]interface{}{"runs": 1}})), errBoom
			},
			wantKind: ErrorKindBuildpack,
			wantErr:  errBoom,
		},
		{
			name: "missing buildpack plan",
			mutate: func(t *testing.T, f *fixture) {
				if err := os.Remove(f.planPath); err != nil {
					t.Fatal(err)
				}
			},
			wantKind: ErrorKindCannotReadBuildpackPlan,
			wantErr:  os.ErrNotExist,
		},
		{
			name: "malformed store",
			mutate: func(t *testing.T, f *fixture) {
				writeTestFile(t, filepath.Join(f.layersDir, "store.toml"), "[metadata")
			},
			wantKind: ErrorKindCannotReadStore,
		},
		{
			name: "two default processes",
			fn: func(*BuildContext) (BuildResult, error) {
				l := launch.NewBuilder().
					Process(launch.NewProcess("web", []string{"node"}, launch.AsDefault)).
					Process(launch.NewProcess("worker", []string{"node"}, launch.AsDefault)).
					Build()
				return Success(WithLaunch(l)), nil
			},
			wantKind: ErrorKindCannotWriteLaunch,
		},
		{
			name: "SBOM write failure",
			mutate: func(t *testing.T, f *fixture) {
				// A directory cannot be replaced by the SBOM file.
				writeTestFile(t, filepath.Join(f.layersDir, "launch.sbom.cdx.json", "x"), "")
			},
			fn: func(*BuildContext) (BuildResult, error) {
				return Success(
					WithLaunch(webLaunch()),
					WithStore(libcnb.Store{Metadata: map[string]interface{}{"runs": 1}}),
					WithLaunchSBOM(sbom.FromBytes(sbom.CycloneDXJSON, []byte(`{"bomFormat":"CycloneDX"}`))),
				), nil
			},
			wantKind: ErrorKindCannotWriteSBOM,
		},
		{
			name: "layer store failure",
			mutate: func(t *testing.T, f *fixture) {
				// A directory in place of the metadata file cannot be removed.
				writeTestFile(t, filepath.Join(f.layersDir, "node.toml", "x"), "")
			},
			fn: func(ctx *BuildContext) (BuildResult, error) {
				_, err := CachedLayer(ctx, "node", layer.CachedDefinition[runtimeMetadata, string]{Launch: true})
				return BuildResult{}, err
			},
			wantKind: ErrorKindLayer,
		},
		{
			name: "layer callback failure",
			mutate: func(t *testing.T, f *fixture) {
				writeTestFile(t, filepath.Join(f.layersDir, "node.toml"), "[metadata]\nversion = \"18\"\n")
				if err := os.Mkdir(filepath.Join(f.layersDir, "node"), 0755); err != nil {
					t.Fatal(err)
				}
			},
			fn: func(ctx *BuildContext) (BuildResult, error) {
				_, err := CachedLayer(ctx, "node", layer.CachedDefinition[runtimeMetadata, string]{
					InspectExisting: func(runtimeMetadata, string) layer.Outcome[layer.InspectAction, string] {
						return layer.ActionFailed[layer.InspectAction, string](errBoom)
					},
				})
				return BuildResult{}, err
			},
			wantKind: ErrorKindBuildpack,
			wantErr:  errBoom,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, "0.10")
			writeTestFile(t, f.planPath, testBuildpackPlan)
			if tc.mutate != nil {
				tc.mutate(t, f)
			}
			results := []string{"launch.toml"}
			if !exists(t, filepath.Join(f.layersDir, "store.toml")) {
				results = append(results, "store.toml")
			}
			fn := tc.fn
			if fn == nil {
				fn = func(*BuildContext) (BuildResult, error) {
					return Success(WithLaunch(webLaunch())), nil
				}
			}

			got := f.build(fn)

			if got != ExitUnspecifiedError {
				t.Errorf("build exit code = %d, want %d", got, ExitUnspecifiedError)
			}
			if len(f.handled) != 1 {
				t.Fatalf("error handler called %d times, want 1", len(f.handled))
			}
			var be *Error
			if !errors.As(f.handled[0], &be) || be.Kind != tc.wantKind {
				t.Errorf("handled error = %v, want kind %v", f.handled[0], tc.wantKind)
			}
			if tc.wantErr != nil && !errors.Is(f.handled[0], tc.wantErr) {
				t.Errorf("handled error = %v, want to wrap %v", f.handled[0], tc.wantErr)
			}
			for _, name := range results {
				if exists(t, filepath.Join(f.layersDir, name)) {
					t.Errorf("%s written by a failed build", name)
				}
			}
		})
	}
}

func TestBuildReturningExecError(t *testing.T) {
	f := newFixture(t, "0.10")
	writeTestFile(t, f.planPath, "")

	code := f.build(func(ctx *BuildContext) (BuildResult, error) {
		_, err := ctx.Exec([]string{"true"})
		return Success(), err
	})

	if code != ExitSuccess {
		t.Errorf("build exit code = %d, want %d; handled errors: %v", code, ExitSuccess, f.handled)
	}
	if len(f.handled) != 0 {
		t.Errorf("error handler called with %v, want no calls", f.handled)
	}

	code = f.build(func(ctx *BuildContext) (BuildResult, error) {
		_, err := ctx.Exec([]string{"false"})
		return Success(), err
	})

	if code != ExitUnspecifiedError {
		t.Errorf("build exit code = %d, want %d", code, ExitUnspecifiedError)
	}
	if len(f.handled) != 1 {
		t.Fatalf("error handler called %d times, want 1", len(f.handled))
	}
	var be *buildererror.Error
	if !errors.As(f.handled[0], &be) || be.Status != buildererror.StatusInternal {
		t.Errorf("handled error = %v, want an internal builder error", f.handled[0])
	}
}

func TestBuildCachedLayerAcrossBuilds(t *testing.T) {
	f := newFixture(t, "0.10")
	writeTestFile(t, f.planPath, testBuildpackPlan)
	f.env = f.env.With(env.DebugMode, "true")
	def := layer.CachedDefinition[runtimeMetadata, string]{
		Launch: true,
		InspectExisting: func(m runtimeMetadata, _ string) layer.Outcome[layer.InspectAction, string] {
			if m.Version != "20" {
				return layer.ActionWithCause(layer.InspectDelete, "version changed")
			}
			return layer.ActionWithCause(layer.InspectKeep, "version unchanged")
		},
	}
	buildFn := func(ctx *BuildContext) (BuildResult, error) {
		ref, err := CachedLayer(ctx, "node", def)
		if err != nil {
			return BuildResult{}, err
		}
		if ref.Contents().Empty() {
			if err := ref.ReplaceMetadata(runtimeMetadata{Version: "20"}); err != nil {
				return BuildResult{}, err
			}
		}
		return Success(), nil
	}

	if code := f.build(buildFn); code != ExitSuccess {
		t.Fatalf("first build exit code = %d; output:\n%s", code, f.out.String())
	}
	if !strings.Contains(f.out.String(), `***** CACHE MISS: "node"`) {
		t.Errorf("first build output %q does not report a cache miss", f.out.String())
	}
	f.out.Reset()
	if code := f.build(buildFn); code != ExitSuccess {
		t.Fatalf("second build exit code = %d; output:\n%s", code, f.out.String())
	}
	if !strings.Contains(f.out.String(), `***** CACHE HIT: "node"`) {
		t.Errorf("second build output %q does not report a cache hit", f.out.String())
	}
	if !strings.Contains(f.out.String(), "reused, because version unchanged") {
		t.Errorf("second build output %q does not report the layer state", f.out.String())
	}
}
