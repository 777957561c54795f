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
	"os"
	"path/filepath"

	"github.com/GoogleCloudPlatform/cnbkit/pkg/env"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/launch"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/sbom"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/tomlfile"
	"github.com/buildpacks/libcnb/v2"
)

const (
	launchFile = "launch.toml"
	storeFile  = "store.toml"

	buildSBOMStem  = "build"
	launchSBOMStem = "launch"
)

// BuildResult is what a successful build contributes besides its layers.
type BuildResult struct {
	launch      *launch.Launch
	store       *libcnb.Store
	buildSBOMs  []sbom.SBOM
	launchSBOMs []sbom.SBOM
}

// BuildResultOption configures a BuildResult.
type BuildResultOption func(r *BuildResult)

// Success returns the result of a successful build.
func Success(opts ...BuildResultOption) BuildResult {
	r := BuildResult{}
	for _, o := range opts {
		o(&r)
	}
	return r
}

// WithLaunch sets the content of launch.toml.
func WithLaunch(l launch.Launch) BuildResultOption {
	return func(r *BuildResult) {
		r.launch = &l
	}
}

// WithStore sets the content of store.toml, which the next build reads back.
func WithStore(s libcnb.Store) BuildResultOption {
	return func(r *BuildResult) {
		r.store = &s
	}
}

// WithBuildSBOM adds SBOM documents describing the build image contributions
// that are not part of a layer.
func WithBuildSBOM(sboms ...sbom.SBOM) BuildResultOption {
	return func(r *BuildResult) {
		r.buildSBOMs = append(r.buildSBOMs, sboms...)
	}
}

// WithLaunchSBOM adds SBOM documents describing the launch image
// contributions that are not part of a layer.
func WithLaunchSBOM(sboms ...sbom.SBOM) BuildResultOption {
	return func(r *BuildResult) {
		r.launchSBOMs = append(r.launchSBOMs, sboms...)
	}
}

func runBuild(layersDir, platformDir, planPath, buildpackDir string, e env.Env, fn BuildFn, cfg *config) (ExitCode, error) {
	ctx, err := newBuildContext(layersDir, platformDir, planPath, buildpackDir, e, cfg)
	if err != nil {
		return ExitUnspecifiedError, err
	}
	ctx.Logf("======== %s@%s ========", ctx.BuildpackID(), ctx.BuildpackVersion())
	ctx.Logf("%s", ctx.BuildpackName())

	result, err := fn(ctx)
	if err != nil {
		return ExitUnspecifiedError, buildpackError(err)
	}
	if err := writeBuildResult(layersDir, result); err != nil {
		return ExitUnspecifiedError, err
	}
	return ExitSuccess, nil
}

// resultFile is a file written to the layers directory after a successful
// build.
type resultFile struct {
	path string
	data []byte
	kind ErrorKind
}

// writeBuildResult writes the files of r. Everything is encoded before the
// first write, and files already written are removed when a later write
// fails.
func writeBuildResult(layersDir string, r BuildResult) error {
	files, err := encodeBuildResult(layersDir, r)
	if err != nil {
		return err
	}
	var written []string
	for _, f := range files {
		if err := tomlfile.WriteBytes(f.path, f.data); err != nil {
			for _, path := range written {
				os.Remove(path)
			}
			return newError(f.kind, err)
		}
		written = append(written, f.path)
	}
	return nil
}

func encodeBuildResult(layersDir string, r BuildResult) ([]resultFile, error) {
	var files []resultFile
	if r.launch != nil {
		if err := r.launch.Validate(); err != nil {
			return nil, newError(ErrorKindCannotWriteLaunch, err)
		}
		data, err := tomlfile.Encode(r.launch)
		if err != nil {
			return nil, newError(ErrorKindCannotWriteLaunch, err)
		}
		files = append(files, resultFile{path: filepath.Join(layersDir, launchFile), data: data, kind: ErrorKindCannotWriteLaunch})
	}
	if r.store != nil {
		data, err := tomlfile.Encode(r.store)
		if err != nil {
			return nil, newError(ErrorKindCannotWriteStore, err)
		}
		files = append(files, resultFile{path: filepath.Join(layersDir, storeFile), data: data, kind: ErrorKindCannotWriteStore})
	}
	for _, set := range []struct {
		stem  string
		sboms []sbom.SBOM
	}{
		{buildSBOMStem, r.buildSBOMs},
		{launchSBOMStem, r.launchSBOMs},
	} {
		for _, s := range set.sboms {
			path, err := sbom.Path(layersDir, set.stem, s.Format)
			if err != nil {
				return nil, newError(ErrorKindCannotWriteSBOM, err)
			}
			files = append(files, resultFile{path: path, data: s.Data, kind: ErrorKindCannotWriteSBOM})
		}
	}
	return files, nil
}
