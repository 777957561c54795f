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

// Implements the examples/runtime buildpack.
// The runtime buildpack installs the runtime version named in runtime.txt
// into a cached layer and reuses it while the version and download location
// stay the same.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/GoogleCloudPlatform/cnbkit/pkg/buildpack"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/cache"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/fetch"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/layer"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/layerenv"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/version"
	"github.com/buildpacks/libcnb/v2"
)

const (
	planName    = "runtime"
	versionFile = "runtime.txt"
	// versionsFile lists the published runtime versions as a JSON array.
	versionsFile = "versions.json"
	layerName    = layer.Name("runtime")

	// downloadURLEnv overrides the location runtime archives are downloaded from.
	downloadURLEnv     = "RUNTIME_DOWNLOAD_URL"
	defaultDownloadURL = "https://storage.googleapis.com/cnbkit-runtimes"

	homeEnv         = "RUNTIME_HOME"
	execDProgram    = "runtime-env"
	storeVersionKey = "runtime-version"
)

// runtimeMetadata is stored with the runtime layer.
type runtimeMetadata struct {
	Version string `toml:"version"`
	Hash    string `toml:"hash"`
}

// Validate rejects metadata written without a version.
func (m runtimeMetadata) Validate() error {
	if m.Version == "" {
		return errors.New("version must not be empty")
	}
	return nil
}

func main() {
	buildpack.Main(detectFn, buildFn)
}

func detectFn(ctx *buildpack.DetectContext) (buildpack.DetectResult, error) {
	_, err := os.Stat(filepath.Join(ctx.AppDir(), versionFile))
	if errors.Is(err, fs.ErrNotExist) {
		return buildpack.OptOutFileNotFound(versionFile), nil
	}
	if err != nil {
		return buildpack.DetectResult{}, fmt.Errorf("checking %s: %w", versionFile, err)
	}
	plan, err := buildpack.NewBuildPlanBuilder().Provides(planName).Requires(planName).Build()
	if err != nil {
		return buildpack.DetectResult{}, err
	}
	return buildpack.OptInFileFound(versionFile, buildpack.WithBuildPlan(plan)), nil
}

func buildFn(ctx *buildpack.BuildContext) (buildpack.BuildResult, error) {
	base := downloadBase(ctx)
	runtimeVer, err := runtimeVersion(ctx, base)
	if err != nil {
		return buildpack.BuildResult{}, err
	}
	if s := ctx.Store(); s != nil {
		if prev, ok := s.Metadata[storeVersionKey]; ok {
			ctx.Debugf("Previous build used runtime %v", prev)
		}
	}

	url := fmt.Sprintf("%s/runtime-%s.tar.gz", base, runtimeVer)
	hash, err := cache.Hash(ctx, cache.WithStrings(runtimeVer, url))
	if err != nil {
		return buildpack.BuildResult{}, fmt.Errorf("computing runtime hash: %w", err)
	}

	l, err := buildpack.CachedLayer(ctx, layerName, layer.CachedDefinition[runtimeMetadata, string]{
		Build:           true,
		Launch:          true,
		InvalidMetadata: migrateMetadata(ctx),
		InspectExisting: func(m runtimeMetadata, _ string) layer.Outcome[layer.InspectAction, string] {
			if m.Version != runtimeVer {
				return layer.ActionWithCause[layer.InspectAction](layer.InspectDelete, fmt.Sprintf("runtime version changed from %s to %s", m.Version, runtimeVer))
			}
			// Layers migrated from "ver" metadata have no hash.
			if m.Hash != "" && m.Hash != hash {
				return layer.ActionWithCause[layer.InspectAction](layer.InspectDelete, "download location changed")
			}
			return layer.Action[layer.InspectAction, string](layer.InspectKeep)
		},
	})
	if err != nil {
		return buildpack.BuildResult{}, err
	}

	store := libcnb.Store{Metadata: map[string]interface{}{storeVersionKey: runtimeVer}}
	if !l.Contents().Empty() {
		ctx.Logf("Using cached runtime %s", runtimeVer)
		if err := l.ReplaceMetadata(runtimeMetadata{Version: runtimeVer, Hash: hash}); err != nil {
			return buildpack.BuildResult{}, err
		}
		return buildpack.Success(buildpack.WithStore(store)), nil
	}

	ctx.Logf("Installing runtime %s from %s", runtimeVer, url)
	if err := fetch.Tarball(url, l.Path(), 1); err != nil {
		return buildpack.BuildResult{}, err
	}
	if err := l.ReplaceEnv(layerenv.New().Chain(layerenv.All, layerenv.Override, homeEnv, l.Path())); err != nil {
		return buildpack.BuildResult{}, err
	}
	programs, err := execDPrograms(ctx)
	if err != nil {
		return buildpack.BuildResult{}, err
	}
	if err := l.ReplaceExecDPrograms(programs); err != nil {
		return buildpack.BuildResult{}, err
	}
	if err := l.ReplaceMetadata(runtimeMetadata{Version: runtimeVer, Hash: hash}); err != nil {
		return buildpack.BuildResult{}, err
	}
	return buildpack.Success(buildpack.WithStore(store)), nil
}

// runtimeVersion returns the version runtime.txt asks for. A constraint
// such as "~1.2" is resolved against the published versions.
func runtimeVersion(ctx *buildpack.BuildContext, base string) (string, error) {
	content, err := os.ReadFile(filepath.Join(ctx.AppDir(), versionFile))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", versionFile, err)
	}
	requested := strings.TrimSpace(string(content))
	if version.IsExactSemver(requested) {
		return version.Normalize(requested)
	}

	var published []string
	if err := fetch.JSON(base+"/"+versionsFile, &published); err != nil {
		return "", err
	}
	v, err := version.ResolveVersion(requested, published)
	if err != nil {
		return "", err
	}
	ctx.Logf("Resolved runtime version %q to %s", requested, v)
	return v, nil
}

func downloadBase(ctx *buildpack.BuildContext) string {
	base := defaultDownloadURL
	if v, ok := ctx.Env().Lookup(downloadURLEnv); ok && v != "" {
		base = v
	}
	return strings.TrimSuffix(base, "/")
}

// migrateMetadata converts metadata from buildpack versions that stored the
// runtime version under "ver". Anything else is discarded.
func migrateMetadata(ctx *buildpack.BuildContext) func(layer.GenericMetadata) layer.Outcome[layer.InvalidMetadataAction[runtimeMetadata], string] {
	return func(raw layer.GenericMetadata) layer.Outcome[layer.InvalidMetadataAction[runtimeMetadata], string] {
		if ver, ok := raw["ver"].(string); ok && ver != "" {
			ctx.Logf("Migrating runtime layer metadata from ver %s", ver)
			return layer.ActionWithCause(layer.InvalidMetadataReplace(runtimeMetadata{Version: ver}), "migrated metadata from ver")
		}
		return layer.ActionWithCause(layer.InvalidMetadataDelete[runtimeMetadata](), "unknown metadata")
	}
}

// execDPrograms returns the exec.d programs shipped in the buildpack's
// exec.d directory, if it has one.
func execDPrograms(ctx *buildpack.BuildContext) (map[string]string, error) {
	dir := filepath.Join(ctx.BuildpackDir(), "exec.d")
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		ctx.Debugf("No exec.d programs in %s", dir)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing exec.d programs: %w", err)
	}
	programs := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		programs[e.Name()] = filepath.Join(dir, e.Name())
	}
	return programs, nil
}
