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
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/GoogleCloudPlatform/cnbkit/pkg/descriptor"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/env"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/layer"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/platform"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/tomlfile"
	"github.com/buildpacks/libcnb/v2"
)

// Target describes the image the application is built for.
type Target struct {
	OS            string
	Arch          string
	ArchVariant   string
	DistroName    string
	DistroVersion string
}

// targetFromEnv reads the target from the CNB_TARGET_* variables. Only the
// architecture variant is optional.
func targetFromEnv(e env.Env) (Target, error) {
	var missing []string
	get := func(name string) string {
		v, ok := e.Lookup(name)
		if !ok {
			missing = append(missing, name)
		}
		return v
	}
	t := Target{
		OS:            get(env.TargetOS),
		Arch:          get(env.TargetArch),
		ArchVariant:   e.Get(env.TargetArchVariant),
		DistroName:    get(env.TargetDistroName),
		DistroVersion: get(env.TargetDistroVersion),
	}
	if len(missing) > 0 {
		return Target{}, fmt.Errorf("missing environment variables %v", missing)
	}
	return t, nil
}

// common is what detect and build read before running the buildpack.
type common struct {
	*phase
	buildpackDir string
	descriptor   *descriptor.Descriptor
	platform     *platform.Platform
	target       Target
}

func newCommon(platformDir, buildpackDir string, e env.Env, cfg *config) (*common, error) {
	appDir, err := os.Getwd()
	if err != nil {
		return nil, newError(ErrorKindCannotDetermineAppDir, err)
	}
	d, err := descriptor.Read(buildpackDir)
	if err != nil {
		return nil, newError(ErrorKindCannotReadDescriptor, err)
	}
	p, err := platform.FromPath(platformDir)
	if err != nil {
		return nil, newError(ErrorKindCannotReadPlatform, err)
	}
	t, err := targetFromEnv(e)
	if err != nil {
		return nil, newError(ErrorKindCannotDetermineTarget, err)
	}
	return &common{
		phase:        newPhase(cfg.out, e, appDir),
		buildpackDir: buildpackDir,
		descriptor:   d,
		platform:     p,
		target:       t,
	}, nil
}

// BuildpackDir returns the root folder of the buildpack.
func (c *common) BuildpackDir() string {
	return c.buildpackDir
}

// Descriptor returns the buildpack's parsed buildpack.toml.
func (c *common) Descriptor() *descriptor.Descriptor {
	return c.descriptor
}

// BuildpackID returns the buildpack id.
func (c *common) BuildpackID() string {
	return string(c.descriptor.Buildpack.ID)
}

// BuildpackVersion returns the buildpack version.
func (c *common) BuildpackVersion() string {
	return c.descriptor.Buildpack.Version.String()
}

// BuildpackName returns the buildpack name.
func (c *common) BuildpackName() string {
	return c.descriptor.Buildpack.Name
}

// Platform returns the platform the buildpack runs on.
func (c *common) Platform() *platform.Platform {
	return c.platform
}

// Target returns the target the application is built for.
func (c *common) Target() Target {
	return c.target
}

// DetectContext is passed to the detect function.
type DetectContext struct {
	*common
}

// BuildContext is passed to the build function.
type BuildContext struct {
	*common
	layersDir string
	plan      libcnb.BuildpackPlan
	store     *libcnb.Store
}

func newBuildContext(layersDir, platformDir, planPath, buildpackDir string, e env.Env, cfg *config) (*BuildContext, error) {
	c, err := newCommon(platformDir, buildpackDir, e, cfg)
	if err != nil {
		return nil, err
	}
	var plan libcnb.BuildpackPlan
	if _, err := tomlfile.Read(planPath, &plan); err != nil {
		return nil, newError(ErrorKindCannotReadBuildpackPlan, err)
	}
	store, err := readStore(layersDir)
	if err != nil {
		return nil, newError(ErrorKindCannotReadStore, err)
	}
	return &BuildContext{common: c, layersDir: layersDir, plan: plan, store: store}, nil
}

func readStore(layersDir string) (*libcnb.Store, error) {
	store := &libcnb.Store{}
	if _, err := tomlfile.Read(filepath.Join(layersDir, storeFile), store); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return store, nil
}

// LayersDir returns the directory layers are created in.
func (ctx *BuildContext) LayersDir() string {
	return ctx.layersDir
}

// BuildpackPlan returns the entries this buildpack is asked to provide.
func (ctx *BuildContext) BuildpackPlan() libcnb.BuildpackPlan {
	return ctx.plan
}

// Store returns the store written by the previous build, or nil.
func (ctx *BuildContext) Store() *libcnb.Store {
	return ctx.store
}

// UncachedLayer returns an empty layer that is recreated on every build.
func (ctx *BuildContext) UncachedLayer(name layer.Name, def layer.UncachedDefinition) (*layer.Ref[layer.NoCause], error) {
	ref, err := layer.Uncached(ctx.layersDir, name, def)
	if err != nil {
		return nil, layerError(err)
	}
	ctx.Debugf("Layer %s: %s", name, ref.Contents())
	return ref, nil
}

// CachedLayer runs the lifecycle of a layer that is kept between builds
// while def's callbacks accept its content.
func CachedLayer[M, C any](ctx *BuildContext, name layer.Name, def layer.CachedDefinition[M, C]) (*layer.Ref[C], error) {
	ref, err := layer.Cached(ctx.layersDir, name, def)
	if err != nil {
		return nil, layerError(err)
	}
	if ref.Contents().State == layer.StateReused {
		ctx.CacheHit(name.String())
	} else {
		ctx.CacheMiss(name.String())
	}
	ctx.Debugf("Layer %s: %s", name, ref.Contents())
	return ref, nil
}

// layerError wraps failures of the layer store. Errors from lifecycle
// callbacks are the buildpack's own and are returned unchanged.
func layerError(err error) error {
	var le *layer.Error
	var pe *layer.MetadataParseError
	if errors.As(err, &le) || errors.As(err, &pe) {
		return newError(ErrorKindLayer, err)
	}
	return err
}
