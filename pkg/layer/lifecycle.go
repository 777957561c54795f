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

package layer

import (
	"errors"
	"fmt"

	"github.com/GoogleCloudPlatform/cnbkit/pkg/layerenv"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/sbom"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/tomlfile"
)

// Outcome is the result of a lifecycle callback: an action, optionally with
// a cause explaining it, or a failure.
type Outcome[A, C any] struct {
	action A
	cause  *C
	err    error
}

// Action returns an Outcome carrying a without a cause.
func Action[A, C any](a A) Outcome[A, C] {
	return Outcome[A, C]{action: a}
}

// ActionWithCause returns an Outcome carrying a and the cause c.
func ActionWithCause[A, C any](a A, c C) Outcome[A, C] {
	return Outcome[A, C]{action: a, cause: &c}
}

// ActionFailed returns an Outcome that aborts the lifecycle with err.
func ActionFailed[A, C any](err error) Outcome[A, C] {
	return Outcome[A, C]{err: err}
}

// Normalize returns the action and its optional cause, or the failure.
func (o Outcome[A, C]) Normalize() (A, *C, error) {
	if o.err != nil {
		var zero A
		return zero, nil, o.err
	}
	return o.action, o.cause, nil
}

// InspectAction is the decision about an existing layer whose metadata was
// decoded successfully.
type InspectAction int

const (
	// InspectKeep keeps the layer as is.
	InspectKeep InspectAction = iota
	// InspectDelete deletes the layer and recreates it empty.
	InspectDelete
)

func (a InspectAction) String() string {
	if a == InspectDelete {
		return "delete"
	}
	return "keep"
}

// InvalidMetadataAction is the decision about an existing layer whose
// metadata could not be decoded.
type InvalidMetadataAction[M any] struct {
	replace     bool
	replacement M
}

// InvalidMetadataDelete deletes the layer and recreates it empty.
func InvalidMetadataDelete[M any]() InvalidMetadataAction[M] {
	return InvalidMetadataAction[M]{}
}

// InvalidMetadataReplace replaces the layer's metadata with m, typically the
// result of migrating an older metadata format. The layer is then
// inspected again as if it had been found with m on disk.
func InvalidMetadataReplace[M any](m M) InvalidMetadataAction[M] {
	return InvalidMetadataAction[M]{replace: true, replacement: m}
}

// Replacement returns the replacement metadata, if any.
func (a InvalidMetadataAction[M]) Replacement() (M, bool) {
	return a.replacement, a.replace
}

// NoCause is the cause type of layers whose callbacks never give a cause.
type NoCause struct{}

// CachedDefinition configures a layer that may be reused across builds.
// InvalidMetadata defaults to deleting the layer and InspectExisting
// defaults to keeping it.
type CachedDefinition[M, C any] struct {
	Build  bool
	Launch bool

	// InvalidMetadata is called with the raw metadata of a layer whose
	// metadata cannot be decoded into M.
	InvalidMetadata func(metadata GenericMetadata) Outcome[InvalidMetadataAction[M], C]

	// InspectExisting is called with the metadata and content directory of
	// an existing layer.
	InspectExisting func(metadata M, path string) Outcome[InspectAction, C]
}

// UncachedDefinition configures a layer that is recreated on every build.
type UncachedDefinition struct {
	Build  bool
	Launch bool
}

// State classifies the contents of a layer returned by the lifecycle.
type State int

const (
	// StateUncached is a new, empty layer with no previous version.
	StateUncached State = iota
	// StateReused is an existing layer that was kept.
	StateReused
	// StateRecreatedAfterInspect is a new, empty layer that replaced one
	// rejected by InspectExisting.
	StateRecreatedAfterInspect
	// StateRecreatedAfterInvalidMetadata is a new, empty layer that
	// replaced one with undecodable metadata.
	StateRecreatedAfterInvalidMetadata
)

// Contents describes what the lifecycle did to a layer and why.
type Contents[C any] struct {
	State State
	// Cause is the cause given by the callback that decided the outcome, if any.
	Cause *C
}

// Empty reports whether the layer's content directory was freshly created.
func (c Contents[C]) Empty() bool {
	return c.State != StateReused
}

func (c Contents[C]) String() string {
	because := ""
	if c.Cause != nil {
		because = fmt.Sprintf(", because %v", *c.Cause)
	}
	switch c.State {
	case StateReused:
		return "reused" + because
	case StateRecreatedAfterInspect:
		return "recreated after rejection" + because
	case StateRecreatedAfterInvalidMetadata:
		return "recreated after invalid metadata" + because
	}
	return "uncached"
}

// Ref is a handle to a layer that went through the lifecycle.
type Ref[C any] struct {
	layersDir string
	name      Name
	contents  Contents[C]
}

// Name returns the layer name.
func (r *Ref[C]) Name() Name {
	return r.name
}

// Path returns the layer's content directory.
func (r *Ref[C]) Path() string {
	return Dir(r.layersDir, r.name)
}

// Contents returns what the lifecycle did to the layer.
func (r *Ref[C]) Contents() Contents[C] {
	return r.contents
}

// ReplaceMetadata replaces the layer's metadata, keeping its types.
func (r *Ref[C]) ReplaceMetadata(metadata interface{}) error {
	return ReplaceMetadata(r.layersDir, r.name, metadata)
}

// ReadEnv reads the layer's environment contribution.
func (r *Ref[C]) ReadEnv() (*layerenv.LayerEnv, error) {
	e, err := layerenv.ReadFromLayerDir(r.Path())
	if err != nil {
		return nil, &Error{Op: "reading env", Name: r.name, Err: err}
	}
	return e, nil
}

// ReplaceEnv replaces the layer's environment contribution.
func (r *Ref[C]) ReplaceEnv(e *layerenv.LayerEnv) error {
	if err := e.WriteToLayerDir(r.Path()); err != nil {
		return &Error{Op: "writing env", Name: r.name, Err: err}
	}
	return nil
}

// ReplaceExecDPrograms replaces the layer's exec.d programs. Keys are the
// program names inside exec.d, values the paths of the programs to copy.
func (r *Ref[C]) ReplaceExecDPrograms(programs map[string]string) error {
	return ReplaceExecDPrograms(r.layersDir, r.name, programs)
}

// ReplaceSBOMs replaces the layer's SBOM files.
func (r *Ref[C]) ReplaceSBOMs(sboms ...sbom.SBOM) error {
	return ReplaceSBOMs(r.layersDir, r.name, sboms)
}

// Cached runs the lifecycle for a layer that may be reused across builds:
//
//  1. A missing layer is created empty.
//  2. A layer with metadata decodable into M is passed to InspectExisting,
//     then kept with its types updated, or deleted and recreated.
//  3. A layer with undecodable metadata is passed to InvalidMetadata, then
//     deleted and recreated, or given replacement metadata and run through
//     the lifecycle again from step 1.
//
// Callback failures are returned unchanged; every other error is a *Error.
func Cached[M, C any](layersDir string, name Name, def CachedDefinition[M, C]) (*Ref[C], error) {
	types := Types{Build: def.Build, Launch: def.Launch, Cache: true}
	return execute(layersDir, name, types, def.InvalidMetadata, def.InspectExisting)
}

// Uncached runs the lifecycle for a layer that is recreated on every build.
func Uncached(layersDir string, name Name, def UncachedDefinition) (*Ref[NoCause], error) {
	types := Types{Build: def.Build, Launch: def.Launch, Cache: false}
	return execute(layersDir, name, types,
		func(GenericMetadata) Outcome[InvalidMetadataAction[GenericMetadata], NoCause] {
			return Action[InvalidMetadataAction[GenericMetadata], NoCause](InvalidMetadataDelete[GenericMetadata]())
		},
		func(GenericMetadata, string) Outcome[InspectAction, NoCause] {
			return Action[InspectAction, NoCause](InspectDelete)
		})
}

func execute[M, C any](
	layersDir string,
	name Name,
	types Types,
	invalidMetadata func(GenericMetadata) Outcome[InvalidMetadataAction[M], C],
	inspectExisting func(M, string) Outcome[InspectAction, C],
) (*Ref[C], error) {
	// Each replacement of invalid metadata restarts the lifecycle. A
	// replacement that does not decode either leads back here, so a
	// migration that never produces decodable metadata does not terminate.
	for {
		data, err := Read[M](layersDir, name)
		var parseErr *MetadataParseError
		switch {
		case err == nil && data == nil:
			return create[C](layersDir, name, types, Contents[C]{State: StateUncached})

		case err == nil:
			action, cause, err := inspect(inspectExisting, data)
			if err != nil {
				return nil, err
			}
			if action == InspectDelete {
				if err := Delete(layersDir, name); err != nil {
					return nil, err
				}
				return create(layersDir, name, types, Contents[C]{State: StateRecreatedAfterInspect, Cause: cause})
			}
			// The lifecycle drops the cache flag when restoring metadata and
			// the requested types may have changed since the previous build.
			if err := ReplaceTypes(layersDir, name, types); err != nil {
				return nil, err
			}
			return &Ref[C]{layersDir: layersDir, name: name, contents: Contents[C]{State: StateReused, Cause: cause}}, nil

		case errors.As(err, &parseErr):
			raw, err := readRawMetadata(layersDir, name)
			if err != nil {
				return nil, err
			}
			action, cause, err := invalid(invalidMetadata, raw)
			if err != nil {
				return nil, err
			}
			if replacement, ok := action.Replacement(); ok {
				if err := ReplaceMetadata(layersDir, name, replacement); err != nil {
					return nil, err
				}
				continue
			}
			if err := Delete(layersDir, name); err != nil {
				return nil, err
			}
			return create(layersDir, name, types, Contents[C]{State: StateRecreatedAfterInvalidMetadata, Cause: cause})

		default:
			return nil, err
		}
	}
}

// readRawMetadata returns the payload of a layer whose metadata did not
// decode into the requested shape. Content that is not valid TOML at all is
// reported as empty metadata.
func readRawMetadata(layersDir string, name Name) (GenericMetadata, error) {
	cm, err := ReadGeneric(layersDir, name)
	if err == nil {
		return cm.Metadata, nil
	}
	var de *tomlfile.DecodeError
	if errors.As(err, &de) {
		return GenericMetadata{}, nil
	}
	return nil, &Error{Op: "reading raw metadata", Name: name, Err: err}
}

func inspect[M, C any](f func(M, string) Outcome[InspectAction, C], data *Data[M]) (InspectAction, *C, error) {
	if f == nil {
		return InspectKeep, nil, nil
	}
	return f(data.Metadata.Metadata, data.Path).Normalize()
}

func invalid[M, C any](f func(GenericMetadata) Outcome[InvalidMetadataAction[M], C], raw GenericMetadata) (InvalidMetadataAction[M], *C, error) {
	if f == nil {
		return InvalidMetadataDelete[M](), nil, nil
	}
	return f(raw).Normalize()
}

func create[C any](layersDir string, name Name, types Types, contents Contents[C]) (*Ref[C], error) {
	// An empty [metadata] table decodes into struct shaped payloads, so a
	// layer whose metadata is never replaced is still readable next build.
	if err := Write(layersDir, name, ContentMetadata[GenericMetadata]{Types: &types, Metadata: GenericMetadata{}}); err != nil {
		return nil, err
	}
	data, err := Read[GenericMetadata](layersDir, name)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, &Error{Op: "creating", Name: name, Err: fmt.Errorf("layer missing after it was written")}
	}
	return &Ref[C]{layersDir: layersDir, name: name, contents: contents}, nil
}
