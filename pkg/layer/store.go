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
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"

	"github.com/BurntSushi/toml"
	pkgerrors "github.com/pkg/errors"

	"github.com/GoogleCloudPlatform/cnbkit/pkg/fileutil"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/sbom"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/tomlfile"
)

// Data is a layer as found on disk.
type Data[M any] struct {
	Name     Name
	Path     string
	Metadata ContentMetadata[M]
}

// Dir returns the content directory of the named layer.
func Dir(layersDir string, name Name) string {
	return filepath.Join(layersDir, string(name))
}

// MetadataPath returns the path of the named layer's metadata file.
func MetadataPath(layersDir string, name Name) string {
	return filepath.Join(layersDir, string(name)+".toml")
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Read reads the named layer, decoding its metadata into M.
//
// Read returns nil if neither the layer directory nor its metadata file
// exist. A metadata file without a directory is deleted and reported as
// absent, and an empty metadata file is created for a directory without
// one. Metadata that cannot be decoded into M is reported as a
// *MetadataParseError.
func Read[M any](layersDir string, name Name) (*Data[M], error) {
	dir := Dir(layersDir, name)
	mdPath := MetadataPath(layersDir, name)

	dirExists, err := exists(dir)
	if err != nil {
		return nil, &Error{Op: "reading", Name: name, Err: err}
	}
	mdExists, err := exists(mdPath)
	if err != nil {
		return nil, &Error{Op: "reading", Name: name, Err: err}
	}

	switch {
	case !dirExists && !mdExists:
		return nil, nil
	case !dirExists:
		// Launch-only layers get their metadata restored without their
		// content. Such layers are treated as absent.
		if err := os.Remove(mdPath); err != nil {
			return nil, &Error{Op: "removing stray metadata", Name: name, Err: err}
		}
		return nil, nil
	case !mdExists:
		if err := os.WriteFile(mdPath, nil, 0644); err != nil {
			return nil, &Error{Op: "creating empty metadata", Name: name, Err: err}
		}
	}

	data, err := os.ReadFile(mdPath)
	if err != nil {
		return nil, &Error{Op: "reading", Name: name, Err: err}
	}
	cm, err := decodeStrict[M](data)
	if err != nil {
		return nil, &MetadataParseError{Name: name, Path: mdPath, Err: err}
	}
	return &Data[M]{Name: name, Path: dir, Metadata: cm}, nil
}

type validator interface {
	Validate() error
}

// decodeStrict decodes a metadata file into M. Unknown keys at the top
// level, in [types] and, for struct shaped payloads, in [metadata] are
// rejected, as is a missing [metadata] table when M cannot represent
// absence.
func decodeStrict[M any](data []byte) (ContentMetadata[M], error) {
	var raw struct {
		Types    *Types         `toml:"types"`
		Metadata toml.Primitive `toml:"metadata"`
	}
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return ContentMetadata[M]{}, err
	}

	var payload M
	kind := reflect.TypeOf(&payload).Elem().Kind()
	generic := kind == reflect.Map || kind == reflect.Interface

	if md.IsDefined("metadata") {
		if err := md.PrimitiveDecode(raw.Metadata, &payload); err != nil {
			return ContentMetadata[M]{}, err
		}
	} else if !generic && kind != reflect.Ptr {
		return ContentMetadata[M]{}, pkgerrors.New("missing [metadata] table")
	}

	for _, key := range md.Undecoded() {
		if generic && len(key) > 0 && key[0] == "metadata" {
			continue
		}
		return ContentMetadata[M]{}, pkgerrors.Errorf("unexpected key %q", key.String())
	}

	if md.IsDefined("metadata") {
		if v, ok := any(payload).(validator); ok {
			if err := v.Validate(); err != nil {
				return ContentMetadata[M]{}, err
			}
		} else if v, ok := any(&payload).(validator); ok {
			if err := v.Validate(); err != nil {
				return ContentMetadata[M]{}, err
			}
		}
	}

	return ContentMetadata[M]{Types: raw.Types, Metadata: payload}, nil
}

// ReadGeneric reads the named layer's metadata file without imposing a
// payload shape. Unknown [types] keys are ignored. A missing file yields an
// error satisfying errors.Is(err, fs.ErrNotExist); content that is not
// valid TOML yields a *tomlfile.DecodeError.
func ReadGeneric(layersDir string, name Name) (*ContentMetadata[GenericMetadata], error) {
	var raw map[string]interface{}
	if _, err := tomlfile.Read(MetadataPath(layersDir, name), &raw); err != nil {
		return nil, err
	}
	cm := &ContentMetadata[GenericMetadata]{Types: typesFromGeneric(raw["types"])}
	if m, ok := raw["metadata"].(map[string]interface{}); ok {
		cm.Metadata = m
	}
	return cm, nil
}

func typesFromGeneric(v interface{}) *Types {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	t := &Types{}
	t.Launch, _ = m["launch"].(bool)
	t.Build, _ = m["build"].(bool)
	t.Cache, _ = m["cache"].(bool)
	return t
}

// Write creates the named layer's directory if needed and replaces its
// metadata file with cm.
func Write[M any](layersDir string, name Name, cm ContentMetadata[M]) error {
	if err := os.MkdirAll(Dir(layersDir, name), 0755); err != nil {
		return &Error{Op: "creating directory", Name: name, Err: err}
	}
	if err := tomlfile.Write(MetadataPath(layersDir, name), cm); err != nil {
		return &Error{Op: "writing metadata", Name: name, Err: err}
	}
	return nil
}

// Delete removes the named layer's directory and metadata file. Missing
// artifacts are ignored. Read-only content is made writable before removal.
func Delete(layersDir string, name Name) error {
	if err := fileutil.RemoveAllForce(Dir(layersDir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &Error{Op: "deleting directory", Name: name, Err: err}
	}
	if err := os.Remove(MetadataPath(layersDir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &Error{Op: "deleting metadata", Name: name, Err: err}
	}
	return nil
}

// ReplaceTypes rewrites the types of the named layer, keeping its metadata.
// The metadata file must exist.
func ReplaceTypes(layersDir string, name Name, types Types) error {
	cm, err := ReadGeneric(layersDir, name)
	if err != nil {
		return &Error{Op: "replacing types", Name: name, Err: err}
	}
	cm.Types = &types
	if err := tomlfile.Write(MetadataPath(layersDir, name), cm); err != nil {
		return &Error{Op: "replacing types", Name: name, Err: err}
	}
	return nil
}

// ReplaceMetadata rewrites the metadata of the named layer, keeping its
// types. The metadata file must exist. If its current content is not valid
// TOML, for example after an interrupted write, the layer is left without
// types.
func ReplaceMetadata(layersDir string, name Name, metadata interface{}) error {
	var types *Types
	cm, err := ReadGeneric(layersDir, name)
	var de *tomlfile.DecodeError
	switch {
	case err == nil:
		types = cm.Types
	case errors.As(err, &de):
	default:
		return &Error{Op: "replacing metadata", Name: name, Err: err}
	}
	if err := tomlfile.Write(MetadataPath(layersDir, name), ContentMetadata[interface{}]{Types: types, Metadata: metadata}); err != nil {
		return &Error{Op: "replacing metadata", Name: name, Err: err}
	}
	return nil
}

func requireDir(layersDir string, name Name, op string) error {
	info, err := os.Stat(Dir(layersDir, name))
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return &Error{Op: op, Name: name, Err: pkgerrors.New("layer does not exist")}
	}
	if err != nil {
		return &Error{Op: op, Name: name, Err: err}
	}
	return nil
}

// ReplaceExecDPrograms replaces the exec.d directory of the named layer with
// copies of the given programs, keyed by the file name inside exec.d. The
// layer directory and every program must exist.
func ReplaceExecDPrograms(layersDir string, name Name, programs map[string]string) error {
	const op = "replacing exec.d programs"
	if err := requireDir(layersDir, name, op); err != nil {
		return err
	}

	execDDir := filepath.Join(Dir(layersDir, name), "exec.d")
	if err := os.RemoveAll(execDDir); err != nil {
		return &Error{Op: op, Name: name, Err: err}
	}
	if len(programs) == 0 {
		return nil
	}
	if err := os.MkdirAll(execDDir, 0755); err != nil {
		return &Error{Op: op, Name: name, Err: err}
	}

	names := make([]string, 0, len(programs))
	for n := range programs {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		src := programs[n]
		if ok, err := exists(src); err != nil || !ok {
			return &Error{Op: op, Name: name, Err: fmt.Errorf("exec.d program %q not found at %s", n, src)}
		}
		if err := fileutil.CopyFile(filepath.Join(execDDir, n), src); err != nil {
			return &Error{Op: op, Name: name, Err: err}
		}
	}
	return nil
}

// ReplaceSBOMs replaces the SBOM files of the named layer. The layer
// directory must exist.
func ReplaceSBOMs(layersDir string, name Name, sboms []sbom.SBOM) error {
	const op = "replacing SBOMs"
	if err := requireDir(layersDir, name, op); err != nil {
		return err
	}
	if err := sbom.RemoveAll(layersDir, string(name)); err != nil {
		return &Error{Op: op, Name: name, Err: err}
	}
	if err := sbom.Write(layersDir, string(name), sboms); err != nil {
		return &Error{Op: op, Name: name, Err: err}
	}
	return nil
}
