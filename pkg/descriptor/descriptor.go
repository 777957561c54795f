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

// Package descriptor models the buildpack.toml file that describes a buildpack.
package descriptor

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver"
	"github.com/pkg/errors"

	"github.com/GoogleCloudPlatform/cnbkit/pkg/tomlfile"
)

// FileName is the name of the descriptor file inside the buildpack directory.
const FileName = "buildpack.toml"

var (
	idRegexp = regexp.MustCompile(`^[[:alnum:]./-]+$`)

	reservedIDs = map[string]bool{"app": true, "config": true}
)

// API is a version of the Buildpack API, such as 0.10.
type API struct {
	Major uint64
	Minor uint64
}

// ParseAPI parses an API version of the form "X" or "X.Y".
func ParseAPI(s string) (API, error) {
	major, minor, hasMinor := strings.Cut(s, ".")
	var api API
	var err error
	if api.Major, err = strconv.ParseUint(major, 10, 64); err != nil {
		return API{}, errors.Errorf("invalid buildpack API version %q", s)
	}
	if hasMinor {
		if api.Minor, err = strconv.ParseUint(minor, 10, 64); err != nil {
			return API{}, errors.Errorf("invalid buildpack API version %q", s)
		}
	}
	return api, nil
}

func (a API) String() string {
	return fmt.Sprintf("%d.%d", a.Major, a.Minor)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *API) UnmarshalText(text []byte) error {
	parsed, err := ParseAPI(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (a API) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// ID is a validated buildpack id.
type ID string

// ParseID validates s as a buildpack id.
func ParseID(s string) (ID, error) {
	if !idRegexp.MatchString(s) || reservedIDs[s] {
		return "", errors.Errorf("invalid buildpack id %q", s)
	}
	return ID(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Version is a buildpack version in strict MAJOR.MINOR.PATCH form.
type Version struct {
	v *semver.Version
}

// ParseVersion parses s, rejecting anything but MAJOR.MINOR.PATCH.
func ParseVersion(s string) (Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, errors.Wrapf(err, "invalid buildpack version %q", s)
	}
	// semver accepts "1", "v1.2.3" and pre-release suffixes, none of which are valid here.
	if s != fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch()) {
		return Version{}, errors.Errorf("invalid buildpack version %q, want MAJOR.MINOR.PATCH", s)
	}
	return Version{v: v}, nil
}

func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Info is the [buildpack] table of the descriptor.
type Info struct {
	ID          ID        `toml:"id"`
	Name        string    `toml:"name"`
	Version     Version   `toml:"version"`
	Homepage    string    `toml:"homepage"`
	ClearEnv    bool      `toml:"clear-env"`
	Description string    `toml:"description"`
	Keywords    []string  `toml:"keywords"`
	Licenses    []License `toml:"licenses"`
	SBOMFormats []string  `toml:"sbom-formats"`
}

// License is one entry of the buildpack's licenses.
type License struct {
	Type string `toml:"type"`
	URI  string `toml:"uri"`
}

// Stack is a stack the buildpack is compatible with.
type Stack struct {
	ID     string   `toml:"id"`
	Mixins []string `toml:"mixins"`
}

// Target is a platform the buildpack is compatible with.
type Target struct {
	OS      string   `toml:"os"`
	Arch    string   `toml:"arch"`
	Variant string   `toml:"variant"`
	Distros []Distro `toml:"distros"`
}

// Distro is an operating system distribution of a Target.
type Distro struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Group is one group of a composite buildpack's order.
type Group struct {
	ID       ID      `toml:"id"`
	Version  Version `toml:"version"`
	Optional bool    `toml:"optional"`
}

// Order is one order entry of a composite buildpack.
type Order struct {
	Group []Group `toml:"group"`
}

// Descriptor is a parsed buildpack.toml.
type Descriptor struct {
	API       API            `toml:"api"`
	Buildpack Info           `toml:"buildpack"`
	Stacks    []Stack        `toml:"stacks"`
	Targets   []Target       `toml:"targets"`
	Order     []Order        `toml:"order"`
	Metadata  toml.Primitive `toml:"metadata"`

	md toml.MetaData
}

// DecodeMetadata decodes the [metadata] table into v. It is a no-op if the
// descriptor has no metadata table.
func (d *Descriptor) DecodeMetadata(v interface{}) error {
	if !d.md.IsDefined("metadata") {
		return nil
	}
	if err := d.md.PrimitiveDecode(d.Metadata, v); err != nil {
		return errors.Wrap(err, "decoding buildpack metadata")
	}
	return nil
}

// HasMetadata reports whether the descriptor has a [metadata] table.
func (d *Descriptor) HasMetadata() bool {
	return d.md.IsDefined("metadata")
}

// Read parses <buildpackDir>/buildpack.toml.
func Read(buildpackDir string) (*Descriptor, error) {
	path := filepath.Join(buildpackDir, FileName)
	d := &Descriptor{}
	md, err := tomlfile.Read(path, d)
	if err != nil {
		return nil, err
	}
	d.md = md
	if err := d.validate(); err != nil {
		return nil, errors.Wrapf(err, "validating %s", path)
	}
	return d, nil
}

func (d *Descriptor) validate() error {
	if !d.md.IsDefined("api") {
		return errors.New("missing api")
	}
	if d.Buildpack.ID == "" {
		return errors.New("missing buildpack.id")
	}
	if d.Buildpack.Name == "" {
		return errors.New("missing buildpack.name")
	}
	if d.Buildpack.Version.v == nil {
		return errors.New("missing buildpack.version")
	}
	return nil
}

// ReadAPI reads only the api key of <buildpackDir>/buildpack.toml, so that
// an API mismatch can be reported even when the rest of the descriptor is
// not understood by this version of the framework.
func ReadAPI(buildpackDir string) (API, error) {
	var apiOnly struct {
		API *API `toml:"api"`
	}
	path := filepath.Join(buildpackDir, FileName)
	if _, err := tomlfile.Read(path, &apiOnly); err != nil {
		return API{}, err
	}
	if apiOnly.API == nil {
		return API{}, errors.Errorf("missing api in %s", path)
	}
	return *apiOnly.API, nil
}
