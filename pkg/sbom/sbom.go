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

// Package sbom describes Software Bill of Materials files contributed by a buildpack.
package sbom

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Format is an SBOM media type.
type Format string

// Formats supported by the lifecycle.
const (
	CycloneDXJSON Format = "application/vnd.cyclonedx+json"
	SPDXJSON      Format = "application/spdx+json"
	SyftJSON      Format = "application/vnd.syft+json"
)

// Formats lists every supported format.
var Formats = []Format{CycloneDXJSON, SPDXJSON, SyftJSON}

// Extension returns the file extension used for f, without a leading dot.
func (f Format) Extension() (string, error) {
	switch f {
	case CycloneDXJSON:
		return "cdx.json", nil
	case SPDXJSON:
		return "spdx.json", nil
	case SyftJSON:
		return "syft.json", nil
	}
	return "", fmt.Errorf("unknown SBOM format %q", string(f))
}

// SBOM is the content of one SBOM document in a given format.
type SBOM struct {
	Format Format
	Data   []byte
}

// FromBytes returns an SBOM with the given format and content.
func FromBytes(format Format, data []byte) SBOM {
	return SBOM{Format: format, Data: data}
}

// FromFile reads an SBOM document from path.
func FromFile(path string, format Format) (SBOM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SBOM{}, errors.Wrapf(err, "reading SBOM %s", path)
	}
	return SBOM{Format: format, Data: data}, nil
}

// Path returns <dir>/<stem>.sbom.<ext> for the given format.
func Path(dir, stem string, format Format) (string, error) {
	ext, err := format.Extension()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, stem+".sbom."+ext), nil
}

// Write writes each SBOM to <dir>/<stem>.sbom.<ext>.
func Write(dir, stem string, sboms []SBOM) error {
	for _, s := range sboms {
		path, err := Path(dir, stem, s.Format)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, s.Data, 0644); err != nil {
			return errors.Wrapf(err, "writing SBOM %s", path)
		}
	}
	return nil
}

// RemoveAll removes <dir>/<stem>.sbom.<ext> for every supported format.
// Missing files are ignored.
func RemoveAll(dir, stem string) error {
	for _, f := range Formats {
		path, err := Path(dir, stem, f)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "removing SBOM %s", path)
		}
	}
	return nil
}
