// Copyright 2022 Google LLC
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

// Package version resolves version constraints against the versions a
// dependency is published in.
package version

import (
	"regexp"
	"sort"

	"github.com/GoogleCloudPlatform/cnbkit/pkg/buildererror"
	"github.com/Masterminds/semver"
)

var exactSemverRe = regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)

// ResolveVersion finds the largest version in a list of semantic versions that satisfies the
// provided constraint. An empty constraint selects the largest version. Versions in the list
// that are not semantic versions are ignored.
func ResolveVersion(constraint string, versions []string) (string, error) {
	if constraint == "" {
		constraint = "*"
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return "", buildererror.UserErrorf("invalid version constraint %q: %v", constraint, err)
	}

	var semvers []*semver.Version
	for _, v := range versions {
		s, err := semver.NewVersion(v)
		if err != nil {
			continue
		}
		semvers = append(semvers, s)
	}

	// Descending, so the first match is the highest.
	sort.Sort(sort.Reverse(semver.Collection(semvers)))
	for _, s := range semvers {
		if c.Check(s) {
			return s.String(), nil
		}
	}
	return "", buildererror.Errorf(buildererror.StatusNotFound, "no published version matches %q", constraint)
}

// IsExactSemver returns true if a given string is a complete semantic version,
// optionally prefixed with "v".
func IsExactSemver(constraint string) bool {
	return exactSemverRe.MatchString(constraint)
}

// Normalize returns the canonical form of an exact semantic version,
// without a "v" prefix.
func Normalize(v string) (string, error) {
	if !IsExactSemver(v) {
		return "", buildererror.UserErrorf("%q is not a semantic version", v)
	}
	s, err := semver.NewVersion(v)
	if err != nil {
		return "", buildererror.UserErrorf("%q is not a semantic version: %v", v, err)
	}
	return s.String(), nil
}
