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
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/GoogleCloudPlatform/cnbkit/pkg/tomlfile"
	"github.com/buildpacks/libcnb/v2"
)

// BuildPlan is the build plan a buildpack writes during detect: one set of
// provides and requires, plus alternatives the lifecycle may pick instead.
type BuildPlan struct {
	Provides []libcnb.BuildPlanProvide `toml:"provides,omitempty"`
	Requires []libcnb.BuildPlanRequire `toml:"requires,omitempty"`
	Or       []libcnb.BuildPlan        `toml:"or,omitempty"`
}

// BuildPlanBuilder accumulates a BuildPlan. Calling Or starts a new
// alternative; the first alternative becomes the top-level plan.
type BuildPlanBuilder struct {
	alternatives []libcnb.BuildPlan
	current      libcnb.BuildPlan
	err          error
}

// NewBuildPlanBuilder returns an empty builder.
func NewBuildPlanBuilder() *BuildPlanBuilder {
	return &BuildPlanBuilder{}
}

// Provides adds a provided dependency to the current alternative.
func (b *BuildPlanBuilder) Provides(name string) *BuildPlanBuilder {
	b.current.Provides = append(b.current.Provides, libcnb.BuildPlanProvide{Name: name})
	return b
}

// Requires adds a required dependency to the current alternative.
func (b *BuildPlanBuilder) Requires(name string) *BuildPlanBuilder {
	b.current.Requires = append(b.current.Requires, libcnb.BuildPlanRequire{Name: name})
	return b
}

// RequiresWithMetadata adds a required dependency whose metadata is
// metadata encoded as a TOML table.
func (b *BuildPlanBuilder) RequiresWithMetadata(name string, metadata interface{}) *BuildPlanBuilder {
	m, err := toTable(metadata)
	if err != nil {
		if b.err == nil {
			b.err = fmt.Errorf("encoding metadata of requirement %q: %w", name, err)
		}
		return b
	}
	b.current.Requires = append(b.current.Requires, libcnb.BuildPlanRequire{Name: name, Metadata: m})
	return b
}

// Or finishes the current alternative and starts a new one.
func (b *BuildPlanBuilder) Or() *BuildPlanBuilder {
	b.alternatives = append(b.alternatives, b.current)
	b.current = libcnb.BuildPlan{}
	return b
}

// Build returns the accumulated plan.
func (b *BuildPlanBuilder) Build() (BuildPlan, error) {
	if b.err != nil {
		return BuildPlan{}, b.err
	}
	all := append(append([]libcnb.BuildPlan{}, b.alternatives...), b.current)
	plan := BuildPlan{Provides: all[0].Provides, Requires: all[0].Requires}
	if len(all) > 1 {
		plan.Or = all[1:]
	}
	return plan, nil
}

// DecodePlanEntryMetadata decodes the metadata of a buildpack plan entry
// into v.
func DecodePlanEntryMetadata(entry libcnb.BuildpackPlanEntry, v interface{}) error {
	data, err := tomlfile.Encode(entry.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata of plan entry %q: %w", entry.Name, err)
	}
	if _, err := toml.Decode(string(data), v); err != nil {
		return fmt.Errorf("decoding metadata of plan entry %q: %w", entry.Name, err)
	}
	return nil
}

func toTable(v interface{}) (map[string]interface{}, error) {
	data, err := tomlfile.Encode(v)
	if err != nil {
		return nil, err
	}
	m := map[string]interface{}{}
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, err
	}
	return m, nil
}
