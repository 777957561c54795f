// Copyright 2020 Google LLC
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

// Package cache implements functions to generate cache keys that layer
// lifecycle callbacks compare against the hash stored with a layer.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// Buildpack identifies the buildpack computing a hash. Hashes differ across
// buildpacks and buildpack versions.
type Buildpack interface {
	BuildpackID() string
	BuildpackVersion() string
}

// Context is a Buildpack that can log cache decisions. Phase contexts
// satisfy it.
type Context interface {
	Buildpack
	Debugf(format string, args ...interface{})
	CacheHit(tag string)
	CacheMiss(tag string)
}

// Option is a function that returns strings to be hashed when computing a cache key.
type Option func() ([]string, error)

// WithStrings returns a cache option for string values.
func WithStrings(strings ...string) Option {
	return func() ([]string, error) {
		return strings, nil
	}
}

// WithFiles returns a cache option that hashes contents of the files. Callers can
// detect if a file did not exist by checking returned error values against
// os.IsNotExist(...).
func WithFiles(files ...string) Option {
	return func() ([]string, error) {
		var strings []string
		for _, f := range files {
			b, err := os.ReadFile(f)
			if err != nil {
				return nil, err
			}
			strings = append(strings, string(b))
		}
		return strings, nil
	}
}

// Hash creates a sha256 hash from the given cache options.
func Hash(bp Buildpack, opts ...Option) (string, error) {
	h := sha256.New()

	h.Write([]byte(bp.BuildpackID()))
	h.Write([]byte(bp.BuildpackVersion()))

	for _, opt := range opts {
		strings, err := opt()
		if err != nil {
			return "", err
		}
		for _, s := range strings {
			h.Write([]byte(s))
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashAndCheck computes a hash value according to the cache options provided
// and compares it with prevHash, the hash stored by a previous build. It
// returns the computed hash and whether it matches.
func HashAndCheck(ctx Context, tag, prevHash string, opts ...Option) (string, bool, error) {
	currHash, err := Hash(ctx, opts...)
	if err != nil {
		return "", false, fmt.Errorf("computing dependency hash: %w", err)
	}

	ctx.Debugf("Current dependency hash: %q", currHash)
	ctx.Debugf("  Cache dependency hash: %q", prevHash)

	if prevHash == "" {
		ctx.Debugf("No cache metadata found from a previous build for %q, skipping cache.", tag)
	}

	cached := currHash == prevHash
	if cached {
		ctx.CacheHit(tag)
	} else {
		ctx.CacheMiss(tag)
	}
	return currHash, cached, nil
}
