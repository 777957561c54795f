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
	"io"

	"github.com/GoogleCloudPlatform/cnbkit/pkg/env"
	"github.com/sirupsen/logrus"
)

const (
	// cacheHitMessage is emitted by ctx.CacheHit(). Tests run through
	// internal/buildpacktest match on it.
	cacheHitMessage = "***** CACHE HIT:"

	// cacheMissMessage is emitted by ctx.CacheMiss(). Tests run through
	// internal/buildpacktest match on it.
	cacheMissMessage = "***** CACHE MISS:"
)

// messageFormatter writes only the message of an entry; level prefixes are
// part of the message.
type messageFormatter struct{}

func (messageFormatter) Format(e *logrus.Entry) ([]byte, error) {
	return append([]byte(e.Message), '\n'), nil
}

// phase holds what both phase contexts share: the logger and the
// environment the buildpack runs in.
type phase struct {
	log    *logrus.Logger
	env    env.Env
	appDir string
}

func newPhase(out io.Writer, e env.Env, appDir string) *phase {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(messageFormatter{})
	l.SetLevel(logrus.InfoLevel)

	p := &phase{log: l, env: e, appDir: appDir}
	debug, err := e.IsPresentAndTrue(env.DebugMode)
	if err != nil {
		p.Warnf("%v, debug logging stays disabled", err)
	}
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return p
}

// Env returns the environment the buildpack was started with.
func (p *phase) Env() env.Env {
	return p.env
}

// AppDir returns the root folder of the application code.
func (p *phase) AppDir() string {
	return p.appDir
}

// Debug reports whether debug logging is enabled.
func (p *phase) Debug() bool {
	return p.log.IsLevelEnabled(logrus.DebugLevel)
}

// Logf emits a structured logging line.
func (p *phase) Logf(format string, args ...interface{}) {
	p.log.Infof(format, args...)
}

// Debugf emits a structured logging line if the debug flag is set.
func (p *phase) Debugf(format string, args ...interface{}) {
	p.log.Debugf("DEBUG: "+format, args...)
}

// Warnf emits a structured logging line for warnings.
func (p *phase) Warnf(format string, args ...interface{}) {
	p.log.Warnf("Warning: "+format, args...)
}

// CacheHit records a cache hit debug message. Phase tests check for it in
// the buildpacktest output.
func (p *phase) CacheHit(tag string) {
	p.Debugf("%s %q", cacheHitMessage, tag)
}

// CacheMiss records a cache miss debug message. Phase tests check for it in
// the buildpacktest output.
func (p *phase) CacheMiss(tag string) {
	p.Debugf("%s %q", cacheMissMessage, tag)
}
