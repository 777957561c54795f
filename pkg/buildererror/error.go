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

// Package buildererror provides errors attributed to either the buildpack
// author's users or the buildpack itself.
package buildererror

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	errorIDLength = 8
)

// ID is a short error code passed to the user for supportability.
type ID string

// Error is a structured buildpack error.
type Error struct {
	BuildpackID      string `json:"buildpackId,omitempty"`
	BuildpackVersion string `json:"buildpackVersion,omitempty"`
	Status           Status `json:"canonicalCode"`
	ID               ID     `json:"errorId"`
	Message          string `json:"errorMessage"`

	cause error
}

func (e *Error) Error() string {
	if e.ID == "" {
		return e.Message
	}
	return fmt.Sprintf("%s [id:%s]", e.Message, e.ID)
}

// Unwrap returns the error e was created from, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// UserAttributed reports whether the error is caused by the application
// being built rather than by the buildpack.
func (e *Error) UserAttributed() bool {
	return e.Status != StatusInternal
}

// Errorf constructs an Error.
func Errorf(status Status, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{
		Status:  status,
		ID:      GenerateErrorID(msg),
		Message: msg,
	}
}

// Wrapf constructs an Error whose message is the formatted text followed
// by err's message. errors.Is and errors.As see through to err.
func Wrapf(err error, status Status, format string, args ...interface{}) *Error {
	e := Errorf(status, "%s: %v", fmt.Sprintf(format, args...), err)
	e.cause = err
	return e
}

// InternalErrorf constructs an Error attributed to the buildpack.
func InternalErrorf(format string, args ...interface{}) *Error {
	return Errorf(StatusInternal, format, args...)
}

// UserErrorf constructs an Error attributed to the application being built.
func UserErrorf(format string, args ...interface{}) *Error {
	return Errorf(StatusUnknown, format, args...)
}

// StatusOf returns the status of the first *Error in err's chain, or
// StatusInternal if there is none.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOk
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Status
	}
	return StatusInternal
}

// GenerateErrorID creates a short hash from the provided parts.
func GenerateErrorID(parts ...string) ID {
	h := sha256.New()
	for _, p := range parts {
		io.WriteString(h, p)
	}
	result := fmt.Sprintf("%x", h.Sum(nil))

	// Only a reporting aid, so the hash is truncated to stay readable.
	return ID(strings.ToLower(result[:errorIDLength]))
}
