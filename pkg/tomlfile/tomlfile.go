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

// Package tomlfile reads and writes the TOML files exchanged with the lifecycle.
package tomlfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/rs/xid"
)

// DecodeError is returned by Read when a file exists but is not valid TOML
// or does not fit the target value.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Read decodes the TOML file at path into v. A missing file yields an error
// satisfying errors.Is(err, fs.ErrNotExist); undecodable content yields a
// *DecodeError.
func Read(path string, v interface{}) (toml.MetaData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return toml.MetaData{}, err
	}
	md, err := toml.Decode(string(data), v)
	if err != nil {
		return md, &DecodeError{Path: path, Err: err}
	}
	return md, nil
}

// Encode renders v as TOML.
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write encodes v and replaces the file at path with the result. The content
// is written to a sibling temporary file first, so readers never observe a
// partially written file.
func Write(path string, v interface{}) error {
	data, err := Encode(v)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", path)
	}
	return WriteBytes(path, data)
}

// WriteBytes atomically replaces the file at path with data.
func WriteBytes(path string, data []byte) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+xid.New().String()+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
