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

package buildererror

import (
	"bytes"
	"testing"
)

func TestUnmarshalJSON(t *testing.T) {
	var s Status
	if err := s.UnmarshalJSON([]byte(`"permission_denied"`)); err != nil {
		t.Fatal(err)
	}

	if want := StatusPermissionDenied; s != want {
		t.Errorf("status parsing failed got: %v, want: %v", s, want)
	}
}

func TestUnmarshalJSONUnknown(t *testing.T) {
	var s Status
	if err := s.UnmarshalJSON([]byte(`"NOT_A_STATUS"`)); err == nil {
		t.Error("UnmarshalJSON() succeeded, want error")
	}
}

func TestMarshalJSON(t *testing.T) {
	s := StatusUnavailable

	j, err := s.MarshalJSON()

	if err != nil {
		t.Fatalf("Failed to marshal %v: %v", s, err)
	}
	want := []byte(`"UNAVAILABLE"`)
	if !bytes.Equal(want, j) {
		t.Errorf("got %s, want %s", j, want)
	}
}

func TestStatusString(t *testing.T) {
	if got, want := Status(42).String(), "Status(42)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
