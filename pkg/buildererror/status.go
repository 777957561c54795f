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
	"encoding/json"
	"fmt"
	"strings"
)

// Status classifies a buildpack failure. Values follow the canonical
// codes in https://github.com/googleapis/googleapis/blob/master/google/rpc/code.proto.
// All statuses are attributed to the user except StatusInternal.
type Status int

// Statuses a buildpack reports.
const (
	StatusOk                 Status = 0
	StatusCancelled          Status = 1
	StatusUnknown            Status = 2
	StatusInvalidArgument    Status = 3
	StatusNotFound           Status = 5
	StatusPermissionDenied   Status = 7
	StatusFailedPrecondition Status = 9
	StatusUnimplemented      Status = 12
	StatusInternal           Status = 13
	StatusUnavailable        Status = 14
)

var statusNames = map[Status]string{
	StatusOk:                 "OK",
	StatusCancelled:          "CANCELLED",
	StatusUnknown:            "UNKNOWN",
	StatusInvalidArgument:    "INVALID_ARGUMENT",
	StatusNotFound:           "NOT_FOUND",
	StatusPermissionDenied:   "PERMISSION_DENIED",
	StatusFailedPrecondition: "FAILED_PRECONDITION",
	StatusUnimplemented:      "UNIMPLEMENTED",
	StatusInternal:           "INTERNAL",
	StatusUnavailable:        "UNAVAILABLE",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus returns the Status named by s, ignoring case.
func ParseStatus(s string) (Status, error) {
	for st, name := range statusNames {
		if strings.EqualFold(name, s) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

var _ json.Marshaler = (*Status)(nil)
var _ json.Unmarshaler = (*Status)(nil)

// MarshalJSON marshals the enum as a quoted json string.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON unmashals a quoted json string to the enum value
func (s *Status) UnmarshalJSON(b []byte) error {
	var val string
	if err := json.Unmarshal(b, &val); err != nil {
		return err
	}
	st, err := ParseStatus(val)
	if err != nil {
		return err
	}
	*s = st
	return nil
}
