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

// Package testserver provides utility functions for stubbing HTTP requests in tests.
package testserver

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type config struct {
	httpStatus   int
	responseFile string
	responseJSON string
	routes       map[string]string
	requests     *atomic.Int32
}

// Option configures test servers.
type Option func(o *config)

// WithStatus sets the http response code to return.
func WithStatus(httpStatus int) Option {
	return func(c *config) {
		c.httpStatus = httpStatus
	}
}

// WithJSON sets the payload the server sends in the response body. It is
// served as application/json.
func WithJSON(json string) Option {
	return func(c *config) {
		c.responseJSON = json
	}
}

// WithFile sets the path of a file the server should send as a response.
func WithFile(path string) Option {
	return func(c *config) {
		c.responseFile = path
	}
}

// WithRoutes serves each file under its URL path. Requests for any other
// path get a 404.
func WithRoutes(routes map[string]string) Option {
	return func(c *config) {
		c.routes = routes
	}
}

// WithRequestCounter counts the requests the server receives in n.
func WithRequestCounter(n *atomic.Int32) Option {
	return func(c *config) {
		c.requests = n
	}
}

// New creates and starts a test server with the provided configurations and returns it.
func New(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	options := config{}
	for _, o := range opts {
		o(&options)
	}

	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if options.requests != nil {
			options.requests.Add(1)
		}
		if options.routes != nil {
			file, ok := options.routes[r.URL.Path]
			if !ok {
				http.NotFound(w, r)
				return
			}
			http.ServeFile(w, r, file)
			return
		}
		if options.httpStatus != 0 {
			w.WriteHeader(options.httpStatus)
		}
		if options.responseFile != "" {
			http.ServeFile(w, r, options.responseFile)
			return
		}
		if options.responseJSON != "" {
			w.Header().Set("Content-Type", "application/json")
		}
		if _, err := w.Write([]byte(options.responseJSON)); err != nil {
			// Not using Fatalf because this runs in a separate Go Routine.
			t.Errorf("sending stubbed http response: %v", err)
		}
	}))
	t.Cleanup(svr.Close)

	return svr
}
