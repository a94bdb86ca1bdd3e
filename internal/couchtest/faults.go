// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package couchtest

import (
	"net/http"
	"strings"
)

// Fault describes a failure to inject in place of the normal response.
type Fault struct {
	// Method, if set, restricts the fault to requests with this method.
	Method string
	// Path, if set, restricts the fault to requests whose path begins with
	// this prefix.
	Path string
	// Times is the number of requests to fail. Zero means one.
	Times int

	// Status, Error and Reason form the error response sent.
	Status int
	Error  string
	Reason string
	// Drop closes the connection without sending any response.
	Drop bool
}

func (f *Fault) matches(r *http.Request) bool {
	if f.Method != "" && f.Method != r.Method {
		return false
	}
	return strings.HasPrefix(r.URL.Path, f.Path)
}

// Inject arranges for matching requests to fail. Faults are consulted in
// the order they were injected.
func (s *Server) Inject(f Fault) {
	if f.Times <= 0 {
		f.Times = 1
	}
	if f.Status == 0 {
		f.Status = http.StatusInternalServerError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &f)
}

// fault returns, and consumes, the first fault matching r.
func (s *Server) fault(r *http.Request) *Fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.faults {
		if !f.matches(r) {
			continue
		}
		f.Times--
		if f.Times == 0 {
			s.faults = append(s.faults[:i], s.faults[i+1:]...)
		}
		return f
	}
	return nil
}

// Pending returns the number of injected failures not yet triggered.
func (s *Server) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, f := range s.faults {
		n += f.Times
	}
	return n
}

func (s *Server) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := s.fault(r)
		switch {
		case f == nil:
			next.ServeHTTP(w, r)
		case f.Drop:
			panic(http.ErrAbortHandler)
		default:
			_ = serveJSON(w, f.Status, &couchError{
				status: f.Status,
				Err:    f.Error,
				Reason: f.Reason,
			})
		}
	})
}
