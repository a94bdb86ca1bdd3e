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

	"gitlab.com/flimzy/httpe"
)

func (s *Server) getSecurity() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.dbLocked(param(r, "db"))
		if err != nil {
			return err
		}
		if db.security == nil {
			return serveJSON(w, http.StatusOK, map[string]interface{}{})
		}
		return serveJSON(w, http.StatusOK, db.security)
	})
}

func (s *Server) putSecurity() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var body map[string]interface{}
		if err := bind(r, &body); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.dbLocked(param(r, "db"))
		if err != nil {
			return err
		}
		db.security = body
		return serveJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
}

// Security returns the security document of a database, or nil if none
// has been set.
func (s *Server) Security(dbName string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[dbName]; ok {
		return db.security
	}
	return nil
}
