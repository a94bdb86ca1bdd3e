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

	"github.com/google/uuid"
	"gitlab.com/flimzy/httpe"
)

const sessionCookie = "AuthSession"

// authenticated returns the name of the user making r, and whether the
// request may proceed.
func (s *Server) authenticated(r *http.Request) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.users) == 0 {
		return "", true
	}
	if name, password, ok := r.BasicAuth(); ok {
		if u, ok := s.users[name]; ok && u.password == password {
			return name, true
		}
		return "", false
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		if name, ok := s.sessions[cookie.Value]; ok {
			return name, true
		}
	}
	return "", false
}

func (s *Server) authMiddleware(next httpe.HandlerWithError) httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		if r.URL.Path == "/_session" {
			return next.ServeHTTPWithError(w, r)
		}
		if _, ok := s.authenticated(r); !ok {
			return errUnauthorize
		}
		return next.ServeHTTPWithError(w, r)
	})
}

func (s *Server) roles(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[name]; ok && u.roles != nil {
		return u.roles
	}
	return []string{}
}

func (s *Server) getSession() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		name, _ := s.authenticated(r)
		method := "cookie"
		if _, _, ok := r.BasicAuth(); ok {
			method = "default"
		}
		userCtx := map[string]interface{}{"name": nil, "roles": []string{}}
		info := map[string]interface{}{
			"authentication_handlers": []string{"cookie", "default"},
		}
		if name != "" {
			userCtx["name"] = name
			userCtx["roles"] = s.roles(name)
			info["authenticated"] = method
			info["authentication_db"] = "_users"
		}
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"ok":      true,
			"userCtx": userCtx,
			"info":    info,
		})
	})
}

func (s *Server) postSession() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var req struct {
			Name     string `json:"name"`
			Password string `json:"password"`
		}
		if err := bind(r, &req); err != nil {
			return err
		}
		s.mu.Lock()
		u, ok := s.users[req.Name]
		if !ok || u.password != req.Password {
			s.mu.Unlock()
			return errBadLogin
		}
		token := uuid.NewString()
		s.sessions[token] = req.Name
		s.mu.Unlock()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
		})
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"ok":    true,
			"name":  req.Name,
			"roles": s.roles(req.Name),
		})
	})
}

func (s *Server) deleteSession() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		if cookie, err := r.Cookie(sessionCookie); err == nil {
			s.mu.Lock()
			delete(s.sessions, cookie.Value)
			s.mu.Unlock()
		}
		http.SetCookie(w, &http.Cookie{
			Name:   sessionCookie,
			Value:  "",
			Path:   "/",
			MaxAge: -1,
		})
		return serveJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
}

// Sessions returns the number of open cookie sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
