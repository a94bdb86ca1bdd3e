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

// Package couchtest provides an in-memory CouchDB-like HTTP server for
// tests, with hooks to inject failures and to drop streaming connections.
package couchtest

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"gitlab.com/flimzy/httpe"
)

// Server is a fake CouchDB server.
type Server struct {
	mux *chi.Mux
	srv *httptest.Server

	mu       sync.Mutex
	dbs      map[string]*database
	updates  []dbUpdate
	users    map[string]user
	sessions map[string]string
	views    map[string]MapFunc
	faults   []*Fault
	requests []string
	feeds    int

	// notify is closed, and replaced, whenever data changes.
	notify chan struct{}
	// drop is closed, and replaced, to sever open feeds.
	drop chan struct{}
}

type user struct {
	password string
	roles    []string
}

// Option configures a Server.
type Option func(*Server)

// WithUser adds a user account. Once any user exists, all requests other
// than those to /_session must be authenticated, either with HTTP basic
// auth or with a session cookie.
func WithUser(name, password string, roles ...string) Option {
	return func(s *Server) {
		s.users[name] = user{password: password, roles: roles}
	}
}

// New starts a server, which is shut down when the test completes.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		mux:      chi.NewMux(),
		dbs:      map[string]*database{},
		users:    map[string]user{},
		sessions: map[string]string{},
		views:    map[string]MapFunc{},
		notify:   make(chan struct{}),
		drop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes(s.mux)
	s.srv = httptest.NewServer(s.mux)
	t.Cleanup(s.Close)
	return s
}

// Close shuts the server down, severing open feeds.
func (s *Server) Close() {
	s.DropFeeds()
	s.srv.Close()
}

// URL returns the server's base URL.
func (s *Server) URL() string {
	return s.srv.URL + "/"
}

// DSN returns the server's base URL with the given credentials.
func (s *Server) DSN(name, password string) string {
	u, _ := url.Parse(s.URL())
	u.User = url.UserPassword(name, password)
	return u.String()
}

func (s *Server) routes(mux *chi.Mux) {
	mux.Use(
		s.record,
		s.injectFaults,
	)
	mux.Get("/{db}/_changes", s.changes)

	api := mux.With(
		httpe.ToMiddleware(s.handleErrors),
		httpe.ToMiddleware(s.authMiddleware),
	)
	api.Get("/", httpe.ToHandler(s.root()).ServeHTTP)
	api.Get("/_session", httpe.ToHandler(s.getSession()).ServeHTTP)
	api.Post("/_session", httpe.ToHandler(s.postSession()).ServeHTTP)
	api.Delete("/_session", httpe.ToHandler(s.deleteSession()).ServeHTTP)
	api.Get("/_all_dbs", httpe.ToHandler(s.allDBs()).ServeHTTP)
	api.Get("/_db_updates", httpe.ToHandler(s.dbUpdates()).ServeHTTP)

	api.Put("/{db}", httpe.ToHandler(s.createDB()).ServeHTTP)
	api.Get("/{db}", httpe.ToHandler(s.db()).ServeHTTP)
	api.Delete("/{db}", httpe.ToHandler(s.destroyDB()).ServeHTTP)
	api.Post("/{db}", httpe.ToHandler(s.postDoc()).ServeHTTP)
	api.Get("/{db}/_all_docs", httpe.ToHandler(s.allDocs()).ServeHTTP)
	api.Get("/{db}/_security", httpe.ToHandler(s.getSecurity()).ServeHTTP)
	api.Put("/{db}/_security", httpe.ToHandler(s.putSecurity()).ServeHTTP)
	api.Get("/{db}/_design/{ddoc}/_view/{view}", httpe.ToHandler(s.view()).ServeHTTP)
	api.Get("/{db}/_design/{ddoc}", httpe.ToHandler(s.getDoc()).ServeHTTP)
	api.Put("/{db}/_design/{ddoc}", httpe.ToHandler(s.putDoc()).ServeHTTP)
	api.Delete("/{db}/_design/{ddoc}", httpe.ToHandler(s.deleteDoc()).ServeHTTP)
	api.Get("/{db}/{docid}", httpe.ToHandler(s.getDoc()).ServeHTTP)
	api.Put("/{db}/{docid}", httpe.ToHandler(s.putDoc()).ServeHTTP)
	api.Delete("/{db}/{docid}", httpe.ToHandler(s.deleteDoc()).ServeHTTP)
	api.Get("/{db}/{docid}/{attname}", httpe.ToHandler(s.getAttachment()).ServeHTTP)
	api.Put("/{db}/{docid}/{attname}", httpe.ToHandler(s.putAttachment()).ServeHTTP)
	api.Delete("/{db}/{docid}/{attname}", httpe.ToHandler(s.deleteAttachment()).ServeHTTP)
}

type couchError struct {
	status int
	Err    string `json:"error"`
	Reason string `json:"reason"`
}

func (e *couchError) Error() string {
	return e.Reason
}

func (e *couchError) HTTPStatus() int {
	return e.status
}

var (
	errDBNotFound  = &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "Database does not exist."}
	errDBExists    = &couchError{status: http.StatusPreconditionFailed, Err: "file_exists", Reason: "The database could not be created, the file already exists."}
	errConflict    = &couchError{status: http.StatusConflict, Err: "conflict", Reason: "Document update conflict."}
	errMissing     = &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "missing"}
	errDeleted     = &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "deleted"}
	errUnauthorize = &couchError{status: http.StatusUnauthorized, Err: "unauthorized", Reason: "You are not authorized to access this db."}
	errBadLogin    = &couchError{status: http.StatusUnauthorized, Err: "unauthorized", Reason: "Name or password is incorrect."}
	errBadRequest  = &couchError{status: http.StatusBadRequest, Err: "bad_request", Reason: "invalid UTF-8 JSON"}
)

func (s *Server) handleErrors(next httpe.HandlerWithError) httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		if err := next.ServeHTTPWithError(w, r); err != nil {
			return serveError(w, err)
		}
		return nil
	})
}

func serveError(w http.ResponseWriter, err error) error {
	ce := &couchError{}
	if !errors.As(err, &ce) {
		ce = &couchError{
			status: http.StatusInternalServerError,
			Err:    "unknown_error",
			Reason: err.Error(),
		}
	}
	return serveJSON(w, ce.status, ce)
}

func serveJSON(w http.ResponseWriter, status int, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, err = io.Copy(w, bytes.NewReader(body))
	return err
}

func bind(r *http.Request, target interface{}) error {
	defer r.Body.Close() // nolint: errcheck
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return errBadRequest
	}
	return nil
}

// param returns the unescaped value of a path parameter.
func param(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	value, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return value
}

func docID(r *http.Request) string {
	if ddoc := param(r, "ddoc"); ddoc != "" {
		return "_design/" + ddoc
	}
	return param(r, "docid")
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.RequestURI())
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// Requests returns the method and URI of every request received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// RequestsTo returns the URIs of requests received with the given method
// whose path begins with prefix.
func (s *Server) RequestsTo(method, prefix string) []string {
	var uris []string
	for _, req := range s.Requests() {
		m, uri, _ := strings.Cut(req, " ")
		if m == method && strings.HasPrefix(uri, prefix) {
			uris = append(uris, uri)
		}
	}
	return uris
}

func (s *Server) root() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, _ *http.Request) error {
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"couchdb": "Welcome",
			"version": "3.3.3",
			"vendor":  map[string]string{"name": "couchtest"},
		})
	})
}
