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
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gitlab.com/flimzy/httpe"
)

type database struct {
	name     string
	seq      int
	docs     map[string]*document
	security map[string]interface{}
}

type document struct {
	id          string
	revNum      int
	rev         string
	seq         int
	deleted     bool
	body        map[string]interface{}
	attachments map[string]*attachment
}

type attachment struct {
	contentType string
	data        []byte
}

type dbUpdate struct {
	DBName string `json:"db_name"`
	Type   string `json:"type"`
	Seq    string `json:"seq"`
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// formatSeq renders an update sequence the way CouchDB 2+ does, as an
// opaque string with a numeric prefix.
func formatSeq(n int) string {
	return fmt.Sprintf("%d-g1AAAA%x", n, n*7919)
}

// parseSeq parses a sequence produced by formatSeq, or a bare number.
func parseSeq(seq string) (int, error) {
	if seq == "" {
		return 0, nil
	}
	prefix, _, _ := strings.Cut(seq, "-")
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, &couchError{status: http.StatusBadRequest, Err: "bad_request", Reason: "Malformed sequence supplied in 'since' parameter."}
	}
	return n, nil
}

// notifyLocked wakes any open feeds. s.mu must be held.
func (s *Server) notifyLocked() {
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *Server) dbUpdateLocked(name, typ string) {
	s.updates = append(s.updates, dbUpdate{
		DBName: name,
		Type:   typ,
		Seq:    formatSeq(len(s.updates) + 1),
	})
	s.notifyLocked()
}

func (s *Server) dbLocked(name string) (*database, error) {
	db, ok := s.dbs[name]
	if !ok {
		return nil, errDBNotFound
	}
	return db, nil
}

// CreateDB creates a database directly, bypassing HTTP.
func (s *Server) CreateDB(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dbs[name]; !ok {
		s.dbs[name] = &database{name: name, docs: map[string]*document{}}
		s.dbUpdateLocked(name, "created")
	}
}

// Put stores a document directly, bypassing HTTP, and returns its new
// revision.
func (s *Server) Put(dbName string, doc map[string]interface{}) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.dbLocked(dbName)
	if err != nil {
		return "", err
	}
	id, _ := doc["_id"].(string)
	if id == "" {
		id = newID()
	}
	rev, _ := doc["_rev"].(string)
	return s.putLocked(db, id, rev, doc)
}

// putLocked writes a new revision of a document. s.mu must be held.
func (s *Server) putLocked(db *database, id, rev string, body map[string]interface{}) (string, error) {
	doc, exists := db.docs[id]
	switch {
	case exists && !doc.deleted:
		if rev != doc.rev {
			return "", errConflict
		}
	case exists:
		if rev != "" && rev != doc.rev {
			return "", errConflict
		}
	case rev != "":
		return "", errConflict
	}
	if !exists {
		doc = &document{id: id, attachments: map[string]*attachment{}}
		db.docs[id] = doc
	}
	stored := make(map[string]interface{}, len(body))
	for k, v := range body {
		switch k {
		case "_id", "_rev", "_deleted", "_attachments":
			continue
		}
		stored[k] = v
	}
	deleted, _ := body["_deleted"].(bool)
	db.seq++
	doc.revNum++
	doc.rev = fmt.Sprintf("%d-%s", doc.revNum, newID())
	doc.seq = db.seq
	doc.deleted = deleted
	doc.body = stored
	if deleted {
		doc.attachments = map[string]*attachment{}
	}
	s.dbUpdateLocked(db.name, "updated")
	return doc.rev, nil
}

func (d *document) json(withAttachments bool) map[string]interface{} {
	out := make(map[string]interface{}, len(d.body)+3)
	for k, v := range d.body {
		out[k] = v
	}
	out["_id"] = d.id
	out["_rev"] = d.rev
	if withAttachments && len(d.attachments) > 0 {
		stubs := make(map[string]interface{}, len(d.attachments))
		for name, att := range d.attachments {
			stubs[name] = map[string]interface{}{
				"content_type": att.contentType,
				"length":       len(att.data),
				"stub":         true,
			}
		}
		out["_attachments"] = stubs
	}
	return out
}

// liveDocLocked returns a document which exists and is not deleted.
func liveDocLocked(db *database, id string) (*document, error) {
	doc, ok := db.docs[id]
	if !ok {
		return nil, errMissing
	}
	if doc.deleted {
		return nil, errDeleted
	}
	return doc, nil
}

func (s *Server) allDBs() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, _ *http.Request) error {
		s.mu.Lock()
		names := make([]string, 0, len(s.dbs))
		for name := range s.dbs {
			names = append(names, name)
		}
		s.mu.Unlock()
		sort.Strings(names)
		return serveJSON(w, http.StatusOK, names)
	})
}

func (s *Server) dbUpdates() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		since, err := parseSeq(r.URL.Query().Get("since"))
		if err != nil {
			return err
		}
		s.mu.Lock()
		results := []dbUpdate{}
		if since < len(s.updates) {
			results = append(results, s.updates[since:]...)
		}
		last := formatSeq(len(s.updates))
		s.mu.Unlock()
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"results":  results,
			"last_seq": last,
		})
	})
}

func (s *Server) createDB() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		name := param(r, "db")
		s.mu.Lock()
		if _, ok := s.dbs[name]; ok {
			s.mu.Unlock()
			return errDBExists
		}
		s.dbs[name] = &database{name: name, docs: map[string]*document{}}
		s.dbUpdateLocked(name, "created")
		s.mu.Unlock()
		return serveJSON(w, http.StatusCreated, map[string]bool{"ok": true})
	})
}

func (s *Server) db() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.dbLocked(param(r, "db"))
		if err != nil {
			return err
		}
		var count, deleted int
		for _, doc := range db.docs {
			if doc.deleted {
				deleted++
			} else {
				count++
			}
		}
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"db_name":       db.name,
			"doc_count":     count,
			"doc_del_count": deleted,
			"update_seq":    formatSeq(db.seq),
		})
	})
}

func (s *Server) destroyDB() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		name := param(r, "db")
		s.mu.Lock()
		if _, err := s.dbLocked(name); err != nil {
			s.mu.Unlock()
			return err
		}
		delete(s.dbs, name)
		s.dbUpdateLocked(name, "deleted")
		s.mu.Unlock()
		return serveJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
}

func serveWritten(w http.ResponseWriter, id, rev string) error {
	return serveJSON(w, http.StatusCreated, map[string]interface{}{
		"ok":  true,
		"id":  id,
		"rev": rev,
	})
}

func (s *Server) postDoc() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var body map[string]interface{}
		if err := bind(r, &body); err != nil {
			return err
		}
		id, _ := body["_id"].(string)
		if id == "" {
			id = newID()
		}
		rev, _ := body["_rev"].(string)
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.dbLocked(param(r, "db"))
		if err != nil {
			return err
		}
		newRev, err := s.putLocked(db, id, rev, body)
		if err != nil {
			return err
		}
		return serveWritten(w, id, newRev)
	})
}

func (s *Server) getDoc() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.dbLocked(param(r, "db"))
		if err != nil {
			return err
		}
		doc, err := liveDocLocked(db, docID(r))
		if err != nil {
			return err
		}
		return serveJSON(w, http.StatusOK, doc.json(true))
	})
}

// requestRev returns the revision a write applies to, taken from the body,
// the rev query parameter or the If-Match header.
func requestRev(r *http.Request, body map[string]interface{}) string {
	if rev, _ := body["_rev"].(string); rev != "" {
		return rev
	}
	if rev := r.URL.Query().Get("rev"); rev != "" {
		return rev
	}
	return strings.Trim(r.Header.Get("If-Match"), `"`)
}

func (s *Server) putDoc() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var body map[string]interface{}
		if err := bind(r, &body); err != nil {
			return err
		}
		id := docID(r)
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.dbLocked(param(r, "db"))
		if err != nil {
			return err
		}
		rev, err := s.putLocked(db, id, requestRev(r, body), body)
		if err != nil {
			return err
		}
		return serveWritten(w, id, rev)
	})
}

func (s *Server) deleteDoc() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		id := docID(r)
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.dbLocked(param(r, "db"))
		if err != nil {
			return err
		}
		if _, err := liveDocLocked(db, id); err != nil {
			return err
		}
		rev, err := s.putLocked(db, id, requestRev(r, nil), map[string]interface{}{"_deleted": true})
		if err != nil {
			return err
		}
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"ok":  true,
			"id":  id,
			"rev": rev,
		})
	})
}

func (s *Server) getAttachment() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.Lock()
		db, err := s.dbLocked(param(r, "db"))
		if err != nil {
			s.mu.Unlock()
			return err
		}
		doc, err := liveDocLocked(db, docID(r))
		if err != nil {
			s.mu.Unlock()
			return err
		}
		att, ok := doc.attachments[param(r, "attname")]
		s.mu.Unlock()
		if !ok {
			return &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "Document is missing attachment"}
		}
		w.Header().Set("Content-Type", att.contentType)
		w.WriteHeader(http.StatusOK)
		_, err = w.Write(att.data)
		return err
	})
}

func (s *Server) putAttachment() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		id := docID(r)
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.dbLocked(param(r, "db"))
		if err != nil {
			return err
		}
		var body map[string]interface{}
		if doc, ok := db.docs[id]; ok && !doc.deleted {
			body = doc.body
		}
		rev, err := s.putLocked(db, id, requestRev(r, nil), body)
		if err != nil {
			return err
		}
		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		db.docs[id].attachments[param(r, "attname")] = &attachment{
			contentType: contentType,
			data:        data,
		}
		return serveWritten(w, id, rev)
	})
}

func (s *Server) deleteAttachment() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		id := docID(r)
		name := param(r, "attname")
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.dbLocked(param(r, "db"))
		if err != nil {
			return err
		}
		doc, err := liveDocLocked(db, id)
		if err != nil {
			return err
		}
		if _, ok := doc.attachments[name]; !ok {
			return &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "Document is missing attachment"}
		}
		rev, err := s.putLocked(db, id, requestRev(r, nil), doc.body)
		if err != nil {
			return err
		}
		delete(doc.attachments, name)
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"ok":  true,
			"id":  id,
			"rev": rev,
		})
	})
}
