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
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"gitlab.com/flimzy/httpe"
)

type change struct {
	Seq     string                 `json:"seq"`
	ID      string                 `json:"id"`
	Changes []map[string]string    `json:"changes"`
	Deleted bool                   `json:"deleted,omitempty"`
	Doc     map[string]interface{} `json:"doc,omitempty"`
	seq     int
}

// changesLocked returns the latest change of every document updated after
// since, in sequence order.
func changesLocked(db *database, since int, includeDocs bool) []change {
	var changes []change
	for _, doc := range db.docs {
		if doc.seq <= since {
			continue
		}
		c := change{
			Seq:     formatSeq(doc.seq),
			ID:      doc.id,
			Changes: []map[string]string{{"rev": doc.rev}},
			Deleted: doc.deleted,
			seq:     doc.seq,
		}
		if includeDocs {
			c.Doc = doc.json(false)
			if doc.deleted {
				c.Doc["_deleted"] = true
			}
		}
		changes = append(changes, c)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].seq < changes[j].seq })
	return changes
}

// changes serves the change feed. It is not wrapped by httpe, so that
// continuous feeds write directly to the connection.
func (s *Server) changes(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticated(r); !ok {
		_ = serveError(w, errUnauthorize)
		return
	}
	name := param(r, "db")
	query := r.URL.Query()
	includeDocs := query.Get("include_docs") == "true"
	since, err := parseSeq(query.Get("since"))
	if err != nil {
		_ = serveError(w, err)
		return
	}
	s.mu.Lock()
	db, err := s.dbLocked(name)
	if err != nil {
		s.mu.Unlock()
		_ = serveError(w, err)
		return
	}
	if query.Get("since") == "now" {
		since = db.seq
	}
	if query.Get("feed") != "continuous" {
		results := changesLocked(db, since, includeDocs)
		last := formatSeq(db.seq)
		s.mu.Unlock()
		if results == nil {
			results = []change{}
		}
		_ = serveJSON(w, http.StatusOK, map[string]interface{}{
			"results":  results,
			"last_seq": last,
			"pending":  0,
		})
		return
	}
	s.feeds++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.feeds--
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for {
		s.mu.Lock()
		db, ok := s.dbs[name]
		if !ok {
			s.mu.Unlock()
			return
		}
		pending := changesLocked(db, since, includeDocs)
		notify, drop := s.notify, s.drop
		s.mu.Unlock()
		for _, c := range pending {
			if err := enc.Encode(c); err != nil {
				return
			}
			since = c.seq
		}
		if flusher != nil {
			flusher.Flush()
		}
		select {
		case <-notify:
		case <-drop:
			// Abandon the connection mid-stream, as a network failure would.
			panic(http.ErrAbortHandler)
		case <-r.Context().Done():
			return
		}
	}
}

// Feeds returns the number of continuous feeds currently open.
func (s *Server) Feeds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feeds
}

// DropFeeds severs every open continuous feed without terminating the
// response, so that clients see a truncated stream.
func (s *Server) DropFeeds() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.drop)
	s.drop = make(chan struct{})
}

type row struct {
	ID    string                 `json:"id"`
	Key   interface{}            `json:"key"`
	Value interface{}            `json:"value"`
	Doc   map[string]interface{} `json:"doc,omitempty"`
}

func serveRows(w http.ResponseWriter, rows []row) error {
	if rows == nil {
		rows = []row{}
	}
	return serveJSON(w, http.StatusOK, map[string]interface{}{
		"total_rows": len(rows),
		"offset":     0,
		"rows":       rows,
	})
}

func (s *Server) allDocs() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		includeDocs := r.URL.Query().Get("include_docs") == "true"
		s.mu.Lock()
		db, err := s.dbLocked(param(r, "db"))
		if err != nil {
			s.mu.Unlock()
			return err
		}
		var rows []row
		for _, doc := range db.docs {
			if doc.deleted {
				continue
			}
			rw := row{
				ID:    doc.id,
				Key:   doc.id,
				Value: map[string]string{"rev": doc.rev},
			}
			if includeDocs {
				rw.Doc = doc.json(false)
			}
			rows = append(rows, rw)
		}
		s.mu.Unlock()
		sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
		return serveRows(w, rows)
	})
}

// MapFunc is a view's map function. It calls emit for each row the
// document contributes to the view.
type MapFunc func(doc map[string]interface{}, emit func(key, value interface{}))

// AddView registers a view, served at /{db}/_design/{ddoc}/_view/{view}.
func (s *Server) AddView(dbName, ddoc, view string, fn MapFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[dbName+"/"+ddoc+"/"+view] = fn
}

func (s *Server) view() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		key := param(r, "db") + "/" + param(r, "ddoc") + "/" + param(r, "view")
		s.mu.Lock()
		db, err := s.dbLocked(param(r, "db"))
		if err != nil {
			s.mu.Unlock()
			return err
		}
		fn, ok := s.views[key]
		if !ok {
			s.mu.Unlock()
			return &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "missing_named_view"}
		}
		var rows []row
		for _, doc := range db.docs {
			if doc.deleted {
				continue
			}
			id := doc.id
			fn(doc.json(false), func(key, value interface{}) {
				rows = append(rows, row{ID: id, Key: key, Value: value})
			})
		}
		s.mu.Unlock()
		sort.Slice(rows, func(i, j int) bool {
			ki, kj := fmt.Sprint(rows[i].Key), fmt.Sprint(rows[j].Key)
			if ki != kj {
				return ki < kj
			}
			return rows[i].ID < rows[j].ID
		})
		return serveRows(w, rows)
	})
}
