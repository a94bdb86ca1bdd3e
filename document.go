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

package slouch

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-kivik/slouch/chttp"
	"github.com/go-kivik/slouch/errors"
	"github.com/go-kivik/slouch/request"
)

// Doc is a JSON document, as decoded from the server.
type Doc map[string]interface{}

// ID returns the document's _id, or "" if it has none.
func (d Doc) ID() string {
	id, _ := d["_id"].(string)
	return id
}

// Rev returns the document's _rev, or "" if it has none.
func (d Doc) Rev() string {
	rev, _ := d["_rev"].(string)
	return rev
}

// Clone returns a deep copy of d.
func (d Doc) Clone() Doc {
	if d == nil {
		return nil
	}
	return Doc(cloneValue(map[string]interface{}(d)).(map[string]interface{}))
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case Doc:
		return cloneValue(map[string]interface{}(t))
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, v := range t {
			m[k] = cloneValue(v)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, v := range t {
			s[i] = cloneValue(v)
		}
		return s
	}
	return v
}

// merge returns a copy of d with the top-level fields of src written over
// it. Nested objects and arrays are replaced, not merged.
func (d Doc) merge(src Doc) Doc {
	merged := d.Clone()
	if merged == nil {
		merged = Doc{}
	}
	for k, v := range src {
		merged[k] = cloneValue(v)
	}
	return merged
}

// DocumentStore is the set of document operations the upsert protocol is
// built on. *DB is a DocumentStore.
type DocumentStore interface {
	// Get returns the current version of a document.
	Get(ctx context.Context, docID string, options ...Option) (Doc, error)
	// Create stores a new document, returning it with its _id and _rev set.
	Create(ctx context.Context, doc Doc) (Doc, error)
	// Update writes doc, which must carry its current _rev, returning it
	// with its new _rev.
	Update(ctx context.Context, doc Doc) (Doc, error)
	// Destroy deletes a revision of a document.
	Destroy(ctx context.Context, docID, rev string) error
}

var _ DocumentStore = (*DB)(nil)

// Get fetches a document. Options such as Params{"rev": "1-abc"} are sent
// as query parameters.
func (db *DB) Get(ctx context.Context, docID string, options ...Option) (Doc, error) {
	if docID == "" {
		return nil, missingArg("docID")
	}
	resp, err := db.client.do(ctx, &chttp.Request{
		Method:    http.MethodGet,
		Path:      db.docPath(docID),
		Query:     queryOf(options),
		ParseBody: true,
	})
	if err != nil {
		return nil, err
	}
	if resp.Ignored {
		return nil, nil
	}
	return Doc(resp.Doc), nil
}

// GetIgnoreMissing fetches a document, returning a nil Doc and no error if
// it does not exist.
func (db *DB) GetIgnoreMissing(ctx context.Context, docID string, options ...Option) (Doc, error) {
	doc, err := db.Get(ctx, docID, options...)
	return doc, IgnoreMissing(err)
}

// DocExists reports whether a document exists.
func (db *DB) DocExists(ctx context.Context, docID string) (bool, error) {
	_, err := db.Get(ctx, docID)
	switch {
	case err == nil:
		return true, nil
	case errors.IsNotFound(err):
		return false, nil
	}
	return false, err
}

type writeResult struct {
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// Create stores a new document with POST. If doc has no _id, the server
// assigns one. The returned copy of doc carries the new _id and _rev.
func (db *DB) Create(ctx context.Context, doc Doc) (Doc, error) {
	resp, err := db.client.do(ctx, &chttp.Request{
		Method: http.MethodPost,
		Path:   db.path(),
		Body:   doc,
	})
	if err != nil {
		return nil, err
	}
	return written(doc, resp)
}

// Update writes doc with PUT. doc must have an _id, and its current _rev
// unless it is new. The returned copy of doc carries the new _rev.
func (db *DB) Update(ctx context.Context, doc Doc) (Doc, error) {
	docID := doc.ID()
	if docID == "" {
		return nil, missingArg("_id")
	}
	resp, err := db.client.do(ctx, &chttp.Request{
		Method: http.MethodPut,
		Path:   db.docPath(docID),
		Body:   doc,
	})
	if err != nil {
		return nil, err
	}
	return written(doc, resp)
}

func written(doc Doc, resp *request.Response) (Doc, error) {
	out := doc.Clone()
	if out == nil {
		out = Doc{}
	}
	if resp.Ignored {
		return out, nil
	}
	var result writeResult
	if err := resp.Decode(&result); err != nil {
		return nil, err
	}
	if result.ID != "" {
		out["_id"] = result.ID
	}
	if result.Rev != "" {
		out["_rev"] = result.Rev
	}
	return out, nil
}

// Destroy deletes the given revision of a document.
func (db *DB) Destroy(ctx context.Context, docID, rev string) error {
	if docID == "" {
		return missingArg("docID")
	}
	_, err := db.client.do(ctx, &chttp.Request{
		Method: http.MethodDelete,
		Path:   db.docPath(docID),
		Query:  url.Values{"rev": []string{rev}},
	})
	return err
}

// GetAndDestroy deletes the current revision of a document.
func (db *DB) GetAndDestroy(ctx context.Context, docID string) error {
	doc, err := db.Get(ctx, docID)
	if err != nil {
		return err
	}
	return db.Destroy(ctx, docID, doc.Rev())
}

// MarkAsDestroyed deletes a document by updating it with _deleted set,
// keeping its other fields in the deleted revision.
func (db *DB) MarkAsDestroyed(ctx context.Context, docID string) (Doc, error) {
	return db.upserter.GetMergeUpdate(ctx, Doc{"_id": docID, "_deleted": true})
}

// SetDestroyed flags doc for deletion on its next update.
func SetDestroyed(doc Doc) {
	doc["_deleted"] = true
}

func missingArg(name string) error {
	return &errors.Error{
		Kind:   errors.KindBadRequest,
		Status: http.StatusBadRequest,
		Reason: name + " required",
	}
}
