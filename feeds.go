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
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-kivik/slouch/chttp"
	"github.com/go-kivik/slouch/errors"
	"github.com/go-kivik/slouch/stream"
)

// Changes returns an iterator over the database's change feed. Each item
// is one change, and the iterator resumes from the seq of the last change
// the consumer accepted. With params{"feed": "continuous"} the iterator
// follows the feed until it is aborted.
func (db *DB) Changes(params Params, opts ...stream.Option) *stream.Persistent {
	query := params.values()
	sel, indefinite := feedSelector(query)
	if indefinite {
		opts = append([]stream.Option{stream.Indefinite(true)}, opts...)
	}
	return db.client.persistent(&chttp.Request{
		Method: http.MethodGet,
		Path:   db.path("_changes"),
		Query:  query,
	}, sel, opts)
}

// AllDocs returns an iterator over the rows of _all_docs. Rows carry no
// cursor, so a reconnection restarts the listing from the beginning.
func (db *DB) AllDocs(params Params, opts ...stream.Option) *stream.Persistent {
	return db.client.persistent(&chttp.Request{
		Method: http.MethodGet,
		Path:   db.path("_all_docs"),
		Query:  params.values(),
	}, stream.Rows, opts)
}

func viewPath(ddoc, view string) (string, string) {
	ddoc = strings.TrimPrefix(ddoc, "_design/")
	view = strings.TrimPrefix(view, "_view/")
	return chttp.EncodeDocID("_design/" + ddoc), "_view/" + chttp.EncodeDocID(view)
}

// View returns an iterator over the rows of a view. ddoc and view may or
// may not be prefixed with "_design/" and "_view/" respectively.
func (db *DB) View(ddoc, view string, params Params, opts ...stream.Option) *stream.Persistent {
	d, v := viewPath(ddoc, view)
	return db.client.persistent(&chttp.Request{
		Method: http.MethodGet,
		Path:   db.path(d, v),
		Query:  params.values(),
	}, stream.Rows, opts)
}

// Row is one row of a view or of _all_docs.
type Row struct {
	ID    string          `json:"id"`
	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value"`
	Doc   Doc             `json:"doc,omitempty"`
}

// ViewResult is a complete, buffered view response.
type ViewResult struct {
	TotalRows int64 `json:"total_rows"`
	Offset    int64 `json:"offset"`
	Rows      []Row `json:"rows"`
}

func (db *DB) viewArray(ctx context.Context, path string, params Params) (*ViewResult, error) {
	resp, err := db.client.do(ctx, &chttp.Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  params.values(),
	})
	if err != nil {
		return nil, err
	}
	result := &ViewResult{}
	if resp.Ignored {
		return result, nil
	}
	if err := resp.Decode(result); err != nil {
		return nil, err
	}
	return result, nil
}

// AllDocsArray returns _all_docs as a single buffered result. Prefer
// [DB.AllDocs] for large databases.
func (db *DB) AllDocsArray(ctx context.Context, params Params) (*ViewResult, error) {
	return db.viewArray(ctx, db.path("_all_docs"), params)
}

// ViewArray returns a view as a single buffered result. Prefer [DB.View]
// for large views.
func (db *DB) ViewArray(ctx context.Context, ddoc, view string, params Params) (*ViewResult, error) {
	d, v := viewPath(ddoc, view)
	return db.viewArray(ctx, db.path(d, v), params)
}

func isDesignDoc(docID string) bool {
	return strings.HasPrefix(docID, "_design/")
}

// ExcludeDesignDocs is a feed option which drops rows and changes for
// design documents.
func ExcludeDesignDocs() stream.Option {
	return stream.Filter(func(item json.RawMessage) bool {
		var row struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(item, &row); err != nil {
			return true
		}
		return !isDesignDoc(row.ID)
	})
}

// DestroyAll deletes every document in the database, one at a time. Design
// documents are kept if keepDesignDocs is true.
func (db *DB) DestroyAll(ctx context.Context, keepDesignDocs bool) error {
	var opts []stream.Option
	if keepDesignDocs {
		opts = append(opts, ExcludeDesignDocs())
	}
	return db.AllDocs(nil, opts...).Each(ctx, func(ctx context.Context, item json.RawMessage) error {
		var row struct {
			ID    string `json:"id"`
			Value struct {
				Rev string `json:"rev"`
			} `json:"value"`
		}
		if err := json.Unmarshal(item, &row); err != nil {
			return errors.Malformed(0, "", err)
		}
		return IgnoreMissing(db.Destroy(ctx, row.ID, row.Value.Rev))
	})
}
