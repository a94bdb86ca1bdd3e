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
	"net/url"

	"github.com/go-kivik/slouch/chttp"
	"github.com/go-kivik/slouch/errors"
)

// DB is a handle to a database. It is safe for concurrent use.
type DB struct {
	client   *Client
	name     string
	upserter *Upserter
}

// Name returns the database name.
func (db *DB) Name() string {
	return db.name
}

// Client returns the client which owns db.
func (db *DB) Client() *Client {
	return db.client
}

// Upserter returns the upserter used by db's upsert methods.
func (db *DB) Upserter() *Upserter {
	return db.upserter
}

func (db *DB) path(parts ...string) string {
	p := dbPath(db.name)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (db *DB) docPath(docID string) string {
	return db.path(chttp.EncodeDocID(docID))
}

func queryOf(options []Option) url.Values {
	query := url.Values{}
	allOptions(options).Apply(&query)
	if len(query) == 0 {
		return nil
	}
	return query
}

func dbPath(name string) string {
	return "/" + url.PathEscape(name)
}

// CreateDB creates a database. Under heavy load CouchDB may report an
// error even though the database was created, so on failure the database's
// existence is checked before the error is returned.
func (c *Client) CreateDB(ctx context.Context, dbName string) error {
	if dbName == "" {
		return missingArg("dbName")
	}
	_, err := c.do(ctx, &chttp.Request{
		Method: http.MethodPut,
		Path:   dbPath(dbName),
	})
	if err == nil {
		return nil
	}
	if exists, _ := c.DBExists(ctx, dbName); exists {
		c.log.Debugf("database %s exists despite error: %s", dbName, err)
		return nil
	}
	return err
}

// DestroyDB deletes a database.
func (c *Client) DestroyDB(ctx context.Context, dbName string) error {
	if dbName == "" {
		return missingArg("dbName")
	}
	_, err := c.do(ctx, &chttp.Request{
		Method: http.MethodDelete,
		Path:   dbPath(dbName),
	})
	return err
}

// DBExists reports whether a database exists.
func (c *Client) DBExists(ctx context.Context, dbName string) (bool, error) {
	if dbName == "" {
		return false, missingArg("dbName")
	}
	_, err := c.do(ctx, &chttp.Request{
		Method: http.MethodGet,
		Path:   dbPath(dbName),
	})
	switch {
	case err == nil:
		return true, nil
	case errors.IsNotFound(err):
		return false, nil
	}
	return false, err
}

// DBInfo is the metadata reported for a database.
type DBInfo struct {
	Name        string          `json:"db_name"`
	DocCount    int64           `json:"doc_count"`
	DeletedDocs int64           `json:"doc_del_count"`
	UpdateSeq   json.RawMessage `json:"update_seq"`
	// RawResponse is the raw response body returned by the server.
	RawResponse json.RawMessage `json:"-"`
}

// Info returns the database's metadata.
func (db *DB) Info(ctx context.Context) (*DBInfo, error) {
	resp, err := db.client.do(ctx, &chttp.Request{
		Method: http.MethodGet,
		Path:   db.path(),
	})
	if err != nil {
		return nil, err
	}
	info := &DBInfo{}
	if err := resp.Decode(info); err != nil {
		return nil, err
	}
	info.RawResponse = resp.Body
	return info, nil
}
