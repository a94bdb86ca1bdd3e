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

package chttp

import (
	"net/http"
	"net/url"
	"strings"
)

// Request describes a single request to the server, relative to the client's
// base URL.
type Request struct {
	Method string
	// Path is relative to the server URL, and must already be escaped. See
	// [EncodeDocID].
	Path   string
	Query  url.Values
	Header http.Header
	// Body is JSON-encoded, unless it is a []byte, string, or io.Reader.
	Body interface{}
	// Raw requests that the response body not be parsed as JSON.
	Raw bool
	// ParseBody requests the JSON response body be decoded into a document.
	ParseBody bool
	// FullResponse requests the full HTTP response be retained.
	FullResponse bool
}

// Clone returns a copy of r, safe to modify without altering r.
func (r *Request) Clone() *Request {
	c := *r
	if r.Query != nil {
		c.Query = make(url.Values, len(r.Query))
		for k, v := range r.Query {
			c.Query[k] = append([]string(nil), v...)
		}
	}
	if r.Header != nil {
		c.Header = r.Header.Clone()
	}
	return &c
}

func (r *Request) String() string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteString(" /")
	b.WriteString(strings.TrimPrefix(r.Path, "/"))
	if len(r.Query) > 0 {
		b.WriteString("?" + r.Query.Encode())
	}
	return b.String()
}
