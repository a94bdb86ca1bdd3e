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
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-kivik/slouch/backoff"
	"github.com/go-kivik/slouch/log"
	"github.com/go-kivik/slouch/request"
)

// Option configures a [Client] or one of the layers beneath it. An option
// ignores targets it does not recognize, so a single list of options is
// handed to every layer. Any [request.Option] is also an Option.
type Option interface {
	Apply(target interface{})
}

type allOptions []Option

var _ Option = (allOptions)(nil)

func (o allOptions) Apply(t interface{}) {
	for _, opt := range o {
		if opt != nil {
			opt.Apply(t)
		}
	}
}

func (o allOptions) requestOptions() []request.Option {
	opts := make([]request.Option, 0, len(o))
	for _, opt := range o {
		if opt != nil {
			opts = append(opts, opt)
		}
	}
	return opts
}

// Params is a set of query parameters. Strings, string slices, booleans and
// integers are sent verbatim; any other value is JSON encoded, as CouchDB
// expects for parameters such as startkey.
type Params map[string]interface{}

var _ Option = Params(nil)

// Apply adds the parameters to target, which must be a *url.Values.
func (p Params) Apply(target interface{}) {
	t, ok := target.(*url.Values)
	if !ok {
		return
	}
	for key, i := range p {
		var values []string
		switch v := i.(type) {
		case string:
			values = []string{v}
		case []string:
			values = v
		case bool:
			values = []string{fmt.Sprintf("%t", v)}
		case int, uint, uint8, uint16, uint32, uint64, int8, int16, int32, int64:
			values = []string{fmt.Sprintf("%d", v)}
		default:
			buf, err := json.Marshal(v)
			if err != nil {
				continue
			}
			values = []string{string(buf)}
		}
		for _, value := range values {
			t.Add(key, value)
		}
	}
}

func (p Params) values() url.Values {
	if len(p) == 0 {
		return nil
	}
	v := url.Values{}
	p.Apply(&v)
	return v
}

type httpClient struct {
	*http.Client
}

// OptionHTTPClient sets the HTTP client used to reach the server. By
// default a client with a cookie-aware transport and no timeout is used.
func OptionHTTPClient(client *http.Client) Option {
	return httpClient{client}
}

func (o httpClient) Apply(target interface{}) {
	if c, ok := target.(*clientConfig); ok {
		c.httpClient = o.Client
	}
}

type upsertMaxRetries int

// OptionUpsertMaxRetries sets the maximum number of attempts an upsert
// makes while it keeps running into conflicts. The default is 20.
func OptionUpsertMaxRetries(n int) Option {
	return upsertMaxRetries(n)
}

func (o upsertMaxRetries) Apply(target interface{}) {
	if u, ok := target.(*Upserter); ok {
		u.maxRetries = int(o)
	}
}

func (o upsertMaxRetries) String() string { return fmt.Sprintf("[UpsertMaxRetries:%d]", int(o)) }

type ignoreDuplicateUpdates bool

// OptionIgnoreDuplicateUpdates controls whether an update which would not
// change a document, other than its revision, is skipped. The default is
// true.
func OptionIgnoreDuplicateUpdates(v bool) Option {
	return ignoreDuplicateUpdates(v)
}

func (o ignoreDuplicateUpdates) Apply(target interface{}) {
	if u, ok := target.(*Upserter); ok {
		u.ignoreDuplicates = bool(o)
	}
}

type upsertBackoff backoff.Policy

// OptionUpsertBackoff sets the delays between upsert attempts.
func OptionUpsertBackoff(p backoff.Policy) Option {
	return upsertBackoff(p)
}

func (o upsertBackoff) Apply(target interface{}) {
	if u, ok := target.(*Upserter); ok {
		u.policy = backoff.Policy(o)
	}
}

// OptionMaxConnections limits the number of concurrent requests. See
// [request.OptionMaxConnections].
func OptionMaxConnections(n int) Option {
	return request.OptionMaxConnections(n)
}

// OptionMaxRetries sets how often a transiently failing request is retried.
// See [request.OptionMaxRetries].
func OptionMaxRetries(n int) Option {
	return request.OptionMaxRetries(n)
}

// OptionBackoff sets the delays between retried requests.
func OptionBackoff(p backoff.Policy) Option {
	return request.OptionBackoff(p)
}

// OptionLogEverything logs every request and its outcome.
func OptionLogEverything(v bool) Option {
	return request.OptionLogEverything(v)
}

// OptionLogger sets the logger used by the client, its requests and its
// feeds.
func OptionLogger(l log.Logger) Option {
	return request.OptionLogger(l)
}
