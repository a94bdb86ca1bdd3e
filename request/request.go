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

// Package request implements the resilient request layer: every request is
// throttled, retried with exponential backoff while it fails transiently, and
// its response normalized into either a parsed result or a normalized error.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-kivik/slouch/backoff"
	"github.com/go-kivik/slouch/chttp"
	"github.com/go-kivik/slouch/errors"
	"github.com/go-kivik/slouch/log"
	"github.com/go-kivik/slouch/throttle"
)

// Defaults
const (
	DefaultMaxConnections = throttle.DefaultMax
	DefaultMaxRetries     = 10
)

// Transport performs a single HTTP attempt. A *chttp.Client is a Transport.
type Transport interface {
	DoReq(ctx context.Context, req *chttp.Request) (*http.Response, error)
}

var _ Transport = (*chttp.Client)(nil)

// describer is implemented by transports which can report the censored URL
// of a request.
type describer interface {
	URL(*chttp.Request) string
}

// Requester sends requests through a shared throttler, with retries.
type Requester struct {
	transport Transport
	throttler *throttle.Throttler

	maxConnections int
	maxRetries     int
	policy         backoff.Policy
	logEverything  bool
	log            log.Logger
}

// New returns a new Requester which sends requests via transport.
func New(transport Transport, opts ...Option) *Requester {
	r := &Requester{
		transport:      transport,
		maxConnections: DefaultMaxConnections,
		maxRetries:     DefaultMaxRetries,
		policy:         backoff.DefaultPolicy,
		log:            log.NewNil(),
	}
	for _, opt := range opts {
		opt.Apply(r)
	}
	r.throttler = throttle.New(r.maxConnections)
	return r
}

// SetMaxConnections changes the limit on concurrent requests. Requests
// already running are not interrupted.
func (r *Requester) SetMaxConnections(n int) {
	r.throttler.SetMax(n)
}

// MaxConnections returns the limit on concurrent requests.
func (r *Requester) MaxConnections() int {
	return r.throttler.Max()
}

// Throttler returns the throttler shared by all requests.
func (r *Requester) Throttler() *throttle.Throttler {
	return r.throttler
}

// Logger returns the configured logger.
func (r *Requester) Logger() log.Logger {
	return r.log
}

// Response is the normalized result of a successful request.
type Response struct {
	StatusCode int
	Header     http.Header
	// Body is the raw response body.
	Body []byte
	// Doc is the decoded body, populated when ParseBody was requested and the
	// body is a JSON object.
	Doc map[string]interface{}
	// HTTP is the underlying response, populated when FullResponse was
	// requested. Its body has already been consumed.
	HTTP *http.Response
	// Ignored is true when the server reported a spurious error which was
	// swallowed. No other fields are set.
	Ignored bool
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errors.Malformed(r.StatusCode, "", err)
	}
	return nil
}

func (r *Requester) describe(req *chttp.Request) string {
	if d, ok := r.transport.(describer); ok {
		return req.Method + " " + d.URL(req)
	}
	return req.String()
}

// Do sends req, retrying while it fails transiently, and returns the
// buffered, normalized response.
func (r *Requester) Do(ctx context.Context, req *chttp.Request) (*Response, error) {
	req, err := bufferBody(req)
	if err != nil {
		return nil, err
	}
	var resp *Response
	ignored, err := r.retry(ctx, req, func(ctx context.Context) error {
		var err error
		resp, err = r.attempt(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ignored {
		return &Response{Ignored: true}, nil
	}
	return resp, nil
}

// Stream sends req as Do does, but returns as soon as response headers have
// been received, leaving the body unread. The concurrency slot is released
// once headers arrive. The caller must close the response body.
func (r *Requester) Stream(ctx context.Context, req *chttp.Request) (*http.Response, error) {
	req, err := bufferBody(req)
	if err != nil {
		return nil, err
	}
	var res *http.Response
	ignored, err := r.retry(ctx, req, func(ctx context.Context) error {
		var err error
		res, err = r.open(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ignored {
		return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: http.NoBody}, nil
	}
	return res, nil
}

// bufferBody reads a streaming request body into memory, so that every
// attempt sends it in full. Other body types are returned unaltered.
func bufferBody(req *chttp.Request) (*chttp.Request, error) {
	body, ok := req.Body.(io.Reader)
	if !ok {
		return req, nil
	}
	buf, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read request body")
	}
	req = req.Clone()
	req.Body = buf
	return req, nil
}

// retry runs fn, inside the throttler, until it succeeds, fails with an
// error which is not transient, or the retry limit is reached. A true
// return value indicates an ignorable error was swallowed.
func (r *Requester) retry(ctx context.Context, req *chttp.Request, fn func(context.Context) error) (bool, error) {
	desc := r.describe(req)
	bo := backoff.New(r.policy)
	for retries := 0; ; retries++ {
		err := bo.Attempt(ctx, func() error {
			tok, err := r.throttler.Acquire(ctx)
			if err != nil {
				return err
			}
			defer tok.Release()
			return fn(ctx)
		})
		if err == nil {
			return false, nil
		}
		err = errors.FromTransport(err, desc)
		switch {
		case retries >= r.maxRetries:
			r.log.Errorf("%s: giving up after %d retries: %s", desc, retries, err)
			return false, err
		case ctx.Err() != nil:
			return false, err
		case errors.Transient(err):
			r.log.Infof("Transient problem, retrying %s: %s", desc, err)
			continue
		case errors.Ignorable(err):
			r.log.Debugf("%s: ignoring spurious error: %s", desc, err)
			return true, nil
		}
		return false, err
	}
}

// attempt performs one buffered request.
func (r *Requester) attempt(ctx context.Context, req *chttp.Request) (*Response, error) {
	desc := r.describe(req)
	res, err := r.transport.DoReq(ctx, req.Clone())
	if err != nil {
		r.logResult(desc, 0, err)
		return nil, errors.FromTransport(err, desc)
	}
	defer res.Body.Close() // nolint: errcheck
	body, err := io.ReadAll(res.Body)
	if err != nil {
		r.logResult(desc, res.StatusCode, err)
		return nil, errors.FromTransport(err, desc)
	}
	resp := &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       body,
	}
	if req.FullResponse {
		resp.HTTP = res
	}
	err = normalize(req, resp, desc)
	r.logResult(desc, res.StatusCode, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// open performs one streaming request.
func (r *Requester) open(ctx context.Context, req *chttp.Request) (*http.Response, error) {
	desc := r.describe(req)
	res, err := r.transport.DoReq(ctx, req.Clone())
	if err != nil {
		r.logResult(desc, 0, err)
		return nil, errors.FromTransport(err, desc)
	}
	if res.StatusCode < http.StatusBadRequest {
		r.logResult(desc, res.StatusCode, nil)
		return res, nil
	}
	defer res.Body.Close() // nolint: errcheck
	body, err := io.ReadAll(res.Body)
	if err != nil {
		r.logResult(desc, res.StatusCode, err)
		return nil, errors.FromTransport(err, desc)
	}
	err = errorBody(res.StatusCode, body, desc)
	r.logResult(desc, res.StatusCode, err)
	return nil, err
}

func (r *Requester) logResult(desc string, status int, err error) {
	if !r.logEverything {
		return
	}
	if err != nil {
		r.log.Errorf("%s -> %d: %s", desc, status, err)
		return
	}
	r.log.Infof("%s -> %d", desc, status)
}

var errEmptyBody = errors.Errorf("empty response body")

// normalize converts resp into an error if the server reported one, or if
// its body cannot be parsed.
func normalize(req *chttp.Request, resp *Response, desc string) error {
	if req.Raw {
		if resp.StatusCode < http.StatusBadRequest {
			return nil
		}
		return errorBody(resp.StatusCode, resp.Body, desc)
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return errors.Malformed(resp.StatusCode, desc, errEmptyBody)
	}
	var v interface{}
	if err := json.Unmarshal(resp.Body, &v); err != nil {
		return errors.Malformed(resp.StatusCode, desc, err)
	}
	obj, isObject := v.(map[string]interface{})
	if e, ok := obj["error"]; ok && e != nil {
		reason, _ := obj["reason"].(string)
		return errors.FromBody(resp.StatusCode, fmt.Sprint(e), reason, desc)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Malformed(resp.StatusCode, desc, errors.Errorf("status %d without error description", resp.StatusCode))
	}
	if req.ParseBody && isObject {
		resp.Doc = obj
	}
	return nil
}

// errorBody interprets the body of an error response.
func errorBody(status int, body []byte, desc string) error {
	var e struct {
		Error  interface{} `json:"error"`
		Reason string      `json:"reason"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return errors.Malformed(status, desc, err)
	}
	if e.Error == nil {
		return errors.Malformed(status, desc, errors.Errorf("status %d without error description", status))
	}
	return errors.FromBody(status, fmt.Sprint(e.Error), e.Reason, desc)
}
