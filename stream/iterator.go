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

// Package stream provides pull-based iteration over large or continuous
// JSON responses, and a persistent iterator which resumes after
// disconnection.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-kivik/slouch/chttp"
	"github.com/go-kivik/slouch/errors"
)

// RequestFunc opens a streaming request. The returned body is closed by the
// iterator.
type RequestFunc func(ctx context.Context, req *chttp.Request) (*http.Response, error)

// sniffSize bounds the first chunk inspected for an error body.
const sniffSize = 4096

// Iterator emits the items of a single JSON response, one at a time. Bytes
// are read from the connection only as fast as items are consumed.
type Iterator struct {
	do  RequestFunc
	req *chttp.Request
	sel Selector

	mu      sync.Mutex
	state   State
	err     error
	aborted bool
	cancel  context.CancelFunc
	body    io.ReadCloser
	meta    map[string]json.RawMessage

	// Parser state, owned by the goroutine calling Next.
	dec         *json.Decoder
	begun       bool
	objectItems bool
}

// New returns an iterator over the items selected by sel from the response
// to req. No request is made until the first call to Next.
func New(do RequestFunc, req *chttp.Request, sel Selector) *Iterator {
	return &Iterator{
		do:   do,
		req:  req,
		sel:  sel,
		meta: map[string]json.RawMessage{},
	}
}

// State returns the iterator's current state.
func (it *Iterator) State() State {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.state
}

// Meta returns the top-level fields of the response outside the selected
// container, such as last_seq or total_rows. Fields appearing after the
// container are only available once iteration has completed.
func (it *Iterator) Meta() map[string]json.RawMessage {
	it.mu.Lock()
	defer it.mu.Unlock()
	meta := make(map[string]json.RawMessage, len(it.meta))
	for k, v := range it.meta {
		meta[k] = v
	}
	return meta
}

func (it *Iterator) setMeta(key string, value json.RawMessage) {
	it.mu.Lock()
	it.meta[key] = value
	it.mu.Unlock()
}

func (it *Iterator) setState(s State) {
	it.mu.Lock()
	if !it.state.terminal() {
		it.state = s
	}
	it.mu.Unlock()
}

// Next returns the next item. It returns io.EOF once the response has been
// exhausted, or the iterator aborted. The ctx passed to the first call
// governs the lifetime of the underlying connection.
func (it *Iterator) Next(ctx context.Context) (json.RawMessage, error) {
	it.mu.Lock()
	switch {
	case it.aborted, it.state == StateCompleted:
		it.mu.Unlock()
		return nil, io.EOF
	case it.state == StateErrored:
		err := it.err
		it.mu.Unlock()
		return nil, err
	}
	connected := it.dec != nil
	it.mu.Unlock()

	if !connected {
		if err := it.connect(ctx); err != nil {
			return nil, it.fail(err)
		}
	}
	it.setState(StateStreaming)
	item, err := it.next()
	switch {
	case err == nil:
		it.setState(StatePaused)
		return item, nil
	case err == io.EOF:
		it.mu.Lock()
		if !it.aborted {
			it.state = StateCompleted
		}
		it.release()
		it.mu.Unlock()
		return nil, io.EOF
	}
	return nil, it.fail(err)
}

// fail records err as the iterator's terminal error, normalized. Errors
// caused by aborting are reported as io.EOF.
func (it *Iterator) fail(err error) error {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.release()
	if it.aborted {
		it.state = StateAborted
		return io.EOF
	}
	var syntaxErr *json.SyntaxError
	switch {
	case errors.KindOf(err) != errors.KindNone:
	case errors.As(err, &syntaxErr):
		err = errors.Malformed(http.StatusOK, it.req.String(), err)
	default:
		err = errors.FromTransport(err, it.req.String())
	}
	it.state = StateErrored
	it.err = err
	return err
}

func (it *Iterator) connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	it.mu.Lock()
	if it.aborted {
		it.mu.Unlock()
		cancel()
		return context.Canceled
	}
	it.cancel = cancel
	it.state = StateConnecting
	it.mu.Unlock()

	res, err := it.do(ctx, it.req)
	if err != nil {
		return err
	}
	it.mu.Lock()
	it.body = res.Body
	aborted := it.aborted
	it.mu.Unlock()
	if aborted {
		return context.Canceled
	}
	r, err := sniff(res, it.req.String())
	if err != nil {
		return err
	}
	it.dec = json.NewDecoder(r)
	return nil
}

// sniff inspects the first chunk of the body for an error object, which
// CouchDB may send with a success status on streaming endpoints. The chunk
// is then restored ahead of the remaining body.
func sniff(res *http.Response, desc string) (io.Reader, error) {
	buf := make([]byte, sniffSize)
	var n int
	var err error
	for n == 0 && err == nil {
		n, err = res.Body.Read(buf)
	}
	chunk := buf[:n]
	var e struct {
		Error  interface{} `json:"error"`
		Reason string      `json:"reason"`
	}
	if json.Unmarshal(chunk, &e) == nil && e.Error != nil {
		return nil, errors.FromBody(res.StatusCode, fmt.Sprint(e.Error), e.Reason, desc)
	}
	switch err {
	case nil:
		return io.MultiReader(bytes.NewReader(chunk), res.Body), nil
	case io.EOF:
		return bytes.NewReader(chunk), nil
	}
	return io.MultiReader(bytes.NewReader(chunk), &errReader{err: err}), nil
}

type errReader struct{ err error }

func (r *errReader) Read([]byte) (int, error) { return 0, r.err }

// next reads the next item from the decoder, returning io.EOF when the
// selection is exhausted.
func (it *Iterator) next() (json.RawMessage, error) {
	if it.sel.Continuous {
		var raw json.RawMessage
		if err := it.dec.Decode(&raw); err != nil {
			return nil, err
		}
		return raw, nil
	}
	if !it.begun {
		it.begun = true
		if err := it.begin(); err != nil {
			return nil, err
		}
	}
	if !it.dec.More() {
		if err := it.finish(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	if it.objectItems {
		if _, err := it.dec.Token(); err != nil {
			return nil, err
		}
	}
	var raw json.RawMessage
	if err := it.dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func consumeDelim(dec *json.Decoder, expected json.Delim) error {
	t, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := t.(json.Delim); !ok || d != expected {
		return errors.Malformed(http.StatusOK, "", errors.Errorf("expected %q, found %v", expected, t))
	}
	return nil
}

// readField reads an object key, followed by its value.
func (it *Iterator) readField() (string, json.RawMessage, error) {
	t, err := it.dec.Token()
	if err != nil {
		return "", nil, err
	}
	key, _ := t.(string)
	var raw json.RawMessage
	if err := it.dec.Decode(&raw); err != nil {
		return "", nil, err
	}
	return key, raw, nil
}

// begin advances the decoder to the first element of the selected
// container, recording top-level fields passed on the way.
func (it *Iterator) begin() error {
	for depth, want := range it.sel.Path {
		if err := consumeDelim(it.dec, json.Delim('{')); err != nil {
			return err
		}
		found := false
		for it.dec.More() {
			t, err := it.dec.Token()
			if err != nil {
				return err
			}
			if key, _ := t.(string); key == want {
				found = true
				break
			}
			var raw json.RawMessage
			if err := it.dec.Decode(&raw); err != nil {
				return err
			}
			if depth == 0 {
				it.setMeta(t.(string), raw)
			}
		}
		if !found {
			if err := it.closeLevels(depth); err != nil {
				return err
			}
			return io.EOF
		}
	}
	t, err := it.dec.Token()
	if err != nil {
		return err
	}
	switch t {
	case json.Delim('['):
	case json.Delim('{'):
		it.objectItems = true
	default:
		return errors.Malformed(http.StatusOK, it.req.String(), errors.Errorf("selected value is not a container: %v", t))
	}
	return nil
}

// finish consumes the end of the selected container and the remainder of
// the enclosing objects.
func (it *Iterator) finish() error {
	if _, err := it.dec.Token(); err != nil {
		return err
	}
	return it.closeLevels(len(it.sel.Path) - 1)
}

func (it *Iterator) closeLevels(from int) error {
	for depth := from; depth >= 0; depth-- {
		for it.dec.More() {
			key, raw, err := it.readField()
			if err != nil {
				return err
			}
			if depth == 0 {
				it.setMeta(key, raw)
			}
		}
		if _, err := it.dec.Token(); err != nil {
			return err
		}
	}
	return nil
}

// release closes the connection. it.mu must be held.
func (it *Iterator) release() {
	if it.cancel != nil {
		it.cancel()
	}
	if it.body != nil {
		_ = it.body.Close()
		it.body = nil
	}
}

// Abort stops iteration and closes the connection. Any blocked or
// subsequent call to Next returns io.EOF. Abort is safe to call from any
// goroutine, and more than once.
func (it *Iterator) Abort() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.aborted = true
	if !it.state.terminal() {
		it.state = StateAborted
	}
	it.release()
}

// Close aborts the iterator. It always returns nil.
func (it *Iterator) Close() error {
	it.Abort()
	return nil
}

// interrupt closes the connection without aborting, so that the pending or
// next read fails.
func (it *Iterator) interrupt() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.release()
}

// Each calls fn for every item, waiting for fn to return before reading
// further. Iteration stops at the end of the response, when fn returns an
// error, or when the iterator is aborted. Aborting is not an error.
func (it *Iterator) Each(ctx context.Context, fn func(context.Context, json.RawMessage) error) error {
	defer it.Close() // nolint: errcheck
	for {
		item, err := it.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(ctx, item); err != nil {
			return err
		}
	}
}
