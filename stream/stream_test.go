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

package stream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-kivik/slouch/backoff"
	"github.com/go-kivik/slouch/chttp"
)

var (
	fastPolicy = backoff.Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond}
	slowPolicy = backoff.Policy{Initial: time.Hour, Max: time.Hour}

	// fast keeps reconnection delays short in tests.
	fast = ReconnectPolicy(fastPolicy)
)

func body(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

func ok(r io.ReadCloser) *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: r}
}

// failAfter returns a body which yields s, then fails with err.
func failAfter(s string, err error) io.ReadCloser {
	return io.NopCloser(io.MultiReader(strings.NewReader(s), &errReader{err: err}))
}

// blockingBody yields s, then blocks until ctx is cancelled or the body is
// closed.
type blockingBody struct {
	r      io.Reader
	ctx    context.Context
	once   sync.Once
	closed chan struct{}
}

func block(ctx context.Context, s string) *blockingBody {
	return &blockingBody{r: strings.NewReader(s), ctx: ctx, closed: make(chan struct{})}
}

func (b *blockingBody) Read(p []byte) (int, error) {
	if n, err := b.r.Read(p); err != io.EOF {
		return n, err
	}
	select {
	case <-b.ctx.Done():
		return 0, b.ctx.Err()
	case <-b.closed:
		return 0, io.ErrClosedPipe
	}
}

func (b *blockingBody) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

// feed is a scripted RequestFunc. The n-th request is answered by the n-th
// responder.
type feed struct {
	mu         sync.Mutex
	reqs       []*chttp.Request
	responders []func(context.Context) (*http.Response, error)
}

func (f *feed) do(ctx context.Context, req *chttp.Request) (*http.Response, error) {
	f.mu.Lock()
	i := len(f.reqs)
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if i >= len(f.responders) {
		return f.responders[len(f.responders)-1](ctx)
	}
	return f.responders[i](ctx)
}

func (f *feed) since() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.reqs))
	for i, r := range f.reqs {
		out[i] = r.Query.Get("since")
	}
	return out
}

type collector struct {
	mu    sync.Mutex
	items []string
}

func (c *collector) add(_ context.Context, item json.RawMessage) error {
	c.mu.Lock()
	c.items = append(c.items, string(item))
	c.mu.Unlock()
	return nil
}

func (c *collector) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	return append(out, c.items...)
}

var changesReq = &chttp.Request{Method: http.MethodGet, Path: "/db/_changes"}
