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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/icza/dyno"

	"github.com/go-kivik/slouch/backoff"
	"github.com/go-kivik/slouch/chttp"
	"github.com/go-kivik/slouch/errors"
)

// Persistent iterates over a feed across any number of connections. After
// a transient failure, it reconnects with backoff, resuming from the cursor
// of the last item the consumer accepted. Items are delivered at least
// once.
type Persistent struct {
	do  RequestFunc
	req *chttp.Request
	sel Selector
	cfg *config

	mu       sync.Mutex
	cursor   string
	current  *Iterator
	cancel   context.CancelFunc
	aborted  bool
	state    State
	connects int
}

// NewPersistent returns a persistent iterator over the items selected by
// sel from req's responses.
func NewPersistent(do RequestFunc, req *chttp.Request, sel Selector, opts ...Option) *Persistent {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	p := &Persistent{
		do:  do,
		req: req,
		sel: sel,
		cfg: cfg,
	}
	if req.Query != nil {
		p.cursor = req.Query.Get(cfg.cursorParam)
	}
	if cfg.startCursor != "" {
		p.cursor = cfg.startCursor
	}
	return p
}

// Cursor returns the cursor of the last item accepted by the consumer, or
// the starting cursor.
func (p *Persistent) Cursor() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// State returns the iterator's current state.
func (p *Persistent) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.terminal() || p.current == nil {
		return p.state
	}
	if s := p.current.State(); !s.terminal() {
		return s
	}
	return StateConnecting
}

// Connects returns the number of connections opened so far.
func (p *Persistent) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

func (p *Persistent) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Persistent) isAborted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aborted
}

// Abort stops iteration: the connection is closed, pending timers are
// stopped, and no further reconnection is made. An item being processed by
// the consumer is allowed to finish. Abort is safe to call from any
// goroutine, including the consumer.
func (p *Persistent) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aborted = true
	p.state = StateAborted
	if p.cancel != nil {
		p.cancel()
	}
	if p.current != nil {
		p.current.Abort()
	}
}

// Each calls fn for every item, waiting for fn to return before reading
// further. It returns nil when the feed completes or is aborted, the first
// error returned by fn, or the error which ended the feed.
func (p *Persistent) Each(ctx context.Context, fn func(context.Context, json.RawMessage) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.mu.Lock()
	if p.aborted {
		p.mu.Unlock()
		return nil
	}
	p.cancel = cancel
	p.mu.Unlock()

	bo := backoff.New(p.cfg.policy)
	failures := 0
	for {
		it, forced, stop := p.connect(runCtx)
		if it == nil {
			return nil
		}
		progress, consumerErr, err := p.drain(ctx, runCtx, it, fn)
		stop()
		if progress {
			failures = 0
			bo.Reset()
		}
		switch {
		case p.isAborted():
			return nil
		case consumerErr:
			it.Abort()
			p.setState(StateErrored)
			return err
		case err == nil && !p.cfg.indefinite:
			p.setState(StateCompleted)
			return nil
		case forced.Load():
			p.cfg.log.Debugf("Reconnecting %s from %q on schedule", p.req, p.Cursor())
			continue
		case err == nil:
			p.cfg.log.Debugf("Feed %s closed by server; reconnecting from %q", p.req, p.Cursor())
			bo.Reset()
		case errors.Transient(err):
			failures++
			if p.cfg.maxReconnects >= 0 && failures > p.cfg.maxReconnects {
				p.cfg.log.Errorf("Giving up on %s after %d reconnection attempts: %s", p.req, failures-1, err)
				p.setState(StateErrored)
				return err
			}
			p.cfg.log.Infof("Transient problem with %s, reconnecting from %q: %s", p.req, p.Cursor(), err)
		default:
			p.setState(StateErrored)
			return err
		}
		if err := bo.Wait(runCtx); err != nil {
			if p.isAborted() {
				return nil
			}
			p.setState(StateErrored)
			return errors.FromTransport(err, p.req.String())
		}
	}
}

// connect prepares the next connection, resuming from the cursor. The
// returned stop function cancels the forced reconnection timer. A nil
// iterator is returned if p has been aborted.
func (p *Persistent) connect(ctx context.Context) (*Iterator, *atomic.Bool, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.aborted {
		return nil, nil, nil
	}
	req := p.req.Clone()
	if p.cursor != "" {
		if req.Query == nil {
			req.Query = url.Values{}
		}
		req.Query.Set(p.cfg.cursorParam, p.cursor)
	}
	it := New(p.do, req, p.sel)
	p.current = it
	p.connects++
	forced := &atomic.Bool{}
	stop := func() {}
	if d := p.cfg.forceReconnectAfter; d > 0 {
		timer := time.AfterFunc(d, func() {
			forced.Store(true)
			it.interrupt()
		})
		stop = func() { timer.Stop() }
	}
	return it, forced, stop
}

// drain delivers items from it until it is exhausted or fails. progress
// reports whether any item was accepted; consumerErr whether err came from
// fn.
func (p *Persistent) drain(ctx, runCtx context.Context, it *Iterator, fn func(context.Context, json.RawMessage) error) (progress, consumerErr bool, err error) {
	for {
		item, err := it.Next(runCtx)
		if err == io.EOF {
			return progress, false, nil
		}
		if err != nil {
			return progress, false, err
		}
		if p.cfg.keep(item) {
			if err := fn(ctx, item); err != nil {
				return progress, true, err
			}
		}
		if cursor, ok := extractCursor(item, p.cfg.cursorPaths); ok {
			p.mu.Lock()
			p.cursor = cursor
			p.mu.Unlock()
		}
		progress = true
	}
}

// extractCursor returns the value at the first of paths present in item.
// Numeric cursors are preserved verbatim; non-scalar cursors are returned
// as JSON.
func extractCursor(item json.RawMessage, paths [][]string) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(item))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", false
	}
	for _, path := range paths {
		keys := make([]interface{}, len(path))
		for i, k := range path {
			keys[i] = k
		}
		value, err := dyno.Get(v, keys...)
		if err != nil || value == nil {
			continue
		}
		switch t := value.(type) {
		case string:
			return t, true
		case json.Number:
			return t.String(), true
		}
		buf, err := json.Marshal(value)
		if err != nil {
			continue
		}
		return string(buf), true
	}
	return "", false
}
