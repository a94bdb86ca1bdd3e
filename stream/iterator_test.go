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
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"gitlab.com/flimzy/testy"

	"github.com/go-kivik/slouch/chttp"
	slerrors "github.com/go-kivik/slouch/errors"
)

func staticDo(status int, s string) RequestFunc {
	return func(context.Context, *chttp.Request) (*http.Response, error) {
		return &http.Response{StatusCode: status, Header: http.Header{}, Body: body(s)}, nil
	}
}

func TestIteratorEach(t *testing.T) {
	type tt struct {
		sel   Selector
		body  string
		want  []string
		meta  map[string]json.RawMessage
		err   string
		state State
	}

	tests := testy.NewTable()
	tests.Add("changes", tt{
		sel:   Results,
		body:  `{"results":[{"seq":1,"id":"a"},{"seq":2,"id":"b"}],"last_seq":2,"pending":0}`,
		want:  []string{`{"seq":1,"id":"a"}`, `{"seq":2,"id":"b"}`},
		meta:  map[string]json.RawMessage{"last_seq": json.RawMessage(`2`), "pending": json.RawMessage(`0`)},
		state: StateCompleted,
	})
	tests.Add("rows with leading meta", tt{
		sel:   Rows,
		body:  `{"total_rows":2,"offset":0,"rows":[{"id":"a"},{"id":"b"}]}`,
		want:  []string{`{"id":"a"}`, `{"id":"b"}`},
		meta:  map[string]json.RawMessage{"total_rows": json.RawMessage(`2`), "offset": json.RawMessage(`0`)},
		state: StateCompleted,
	})
	tests.Add("top level array", tt{
		sel:   TopLevel,
		body:  `["_users","foo"]`,
		want:  []string{`"_users"`, `"foo"`},
		meta:  map[string]json.RawMessage{},
		state: StateCompleted,
	})
	tests.Add("continuous", tt{
		sel:   Continuous,
		body:  "{\"seq\":1}\n\n{\"seq\":2}\n{\"last_seq\":2}\n",
		want:  []string{`{"seq":1}`, `{"seq":2}`, `{"last_seq":2}`},
		meta:  map[string]json.RawMessage{},
		state: StateCompleted,
	})
	tests.Add("object container", tt{
		sel:   Selector{Path: []string{"results"}},
		body:  `{"results":{"a":{"n":1},"b":{"n":2}}}`,
		want:  []string{`{"n":1}`, `{"n":2}`},
		meta:  map[string]json.RawMessage{},
		state: StateCompleted,
	})
	tests.Add("nested path", tt{
		sel:   Selector{Path: []string{"data", "items"}},
		body:  `{"v":1,"data":{"skip":true,"items":[1,2],"after":3},"w":2}`,
		want:  []string{`1`, `2`},
		meta:  map[string]json.RawMessage{"v": json.RawMessage(`1`), "w": json.RawMessage(`2`)},
		state: StateCompleted,
	})
	tests.Add("selected key missing", tt{
		sel:   Results,
		body:  `{"last_seq":"5-x"}`,
		want:  nil,
		meta:  map[string]json.RawMessage{"last_seq": json.RawMessage(`"5-x"`)},
		state: StateCompleted,
	})
	tests.Add("empty results", tt{
		sel:   Results,
		body:  `{"results":[],"last_seq":0}`,
		want:  nil,
		meta:  map[string]json.RawMessage{"last_seq": json.RawMessage(`0`)},
		state: StateCompleted,
	})
	tests.Add("error in first chunk", tt{
		sel:   Results,
		body:  `{"error":"not_found","reason":"Database does not exist."}`,
		err:   "not_found: Database does not exist. [GET /db/_changes]",
		state: StateErrored,
	})
	tests.Add("selected value not a container", tt{
		sel:   Results,
		body:  `{"results":5}`,
		err:   "malformed_body: selected value is not a container: 5 [GET /db/_changes]",
		state: StateErrored,
	})
	tests.Add("syntax error", tt{
		sel:   Results,
		body:  `{"results":[{"a":1},]}`,
		want:  []string{`{"a":1}`},
		err:   "malformed_body: invalid character ']' looking for beginning of value [GET /db/_changes]",
		state: StateErrored,
	})

	tests.Run(t, func(t *testing.T, tt tt) {
		it := New(staticDo(http.StatusOK, tt.body), changesReq, tt.sel)
		if it.State() != StateCreated {
			t.Errorf("Unexpected initial state: %s", it.State())
		}
		c := &collector{}
		err := it.Each(context.Background(), c.add)
		if d := testy.DiffInterface(tt.want, c.get()); d != nil {
			t.Error(d)
		}
		if got := it.State(); got != tt.state {
			t.Errorf("Unexpected final state: %s", got)
		}
		if !testy.ErrorMatches(tt.err, err) {
			t.Errorf("Unexpected error: %v", err)
		}
		if err != nil {
			return
		}
		if d := testy.DiffInterface(tt.meta, it.Meta()); d != nil {
			t.Error(d)
		}
	})
}

func TestIteratorTruncated(t *testing.T) {
	do := func(context.Context, *chttp.Request) (*http.Response, error) {
		return ok(failAfter(`{"results":[{"a":1},{"a"`, io.ErrUnexpectedEOF)), nil
	}
	it := New(do, changesReq, Results)
	c := &collector{}
	err := it.Each(context.Background(), c.add)
	if !slerrors.Transient(err) {
		t.Errorf("Expected a transient error, got %v", err)
	}
	if got := c.get(); len(got) != 1 {
		t.Errorf("Unexpected items: %v", got)
	}
}

func TestIteratorRequestError(t *testing.T) {
	want := &slerrors.Error{Kind: slerrors.KindUnauthorized, Status: http.StatusUnauthorized}
	do := func(context.Context, *chttp.Request) (*http.Response, error) {
		return nil, want
	}
	it := New(do, changesReq, Results)
	_, err := it.Next(context.Background())
	if err != want {
		t.Errorf("Unexpected error: %v", err)
	}
	// The error is sticky.
	if _, err := it.Next(context.Background()); err != want {
		t.Errorf("Unexpected second error: %v", err)
	}
}

func TestIteratorConsumerError(t *testing.T) {
	it := New(staticDo(http.StatusOK, `[1,2,3]`), changesReq, TopLevel)
	want := errors.New("consumer failed")
	var n int
	err := it.Each(context.Background(), func(context.Context, json.RawMessage) error {
		n++
		if n == 2 {
			return want
		}
		return nil
	})
	if err != want {
		t.Errorf("Unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("Consumer called %d times", n)
	}
}

func TestIteratorBackpressure(t *testing.T) {
	it := New(staticDo(http.StatusOK, `[1,2,3,4]`), changesReq, TopLevel)
	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}
	err := it.Each(context.Background(), func(_ context.Context, item json.RawMessage) error {
		record("start " + string(item))
		if it.State() != StatePaused {
			t.Errorf("Iterator should be paused during processing, was %s", it.State())
		}
		time.Sleep(5 * time.Millisecond)
		record("end " + string(item))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"start 1", "end 1", "start 2", "end 2", "start 3", "end 3", "start 4", "end 4"}
	if d := testy.DiffInterface(want, events); d != nil {
		t.Error(d)
	}
}

func TestIteratorAbortFromConsumer(t *testing.T) {
	var b *blockingBody
	do := func(ctx context.Context, _ *chttp.Request) (*http.Response, error) {
		b = block(ctx, "{\"seq\":1}\n{\"seq\":2}\n{\"seq\":3}\n")
		return ok(b), nil
	}
	it := New(do, changesReq, Continuous)
	c := &collector{}
	err := it.Each(context.Background(), func(ctx context.Context, item json.RawMessage) error {
		_ = c.add(ctx, item)
		if len(c.get()) == 2 {
			it.Abort()
		}
		return nil
	})
	if err != nil {
		t.Errorf("Abort should not be an error: %s", err)
	}
	if got := c.get(); len(got) != 2 {
		t.Errorf("Items delivered after abort: %v", got)
	}
	if it.State() != StateAborted {
		t.Errorf("Unexpected state: %s", it.State())
	}
	select {
	case <-b.closed:
	default:
		t.Error("connection not closed")
	}
}

func TestIteratorAbortWhileBlocked(t *testing.T) {
	do := func(ctx context.Context, _ *chttp.Request) (*http.Response, error) {
		return ok(block(ctx, "{\"seq\":1}\n")), nil
	}
	it := New(do, changesReq, Continuous)
	c := &collector{}
	done := make(chan error)
	go func() { done <- it.Each(context.Background(), c.add) }()
	time.Sleep(20 * time.Millisecond)
	if got := it.State(); got != StateStreaming {
		t.Errorf("Expected to be blocked streaming, got %s", got)
	}
	it.Abort()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Unexpected error: %s", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Each did not return after Abort")
	}
	if _, err := it.Next(context.Background()); err != io.EOF {
		t.Errorf("Expected io.EOF after abort, got %v", err)
	}
}

func TestIteratorAbortBeforeStart(t *testing.T) {
	var called bool
	do := func(context.Context, *chttp.Request) (*http.Response, error) {
		called = true
		return ok(body(`[]`)), nil
	}
	it := New(do, changesReq, TopLevel)
	it.Abort()
	if err := it.Each(context.Background(), func(context.Context, json.RawMessage) error { return nil }); err != nil {
		t.Error(err)
	}
	if called {
		t.Error("no request should be made after abort")
	}
}

func TestIteratorLargeFirstChunk(t *testing.T) {
	var buf []byte
	buf = append(buf, `{"results":[`...)
	for i := 0; i < 1000; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, fmt.Sprintf(`{"seq":%d}`, i)...)
	}
	buf = append(buf, `]}`...)
	it := New(staticDo(http.StatusOK, string(buf)), changesReq, Results)
	var n int
	err := it.Each(context.Background(), func(context.Context, json.RawMessage) error {
		n++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1000 {
		t.Errorf("Unexpected item count: %d", n)
	}
}
