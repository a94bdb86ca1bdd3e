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
	"context"
	"net/http"
)

// ClientTrace is a set of hooks to run at various stages of an outgoing
// HTTP request. The provided hooks are called synchronously, and receive
// copies of the request and response, without bodies.
type ClientTrace struct {
	// HTTPRequest is called before the request is sent.
	HTTPRequest func(*http.Request)
	// HTTPResponse is called once the response headers have been received.
	HTTPResponse func(*http.Response)
}

type clientTraceContextKey struct{}

// ContextClientTrace returns the ClientTrace associated with the
// provided context. If none, it returns nil.
func ContextClientTrace(ctx context.Context) *ClientTrace {
	trace, _ := ctx.Value(clientTraceContextKey{}).(*ClientTrace)
	return trace
}

// WithClientTrace returns a new context based on the provided parent
// ctx. HTTP client requests made with the returned context will use the
// provided trace hooks.
func WithClientTrace(ctx context.Context, trace *ClientTrace) context.Context {
	return context.WithValue(ctx, clientTraceContextKey{}, trace)
}

func (t *ClientTrace) httpRequest(r *http.Request) {
	if t.HTTPRequest == nil {
		return
	}
	clone := r.Clone(r.Context())
	clone.Body = nil
	t.HTTPRequest(clone)
}

func (t *ClientTrace) httpResponse(r *http.Response) {
	if t.HTTPResponse == nil || r == nil {
		return
	}
	clone := new(http.Response)
	*clone = *r
	clone.Header = r.Header.Clone()
	clone.Body = nil
	t.HTTPResponse(clone)
}
