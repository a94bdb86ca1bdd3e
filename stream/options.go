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
	"encoding/json"
	"strings"
	"time"

	"github.com/go-kivik/slouch/backoff"
	"github.com/go-kivik/slouch/log"
)

// DefaultMaxReconnects is the default number of consecutive reconnection
// attempts, without any item being consumed, before a persistent iterator
// gives up.
const DefaultMaxReconnects = 10

// Option configures a persistent iterator.
type Option func(*config)

type config struct {
	cursorParam         string
	cursorPaths         [][]string
	startCursor         string
	indefinite          bool
	forceReconnectAfter time.Duration
	policy              backoff.Policy
	maxReconnects       int
	log                 log.Logger
	filters             []func(json.RawMessage) bool
}

func defaultConfig() *config {
	return &config{
		cursorParam:   "since",
		cursorPaths:   [][]string{{"seq"}, {"last_seq"}},
		policy:        backoff.DefaultPolicy,
		maxReconnects: DefaultMaxReconnects,
		log:           log.NewNil(),
	}
}

// CursorParam sets the query parameter used to resume from the last
// consumed item. The default is "since".
func CursorParam(name string) Option {
	return func(c *config) { c.cursorParam = name }
}

// CursorPaths sets the dotted paths, tried in order, at which an item's
// cursor is found. The default is "seq", then "last_seq".
func CursorPaths(paths ...string) Option {
	return func(c *config) {
		c.cursorPaths = make([][]string, 0, len(paths))
		for _, p := range paths {
			c.cursorPaths = append(c.cursorPaths, strings.Split(p, "."))
		}
	}
}

// StartCursor sets the cursor from which the first request starts.
func StartCursor(cursor string) Option {
	return func(c *config) { c.startCursor = cursor }
}

// Indefinite causes the iterator to reconnect when the server closes the
// response normally, as with continuous feeds.
func Indefinite(v bool) Option {
	return func(c *config) { c.indefinite = v }
}

// ForceReconnectAfter closes and reopens the connection every d, resuming
// from the cursor. Zero disables forced reconnection.
func ForceReconnectAfter(d time.Duration) Option {
	return func(c *config) { c.forceReconnectAfter = d }
}

// ReconnectPolicy sets the delays between reconnection attempts.
func ReconnectPolicy(p backoff.Policy) Option {
	return func(c *config) { c.policy = p }
}

// MaxReconnects sets the number of consecutive failed reconnections
// tolerated. A negative value means no limit.
func MaxReconnects(n int) Option {
	return func(c *config) { c.maxReconnects = n }
}

// WithLogger sets the logger used to report reconnections.
func WithLogger(l log.Logger) Option {
	return func(c *config) { c.log = l }
}

// Filter skips items for which keep returns false. Skipped items still
// advance the cursor. Multiple filters must all pass.
func Filter(keep func(json.RawMessage) bool) Option {
	return func(c *config) { c.filters = append(c.filters, keep) }
}

func (c *config) keep(item json.RawMessage) bool {
	for _, f := range c.filters {
		if !f(item) {
			return false
		}
	}
	return true
}
