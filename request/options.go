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

package request

import (
	"fmt"

	"github.com/go-kivik/slouch/backoff"
	"github.com/go-kivik/slouch/log"
)

// Option configures a [Requester]. Options ignore targets they do not
// recognize, so the same set of options may be passed to several layers.
type Option interface {
	Apply(target interface{})
}

type maxConnections int

// OptionMaxConnections sets the maximum number of concurrent requests.
func OptionMaxConnections(n int) Option { return maxConnections(n) }

func (o maxConnections) Apply(target interface{}) {
	if r, ok := target.(*Requester); ok {
		r.maxConnections = int(o)
	}
}

func (o maxConnections) String() string { return fmt.Sprintf("[MaxConnections:%d]", int(o)) }

type maxRetries int

// OptionMaxRetries sets the number of times a request failing with a
// transient error is retried.
func OptionMaxRetries(n int) Option { return maxRetries(n) }

func (o maxRetries) Apply(target interface{}) {
	if r, ok := target.(*Requester); ok {
		r.maxRetries = int(o)
	}
}

func (o maxRetries) String() string { return fmt.Sprintf("[MaxRetries:%d]", int(o)) }

type backoffPolicy backoff.Policy

// OptionBackoff sets the delays between retried requests.
func OptionBackoff(p backoff.Policy) Option { return backoffPolicy(p) }

func (o backoffPolicy) Apply(target interface{}) {
	if r, ok := target.(*Requester); ok {
		r.policy = backoff.Policy(o)
	}
}

type logEverything bool

// OptionLogEverything enables logging of every request and its outcome.
func OptionLogEverything(v bool) Option { return logEverything(v) }

func (o logEverything) Apply(target interface{}) {
	if r, ok := target.(*Requester); ok {
		r.logEverything = bool(o)
	}
}

type loggerOption struct {
	log.Logger
}

// OptionLogger sets the logger. It applies to any target with a settable
// logger.
func OptionLogger(l log.Logger) Option { return loggerOption{l} }

func (o loggerOption) Apply(target interface{}) {
	switch t := target.(type) {
	case *Requester:
		t.log = o.Logger
	case interface{ SetLogger(log.Logger) }:
		t.SetLogger(o.Logger)
	}
}
