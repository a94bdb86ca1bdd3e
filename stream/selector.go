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
	"net/http"
	"strings"

	"github.com/go-kivik/slouch/errors"
)

// Selector identifies the items to emit from a JSON response.
type Selector struct {
	// Path lists the object keys leading to the container whose elements
	// are emitted. An empty Path selects the top-level value.
	Path []string
	// Continuous indicates the body is a sequence of concatenated or
	// newline-delimited JSON values, each of which is an item.
	Continuous bool
}

// Common selectors.
var (
	Results    = Selector{Path: []string{"results"}}
	Rows       = Selector{Path: []string{"rows"}}
	TopLevel   = Selector{}
	Continuous = Selector{Continuous: true}
)

// ParseSelector parses a selector expression. The expression is a dotted
// path of object keys ending in "*", such as "results.*" or "*". The empty
// expression selects a continuous feed.
func ParseSelector(expr string) (Selector, error) {
	if expr == "" {
		return Continuous, nil
	}
	parts := strings.Split(expr, ".")
	last := len(parts) - 1
	if parts[last] != "*" {
		return Selector{}, badSelector(expr)
	}
	for _, part := range parts[:last] {
		if part == "" || part == "*" {
			return Selector{}, badSelector(expr)
		}
	}
	return Selector{Path: parts[:last]}, nil
}

func badSelector(expr string) error {
	return &errors.Error{
		Kind:   errors.KindBadRequest,
		Status: http.StatusBadRequest,
		Reason: "unsupported selector: " + expr,
	}
}

func (s Selector) String() string {
	if s.Continuous {
		return ""
	}
	return strings.Join(append(append([]string{}, s.Path...), "*"), ".")
}
