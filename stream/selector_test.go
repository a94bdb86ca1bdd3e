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
	"testing"

	"gitlab.com/flimzy/testy"
)

func TestParseSelector(t *testing.T) {
	type tt struct {
		expr string
		want Selector
		err  string
	}

	tests := testy.NewTable()
	tests.Add("continuous", tt{expr: "", want: Continuous})
	tests.Add("top level", tt{expr: "*", want: Selector{Path: []string{}}})
	tests.Add("results", tt{expr: "results.*", want: Results})
	tests.Add("nested", tt{expr: "a.b.*", want: Selector{Path: []string{"a", "b"}}})
	tests.Add("no wildcard", tt{expr: "results", err: "bad_request: unsupported selector: results"})
	tests.Add("inner wildcard", tt{expr: "*.rows.*", err: "bad_request: unsupported selector: *.rows.*"})
	tests.Add("empty segment", tt{expr: "a..*", err: "bad_request: unsupported selector: a..*"})

	tests.Run(t, func(t *testing.T, tt tt) {
		got, err := ParseSelector(tt.expr)
		if !testy.ErrorMatches(tt.err, err) {
			t.Errorf("Unexpected error: %v", err)
		}
		if err != nil {
			return
		}
		if d := testy.DiffInterface(tt.want, got); d != nil {
			t.Error(d)
		}
		if got.String() != tt.expr {
			t.Errorf("Selector does not round trip: %q", got.String())
		}
	})
}
