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

package internal

import (
	"errors"
	"net/http"
	"testing"

	"gitlab.com/flimzy/testy"
)

type statusErr struct {
	error
	status int
}

func (e statusErr) HTTPStatus() int { return e.status }
func (e statusErr) StatusCode() int { return e.status }

func TestStatusErrorDiff(t *testing.T) {
	type tt struct {
		expected string
		status   int
		re       bool
		err      error
		wantDiff bool
	}
	notFound := statusErr{errors.New("not_found: missing"), http.StatusNotFound}

	tests := testy.NewTable()
	tests.Add("nil expected nil", tt{})
	tests.Add("unexpected success", tt{expected: "boom", wantDiff: true})
	tests.Add("unexpected error", tt{err: errors.New("boom"), wantDiff: true})
	tests.Add("message match", tt{expected: "boom", err: errors.New("boom")})
	tests.Add("message mismatch", tt{expected: "bang", err: errors.New("boom"), wantDiff: true})
	tests.Add("status match", tt{expected: "not_found: missing", status: http.StatusNotFound, err: notFound})
	tests.Add("status mismatch", tt{expected: "not_found: missing", status: http.StatusConflict, err: notFound, wantDiff: true})
	tests.Add("pattern match", tt{expected: "^not_found:", status: http.StatusNotFound, re: true, err: notFound})
	tests.Add("pattern with nil error", tt{expected: "^not_found:", re: true, wantDiff: true})
	tests.Add("empty pattern needs nil error", tt{re: true, err: notFound, wantDiff: true})

	tests.Run(t, func(t *testing.T, tt tt) {
		var d string
		if tt.re {
			d = StatusErrorDiffRE(tt.expected, tt.status, tt.err)
		} else {
			d = StatusErrorDiff(tt.expected, tt.status, tt.err)
		}
		if got := d != ""; got != tt.wantDiff {
			t.Errorf("Unexpected diff result %t: %q", got, d)
		}
	})
}
