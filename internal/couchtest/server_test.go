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

package couchtest

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"gitlab.com/flimzy/testy"
)

func TestSeq(t *testing.T) {
	seq := formatSeq(42)
	n, err := parseSeq(seq)
	if err != nil {
		t.Fatal(err)
	}
	if n != 42 {
		t.Errorf("Expected 42, got %d", n)
	}
	if _, err := parseSeq("bogus"); err == nil {
		t.Error("Expected an error for a malformed sequence")
	}
}

func TestPutRevisions(t *testing.T) {
	s := New(t)
	s.CreateDB("db")
	rev, err := s.Put("db", map[string]interface{}{"_id": "a"})
	if err != nil {
		t.Fatal(err)
	}
	if err := validator.New().Var(rev, "startswith=1-"); err != nil {
		t.Error(err)
	}
	if _, err := s.Put("db", map[string]interface{}{"_id": "a"}); err != errConflict {
		t.Errorf("Expected a conflict, got %v", err)
	}
	rev2, err := s.Put("db", map[string]interface{}{"_id": "a", "_rev": rev})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(rev2, "2-") {
		t.Errorf("Unexpected rev: %s", rev2)
	}
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close() // nolint: errcheck
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	return res.StatusCode, body
}

func TestFaults(t *testing.T) {
	s := New(t)
	s.Inject(Fault{Path: "/_all_dbs", Times: 2, Error: "unknown_error", Reason: "boom"})
	if s.Pending() != 2 {
		t.Errorf("Expected 2 pending faults, got %d", s.Pending())
	}
	for i := 0; i < 2; i++ {
		status, body := get(t, s.URL()+"_all_dbs")
		if status != http.StatusInternalServerError {
			t.Errorf("Unexpected status %d", status)
		}
		if d := testy.DiffAsJSON([]byte(`{"error":"unknown_error","reason":"boom"}`), body); d != nil {
			t.Error(d)
		}
	}
	status, body := get(t, s.URL()+"_all_dbs")
	if status != http.StatusOK || string(body) != "[]" {
		t.Errorf("Unexpected response %d: %s", status, body)
	}
	if d := testy.DiffInterface([]string{"/_all_dbs", "/_all_dbs", "/_all_dbs"}, s.RequestsTo(http.MethodGet, "/_all")); d != nil {
		t.Error(d)
	}
}

func TestAuthRequired(t *testing.T) {
	s := New(t, WithUser("bob", "secret"))
	status, _ := get(t, s.URL()+"_all_dbs")
	if status != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", status)
	}
	status, _ = get(t, s.DSN("bob", "secret")+"_all_dbs")
	if status != http.StatusOK {
		t.Errorf("Expected 200, got %d", status)
	}
}

func TestContinuousChanges(t *testing.T) {
	s := New(t)
	s.CreateDB("db")
	if _, err := s.Put("db", map[string]interface{}{"_id": "first"}); err != nil {
		t.Fatal(err)
	}
	res, err := http.Get(s.URL() + "db/_changes?feed=continuous")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close() // nolint: errcheck
	lines := bufio.NewScanner(res.Body)

	next := func() string {
		t.Helper()
		for lines.Scan() {
			if line := strings.TrimSpace(lines.Text()); line != "" {
				var c struct {
					ID string `json:"id"`
				}
				if err := json.Unmarshal([]byte(line), &c); err != nil {
					t.Fatal(err)
				}
				return c.ID
			}
		}
		t.Fatalf("Feed ended: %v", lines.Err())
		return ""
	}
	if id := next(); id != "first" {
		t.Errorf("Expected first, got %s", id)
	}
	if _, err := s.Put("db", map[string]interface{}{"_id": "second"}); err != nil {
		t.Fatal(err)
	}
	if id := next(); id != "second" {
		t.Errorf("Expected second, got %s", id)
	}
	if s.Feeds() != 1 {
		t.Errorf("Expected one open feed, got %d", s.Feeds())
	}
}
