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

// Package internal holds helpers shared by the tests of several packages.
package internal

import (
	"fmt"
	"regexp"

	"gitlab.com/flimzy/testy"
)

// StatusErrorDiff compares err against an expected message and HTTP status.
// An empty expected message means err must be nil; a zero status is not
// checked. It returns "" on a match, or a description of the mismatch.
func StatusErrorDiff(expected string, status int, err error) string {
	return errorDiff(expected, status, err, func(msg string) bool {
		return msg == expected
	})
}

// StatusErrorDiffRE is like StatusErrorDiff, but expected is a regular
// expression.
func StatusErrorDiffRE(expected string, status int, err error) string {
	re, reErr := regexp.Compile(expected)
	if reErr != nil {
		return reErr.Error()
	}
	return errorDiff(expected, status, err, re.MatchString)
}

// ErrorDiff compares err against an expected message only.
func ErrorDiff(expected string, err error) string {
	return StatusErrorDiff(expected, 0, err)
}

// ErrorDiffRE compares err against an expected pattern only.
func ErrorDiffRE(expected string, err error) string {
	return StatusErrorDiffRE(expected, 0, err)
}

func errorDiff(expected string, status int, err error, match func(string) bool) string {
	if err == nil {
		if expected == "" {
			return ""
		}
		return fmt.Sprintf("Unexpected success (expected %s)", expected)
	}
	if expected == "" || !match(err.Error()) {
		return fmt.Sprintf("Unexpected error: %s (expected %q)", err, expected)
	}
	if status != 0 {
		if got := testy.StatusCode(err); got != status {
			return fmt.Sprintf("Unexpected status code: %d (expected %d) [%s]", got, status, err)
		}
	}
	return ""
}
