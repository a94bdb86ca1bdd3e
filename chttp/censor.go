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
	"net/url"
	"strings"
)

// passwordMask replaces passwords in censored URLs.
const passwordMask = "**********"

// CensorURL replaces the password embedded in rawURL, if any, with a fixed
// mask. Strings which do not parse as URLs are returned unaltered.
func CensorURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return rawURL
	}
	if _, ok := u.User.Password(); !ok {
		return rawURL
	}
	i := strings.Index(rawURL, "://")
	if i < 0 {
		return rawURL
	}
	prefix, rest := rawURL[:i+3], rawURL[i+3:]
	authority := rest
	if end := strings.IndexAny(rest, "/?#"); end >= 0 {
		authority = rest[:end]
	}
	at := strings.LastIndex(authority, "@")
	if at < 0 {
		return rawURL
	}
	colon := strings.Index(authority[:at], ":")
	if colon < 0 {
		return rawURL
	}
	return prefix + rest[:colon+1] + passwordMask + rest[at:]
}
