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

import "net/http"

// SessionCookieName is the name of the CouchDB session cookie.
const SessionCookieName = "AuthSession"

// SetSession sets the session cookie sent with subsequent requests which do
// not carry their own Cookie header.
func (c *Client) SetSession(cookie *http.Cookie) {
	clone := *cookie
	if clone.Path == "" {
		clone.Path = "/"
	}
	c.jar.SetCookies(c.dsn, []*http.Cookie{&clone})
}

// Session returns the current session cookie, or nil if none is set or it
// has expired.
func (c *Client) Session() *http.Cookie {
	for _, cookie := range c.jar.Cookies(c.dsn) {
		if cookie.Name == SessionCookieName {
			return cookie
		}
	}
	return nil
}

// ClearSession discards the current session cookie.
func (c *Client) ClearSession() {
	c.jar.SetCookies(c.dsn, []*http.Cookie{{
		Name:   SessionCookieName,
		Path:   "/",
		MaxAge: -1,
	}})
}
