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

package slouch

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-kivik/slouch/chttp"
	"github.com/go-kivik/slouch/errors"
)

// Session represents an authentication session.
type Session struct {
	// Name is the name of the authenticated user, empty when anonymous.
	Name string
	// Roles is a list of roles the user belongs to.
	Roles []string
	// AuthenticationMethod is the authentication method that was used for this
	// session.
	AuthenticationMethod string
	// AuthenticationDB is the user database against which authentication was
	// performed.
	AuthenticationDB string
	// AuthenticationHandlers is a list of authentication handlers configured on
	// the server.
	AuthenticationHandlers []string
	// RawResponse is the raw JSON response sent by the server.
	RawResponse json.RawMessage
}

type sessionResponse struct {
	Name    string   `json:"name"`
	Roles   []string `json:"roles"`
	UserCtx *struct {
		Name  string   `json:"name"`
		Roles []string `json:"roles"`
	} `json:"userCtx"`
	Info struct {
		Method   string   `json:"authenticated"`
		DB       string   `json:"authentication_db"`
		Handlers []string `json:"authentication_handlers"`
	} `json:"info"`
}

func decodeSession(body []byte) (*Session, error) {
	var r sessionResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, errors.Malformed(0, "", err)
	}
	s := &Session{
		Name:                   r.Name,
		Roles:                  r.Roles,
		AuthenticationMethod:   r.Info.Method,
		AuthenticationDB:       r.Info.DB,
		AuthenticationHandlers: r.Info.Handlers,
		RawResponse:            body,
	}
	if r.UserCtx != nil {
		s.Name = r.UserCtx.Name
		s.Roles = r.UserCtx.Roles
	}
	return s, nil
}

// Login authenticates with the server's cookie authentication. On success
// the session cookie is sent with every subsequent request made by c.
func (c *Client) Login(ctx context.Context, name, password string) (*Session, error) {
	resp, err := c.do(ctx, &chttp.Request{
		Method: http.MethodPost,
		Path:   "/_session",
		Body: map[string]string{
			"name":     name,
			"password": password,
		},
		FullResponse: true,
	})
	if err != nil {
		return nil, err
	}
	if resp.Ignored {
		return &Session{Name: name}, nil
	}
	for _, cookie := range resp.HTTP.Cookies() {
		if cookie.Name == chttp.SessionCookieName {
			c.client.SetSession(cookie)
			break
		}
	}
	return decodeSession(resp.Body)
}

// Session returns information about the currently authenticated user.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	resp, err := c.do(ctx, &chttp.Request{
		Method: http.MethodGet,
		Path:   "/_session",
	})
	if err != nil {
		return nil, err
	}
	if resp.Ignored {
		return &Session{}, nil
	}
	return decodeSession(resp.Body)
}

// Logout ends the current cookie session.
func (c *Client) Logout(ctx context.Context) error {
	defer c.client.ClearSession()
	_, err := c.do(ctx, &chttp.Request{
		Method: http.MethodDelete,
		Path:   "/_session",
	})
	return err
}
