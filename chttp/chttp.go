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

// Package chttp provides the single-attempt HTTP transport used to
// communicate with CouchDB servers.
package chttp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/go-kivik/slouch/errors"
)

const typeJSON = "application/json"

// The default UserAgent values
const (
	UserAgent = "Slouch chttp"
	Version   = "1.0.0"
)

// Client represents a client connection. It embeds an *http.Client.
type Client struct {
	// UserAgents is appended to set the User-Agent header. Typically it should
	// contain pairs of product name and version.
	UserAgents []string

	*http.Client

	rawDSN   string
	dsn      *url.URL
	user     *url.Userinfo
	basePath string

	// jar holds the session cookie. It is owned by this client, and is not
	// consulted by the embedded *http.Client.
	jar *cookiejar.Jar
}

// New returns a connection to a remote CouchDB server. If credentials are
// included in the URL, requests are authenticated with HTTP Basic Auth.
func New(client *http.Client, dsn string) (*Client, error) {
	dsnURL, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{}
	}
	user := dsnURL.User
	dsnURL.User = nil
	// cookiejar.New never returns an error
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &Client{
		UserAgents: []string{fmt.Sprintf("%s/%s", UserAgent, Version)},
		Client:     client,
		rawDSN:     dsn,
		dsn:        dsnURL,
		user:       user,
		basePath:   strings.TrimSuffix(dsnURL.Path, "/"),
		jar:        jar,
	}, nil
}

func parseDSN(dsn string) (*url.URL, error) {
	if dsn == "" {
		return nil, &errors.Error{
			Kind:   errors.KindBadRequest,
			Status: http.StatusBadRequest,
			Reason: "no URL specified",
		}
	}
	if !strings.HasPrefix(dsn, "http://") && !strings.HasPrefix(dsn, "https://") {
		dsn = "http://" + dsn
	}
	dsnURL, err := url.Parse(dsn)
	if err != nil {
		return nil, &errors.Error{Kind: errors.KindBadRequest, Status: http.StatusBadRequest, Err: err}
	}
	if dsnURL.Path == "" {
		dsnURL.Path = "/"
	}
	return dsnURL, nil
}

// DSN returns the unparsed DSN used to connect.
func (c *Client) DSN() string {
	return c.rawDSN
}

// CensoredDSN returns the normalized server URL, including the username but
// with any password censored. It is suitable for logging.
func (c *Client) CensoredDSN() string {
	u := *c.dsn
	u.User = c.user
	return CensorURL(u.String())
}

func (c *Client) path(path string) string {
	if c.basePath != "" {
		return c.basePath + "/" + strings.TrimPrefix(path, "/")
	}
	return "/" + strings.TrimPrefix(path, "/")
}

// url resolves req against the server URL. Credentials are not included.
func (c *Client) url(req *Request) (*url.URL, error) {
	p, err := url.Parse(c.path(req.Path))
	if err != nil {
		return nil, &errors.Error{Kind: errors.KindBadRequest, Status: http.StatusBadRequest, Err: err}
	}
	u := *c.dsn // Make a copy
	u.Path = p.Path
	u.RawPath = p.RawPath
	u.RawQuery = p.RawQuery
	if len(req.Query) > 0 {
		if u.RawQuery == "" {
			u.RawQuery = req.Query.Encode()
		} else {
			u.RawQuery = strings.Join([]string{u.RawQuery, req.Query.Encode()}, "&")
		}
	}
	return &u, nil
}

// URL returns the full URL req would be sent to, with any password censored.
// It is suitable for logging.
func (c *Client) URL(req *Request) string {
	u, err := c.url(req)
	if err != nil {
		return CensorURL(c.rawDSN)
	}
	u.User = c.user
	return CensorURL(u.String())
}

func (c *Client) userAgent() string {
	return strings.Join(c.UserAgents, " ")
}

// NewRequest returns a new *http.Request to the CouchDB server for req.
func (c *Client) NewRequest(ctx context.Context, req *Request) (*http.Request, error) {
	u, err := c.url(req)
	if err != nil {
		return nil, err
	}
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}
	r, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, &errors.Error{Kind: errors.KindBadRequest, Status: http.StatusBadRequest, Err: err}
	}
	accept := typeJSON
	if req.Raw {
		accept = "*/*"
	}
	r.Header.Set("Accept", accept)
	if body != nil {
		r.Header.Set("Content-Type", typeJSON)
	}
	if ua := c.userAgent(); ua != "" {
		r.Header.Set("User-Agent", ua)
	}
	for k, v := range req.Header {
		r.Header[k] = v
	}
	if c.user != nil && r.Header.Get("Authorization") == "" {
		password, _ := c.user.Password()
		r.SetBasicAuth(c.user.Username(), password)
	}
	if r.Header.Get("Cookie") == "" {
		for _, cookie := range c.jar.Cookies(c.dsn) {
			r.AddCookie(cookie)
		}
	}
	return r, nil
}

// DoReq performs a single HTTP request. An error is returned only if there
// was an error processing the request. In particular, an error status code,
// such as 400 or 500, does _not_ cause an error to be returned. Network errors
// are returned untranslated.
func (c *Client) DoReq(ctx context.Context, req *Request) (*http.Response, error) {
	if req.Method == "" {
		return nil, &errors.Error{Kind: errors.KindBadRequest, Status: http.StatusBadRequest, Reason: "chttp: method required"}
	}
	r, err := c.NewRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	trace := ContextClientTrace(ctx)
	if trace != nil {
		trace.httpRequest(r)
	}
	res, err := c.Client.Do(r)
	if trace != nil {
		trace.httpResponse(res)
	}
	return res, err
}

// ETag returns the unquoted ETag value, and a bool indicating whether it was
// found.
func ETag(resp *http.Response) (string, bool) {
	if resp == nil {
		return "", false
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", false
	}
	return strings.Trim(etag, `"`), true
}
