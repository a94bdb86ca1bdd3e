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
	"net/http"

	"github.com/go-kivik/slouch/chttp"
)

// Members is a list of users and roles which have access to a database.
type Members struct {
	Names []string `json:"names"`
	Roles []string `json:"roles"`
}

// Security is a database security document.
type Security struct {
	Admins  Members `json:"admins"`
	Members Members `json:"members"`
}

// Security returns the database's security document.
func (db *DB) Security(ctx context.Context) (*Security, error) {
	resp, err := db.client.do(ctx, &chttp.Request{
		Method: http.MethodGet,
		Path:   db.path("_security"),
	})
	if err != nil {
		return nil, err
	}
	sec := &Security{}
	if err := resp.Decode(sec); err != nil {
		return nil, err
	}
	return sec, nil
}

// SetSecurity replaces the database's security document.
func (db *DB) SetSecurity(ctx context.Context, security *Security) error {
	_, err := db.client.do(ctx, &chttp.Request{
		Method: http.MethodPut,
		Path:   db.path("_security"),
		Body:   security,
	})
	return err
}

// OnlyRoleCanView restricts reads to users with role. Server admins retain
// administrative access.
func (db *DB) OnlyRoleCanView(ctx context.Context, role string) error {
	if role == "" {
		return missingArg("role")
	}
	return db.SetSecurity(ctx, &Security{
		Admins:  Members{Names: []string{"_admin"}, Roles: []string{}},
		Members: Members{Names: []string{}, Roles: []string{role}},
	})
}

// OnlyAdminCanView restricts reads to server admins.
func (db *DB) OnlyAdminCanView(ctx context.Context) error {
	return db.OnlyRoleCanView(ctx, "_admin")
}
