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
	"strings"
	"time"
)

// UsersDB is the name of the authentication database.
const UsersDB = "_users"

const userIDPrefix = "org.couchdb.user:"

// UserID returns the document ID of the named user.
func UserID(name string) string {
	return userIDPrefix + name
}

// Username returns the user name encoded in a user document ID.
func Username(userID string) string {
	return strings.TrimPrefix(userID, userIDPrefix)
}

// Users manages documents in the authentication database. Role changes are
// applied with [Upserter.GetModifyUpsert], so concurrent edits of the same
// user are retried rather than lost.
type Users struct {
	db  *DB
	now func() time.Time
}

// Users returns a handle to the authentication database.
func (c *Client) Users() *Users {
	return &Users{db: c.DB(UsersDB), now: time.Now}
}

// Create stores a new user document.
func (u *Users) Create(ctx context.Context, name, password string, roles []string, metadata map[string]interface{}) (Doc, error) {
	if name == "" {
		return nil, missingArg("name")
	}
	if roles == nil {
		roles = []string{}
	}
	return u.db.Update(ctx, Doc{
		"_id":       UserID(name),
		"name":      name,
		"password":  password,
		"roles":     roles,
		"type":      "user",
		"metadata":  metadata,
		"createdAt": u.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// Get fetches a user document.
func (u *Users) Get(ctx context.Context, name string) (Doc, error) {
	return u.db.Get(ctx, UserID(name))
}

// Destroy deletes a user.
func (u *Users) Destroy(ctx context.Context, name string) error {
	return u.db.GetAndDestroy(ctx, UserID(name))
}

// SetPassword changes a user's password.
func (u *Users) SetPassword(ctx context.Context, name, password string) (Doc, error) {
	return u.db.GetModifyUpsert(ctx, UserID(name), func(_ context.Context, doc Doc) (Doc, error) {
		doc["password"] = password
		return doc, nil
	})
}

// UpsertRole grants role to a user. Granting a role the user already holds
// writes nothing.
func (u *Users) UpsertRole(ctx context.Context, name, role string) (Doc, error) {
	if role == "" {
		return nil, missingArg("role")
	}
	return u.db.GetModifyUpsert(ctx, UserID(name), func(_ context.Context, doc Doc) (Doc, error) {
		roles := rolesOf(doc)
		for _, r := range roles {
			if r == role {
				return nil, nil
			}
		}
		doc["roles"] = append(roles, role)
		return doc, nil
	})
}

// DownsertRole revokes role from a user. Revoking a role the user does not
// hold writes nothing.
func (u *Users) DownsertRole(ctx context.Context, name, role string) (Doc, error) {
	if role == "" {
		return nil, missingArg("role")
	}
	return u.db.GetModifyUpsert(ctx, UserID(name), func(_ context.Context, doc Doc) (Doc, error) {
		roles := rolesOf(doc)
		kept := make([]string, 0, len(roles))
		for _, r := range roles {
			if r != role {
				kept = append(kept, r)
			}
		}
		if len(kept) == len(roles) {
			return nil, nil
		}
		doc["roles"] = kept
		return doc, nil
	})
}

func rolesOf(doc Doc) []string {
	switch t := doc["roles"].(type) {
	case []string:
		return append([]string(nil), t...)
	case []interface{}:
		roles := make([]string, 0, len(t))
		for _, r := range t {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	}
	return []string{}
}
