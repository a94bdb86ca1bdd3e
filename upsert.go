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
	"reflect"

	"github.com/go-kivik/slouch/backoff"
	"github.com/go-kivik/slouch/errors"
)

// DefaultUpsertMaxRetries is the default number of attempts an upsert makes
// before giving up on a document which keeps conflicting.
const DefaultUpsertMaxRetries = 20

// Upserter implements read-then-write updates over a [DocumentStore],
// retrying the whole cycle when the write loses a revision race.
type Upserter struct {
	store            DocumentStore
	maxRetries       int
	ignoreDuplicates bool
	policy           backoff.Policy
}

// NewUpserter returns an Upserter writing to store. It accepts
// [OptionUpsertMaxRetries], [OptionIgnoreDuplicateUpdates] and
// [OptionUpsertBackoff].
func NewUpserter(store DocumentStore, options ...Option) *Upserter {
	u := &Upserter{
		store:            store,
		maxRetries:       DefaultUpsertMaxRetries,
		ignoreDuplicates: true,
		policy:           backoff.DefaultPolicy,
	}
	allOptions(options).Apply(u)
	return u
}

// sameContent reports whether a and b hold the same data, disregarding
// _rev. Both are normalized through JSON so that, for instance, an int and
// the float64 decoded from the server compare equal.
func sameContent(a, b Doc) bool {
	na, errA := normalized(a)
	nb, errB := normalized(b)
	if errA != nil || errB != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

func normalized(doc Doc) (interface{}, error) {
	doc = doc.Clone()
	delete(doc, "_rev")
	buf, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var v interface{}
	err = json.Unmarshal(buf, &v)
	return v, err
}

// UpdateOrIgnore writes doc, unless duplicate suppression is enabled and
// doc has the same content as current, in which case doc is returned
// without a write.
func (u *Upserter) UpdateOrIgnore(ctx context.Context, current, doc Doc) (Doc, error) {
	if u.ignoreDuplicates && sameContent(current, doc) {
		return doc, nil
	}
	return u.store.Update(ctx, doc)
}

// CreateOrUpdate writes doc over the current revision of the document with
// the same _id, or creates it if there is none. A single attempt is made;
// a conflict is returned to the caller.
func (u *Upserter) CreateOrUpdate(ctx context.Context, doc Doc) (Doc, error) {
	docID := doc.ID()
	if docID == "" {
		return u.store.Create(ctx, doc)
	}
	current, err := u.store.Get(ctx, docID)
	if err != nil && !errors.IsNotFound(err) {
		return nil, err
	}
	if current == nil {
		fresh := doc.Clone()
		delete(fresh, "_rev")
		return u.store.Create(ctx, fresh)
	}
	next := doc.Clone()
	next["_rev"] = current.Rev()
	return u.UpdateOrIgnore(ctx, current, next)
}

// persist runs fn until it succeeds, fails with anything other than a
// conflict, or has been attempted maxRetries times. Attempts after the
// first are delayed by a backoff sequence private to this call.
func (u *Upserter) persist(ctx context.Context, fn func(context.Context) (Doc, error)) (Doc, error) {
	bo := backoff.New(u.policy)
	for {
		var doc Doc
		err := bo.Attempt(ctx, func() error {
			var err error
			doc, err = fn(ctx)
			return err
		})
		switch {
		case err == nil:
			return doc, nil
		case errors.IsConflict(err) && bo.Attempts() < u.maxRetries:
			continue
		}
		// A context expiring during the backoff wait surfaces raw.
		return nil, errors.FromTransport(err, "")
	}
}

// Upsert creates or updates doc, retrying on conflict.
func (u *Upserter) Upsert(ctx context.Context, doc Doc) (Doc, error) {
	return u.persist(ctx, func(ctx context.Context) (Doc, error) {
		return u.CreateOrUpdate(ctx, doc)
	})
}

// GetMergeUpdate fetches the document with doc's _id, overwrites its
// top-level fields with those of doc, and writes the result. The document
// must exist.
func (u *Upserter) GetMergeUpdate(ctx context.Context, doc Doc) (Doc, error) {
	current, err := u.store.Get(ctx, doc.ID())
	if err != nil {
		return nil, err
	}
	return u.UpdateOrIgnore(ctx, current, current.merge(doc))
}

// GetMergeCreateOrUpdate is like GetMergeUpdate, but creates the document
// if it does not exist.
func (u *Upserter) GetMergeCreateOrUpdate(ctx context.Context, doc Doc) (Doc, error) {
	if doc.ID() == "" {
		return u.CreateOrUpdate(ctx, doc)
	}
	current, err := u.store.Get(ctx, doc.ID())
	if err = IgnoreMissing(err); err != nil {
		return nil, err
	}
	if current == nil {
		return u.CreateOrUpdate(ctx, doc)
	}
	return u.CreateOrUpdate(ctx, current.merge(doc))
}

// GetMergeUpsert merges doc into the stored document, creating it if
// needed, and retries on conflict.
func (u *Upserter) GetMergeUpsert(ctx context.Context, doc Doc) (Doc, error) {
	return u.persist(ctx, func(ctx context.Context) (Doc, error) {
		return u.GetMergeCreateOrUpdate(ctx, doc)
	})
}

// ModifyFunc returns the new content of a document, given a copy of its
// current content. It may be called several times for one upsert, so it
// must not have side effects. Returning a nil Doc skips the write.
type ModifyFunc func(ctx context.Context, doc Doc) (Doc, error)

// GetModifyUpsert fetches a document, passes it to modify, and writes the
// result, repeating the whole cycle on conflict. If modify returns a nil
// Doc, nothing is written and the current document is returned.
func (u *Upserter) GetModifyUpsert(ctx context.Context, docID string, modify ModifyFunc) (Doc, error) {
	return u.persist(ctx, func(ctx context.Context) (Doc, error) {
		current, err := u.store.Get(ctx, docID)
		if err != nil {
			return nil, err
		}
		modified, err := modify(ctx, current.Clone())
		if err != nil {
			return nil, err
		}
		if modified == nil {
			return current, nil
		}
		return u.UpdateOrIgnore(ctx, current, modified)
	})
}

// CreateOrUpdate writes doc over the current revision, or creates it. See
// [Upserter.CreateOrUpdate].
func (db *DB) CreateOrUpdate(ctx context.Context, doc Doc) (Doc, error) {
	return db.upserter.CreateOrUpdate(ctx, doc)
}

// Upsert creates or updates doc, retrying on conflict. See
// [Upserter.Upsert].
func (db *DB) Upsert(ctx context.Context, doc Doc) (Doc, error) {
	return db.upserter.Upsert(ctx, doc)
}

// UpdateOrIgnore writes doc unless it duplicates current.
func (db *DB) UpdateOrIgnore(ctx context.Context, current, doc Doc) (Doc, error) {
	return db.upserter.UpdateOrIgnore(ctx, current, doc)
}

// GetMergeUpdate merges doc into the existing document.
func (db *DB) GetMergeUpdate(ctx context.Context, doc Doc) (Doc, error) {
	return db.upserter.GetMergeUpdate(ctx, doc)
}

// GetMergeCreateOrUpdate merges doc into the stored document, or creates it.
func (db *DB) GetMergeCreateOrUpdate(ctx context.Context, doc Doc) (Doc, error) {
	return db.upserter.GetMergeCreateOrUpdate(ctx, doc)
}

// GetMergeUpsert merges doc into the stored document, creating it if
// needed, and retries on conflict.
func (db *DB) GetMergeUpsert(ctx context.Context, doc Doc) (Doc, error) {
	return db.upserter.GetMergeUpsert(ctx, doc)
}

// GetModifyUpsert applies modify to a document, retrying on conflict. See
// [Upserter.GetModifyUpsert].
func (db *DB) GetModifyUpsert(ctx context.Context, docID string, modify ModifyFunc) (Doc, error) {
	return db.upserter.GetModifyUpsert(ctx, docID, modify)
}
