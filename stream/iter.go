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

//go:build go1.23

package stream

import (
	"context"
	"encoding/json"
	"io"
	"iter"

	"github.com/go-kivik/slouch/errors"
)

// All returns an iterator over the remaining items, for use with range:
//
//	for item, err := range it.All(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    process(item)
//	}
//
// Breaking out of the loop aborts the iterator.
func (it *Iterator) All(ctx context.Context) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		defer it.Close() // nolint: errcheck
		for {
			item, err := it.Next(ctx)
			if err == io.EOF {
				return
			}
			if !yield(item, err) || err != nil {
				return
			}
		}
	}
}

// Items returns an iterator which decodes each remaining item of it into a
// T.
func Items[T any](ctx context.Context, it *Iterator) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for item, err := range it.All(ctx) {
			var v T
			if err == nil {
				if e := json.Unmarshal(item, &v); e != nil {
					err = errors.Malformed(0, "", e)
				}
			}
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}
