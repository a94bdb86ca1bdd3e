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
	"net/url"

	"github.com/go-kivik/slouch/chttp"
)

// Attachment is the content of a document attachment.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

func (db *DB) attachmentPath(docID, filename string) string {
	return db.docPath(docID) + "/" + url.PathEscape(filename)
}

// GetAttachment fetches an attachment. The content is returned unparsed.
func (db *DB) GetAttachment(ctx context.Context, docID, filename string) (*Attachment, error) {
	if docID == "" {
		return nil, missingArg("docID")
	}
	if filename == "" {
		return nil, missingArg("filename")
	}
	resp, err := db.client.do(ctx, &chttp.Request{
		Method: http.MethodGet,
		Path:   db.attachmentPath(docID, filename),
		Raw:    true,
	})
	if err != nil {
		return nil, err
	}
	return &Attachment{
		Filename:    filename,
		ContentType: resp.Header.Get("Content-Type"),
		Content:     resp.Body,
	}, nil
}

// PutAttachment adds or replaces an attachment on the given revision of a
// document, returning the document's new revision.
func (db *DB) PutAttachment(ctx context.Context, docID, rev string, att *Attachment) (string, error) {
	if docID == "" {
		return "", missingArg("docID")
	}
	if att == nil || att.Filename == "" {
		return "", missingArg("filename")
	}
	var query url.Values
	if rev != "" {
		query = url.Values{"rev": []string{rev}}
	}
	header := http.Header{}
	if att.ContentType != "" {
		header.Set("Content-Type", att.ContentType)
	}
	resp, err := db.client.do(ctx, &chttp.Request{
		Method: http.MethodPut,
		Path:   db.attachmentPath(docID, att.Filename),
		Query:  query,
		Header: header,
		Body:   att.Content,
	})
	if err != nil {
		return "", err
	}
	var result writeResult
	if resp.Ignored {
		return "", nil
	}
	if err := resp.Decode(&result); err != nil {
		return "", err
	}
	return result.Rev, nil
}

// DestroyAttachment removes an attachment from the given revision of a
// document.
func (db *DB) DestroyAttachment(ctx context.Context, docID, filename, rev string) error {
	if docID == "" {
		return missingArg("docID")
	}
	if filename == "" {
		return missingArg("filename")
	}
	_, err := db.client.do(ctx, &chttp.Request{
		Method: http.MethodDelete,
		Path:   db.attachmentPath(docID, filename),
		Query:  url.Values{"rev": []string{rev}},
	})
	return err
}
