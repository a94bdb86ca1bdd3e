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

// Package errors provides the normalized error type returned by every slouch
// layer, along with the predicates used to decide whether a failed request
// should be retried, ignored, or propagated.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Kind is a machine-readable error classification. Errors reported by the
// server keep the raw CouchDB error string as their Kind.
type Kind string

// Kinds with special meaning to slouch. Any other string reported in a
// CouchDB error body is also a valid Kind.
const (
	KindNone                Kind = ""
	KindConflict            Kind = "conflict"
	KindNotFound            Kind = "not_found"
	KindUnauthorized        Kind = "unauthorized"
	KindFileExists          Kind = "file_exists"
	KindMalformedBody       Kind = "malformed_body"
	KindBadRequest          Kind = "bad_request"
	KindTransport           Kind = "transport"
	KindAllDBsActive        Kind = "all_dbs_active"
	KindFunctionClause      Kind = "function_clause"
	KindUnknownError        Kind = "unknown_error"
	KindInternalServerError Kind = "internal_server_error"
)

// Error is the normalized error produced by slouch.
type Error struct {
	// Kind classifies the error.
	Kind Kind
	// Status is the HTTP status equivalent, or 0 when none applies.
	Status int
	// Reason is the human-readable reason reported by the server, if any.
	Reason string
	// Cause is set for transport-level failures.
	Cause Cause
	// Request describes the request that failed, with credentials censored.
	Request string
	// Err is the underlying error, if any.
	Err error
}

var _ interface {
	error
	HTTPStatus() int
	Unwrap() error
} = &Error{}

func (e *Error) Error() string {
	var b strings.Builder
	switch {
	case e.Kind == KindTransport:
		b.WriteString("transport error")
		if e.Cause != CauseNone {
			fmt.Fprintf(&b, " (%s)", e.Cause)
		}
		if e.Err != nil {
			b.WriteString(": " + e.Err.Error())
		}
	case e.Reason != "":
		fmt.Fprintf(&b, "%s: %s", e.Kind, e.Reason)
	case e.Err != nil:
		fmt.Fprintf(&b, "%s: %s", e.Kind, e.Err)
	default:
		b.WriteString(string(e.Kind))
	}
	if e.Request != "" {
		b.WriteString(" [" + e.Request + "]")
	}
	return b.String()
}

// HTTPStatus returns the HTTP status equivalent of the error.
func (e *Error) HTTPStatus() int {
	return e.Status
}

// StatusCode returns the HTTP status equivalent of the error.
func (e *Error) StatusCode() int {
	return e.Status
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a new normalized error.
func New(kind Kind, status int, reason string) *Error {
	return &Error{Kind: kind, Status: status, Reason: reason}
}

// FromBody converts the error and reason fields of a CouchDB response body
// into a normalized error. httpStatus is the status of the response that
// carried the body.
func FromBody(httpStatus int, kind, reason, request string) *Error {
	return &Error{
		Kind:    Kind(kind),
		Status:  statusFor(Kind(kind), reason, httpStatus),
		Reason:  reason,
		Request: request,
	}
}

const missingSource = "Could not open source database"

func statusFor(kind Kind, reason string, httpStatus int) int {
	switch {
	case kind == KindConflict:
		return http.StatusConflict
	case kind == KindNotFound, strings.Contains(reason, missingSource):
		return http.StatusNotFound
	case kind == KindUnauthorized:
		return http.StatusUnauthorized
	case httpStatus >= http.StatusBadRequest:
		return httpStatus
	}
	return 0
}

// Malformed returns a malformed_body error for the request.
func Malformed(httpStatus int, request string, err error) *Error {
	status := http.StatusBadGateway
	if httpStatus >= http.StatusBadRequest {
		status = httpStatus
	}
	return &Error{
		Kind:    KindMalformedBody,
		Status:  status,
		Request: request,
		Err:     err,
	}
}

// FromTransport wraps a network-level failure. Errors which are already
// normalized are returned unaltered.
func FromTransport(err error, request string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{
		Kind:    KindTransport,
		Status:  http.StatusBadGateway,
		Cause:   Classify(err),
		Request: request,
		Err:     err,
	}
}

// KindOf returns the Kind of err, or KindNone if err is not a normalized
// error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}

// CauseOf returns the transport Cause of err, or CauseNone.
func CauseOf(err error) Cause {
	var e *Error
	if errors.As(err, &e) {
		return e.Cause
	}
	return CauseNone
}

// StatusCode returns the HTTP status embedded in err, or 0.
func StatusCode(err error) int {
	var coder interface {
		HTTPStatus() int
	}
	if errors.As(err, &coder) {
		return coder.HTTPStatus()
	}
	return 0
}

// IsConflict returns true if err is a document update conflict.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsNotFound returns true if err reports a missing database or document.
func IsNotFound(err error) bool { return StatusCode(err) == http.StatusNotFound }

// IsUnauthorized returns true if err is an authentication failure.
func IsUnauthorized(err error) bool { return KindOf(err) == KindUnauthorized }

// IsMalformed returns true if the server's response could not be parsed.
func IsMalformed(err error) bool { return KindOf(err) == KindMalformedBody }

// IsFileExists returns true if err reports that a database already exists.
func IsFileExists(err error) bool { return KindOf(err) == KindFileExists }

// As is a wrapper around the standard errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is a wrapper around the standard errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap is a wrapper around pkg/errors.Wrap()
func Wrap(err error, msg string) error {
	return pkgerrors.Wrap(err, msg)
}

// Wrapf is a wrapper around pkg/errors.Wrapf()
func Wrapf(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, format, args...)
}

// Errorf is a wrapper around pkg/errors.Errorf()
func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}
