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

package errors

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// Cause classifies a transport-level failure.
type Cause string

// Transport causes.
const (
	CauseNone           Cause = ""
	CauseConnRefused    Cause = "connection_refused"
	CauseConnReset      Cause = "connection_reset"
	CauseNetUnreachable Cause = "network_unreachable"
	CauseTooManyFiles   Cause = "too_many_open_files"
	CauseHangUp         Cause = "socket_hang_up"
	CauseTimeout        Cause = "timeout"
	CauseDNSTemporary   Cause = "dns_temporary"
	CauseDNSNotFound    Cause = "dns_not_found"
	CauseCanceled       Cause = "canceled"
	CauseOther          Cause = "other"
)

// Classify determines the Cause of a raw transport error.
func Classify(err error) Cause {
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case err == nil:
		return CauseNone
	case errors.Is(err, context.Canceled):
		return CauseCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return CauseTimeout
	case errors.As(err, &dnsErr):
		if dnsErr.IsNotFound {
			return CauseDNSNotFound
		}
		if dnsErr.IsTemporary || dnsErr.IsTimeout {
			return CauseDNSTemporary
		}
		return CauseOther
	case errors.Is(err, syscall.ECONNREFUSED):
		return CauseConnRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return CauseConnReset
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return CauseNetUnreachable
	case errors.Is(err, syscall.EMFILE), errors.Is(err, syscall.ENFILE):
		return CauseTooManyFiles
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return CauseHangUp
	case errors.As(err, &netErr) && netErr.Timeout():
		return CauseTimeout
	}
	// net/http reports a peer closing an idle keep-alive connection without
	// a typed error.
	if strings.Contains(err.Error(), "server closed idle connection") {
		return CauseHangUp
	}
	return CauseOther
}

var transientCauses = map[Cause]bool{
	CauseConnRefused:    true,
	CauseConnReset:      true,
	CauseNetUnreachable: true,
	CauseTooManyFiles:   true,
	CauseHangUp:         true,
	CauseTimeout:        true,
	CauseDNSTemporary:   true,
}

var transientKinds = map[Kind]bool{
	KindAllDBsActive:        true,
	KindFunctionClause:      true,
	KindUnknownError:        true,
	KindInternalServerError: true,
}

// Transient returns true if err represents a temporary condition which is
// expected to clear up on retry.
func Transient(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Kind == KindTransport {
		return transientCauses[e.Cause]
	}
	return transientKinds[e.Kind]
}

const defaultAuthHandler = "default_authentication_handler"

// Ignorable returns true for errors CouchDB reports spuriously from its
// default authentication handler under load. Such errors are swallowed.
func Ignorable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return strings.Contains(string(e.Kind), defaultAuthHandler) ||
		strings.Contains(e.Reason, defaultAuthHandler)
}
