// Package slouch is a resilient client for CouchDB and CouchDB-like
// servers.
//
// All requests made through a [Client] share a concurrency budget, are
// retried with exponential backoff while they fail transiently, and report
// failures as a normalized [github.com/go-kivik/slouch/errors.Error].
// Large results are read through persistent streaming iterators, which
// resume from the last consumed change after a dropped connection. Document
// writes may be made with the upsert family of methods, which persist
// through update conflicts.
package slouch // import "github.com/go-kivik/slouch"
