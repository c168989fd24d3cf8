// Package store defines the table access contract every backend implements:
// transactional reads/writes/deletes against one named table, batched select
// with continuation, and total-order cursor primitives (First/Next).
//
// Stores return raw entries. They never filter by liveness; expiry is the
// caller's concern (see the entry package).
package store

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/relcache/entry"
)

var (
	// ErrTxAborted wraps any failure to commit a transaction. Callers should
	// treat it as retryable unless documented otherwise.
	ErrTxAborted = errors.New("store: transaction aborted")

	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("store: closed")

	// ErrNoTable is returned when the table has not been created yet.
	// Cluster bootstrap (or the facade in standalone mode) owns creation
	// via EnsureTable.
	ErrNoTable = errors.New("store: table does not exist")
)

// Predicate is a guard evaluated against a raw record. A nil Predicate
// matches every record.
type Predicate func(entry.Entry) bool

// Store is a single-table record store with a total order over keys.
// Implementations must be safe for concurrent use. Absence is reported as
// (zero, false, nil), never as an error.
type Store interface {
	// Read returns the raw entry for key. No liveness filtering.
	Read(ctx context.Context, key string) (entry.Entry, bool, error)

	// Write replaces any existing entry for e.Key atomically.
	Write(ctx context.Context, e entry.Entry) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// BulkRead reads all keys inside one transaction for a consistent
	// snapshot. Absent keys are silently omitted; found entries come back
	// in input-key order.
	BulkRead(ctx context.Context, keys []string) ([]entry.Entry, error)

	// BulkWrite applies all writes inside one transaction. If the store
	// aborts, none of the batch is persisted.
	BulkWrite(ctx context.Context, entries []entry.Entry) error

	// Select examines at most limit records after the continuation token
	// (cont == "" starts at the table head) and returns those matching
	// pred, the token to resume from, and whether more records remain.
	// A round may return an empty batch with more == true when nothing in
	// the examined range matched.
	Select(ctx context.Context, pred Predicate, cont string, limit int) (batch []entry.Entry, next string, more bool, err error)

	// First returns the smallest key, or false at end of table.
	First(ctx context.Context) (string, bool, error)

	// Next returns the next key strictly greater than key, or false at
	// end of table.
	Next(ctx context.Context, key string) (string, bool, error)

	// Update runs fn inside one read-write transaction. All operations in
	// fn observe a consistent snapshot and commit atomically; if fn
	// returns an error or the store aborts, nothing is persisted and the
	// reason comes back wrapped in ErrTxAborted.
	Update(ctx context.Context, fn func(Tx) error) error

	// EnsureTable creates the table if missing. Creating a table that
	// already exists is success, not an error.
	EnsureTable(ctx context.Context) error

	// Count returns the number of records currently in the table.
	Count(ctx context.Context) (int, error)

	// Close releases resources. Subsequent operations return ErrClosed.
	Close(ctx context.Context) error
}

// Tx is the operation set available inside one Update scope.
type Tx interface {
	Read(key string) (entry.Entry, bool, error)
	Write(e entry.Entry) error
	Delete(key string) error
}

// ExpiredGuard matches entries whose finite TTL has elapsed at now.
// Never-expire entries are excluded by construction.
func ExpiredGuard(now int64) Predicate {
	return func(e entry.Entry) bool {
		return e.StatusAt(now) == entry.StatusExpired
	}
}

// LiveGuard matches entries still active at now.
func LiveGuard(now int64) Predicate {
	return func(e entry.Entry) bool {
		return e.StatusAt(now) == entry.StatusActive
	}
}
