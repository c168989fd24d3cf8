// Package bolt implements the store contract on go.etcd.io/bbolt.
// One bucket per table; bbolt's byte ordering of bucket keys provides the
// total order behind First/Next and Select continuations.
package bolt

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/unkn0wn-root/relcache/entry"
	"github.com/unkn0wn-root/relcache/store"
)

const boltFileMode os.FileMode = 0o600

var (
	boltTimeout        = 5 * time.Second
	defaultBoltOptions = &bbolt.Options{Timeout: boltTimeout, NoGrowSync: true}
)

// Config tunes the bolt-backed store. Path and Table are required.
type Config struct {
	// Path is the database file. One file may host several tables; each
	// Store instance is scoped to exactly one.
	Path string

	// Table is the bucket name all operations are scoped to.
	Table string

	// Options overrides the bbolt open options. Nil uses production
	// defaults (short open timeout, NoGrowSync).
	Options *bbolt.Options
}

// Store is a single-table view over a bbolt database.
//
// bbolt provides single-writer/multi-reader semantics; only the close state
// is guarded here so operations fail fast after shutdown.
type Store struct {
	db     *bbolt.DB
	bucket []byte
	table  string
	closed atomic.Bool
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database file. It does not create the table;
// EnsureTable owns that, so cluster bootstrap can decide which node creates
// the schema.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("bolt: path is required")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("bolt: table is required")
	}

	opts := cfg.Options
	if opts == nil {
		optionsCopy := *defaultBoltOptions
		opts = &optionsCopy
	}

	db, err := bbolt.Open(cfg.Path, boltFileMode, opts)
	if err != nil {
		return nil, fmt.Errorf("bolt: opening database: %w", err)
	}

	return &Store{db: db, bucket: []byte(cfg.Table), table: cfg.Table}, nil
}

func (s *Store) EnsureTable(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := contextErr(ctx); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(s.bucket)
		return e
	})
	if err != nil {
		return fmt.Errorf("bolt: creating table %q: %w", s.table, err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, key string) (entry.Entry, bool, error) {
	var (
		out   entry.Entry
		found bool
	)
	err := s.view(ctx, func(b *bbolt.Bucket) error {
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		e, err := entry.Decode(s.table, key, raw)
		if err != nil {
			return err
		}
		out, found = e, true
		return nil
	})
	if err != nil {
		return entry.Entry{}, false, err
	}
	return out, found, nil
}

func (s *Store) Write(ctx context.Context, e entry.Entry) error {
	return s.update(ctx, func(b *bbolt.Bucket) error {
		return b.Put([]byte(e.Key), entry.Encode(e))
	})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.update(ctx, func(b *bbolt.Bucket) error {
		return b.Delete([]byte(key))
	})
}

func (s *Store) BulkRead(ctx context.Context, keys []string) ([]entry.Entry, error) {
	out := make([]entry.Entry, 0, len(keys))
	err := s.view(ctx, func(b *bbolt.Bucket) error {
		for _, key := range keys {
			raw := b.Get([]byte(key))
			if raw == nil {
				continue
			}
			e, err := entry.Decode(s.table, key, raw)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) BulkWrite(ctx context.Context, entries []entry.Entry) error {
	return s.update(ctx, func(b *bbolt.Bucket) error {
		for _, e := range entries {
			if err := b.Put([]byte(e.Key), entry.Encode(e)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Select(ctx context.Context, pred store.Predicate, cont string, limit int) ([]entry.Entry, string, bool, error) {
	var (
		batch []entry.Entry
		next  string
		more  bool
	)
	err := s.view(ctx, func(b *bbolt.Bucket) error {
		cur := b.Cursor()
		var k, v []byte
		if cont == "" {
			k, v = cur.First()
		} else {
			k, v = cur.Seek([]byte(cont))
			if k != nil && string(k) == cont {
				k, v = cur.Next()
			}
		}

		examined := 0
		for k != nil && examined < limit {
			e, err := entry.Decode(s.table, string(k), v)
			if err != nil {
				return err
			}
			if pred == nil || pred(e) {
				batch = append(batch, e)
			}
			next = string(k)
			examined++
			k, v = cur.Next()
		}
		more = k != nil
		return nil
	})
	if err != nil {
		return nil, "", false, err
	}
	return batch, next, more, nil
}

func (s *Store) First(ctx context.Context) (string, bool, error) {
	var (
		key   string
		found bool
	)
	err := s.view(ctx, func(b *bbolt.Bucket) error {
		if k, _ := b.Cursor().First(); k != nil {
			key, found = string(k), true
		}
		return nil
	})
	return key, found, err
}

func (s *Store) Next(ctx context.Context, after string) (string, bool, error) {
	var (
		key   string
		found bool
	)
	err := s.view(ctx, func(b *bbolt.Bucket) error {
		cur := b.Cursor()
		k, _ := cur.Seek([]byte(after))
		if k != nil && string(k) == after {
			k, _ = cur.Next()
		}
		if k != nil {
			key, found = string(k), true
		}
		return nil
	})
	return key, found, err
}

func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	return s.update(ctx, func(b *bbolt.Bucket) error {
		return fn(&boltTx{table: s.table, bucket: b})
	})
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.view(ctx, func(b *bbolt.Bucket) error {
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// Close releases the underlying database handle. Safe to call twice.
func (s *Store) Close(context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// view runs fn read-only. A missing bucket is treated as an empty table so
// reads on a not-yet-replicated node report absence instead of failing.
func (s *Store) view(ctx context.Context, fn func(*bbolt.Bucket) error) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := contextErr(ctx); err != nil {
		return err
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return fn(b)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrTxAborted, err)
	}
	return nil
}

// update runs fn read-write. Writes against a missing bucket fail with
// ErrNoTable: schema creation belongs to EnsureTable, not to data paths.
func (s *Store) update(ctx context.Context, fn func(*bbolt.Bucket) error) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := contextErr(ctx); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return fmt.Errorf("%w: %q", store.ErrNoTable, s.table)
		}
		return fn(b)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrTxAborted, err)
	}
	return nil
}

func (s *Store) ensureOpen() error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	return nil
}

func contextErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

type boltTx struct {
	table  string
	bucket *bbolt.Bucket
}

var _ store.Tx = (*boltTx)(nil)

func (t *boltTx) Read(key string) (entry.Entry, bool, error) {
	raw := t.bucket.Get([]byte(key))
	if raw == nil {
		return entry.Entry{}, false, nil
	}
	e, err := entry.Decode(t.table, key, raw)
	if err != nil {
		return entry.Entry{}, false, err
	}
	return e, true, nil
}

func (t *boltTx) Write(e entry.Entry) error {
	return t.bucket.Put([]byte(e.Key), entry.Encode(e))
}

func (t *boltTx) Delete(key string) error {
	return t.bucket.Delete([]byte(key))
}
