// Package mem implements the store contract in process memory, keeping the
// key order in a B-tree so First/Next and Select behave exactly like the
// durable backends. Intended for embedded single-node use and tests.
package mem

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/unkn0wn-root/relcache/entry"
	"github.com/unkn0wn-root/relcache/store"
)

const btreeDegree = 32

// Store keeps records in a map guarded by one RWMutex, with a parallel
// B-tree of keys for ordered traversal. Update transactions stage writes in
// an overlay and commit only when fn succeeds, giving the same all-or-nothing
// behavior as the durable backends.
type Store struct {
	table string

	mu      sync.RWMutex
	created bool
	recs    map[string]entry.Entry
	keys    *btree.BTreeG[string]
	closed  bool
}

var _ store.Store = (*Store)(nil)

// New creates a store for one table. The table starts uncreated; call
// EnsureTable (directly or through cluster bootstrap) before writing.
func New(table string) *Store {
	return &Store{
		table: table,
		recs:  make(map[string]entry.Entry),
		keys:  btree.NewG[string](btreeDegree, func(a, b string) bool { return a < b }),
	}
}

func (s *Store) EnsureTable(ctx context.Context) error {
	if err := contextErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	s.created = true
	return nil
}

func (s *Store) Read(ctx context.Context, key string) (entry.Entry, bool, error) {
	if err := contextErr(ctx); err != nil {
		return entry.Entry{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return entry.Entry{}, false, store.ErrClosed
	}
	e, ok := s.recs[key]
	return e, ok, nil
}

func (s *Store) Write(ctx context.Context, e entry.Entry) error {
	return s.Update(ctx, func(tx store.Tx) error {
		return tx.Write(e)
	})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.Update(ctx, func(tx store.Tx) error {
		return tx.Delete(key)
	})
}

func (s *Store) BulkRead(ctx context.Context, keys []string) ([]entry.Entry, error) {
	if err := contextErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	out := make([]entry.Entry, 0, len(keys))
	for _, key := range keys {
		if e, ok := s.recs[key]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) BulkWrite(ctx context.Context, entries []entry.Entry) error {
	return s.Update(ctx, func(tx store.Tx) error {
		for _, e := range entries {
			if err := tx.Write(e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Select(ctx context.Context, pred store.Predicate, cont string, limit int) ([]entry.Entry, string, bool, error) {
	if err := contextErr(ctx); err != nil {
		return nil, "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, "", false, store.ErrClosed
	}

	var (
		batch    []entry.Entry
		next     string
		examined int
		more     bool
	)
	iter := func(k string) bool {
		if cont != "" && k == cont {
			return true // resume strictly after the token
		}
		if examined == limit {
			more = true
			return false
		}
		e := s.recs[k]
		if pred == nil || pred(e) {
			batch = append(batch, e)
		}
		next = k
		examined++
		return true
	}
	if cont == "" {
		s.keys.Ascend(iter)
	} else {
		s.keys.AscendGreaterOrEqual(cont, iter)
	}
	return batch, next, more, nil
}

func (s *Store) First(ctx context.Context) (string, bool, error) {
	if err := contextErr(ctx); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, store.ErrClosed
	}
	k, ok := s.keys.Min()
	return k, ok, nil
}

func (s *Store) Next(ctx context.Context, after string) (string, bool, error) {
	if err := contextErr(ctx); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, store.ErrClosed
	}
	var (
		key   string
		found bool
	)
	s.keys.AscendGreaterOrEqual(after, func(k string) bool {
		if k == after {
			return true
		}
		key, found = k, true
		return false
	})
	return key, found, nil
}

func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	if err := contextErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	if !s.created {
		return fmt.Errorf("%w: %q", store.ErrNoTable, s.table)
	}

	tx := &memTx{base: s.recs, staged: make(map[string]*entry.Entry)}
	if err := fn(tx); err != nil {
		return fmt.Errorf("%w: %w", store.ErrTxAborted, err)
	}

	// commit
	for key, e := range tx.staged {
		if e == nil {
			delete(s.recs, key)
			s.keys.Delete(key)
			continue
		}
		s.recs[key] = *e
		s.keys.ReplaceOrInsert(key)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	if err := contextErr(ctx); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, store.ErrClosed
	}
	return len(s.recs), nil
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Keys returns the current key set in order. Test helper.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.recs))
	for k := range s.recs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
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

// memTx stages mutations on top of the live map; nil marks a delete.
type memTx struct {
	base   map[string]entry.Entry
	staged map[string]*entry.Entry
}

var _ store.Tx = (*memTx)(nil)

func (t *memTx) Read(key string) (entry.Entry, bool, error) {
	if e, ok := t.staged[key]; ok {
		if e == nil {
			return entry.Entry{}, false, nil
		}
		return *e, true, nil
	}
	e, ok := t.base[key]
	return e, ok, nil
}

func (t *memTx) Write(e entry.Entry) error {
	staged := e
	t.staged[e.Key] = &staged
	return nil
}

func (t *memTx) Delete(key string) error {
	t.staged[key] = nil
	return nil
}
