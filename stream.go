package relcache

import (
	"context"

	"github.com/unkn0wn-root/relcache/entry"
	"github.com/unkn0wn-root/relcache/store"
)

// ReturnMode selects what a stream emits per matched record.
type ReturnMode int

const (
	ReturnKeys ReturnMode = iota
	ReturnValues
	ReturnPairs
)

// Item is one stream element. Key is always set; Value is populated for
// ReturnValues and ReturnPairs.
type Item[V any] struct {
	Key   string
	Value V
}

type streamConfig struct {
	mode    ReturnMode
	batch   int
	keyWalk bool
}

type StreamOption func(*streamConfig)

// WithReturn selects the emit shape. Default is ReturnKeys.
func WithReturn(mode ReturnMode) StreamOption {
	return func(c *streamConfig) { c.mode = mode }
}

// WithBatchSize bounds batched-select rounds for predicate streams.
func WithBatchSize(n int) StreamOption {
	return func(c *streamConfig) {
		if n > 0 {
			c.batch = n
		}
	}
}

// WithKeyWalk forces the one-key-per-transaction walk. Only valid without a
// predicate; the plain walk has no predicate evaluation.
func WithKeyWalk() StreamOption {
	return func(c *streamConfig) { c.keyWalk = true }
}

const (
	streamStart = iota
	streamPositioned
	streamDone
)

// Stream is a lazy, finite cursor over the table's total key order. It is
// not a fixed snapshot: each step runs its own store transaction, so keys
// inserted ahead of the cursor may appear, and keys deleted behind it never
// reappear. Each Stream call on the cache owns an independent cursor; a
// stream is not rewindable.
type Stream[V any] struct {
	c    *cache[V]
	mode ReturnMode
	pred store.Predicate

	// key-walk state
	state int
	pos   string

	// batched-select state
	batch     int
	buf       []entry.Entry
	cont      string
	exhausted bool
}

// Stream starts a new cursor. A nil predicate walks the table one key per
// transaction with lazy expiry; a non-nil predicate uses bounded select
// rounds with a continuation token and applies no implicit liveness filter
// (combine with store.LiveGuard or store.ExpiredGuard explicitly).
func (c *cache[V]) Stream(pred store.Predicate, opts ...StreamOption) (*Stream[V], error) {
	cfg := streamConfig{mode: ReturnKeys, batch: c.batchSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if pred != nil && cfg.keyWalk {
		return nil, ErrUnsupportedQuery
	}
	return &Stream[V]{
		c:     c,
		mode:  cfg.mode,
		pred:  pred,
		batch: cfg.batch,
	}, nil
}

// Next returns the next item, or ok == false once the stream is exhausted.
// Errors do not consume the cursor position; a caller may retry.
func (s *Stream[V]) Next(ctx context.Context) (Item[V], bool, error) {
	if s.pred != nil {
		return s.nextSelected(ctx)
	}
	return s.nextWalked(ctx)
}

// Collect drains the stream. Convenience for short result sets.
func (s *Stream[V]) Collect(ctx context.Context) ([]Item[V], error) {
	var out []Item[V]
	for {
		it, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, it)
	}
}

func (s *Stream[V]) nextWalked(ctx context.Context) (Item[V], bool, error) {
	var zero Item[V]
	for {
		var (
			key string
			ok  bool
			err error
		)
		switch s.state {
		case streamDone:
			return zero, false, nil
		case streamStart:
			key, ok, err = s.c.store.First(ctx)
		default:
			key, ok, err = s.c.store.Next(ctx, s.pos)
		}
		if err != nil {
			return zero, false, err
		}
		if !ok {
			s.state = streamDone
			return zero, false, nil
		}
		s.state, s.pos = streamPositioned, key

		e, found, err := s.c.store.Read(ctx, key)
		if err != nil {
			if s.c.healCorrupt(ctx, key, err) {
				continue
			}
			return zero, false, err
		}
		if !found {
			continue // deleted between steps
		}
		if e.Expired(s.c.now()) {
			_ = s.c.store.Delete(ctx, key) // lazy expiry
			s.c.hooks.ExpiredOnRead(key, "stream")
			continue
		}

		item := Item[V]{Key: key}
		if s.mode != ReturnKeys {
			v, err := s.c.codec.Decode(e.Value)
			if err != nil {
				_ = s.c.store.Delete(ctx, key) // self-heal corrupt
				s.c.hooks.SelfHeal(key, "value_decode")
				continue
			}
			item.Value = v
		}
		return item, true, nil
	}
}

func (s *Stream[V]) nextSelected(ctx context.Context) (Item[V], bool, error) {
	var zero Item[V]
	for {
		if len(s.buf) > 0 {
			e := s.buf[0]
			item := Item[V]{Key: e.Key}
			if s.mode != ReturnKeys {
				v, err := s.c.codec.Decode(e.Value)
				if err != nil {
					return zero, false, err
				}
				item.Value = v
			}
			s.buf = s.buf[1:]
			return item, true, nil
		}
		if s.exhausted {
			return zero, false, nil
		}

		batch, next, more, err := s.c.store.Select(ctx, s.pred, s.cont, s.batch)
		if err != nil {
			return zero, false, err
		}
		s.cont = next
		if !more {
			s.exhausted = true
		}
		s.buf = batch
		if len(batch) == 0 && !more {
			return zero, false, nil
		}
	}
}
