package relcache

import (
	"context"

	"github.com/unkn0wn-root/relcache/entry"
	"github.com/unkn0wn-root/relcache/store"
)

// All returns every raw record matching pred. A nil predicate scans the
// whole table. No liveness filter is applied; combine with store.LiveGuard
// when only live entries are wanted.
func (c *cache[V]) All(ctx context.Context, pred store.Predicate) ([]entry.Entry, error) {
	var out []entry.Entry
	cont := ""
	for {
		batch, next, more, err := c.store.Select(ctx, pred, cont, c.batchSize)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if !more {
			return out, nil
		}
		cont = next
	}
}

// CountAll counts matching records. The nil-predicate case short-circuits
// to the store's record count.
func (c *cache[V]) CountAll(ctx context.Context, pred store.Predicate) (int, error) {
	if pred == nil {
		return c.store.Count(ctx)
	}
	count := 0
	cont := ""
	for {
		batch, next, more, err := c.store.Select(ctx, pred, cont, c.batchSize)
		if err != nil {
			return 0, err
		}
		count += len(batch)
		if !more {
			return count, nil
		}
		cont = next
	}
}

// DeleteAll removes matching records batch by batch, each batch in its own
// transaction, and returns the number removed. A nil predicate empties the
// table.
func (c *cache[V]) DeleteAll(ctx context.Context, pred store.Predicate) (int, error) {
	removed := 0
	cont := ""
	for {
		batch, next, more, err := c.store.Select(ctx, pred, cont, c.batchSize)
		if err != nil {
			return removed, err
		}
		if len(batch) > 0 {
			err := c.store.Update(ctx, func(tx store.Tx) error {
				for _, e := range batch {
					if err := tx.Delete(e.Key); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return removed, err
			}
			removed += len(batch)
		}
		if !more {
			break
		}
		cont = next
	}
	if removed > 0 {
		c.hooks.BatchApplied("delete_all", removed)
	}
	return removed, nil
}
