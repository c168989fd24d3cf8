package relcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	c "github.com/unkn0wn-root/relcache/codec"
	"github.com/unkn0wn-root/relcache/cluster"
	"github.com/unkn0wn-root/relcache/entry"
	"github.com/unkn0wn-root/relcache/store"
	"github.com/unkn0wn-root/relcache/sweeper"
)

const (
	defaultSweep     = 6 * time.Hour
	defaultBatchSize = 50
)

type cache[V any] struct {
	table string
	store store.Store
	codec c.Codec[V]
	log   Logger
	hooks Hooks

	defaultTTL time.Duration
	batchSize  int

	sweep   *sweeper.Sweeper
	members *cluster.Manager

	// wall clock in unix ms; overridable in tests
	now func() int64
}

func newCache[V any](ctx context.Context, opts Options[V]) (*cache[V], error) {
	if opts.Table == "" {
		return nil, fmt.Errorf("relcache: table is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("relcache: store is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("relcache: codec is required")
	}

	cc := &cache[V]{
		table: opts.Table,
		store: opts.Store,
		codec: opts.Codec,
		now:   entry.NowMillis,
	}

	// defaults
	cc.log = coalesce[Logger](opts.Logger, NopLogger{})
	cc.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	cc.defaultTTL = coalesce[time.Duration](opts.DefaultTTL, NeverExpire)
	cc.batchSize = coalesce[int](opts.StreamBatchSize, defaultBatchSize)

	if opts.Cluster != nil {
		mcfg := *opts.Cluster
		mcfg.Table = coalesce[string](mcfg.Table, opts.Table)
		if mcfg.Replicator == nil {
			mcfg.Replicator = opts.Store
		}
		if mcfg.Logger == nil {
			mcfg.Logger = cc.log
		}
		manager, err := cluster.New(mcfg)
		if err != nil {
			return nil, err
		}
		// schema failure on the master is fatal to bootstrap
		if err := manager.Start(ctx); err != nil {
			return nil, err
		}
		cc.members = manager
	} else {
		// standalone: nobody else will create the table
		if err := opts.Store.EnsureTable(ctx); err != nil {
			return nil, err
		}
	}

	if opts.CleanupInterval >= 0 {
		sw, err := sweeper.New(sweeper.Config{
			Store:     opts.Store,
			Interval:  coalesce[time.Duration](opts.CleanupInterval, defaultSweep),
			BatchSize: cc.batchSize,
			Logger:    cc.log,
		})
		if err != nil {
			return nil, err
		}
		if err := sw.Start(ctx); err != nil {
			return nil, err
		}
		cc.sweep = sw
	}

	return cc, nil
}

func (c *cache[V]) Close(ctx context.Context) error {
	cerr := &CloseError{}
	if c.sweep != nil {
		cerr.SweeperErr = c.sweep.Stop(ctx)
	}
	if c.members != nil {
		cerr.ClusterErr = c.members.Stop(ctx)
	}
	if c.store != nil {
		cerr.StoreErr = c.store.Close(ctx)
	}
	if cerr.any() {
		return cerr
	}
	return nil
}

func (c *cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	e, ok, err := c.store.Read(ctx, key)
	if err != nil {
		if c.healCorrupt(ctx, key, err) {
			return zero, false, nil
		}
		return zero, false, err
	}
	if !ok {
		return zero, false, nil
	}
	if e.Expired(c.now()) {
		_ = c.store.Delete(ctx, key) // lazy expiry
		c.hooks.ExpiredOnRead(key, "get")
		return zero, false, nil
	}
	v, err := c.codec.Decode(e.Value)
	if err != nil {
		_ = c.store.Delete(ctx, key) // self-heal corrupt
		c.hooks.SelfHeal(key, "value_decode")
		return zero, false, nil
	}
	return v, true, nil
}

func (c *cache[V]) Put(ctx context.Context, key string, value V, ttl time.Duration) error {
	payload, err := c.codec.Encode(value)
	if err != nil {
		return err
	}
	return c.store.Write(ctx, entry.New(c.table, key, payload, c.now(), c.ttlMillis(ttl)))
}

func (c *cache[V]) PutIfAbsent(ctx context.Context, key string, value V, ttl time.Duration) (bool, error) {
	payload, err := c.codec.Encode(value)
	if err != nil {
		return false, err
	}
	wrote := false
	err = c.store.Update(ctx, func(tx store.Tx) error {
		cur, ok, err := tx.Read(key)
		if err != nil {
			return err
		}
		if ok && !cur.Expired(c.now()) {
			return nil
		}
		wrote = true
		return tx.Write(entry.New(c.table, key, payload, c.now(), c.ttlMillis(ttl)))
	})
	return wrote, err
}

func (c *cache[V]) PutIfPresent(ctx context.Context, key string, value V, ttl time.Duration) (bool, error) {
	payload, err := c.codec.Encode(value)
	if err != nil {
		return false, err
	}
	wrote := false
	err = c.store.Update(ctx, func(tx store.Tx) error {
		cur, ok, err := tx.Read(key)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if cur.Expired(c.now()) {
			return tx.Delete(key) // lazy expiry; counts as absent
		}
		wrote = true
		return tx.Write(entry.New(c.table, key, payload, c.now(), c.ttlMillis(ttl)))
	})
	return wrote, err
}

func (c *cache[V]) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

func (c *cache[V]) Take(ctx context.Context, key string) (V, bool, error) {
	var (
		zero  V
		taken []byte
		found bool
	)
	err := c.store.Update(ctx, func(tx store.Tx) error {
		e, ok, err := tx.Read(key)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if e.Expired(c.now()) {
			c.hooks.ExpiredOnRead(key, "take")
			return tx.Delete(key)
		}
		taken, found = e.Value, true
		return tx.Delete(key)
	})
	if err != nil || !found {
		return zero, false, err
	}
	v, err := c.codec.Decode(taken)
	if err != nil {
		c.hooks.SelfHeal(key, "value_decode")
		return zero, false, nil
	}
	return v, true, nil
}

func (c *cache[V]) Has(ctx context.Context, key string) (bool, error) {
	e, ok, err := c.store.Read(ctx, key)
	if err != nil {
		if c.healCorrupt(ctx, key, err) {
			return false, nil
		}
		return false, err
	}
	if !ok {
		return false, nil
	}
	if e.Expired(c.now()) {
		_ = c.store.Delete(ctx, key)
		c.hooks.ExpiredOnRead(key, "has")
		return false, nil
	}
	return true, nil
}

func (c *cache[V]) GetAll(ctx context.Context, keys []string) (map[string]V, error) {
	out := make(map[string]V, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	entries, err := c.store.BulkRead(ctx, keys)
	if err != nil {
		return nil, err
	}
	now := c.now()
	var stale []string
	for _, e := range entries {
		if e.Expired(now) {
			stale = append(stale, e.Key)
			continue
		}
		v, err := c.codec.Decode(e.Value)
		if err != nil {
			stale = append(stale, e.Key)
			c.hooks.SelfHeal(e.Key, "value_decode")
			continue
		}
		out[e.Key] = v
	}
	for _, k := range stale {
		_ = c.store.Delete(ctx, k) // lazy expiry / self-heal
		c.hooks.ExpiredOnRead(k, "get_all")
	}
	return out, nil
}

func (c *cache[V]) PutAll(ctx context.Context, items map[string]V, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}
	entries, err := c.encodeAll(items, ttl)
	if err != nil {
		return err
	}
	if err := c.store.BulkWrite(ctx, entries); err != nil {
		return err
	}
	c.hooks.BatchApplied("put_all", len(entries))
	return nil
}

// PutAllIfAbsent writes the whole batch only when none of the keys holds a
// live entry; otherwise nothing is written and false is returned. The check
// and the writes share one transaction.
func (c *cache[V]) PutAllIfAbsent(ctx context.Context, items map[string]V, ttl time.Duration) (bool, error) {
	if len(items) == 0 {
		return true, nil
	}
	entries, err := c.encodeAll(items, ttl)
	if err != nil {
		return false, err
	}
	wrote := false
	err = c.store.Update(ctx, func(tx store.Tx) error {
		now := c.now()
		for _, e := range entries {
			cur, ok, err := tx.Read(e.Key)
			if err != nil {
				return err
			}
			if ok && !cur.Expired(now) {
				return nil
			}
		}
		for _, e := range entries {
			if err := tx.Write(e); err != nil {
				return err
			}
		}
		wrote = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if wrote {
		c.hooks.BatchApplied("put_all", len(entries))
	}
	return wrote, nil
}

// UpdateCounter reads the current integer value (absent or expired counts
// as initial), adds delta, and writes the result with a refreshed touched
// timestamp. Read and write share one transaction.
func (c *cache[V]) UpdateCounter(ctx context.Context, key string, delta int64, ttl time.Duration, initial int64) (int64, error) {
	var result int64
	err := c.store.Update(ctx, func(tx store.Tx) error {
		now := c.now()
		cur := initial
		e, ok, err := tx.Read(key)
		if err != nil {
			return err
		}
		if ok && !e.Expired(now) {
			v, err := c.codec.Decode(e.Value)
			if err != nil {
				return err
			}
			n, numeric := toInt64(any(v))
			if !numeric {
				return ErrNonNumeric
			}
			cur = n
		}
		result = cur + delta
		v, numeric := fromInt64[V](result)
		if !numeric {
			return ErrNonNumeric
		}
		payload, err := c.codec.Encode(v)
		if err != nil {
			return err
		}
		return tx.Write(entry.New(c.table, key, payload, now, c.ttlMillis(ttl)))
	})
	if err != nil {
		return 0, err
	}
	return result, nil
}

// TTL returns the remaining lifetime of a live entry. Never-expire entries
// report NeverExpire. Absent and expired entries report no entry.
func (c *cache[V]) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	e, ok, err := c.store.Read(ctx, key)
	if err != nil {
		if c.healCorrupt(ctx, key, err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	now := c.now()
	if e.TTL == entry.TTLInfinity {
		return NeverExpire, true, nil
	}
	rem := e.RemainingTTL(now)
	if rem <= 0 {
		_ = c.store.Delete(ctx, key)
		c.hooks.ExpiredOnRead(key, "ttl")
		return 0, false, nil
	}
	return time.Duration(rem) * time.Millisecond, true, nil
}

// Touch refreshes the touched timestamp without changing value or ttl.
func (c *cache[V]) Touch(ctx context.Context, key string) (bool, error) {
	return c.refresh(ctx, key, "touch", func(e entry.Entry, now int64) entry.Entry {
		e.Touched = now
		return e
	})
}

// Expire refreshes the touched timestamp and sets a new ttl.
func (c *cache[V]) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	millis := c.ttlMillis(ttl)
	return c.refresh(ctx, key, "expire", func(e entry.Entry, now int64) entry.Entry {
		e.Touched = now
		e.TTL = millis
		return e
	})
}

func (c *cache[V]) refresh(ctx context.Context, key, op string, mutate func(entry.Entry, int64) entry.Entry) (bool, error) {
	done := false
	err := c.store.Update(ctx, func(tx store.Tx) error {
		e, ok, err := tx.Read(key)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		now := c.now()
		if e.Expired(now) {
			c.hooks.ExpiredOnRead(key, op)
			return tx.Delete(key)
		}
		done = true
		return tx.Write(mutate(e, now))
	})
	return done, err
}

// healCorrupt deletes a record whose stored bytes no longer decode and
// reports whether it did. Corruption is treated as absence, not failure.
func (c *cache[V]) healCorrupt(ctx context.Context, key string, err error) bool {
	if !errors.Is(err, entry.ErrCorrupt) {
		return false
	}
	_ = c.store.Delete(ctx, key)
	c.hooks.SelfHeal(key, "corrupt")
	return true
}

func (c *cache[V]) encodeAll(items map[string]V, ttl time.Duration) ([]entry.Entry, error) {
	now := c.now()
	millis := c.ttlMillis(ttl)
	entries := make([]entry.Entry, 0, len(items))
	for k, v := range items {
		payload, err := c.codec.Encode(v)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry.New(c.table, k, payload, now, millis))
	}
	return entries, nil
}

// ttlMillis maps the caller-facing duration to the stored representation:
// 0 falls back to the configured default, negatives mean never expire.
func (c *cache[V]) ttlMillis(ttl time.Duration) int64 {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if ttl < 0 {
		return entry.TTLInfinity
	}
	return ttl.Milliseconds()
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

func fromInt64[V any](n int64) (V, bool) {
	var zero V
	switch any(zero).(type) {
	case int:
		return any(int(n)).(V), true
	case int8:
		return any(int8(n)).(V), true
	case int16:
		return any(int16(n)).(V), true
	case int32:
		return any(int32(n)).(V), true
	case int64:
		return any(n).(V), true
	case uint:
		return any(uint(n)).(V), true
	case uint8:
		return any(uint8(n)).(V), true
	case uint16:
		return any(uint16(n)).(V), true
	case uint32:
		return any(uint32(n)).(V), true
	case uint64:
		return any(uint64(n)).(V), true
	default:
		return zero, false
	}
}
