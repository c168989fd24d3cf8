package relcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/relcache/codec"
	"github.com/unkn0wn-root/relcache/cluster"
	"github.com/unkn0wn-root/relcache/entry"
	"github.com/unkn0wn-root/relcache/store"
)

// NeverExpire marks a put that should not expire. A TTL of 0 falls back to
// Options.DefaultTTL (which itself defaults to NeverExpire).
const NeverExpire time.Duration = -1

// Cache is the table-backed cache contract. V is the caller's value type;
// serialization is handled by a pluggable Codec[V].
//
// Expired entries are observably equivalent to absent ones: read operations
// lazily delete them and report absence.
type Cache[V any] interface {
	// Single key
	Get(ctx context.Context, key string) (v V, ok bool, err error)
	Put(ctx context.Context, key string, value V, ttl time.Duration) error
	PutIfAbsent(ctx context.Context, key string, value V, ttl time.Duration) (bool, error)
	PutIfPresent(ctx context.Context, key string, value V, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Take(ctx context.Context, key string) (v V, ok bool, err error)
	Has(ctx context.Context, key string) (bool, error)

	// Bulk (one store transaction each)
	GetAll(ctx context.Context, keys []string) (map[string]V, error)
	PutAll(ctx context.Context, items map[string]V, ttl time.Duration) error
	PutAllIfAbsent(ctx context.Context, items map[string]V, ttl time.Duration) (bool, error)

	// Counters
	UpdateCounter(ctx context.Context, key string, delta int64, ttl time.Duration, initial int64) (int64, error)

	// TTL management
	TTL(ctx context.Context, key string) (time.Duration, bool, error)
	Touch(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Queries over raw records. A nil predicate matches the whole table.
	All(ctx context.Context, pred store.Predicate) ([]entry.Entry, error)
	CountAll(ctx context.Context, pred store.Predicate) (int, error)
	DeleteAll(ctx context.Context, pred store.Predicate) (int, error)

	// Stream starts an independent lazy cursor over the table; see Stream.
	Stream(pred store.Predicate, opts ...StreamOption) (*Stream[V], error)

	Close(ctx context.Context) error
}

// Options tune the behavior of the cache.
// Table, Store and Codec are required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Table string // record-store table (namespace) this cache owns
	Store store.Store
	Codec c.Codec[V]

	Logger     Logger        // if nil, NopLogger is used
	Hooks      Hooks         // if nil, NopHooks is used
	DefaultTTL time.Duration // applied when Put ttl == 0; 0 => NeverExpire

	// StreamBatchSize bounds batched-select stream rounds. 0 => 50.
	StreamBatchSize int

	// CleanupInterval is the sweeper period. 0 => 6h; negative disables
	// the sweeper entirely (lazy expiry on read still applies).
	CleanupInterval time.Duration

	// Cluster, when set, starts a membership manager that owns schema and
	// replica bootstrap for Table. When nil the cache runs standalone and
	// creates the table itself.
	Cluster *cluster.Config
}

// New builds the cache and starts its background processes (sweeper and,
// when configured, the cluster membership manager). An unrecoverable schema
// bootstrap failure aborts startup.
func New[V any](ctx context.Context, opts Options[V]) (Cache[V], error) {
	return newCache[V](ctx, opts)
}
