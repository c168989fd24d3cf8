// Package relcache exposes a key/value cache contract (get, put, delete,
// take, counters, TTL, queries, streaming) on top of a transactional,
// totally ordered record store distributed across cluster nodes.
//
// Components:
//   - store.Store: single-table record store with transactions and ordered
//     First/Next cursors (bolt for durable on-disk tables, mem for embedded
//     and test use).
//   - codec.Codec[V]: (de)serializes V <-> []byte.
//   - cluster.Manager: membership process that creates the table schema on
//     the master node and attaches local replicas as peers join.
//   - sweeper.Sweeper: periodic background removal of expired entries.
//     Lazy expiry on read is the correctness backstop; the sweeper only
//     reclaims space.
//
// Every stored record is the (table, key, value, touched, ttl) 5-tuple
// defined in the entry package. Expired entries are never returned: read
// paths delete them lazily and report absence.
package relcache
