// Package entry defines the durable record shape shared by every layer:
// the (table, key, value, touched, ttl) 5-tuple, and the liveness rules
// derived from it. Status is the single source of truth for expiry; no
// other package re-derives liveness on its own.
package entry

import "time"

// TTLInfinity marks an entry that never expires.
const TTLInfinity int64 = -1

// Status classifies an entry against a clock reading.
type Status int

const (
	StatusActive Status = iota
	StatusExpired
)

func (s Status) String() string {
	if s == StatusActive {
		return "active"
	}
	return "expired"
}

// Entry is one stored record. Value carries the caller's payload already
// serialized by a Codec; Touched is the unix-millisecond timestamp of the
// write that produced the current value; TTL is a duration in milliseconds
// or TTLInfinity.
type Entry struct {
	Table   string
	Key     string
	Value   []byte
	Touched int64
	TTL     int64
}

// New builds an entry touched at now (unix ms).
func New(table, key string, value []byte, now, ttl int64) Entry {
	if ttl < 0 {
		ttl = TTLInfinity
	}
	return Entry{Table: table, Key: key, Value: value, Touched: now, TTL: ttl}
}

// RemainingTTL returns TTLInfinity unchanged; otherwise the milliseconds
// left before expiry, which may be zero or negative.
func (e Entry) RemainingTTL(now int64) int64 {
	if e.TTL == TTLInfinity {
		return TTLInfinity
	}
	return e.TTL - (now - e.Touched)
}

// StatusAt returns StatusActive when the entry never expires or still has
// strictly positive remaining TTL, StatusExpired otherwise. The sentinel is
// checked on the stored TTL, never on the remainder: a finite entry overdue
// by exactly one millisecond must not read as immortal.
func (e Entry) StatusAt(now int64) Status {
	if e.TTL == TTLInfinity || e.RemainingTTL(now) > 0 {
		return StatusActive
	}
	return StatusExpired
}

// Expired is shorthand for StatusAt(now) == StatusExpired.
func (e Entry) Expired(now int64) bool {
	return e.StatusAt(now) == StatusExpired
}

// NowMillis is the wall clock used by writers, unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
