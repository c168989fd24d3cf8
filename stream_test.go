package relcache

import (
	"context"
	"testing"
	"time"

	c "github.com/unkn0wn-root/relcache/codec"
	"github.com/unkn0wn-root/relcache/entry"
	"github.com/unkn0wn-root/relcache/store"
)

func seedUsers(t *testing.T, cc Cache[user]) {
	t.Helper()
	ctx := context.Background()
	for _, kv := range []struct{ k, id string }{{"1", "a"}, {"2", "b"}, {"3", "c"}} {
		if err := cc.Put(ctx, kv.k, user{ID: kv.id}, 0); err != nil {
			t.Fatalf("Put %s: %v", kv.k, err)
		}
	}
}

// ==============================
// Key-walk streams
// ==============================

// TestStreamKeysInOrder walks keys {1,2,3} and expects the store's total
// order.
func TestStreamKeysInOrder(t *testing.T) {
	ctx := context.Background()
	cc, _, _ := newUserCache(t)
	defer cc.Close(ctx)
	seedUsers(t, cc)

	s, err := cc.Stream(nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	items, err := s.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := []string{"1", "2", "3"}
	if len(items) != len(want) {
		t.Fatalf("stream length: got %d, want %d", len(items), len(want))
	}
	for i, it := range items {
		if it.Key != want[i] {
			t.Fatalf("key order at %d: got %q, want %q", i, it.Key, want[i])
		}
	}

	// the same table counts 3
	if n, err := cc.CountAll(ctx, nil); err != nil || n != 3 {
		t.Fatalf("CountAll: n=%d err=%v", n, err)
	}
}

// TestStreamValuesAndPairs exercises the other return modes.
func TestStreamValuesAndPairs(t *testing.T) {
	ctx := context.Background()
	cc, _, _ := newUserCache(t)
	defer cc.Close(ctx)
	seedUsers(t, cc)

	s, err := cc.Stream(nil, WithReturn(ReturnValues))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	items, err := s.Collect(ctx)
	if err != nil || len(items) != 3 {
		t.Fatalf("values stream: err=%v len=%d", err, len(items))
	}
	if items[0].Value.ID != "a" || items[2].Value.ID != "c" {
		t.Fatalf("values stream content: %+v", items)
	}

	s, err = cc.Stream(nil, WithReturn(ReturnPairs))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	items, err = s.Collect(ctx)
	if err != nil || len(items) != 3 {
		t.Fatalf("pairs stream: err=%v len=%d", err, len(items))
	}
	if items[1].Key != "2" || items[1].Value.ID != "b" {
		t.Fatalf("pairs stream content: %+v", items[1])
	}
}

// TestStreamSkipsAndPurgesExpired verifies lazy deletion during the walk.
func TestStreamSkipsAndPurgesExpired(t *testing.T) {
	ctx := context.Background()
	cc, st, clk := newUserCache(t)
	defer cc.Close(ctx)

	if err := cc.Put(ctx, "1", user{ID: "a"}, 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cc.Put(ctx, "2", user{ID: "b"}, time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cc.Put(ctx, "3", user{ID: "c"}, 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	clk.advance(2 * time.Second)

	s, err := cc.Stream(nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	items, err := s.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(items) != 2 || items[0].Key != "1" || items[1].Key != "3" {
		t.Fatalf("expired key must be skipped: %+v", items)
	}
	if _, found, _ := st.Read(ctx, "2"); found {
		t.Fatal("expired entry must be purged by the stream")
	}
}

// TestStreamIsNotSnapshot: a key inserted ahead of the cursor appears; a
// key deleted behind it never reappears.
func TestStreamIsNotSnapshot(t *testing.T) {
	ctx := context.Background()
	cc, _, _ := newUserCache(t)
	defer cc.Close(ctx)
	seedUsers(t, cc)

	s, err := cc.Stream(nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	first, ok, err := s.Next(ctx)
	if err != nil || !ok || first.Key != "1" {
		t.Fatalf("first step: %+v ok=%v err=%v", first, ok, err)
	}

	// mutate under the running cursor
	if err := cc.Put(ctx, "25", user{ID: "x"}, 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cc.Delete(ctx, "1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	rest, err := s.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := []string{"2", "25", "3"}
	if len(rest) != len(want) {
		t.Fatalf("rest length: got %v", rest)
	}
	for i, it := range rest {
		if it.Key != want[i] {
			t.Fatalf("rest at %d: got %q, want %q", i, it.Key, want[i])
		}
	}
}

// TestStreamsAreIndependent: each Stream call owns its cursor.
func TestStreamsAreIndependent(t *testing.T) {
	ctx := context.Background()
	cc, _, _ := newUserCache(t)
	defer cc.Close(ctx)
	seedUsers(t, cc)

	s1, _ := cc.Stream(nil)
	s2, _ := cc.Stream(nil)

	if it, _, _ := s1.Next(ctx); it.Key != "1" {
		t.Fatalf("s1 first: %+v", it)
	}
	if it, _, _ := s1.Next(ctx); it.Key != "2" {
		t.Fatalf("s1 second: %+v", it)
	}
	if it, _, _ := s2.Next(ctx); it.Key != "1" {
		t.Fatalf("s2 must start from the head: %+v", it)
	}
}

// ==============================
// Predicate (batched select) streams
// ==============================

// TestStreamWithPredicate streams only records matching the guard, across
// multiple select rounds.
func TestStreamWithPredicate(t *testing.T) {
	ctx := context.Background()
	cc, _, _ := newTestCache[user](t, c.JSONCodec[user]{}, func(o *Options[user]) {
		o.StreamBatchSize = 2 // force several rounds
	})
	defer cc.Close(ctx)

	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		if err := cc.Put(ctx, key, user{ID: key}, 0); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	pred := func(e entry.Entry) bool { return e.Key >= "f" }
	s, err := cc.Stream(pred, WithReturn(ReturnPairs))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	items, err := s.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("predicate stream length: got %d, want 5 (%v)", len(items), items)
	}
	if items[0].Key != "f" || items[0].Value.ID != "f" {
		t.Fatalf("predicate stream head: %+v", items[0])
	}
}

// TestStreamUnsupportedQueryShape rejects a predicate on the key walk.
func TestStreamUnsupportedQueryShape(t *testing.T) {
	cc, _, _ := newUserCache(t)
	defer cc.Close(context.Background())

	pred := func(entry.Entry) bool { return true }
	if _, err := cc.Stream(pred, WithKeyWalk()); err != ErrUnsupportedQuery {
		t.Fatalf("expected ErrUnsupportedQuery, got %v", err)
	}
}

// ==============================
// Execute-style queries
// ==============================

// TestAllFullScan returns every raw record when the predicate is nil.
func TestAllFullScan(t *testing.T) {
	ctx := context.Background()
	cc, _, _ := newUserCache(t)
	defer cc.Close(ctx)
	seedUsers(t, cc)

	entries, err := cc.All(ctx, nil)
	if err != nil || len(entries) != 3 {
		t.Fatalf("All: err=%v len=%d", err, len(entries))
	}
}

// TestDeleteAllExpiredGuard removes exactly the expired set and reports the
// count; never-expire entries are untouched.
func TestDeleteAllExpiredGuard(t *testing.T) {
	ctx := context.Background()
	cc, _, clk := newUserCache(t)
	defer cc.Close(ctx)

	if err := cc.Put(ctx, "keep", user{ID: "1"}, NeverExpire); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cc.Put(ctx, "alive", user{ID: "2"}, time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cc.Put(ctx, "dead1", user{ID: "3"}, time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cc.Put(ctx, "dead2", user{ID: "4"}, time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}
	clk.advance(time.Minute)

	impl := cc.(*cache[user])
	n, err := cc.DeleteAll(ctx, store.ExpiredGuard(impl.now()))
	if err != nil || n != 2 {
		t.Fatalf("DeleteAll expired: n=%d err=%v", n, err)
	}
	if total, _ := cc.CountAll(ctx, nil); total != 2 {
		t.Fatalf("remaining records: got %d, want 2", total)
	}
	if _, ok, _ := cc.Get(ctx, "keep"); !ok {
		t.Fatal("never-expire entry must never match the expired guard")
	}
}

// TestCountAllWithPredicate counts through batched select rounds.
func TestCountAllWithPredicate(t *testing.T) {
	ctx := context.Background()
	cc, _, _ := newTestCache[user](t, c.JSONCodec[user]{}, func(o *Options[user]) {
		o.StreamBatchSize = 2
	})
	defer cc.Close(ctx)

	for i := 0; i < 7; i++ {
		key := string(rune('a' + i))
		if err := cc.Put(ctx, key, user{ID: key}, 0); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	pred := func(e entry.Entry) bool { return e.Key > "b" }
	if n, err := cc.CountAll(ctx, pred); err != nil || n != 5 {
		t.Fatalf("CountAll: n=%d err=%v", n, err)
	}
}
