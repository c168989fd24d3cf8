// Package asynchook decouples hook callbacks from the cache's hot paths by
// pushing them onto a bounded queue served by worker goroutines. Events are
// dropped when the queue is full; hooks are observability, not state.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{ExpiredEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := relcache.New[User](ctx, relcache.Options[User]{
//	    Table: "users",
//	    Store: st,
//	    Codec: codec.JSONCodec[User]{},
//	    Hooks: hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/relcache"
)

type Hooks struct {
	inner relcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ relcache.Hooks = (*Hooks)(nil)

func New(inner relcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) ExpiredOnRead(key, op string) { h.try(func() { h.inner.ExpiredOnRead(key, op) }) }
func (h *Hooks) SelfHeal(key, reason string)  { h.try(func() { h.inner.SelfHeal(key, reason) }) }
func (h *Hooks) BatchApplied(op string, n int) {
	h.try(func() { h.inner.BatchApplied(op, n) })
}
