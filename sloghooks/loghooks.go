// Package sloghooks logs cache hook events through log/slog, with optional
// sampling and key redaction so hot read paths cannot flood the log.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/relcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	ExpiredEvery  uint64
	SelfHealEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	expiredCtr  atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ relcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) ExpiredOnRead(key, op string) {
	if h.l == nil || !sample(h.opts.ExpiredEvery, &h.expiredCtr) {
		return
	}
	h.l.Debug("relcache.expired_on_read",
		"key", h.redact(key),
		"op", op,
	)
}

func (h *Hooks) SelfHeal(key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Warn("relcache.self_heal",
		"key", h.redact(key),
		"reason", reason,
	)
}

func (h *Hooks) BatchApplied(op string, count int) {
	if h.l == nil {
		return
	}
	h.l.Debug("relcache.batch_applied",
		"op", op,
		"count", count,
	)
}
