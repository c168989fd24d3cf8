package relcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// An expired entry was lazily deleted on a read path.
	// op ∈ {"get", "get_all", "take", "has", "ttl", "touch", "expire", "stream"}
	ExpiredOnRead(key, op string)

	// A record failed to decode and was deleted (self-heal).
	// reason ∈ {"corrupt", "value_decode"}
	SelfHeal(key, reason string)

	// A batch operation finished. op ∈ {"delete_all", "put_all"}.
	BatchApplied(op string, count int)
}

// NopHooks is the default no-op implementation.
type NopHooks struct{}

var _ Hooks = NopHooks{}

func (NopHooks) ExpiredOnRead(string, string) {}
func (NopHooks) SelfHeal(string, string)      {}
func (NopHooks) BatchApplied(string, int)     {}
