package relcache

import "github.com/unkn0wn-root/relcache/log"

// Logging lives in the log package so the background processes (cluster
// manager, sweeper) share the same contract. Aliased here to keep the
// facade's option surface self-contained.
type (
	Fields    = log.Fields
	Logger    = log.Logger
	NopLogger = log.NopLogger
)
