// Package sweeper removes expired entries on a fixed schedule. It is pure
// space reclamation: lazy expiry on the read paths is the correctness
// backstop, so every failure here is logged and the schedule continues.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reugn/go-quartz/job"
	quartzlogger "github.com/reugn/go-quartz/logger"
	"github.com/reugn/go-quartz/quartz"

	"github.com/unkn0wn-root/relcache/entry"
	"github.com/unkn0wn-root/relcache/log"
	"github.com/unkn0wn-root/relcache/store"
)

const (
	defaultInterval  = 6 * time.Hour
	defaultBatchSize = 50
	stopTimeout      = 3 * time.Second
	jobKey           = "expired-entries-sweep"
)

// Config tunes the sweeper. Store is required.
type Config struct {
	Store store.Store

	// Interval between sweeps. 0 => 6h.
	Interval time.Duration

	// BatchSize bounds each select round. 0 => 50.
	BatchSize int

	Logger log.Logger

	// Now overrides the clock in tests. Nil uses wall time.
	Now func() int64
}

// Sweeper periodically deletes entries whose finite TTL has elapsed.
type Sweeper struct {
	store    store.Store
	interval time.Duration
	batch    int
	log      log.Logger
	now      func() int64

	mu      sync.Mutex
	sched   quartz.Scheduler
	started atomic.Bool
}

func New(cfg Config) (*Sweeper, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("sweeper: store is required")
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NopLogger{}
	}
	if cfg.Now == nil {
		cfg.Now = entry.NowMillis
	}

	sched, err := quartz.NewStdScheduler(
		quartz.WithLogger(quartzlogger.NewSimpleLogger(nil, quartzlogger.LevelOff)))
	if err != nil {
		return nil, fmt.Errorf("sweeper: creating scheduler: %w", err)
	}

	return &Sweeper{
		store:    cfg.Store,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
		log:      cfg.Logger,
		now:      cfg.Now,
		sched:    sched,
	}, nil
}

// Start schedules the sweep at the configured interval. The first run fires
// one interval from now.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started.Load() {
		return nil
	}

	s.sched.Start(ctx)

	j := job.NewFunctionJob[int](func(ctx context.Context) (int, error) {
		return s.Sweep(ctx)
	})
	detail := quartz.NewJobDetail(j, quartz.NewJobKey(jobKey))
	if err := s.sched.ScheduleJob(detail, quartz.NewSimpleTrigger(s.interval)); err != nil {
		s.sched.Stop()
		return fmt.Errorf("sweeper: scheduling sweep: %w", err)
	}

	s.started.Store(s.sched.IsStarted())
	return nil
}

// Stop halts the schedule and waits briefly for an in-flight run.
func (s *Sweeper) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.sched.Clear()
	s.sched.Stop()
	s.started.Store(s.sched.IsStarted())

	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	s.sched.Wait(ctx)
	return err
}

// Sweep runs one pass: select expired records in bounded rounds and delete
// each round in its own transaction. Returns the number removed. Transient
// store errors end the pass early; the next tick retries.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	guard := store.ExpiredGuard(s.now())

	removed := 0
	cont := ""
	for {
		batch, next, more, err := s.store.Select(ctx, guard, cont, s.batch)
		if err != nil {
			s.log.Warn("sweep select failed", log.Fields{"err": err})
			return removed, nil
		}
		if len(batch) > 0 {
			err := s.store.Update(ctx, func(tx store.Tx) error {
				for _, e := range batch {
					if err := tx.Delete(e.Key); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				s.log.Warn("sweep delete failed", log.Fields{"count": len(batch), "err": err})
				return removed, nil
			}
			removed += len(batch)
		}
		if !more {
			break
		}
		cont = next
	}

	if removed > 0 {
		s.log.Debug("sweep removed expired entries", log.Fields{"count": removed})
	}
	return removed, nil
}
