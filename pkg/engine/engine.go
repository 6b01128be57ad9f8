// Package engine routes probe records into the syscall, lock and cache-line
// tables. A single consumer drives Handle; snapshot accessors may be called
// from other goroutines at any time.
package engine

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/srodi/lockscope/pkg/falseshare"
	"github.com/srodi/lockscope/pkg/lock"
	"github.com/srodi/lockscope/pkg/stats"
	"github.com/srodi/lockscope/pkg/types"
)

// Config sizes the tables and sets the duration filter.
type Config struct {
	// MinDurationNs discards syscall durations and lock waits shorter than
	// this before they reach the statistics tables.
	MinDurationNs     uint64
	SyscallCapacity   int
	StartCapacity     int
	LockCapacity      int
	CacheLineCapacity int
	MaxWaitersRule    lock.MaxWaitersRule
}

// DefaultConfig returns the stock table sizes and a 1µs filter.
func DefaultConfig() Config {
	return Config{
		MinDurationNs:     types.DefaultMinDurationNs,
		SyscallCapacity:   types.DefaultSyscallCapacity,
		StartCapacity:     types.DefaultStartCapacity,
		LockCapacity:      types.DefaultLockCapacity,
		CacheLineCapacity: types.DefaultCacheLineCapacity,
	}
}

// Engine aggregates records into syscall, lock and cache-line statistics.
type Engine struct {
	cfg    Config
	log    *zap.Logger
	starts *stats.StartTimes
	store  *stats.Store
	locks  *lock.Tracker
	lines  *falseshare.Detector

	processed atomic.Uint64
	filtered  atomic.Uint64
	dropped   atomic.Uint64
	capacity  atomic.Uint64
}

// New builds an engine. A nil logger disables logging.
func New(cfg Config, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	starts := stats.NewStartTimes(cfg.StartCapacity)
	lines, err := falseshare.NewDetector(cfg.CacheLineCapacity)
	if err != nil {
		return nil, fmt.Errorf("initializing false sharing detector: %w", err)
	}
	return &Engine{
		cfg:    cfg,
		log:    log,
		starts: starts,
		store:  stats.NewStore(starts, cfg.SyscallCapacity),
		locks: lock.NewTracker(starts, lock.Config{
			Capacity: cfg.LockCapacity,
			MinWait:  cfg.MinDurationNs,
			Rule:     cfg.MaxWaitersRule,
		}),
		lines: lines,
	}, nil
}

// Handle applies one record. It returns the derived event when the record
// completed a measurement that passed the duration filter.
func (e *Engine) Handle(r types.Record) (types.Event, bool) {
	e.processed.Add(1)

	switch r.Kind {
	case types.RecordSyscallEnter:
		e.account(r, e.store.RecordSyscallEnter(r.TID, r.TimestampNs))

	case types.RecordSyscallExit:
		ev, err := e.store.RecordSyscallExit(r.TID, r.PID, r.SyscallID, r.TimestampNs, e.cfg.MinDurationNs)
		if err != nil {
			e.account(r, err)
			return types.Event{}, false
		}
		return ev, true

	case types.RecordLockWait:
		e.account(r, e.locks.TrackLockAcquire(r.Addr, r.TID, r.TimestampNs))
		// a wait attempt has no duration yet, so only a zero filter shows it
		if e.cfg.MinDurationNs > 0 {
			return types.Event{}, false
		}
		return types.Event{Kind: types.EventLockWait, PID: r.PID, TID: r.TID, LockAddr: r.Addr}, true

	case types.RecordLockRelease:
		ev, err := e.locks.TrackLockRelease(r.Addr, r.TID, r.PID, r.TimestampNs)
		if err != nil {
			e.account(r, err)
			return types.Event{}, false
		}
		return ev, true

	case types.RecordMemoryAccess:
		e.lines.TrackMemoryAccess(r.Addr, r.CPU, r.TimestampNs)

	default:
		e.dropped.Add(1)
	}
	return types.Event{}, false
}

func (e *Engine) account(r types.Record, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, types.ErrBelowThreshold):
		e.filtered.Add(1)
	case errors.Is(err, types.ErrDroppedEvent):
		e.dropped.Add(1)
	case errors.Is(err, types.ErrCapacityExceeded):
		n := e.capacity.Add(1)
		// warn on the 1st, 2nd, 4th, 8th... rejection to keep the log quiet
		if n&(n-1) == 0 {
			e.log.Warn("table full, record rejected",
				zap.Stringer("kind", r.Kind),
				zap.Uint64("rejected_total", n),
				zap.Error(err))
		}
	default:
		e.log.Debug("record not applied", zap.Stringer("kind", r.Kind), zap.Error(err))
	}
}

// SyscallStats returns the per-syscall latency table.
func (e *Engine) SyscallStats() []types.SyscallStat {
	return e.store.Syscalls()
}

// LockStats returns the contention table.
func (e *Engine) LockStats() []types.LockStat {
	return e.locks.Locks()
}

// CacheLines returns every tracked cache line.
func (e *Engine) CacheLines() []types.CacheLineStat {
	return e.lines.Lines()
}

// FalseSharing runs the false-sharing analysis over the tracked lines.
func (e *Engine) FalseSharing() []falseshare.Suspect {
	return e.lines.Analyze()
}

// PendingStarts returns how many threads have an unmatched start.
func (e *Engine) PendingStarts() int {
	return e.starts.Len()
}

// Waiters returns the live waiter count for a lock address.
func (e *Engine) Waiters(lockAddr uint64) uint32 {
	return e.locks.Waiters(lockAddr)
}

// Counters returns the running record accounting.
func (e *Engine) Counters() types.Counters {
	return types.Counters{
		Processed:        e.processed.Load(),
		Filtered:         e.filtered.Load(),
		Dropped:          e.dropped.Load(),
		CapacityExceeded: e.capacity.Load(),
		EvictedLines:     e.lines.Evicted(),
	}
}
