// Package lock derives contention metrics from lock wait and release
// observations.
package lock

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/srodi/lockscope/pkg/shardmap"
	"github.com/srodi/lockscope/pkg/stats"
	"github.com/srodi/lockscope/pkg/types"
)

// MaxWaitersRule selects how the waiter ceiling grows after the first
// release of a lock.
type MaxWaitersRule int

const (
	// RuleMax keeps the largest waiter count observed at release time.
	RuleMax MaxWaitersRule = iota
	// RuleAdditive adds the observed waiter count to the ceiling whenever it
	// exceeds it. This reproduces the figures of the first profiler release.
	RuleAdditive
)

func (r MaxWaitersRule) String() string {
	if r == RuleAdditive {
		return "additive"
	}
	return "max"
}

// ParseRule converts a config value into a MaxWaitersRule.
func ParseRule(s string) (MaxWaitersRule, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "max":
		return RuleMax, nil
	case "additive":
		return RuleAdditive, nil
	default:
		return RuleMax, fmt.Errorf("unknown max-waiters rule %q (want max or additive)", s)
	}
}

// Config tunes a Tracker.
type Config struct {
	// Capacity bounds both the waiter and the contention tables.
	Capacity int
	// MinWait drops releases whose wait is shorter, in nanoseconds.
	MinWait uint64
	Rule    MaxWaitersRule
}

// Tracker follows waiters per lock address and accumulates contention on
// release. Waits are timed through the StartTimes table shared with syscalls.
type Tracker struct {
	cfg        Config
	starts     *stats.StartTimes
	waiters    *shardmap.Map[uint64, uint32]
	contention *shardmap.Map[uint64, types.LockStat]
}

// NewTracker builds a tracker around the shared start table.
func NewTracker(starts *stats.StartTimes, cfg Config) *Tracker {
	if cfg.Capacity <= 0 {
		cfg.Capacity = types.DefaultLockCapacity
	}
	return &Tracker{
		cfg:        cfg,
		starts:     starts,
		waiters:    shardmap.New[uint64, uint32](cfg.Capacity, 0),
		contention: shardmap.New[uint64, types.LockStat](cfg.Capacity, 0),
	}
}

// TrackLockAcquire records that tid started waiting on lockAddr at now.
func (t *Tracker) TrackLockAcquire(lockAddr uint64, tid uint32, now uint64) error {
	startErr := t.starts.Begin(tid, now)
	waitErr := t.waiters.Update(lockAddr, func(n uint32, ok bool) (uint32, bool) {
		if !ok {
			return 1, true
		}
		return n + 1, true
	})
	if waitErr != nil {
		waitErr = fmt.Errorf("waiters for lock %#x: %w", lockAddr, waitErr)
	}
	return errors.Join(startErr, waitErr)
}

// TrackLockRelease times the wait that tid started and folds it into the
// contention stats of lockAddr. The start stays in the table until a syscall
// exit or a later start on tid replaces it, so a repeated release measures
// from the same start. It returns types.ErrDroppedEvent when tid had
// no pending wait and types.ErrBelowThreshold when the wait was shorter than
// MinWait; in the latter case the waiter count is still decremented.
func (t *Tracker) TrackLockRelease(lockAddr uint64, tid, pid uint32, now uint64) (types.Event, error) {
	start, ok := t.starts.Peek(tid)
	if !ok {
		return types.Event{}, types.ErrDroppedEvent
	}
	wait := stats.Elapsed(start, now)

	before, after := t.decrementWaiters(lockAddr)
	if wait < t.cfg.MinWait {
		return types.Event{}, types.ErrBelowThreshold
	}

	err := t.contention.Update(lockAddr, func(cur types.LockStat, ok bool) (types.LockStat, bool) {
		if !ok {
			// the releasing thread never counted itself as a waiter
			return types.LockStat{
				LockAddr:        lockAddr,
				ContentionCount: 1,
				TotalWaitTime:   wait,
				MaxWaiters:      before + 1,
			}, true
		}
		cur.ContentionCount++
		cur.TotalWaitTime += wait
		cur.MaxWaiters = t.ceiling(cur.MaxWaiters, before)
		cur.CurrentWaiters = after
		return cur, true
	})
	if err != nil {
		return types.Event{}, fmt.Errorf("contention for lock %#x: %w", lockAddr, err)
	}

	return types.Event{
		Kind:       types.EventLockRelease,
		PID:        pid,
		TID:        tid,
		DurationNs: wait,
		LockAddr:   lockAddr,
		WaitTimeNs: wait,
	}, nil
}

func (t *Tracker) ceiling(current, observed uint32) uint32 {
	switch t.cfg.Rule {
	case RuleAdditive:
		if observed > current {
			return current + observed
		}
		return current
	default:
		return max(current, observed)
	}
}

// decrementWaiters lowers the waiter count floored at zero and returns the
// count before and after. Entries that reach zero are removed.
func (t *Tracker) decrementWaiters(lockAddr uint64) (before, after uint32) {
	_ = t.waiters.Update(lockAddr, func(n uint32, ok bool) (uint32, bool) {
		if !ok {
			return 0, false
		}
		before = n
		if n <= 1 {
			return 0, false
		}
		after = n - 1
		return after, true
	})
	return before, after
}

// Waiters returns the live waiter count for lockAddr.
func (t *Tracker) Waiters(lockAddr uint64) uint32 {
	n, _ := t.waiters.Load(lockAddr)
	return n
}

// Lock returns the contention stats for lockAddr.
func (t *Tracker) Lock(lockAddr uint64) (types.LockStat, bool) {
	return t.contention.Load(lockAddr)
}

// Locks returns every tracked lock, highest contention first.
func (t *Tracker) Locks() []types.LockStat {
	out := make([]types.LockStat, 0, t.contention.Len())
	t.contention.Range(func(_ uint64, v types.LockStat) bool {
		out = append(out, v)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].ContentionCount == out[j].ContentionCount {
			return out[i].TotalWaitTime > out[j].TotalWaitTime
		}
		return out[i].ContentionCount > out[j].ContentionCount
	})
	return out
}
