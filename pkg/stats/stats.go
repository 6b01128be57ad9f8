// Package stats holds per-thread start timestamps and per-syscall latency
// summaries.
package stats

import (
	"fmt"
	"sort"

	"github.com/srodi/lockscope/pkg/shardmap"
	"github.com/srodi/lockscope/pkg/types"
)

// StartTimes keeps one in-flight timestamp per thread. Syscall entries and
// lock waits share the slot, so a second start on the same thread replaces
// the first.
type StartTimes struct {
	m *shardmap.Map[uint32, uint64]
}

// NewStartTimes returns a table bounded to capacity threads. A non-positive
// capacity selects types.DefaultStartCapacity.
func NewStartTimes(capacity int) *StartTimes {
	if capacity <= 0 {
		capacity = types.DefaultStartCapacity
	}
	return &StartTimes{m: shardmap.New[uint32, uint64](capacity, 0)}
}

// Begin records now as the pending start for tid.
func (s *StartTimes) Begin(tid uint32, now uint64) error {
	if err := s.m.Store(tid, now); err != nil {
		return fmt.Errorf("start for tid %d: %w", tid, err)
	}
	return nil
}

// Take removes and returns the pending start for tid.
func (s *StartTimes) Take(tid uint32) (uint64, bool) {
	return s.m.LoadAndDelete(tid)
}

// Peek returns the pending start for tid and leaves it in place.
func (s *StartTimes) Peek(tid uint32) (uint64, bool) {
	return s.m.Load(tid)
}

// Pending reports whether tid has an unmatched start.
func (s *StartTimes) Pending(tid uint32) bool {
	_, ok := s.m.Load(tid)
	return ok
}

// Len returns the number of threads with a pending start.
func (s *StartTimes) Len() int {
	return s.m.Len()
}

// Elapsed returns now-start, clamped at zero when timestamps from different
// CPUs arrive slightly out of order.
func Elapsed(start, now uint64) uint64 {
	if now < start {
		return 0
	}
	return now - start
}

// Store aggregates syscall latencies keyed by syscall id.
type Store struct {
	starts   *StartTimes
	syscalls *shardmap.Map[int32, types.SyscallStat]
}

// NewStore creates a store that pairs enter/exit through starts and keeps at
// most capacity distinct syscall ids, types.DefaultSyscallCapacity when
// capacity is not positive.
func NewStore(starts *StartTimes, capacity int) *Store {
	if capacity <= 0 {
		capacity = types.DefaultSyscallCapacity
	}
	return &Store{
		starts:   starts,
		syscalls: shardmap.New[int32, types.SyscallStat](capacity, 16),
	}
}

// RecordSyscallEnter marks the start of a syscall on tid.
func (s *Store) RecordSyscallEnter(tid uint32, now uint64) error {
	return s.starts.Begin(tid, now)
}

// Observe folds one duration into the stats for id.
func (s *Store) Observe(id int32, duration uint64) error {
	err := s.syscalls.Update(id, func(cur types.SyscallStat, ok bool) (types.SyscallStat, bool) {
		if !ok {
			return types.SyscallStat{
				SyscallID:     id,
				Count:         1,
				TotalDuration: duration,
				MaxDuration:   duration,
				MinDuration:   duration,
			}, true
		}
		cur.Count++
		cur.TotalDuration += duration
		if duration > cur.MaxDuration {
			cur.MaxDuration = duration
		}
		if duration < cur.MinDuration {
			cur.MinDuration = duration
		}
		return cur, true
	})
	if err != nil {
		return fmt.Errorf("syscall %d: %w", id, err)
	}
	return nil
}

// RecordSyscallExit pairs the exit with the pending enter on tid, updates the
// stats for id and returns the derived event. An exit with no pending enter
// leaves the stats untouched and returns types.ErrDroppedEvent. A duration
// below minDuration consumes the enter but returns types.ErrBelowThreshold
// without touching the stats.
func (s *Store) RecordSyscallExit(tid, pid uint32, id int32, now, minDuration uint64) (types.Event, error) {
	start, ok := s.starts.Take(tid)
	if !ok {
		return types.Event{}, types.ErrDroppedEvent
	}
	duration := Elapsed(start, now)
	if duration < minDuration {
		return types.Event{}, types.ErrBelowThreshold
	}
	if err := s.Observe(id, duration); err != nil {
		return types.Event{}, err
	}
	return types.Event{
		Kind:       types.EventSyscall,
		PID:        pid,
		TID:        tid,
		SyscallID:  id,
		DurationNs: duration,
	}, nil
}

// Syscall returns the stats for a single id.
func (s *Store) Syscall(id int32) (types.SyscallStat, bool) {
	return s.syscalls.Load(id)
}

// Syscalls returns a snapshot ordered by total time spent, busiest first.
func (s *Store) Syscalls() []types.SyscallStat {
	out := make([]types.SyscallStat, 0, s.syscalls.Len())
	s.syscalls.Range(func(_ int32, v types.SyscallStat) bool {
		out = append(out, v)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalDuration == out[j].TotalDuration {
			return out[i].SyscallID < out[j].SyscallID
		}
		return out[i].TotalDuration > out[j].TotalDuration
	})
	return out
}
