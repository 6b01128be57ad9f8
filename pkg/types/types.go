package types

import (
	"errors"
	"fmt"
)

// Defaults mirror the table sizes of the in-kernel maps the profiler was
// first built around. All of them are tunable through configuration.
const (
	DefaultTopK              = 10
	DefaultMinDurationNs     = 1000
	DefaultSyscallCapacity   = 512
	DefaultStartCapacity     = 8192
	DefaultLockCapacity      = 1024
	DefaultCacheLineCapacity = 2048
	DefaultQueueSize         = 256 * 1024 / RecordSize

	// RecordSize is the size of one encoded ring-buffer record.
	RecordSize = 40

	CacheLineSize = 64
	// CPUMaskBits is the width of the per-line CPU bitmask. CPUs at or above
	// this index are not represented.
	CPUMaskBits = 16
	// MaxUserAddr is the top of the canonical x86-64 user address space.
	MaxUserAddr = 0x00007fffffffffff
	// HighContentionCount and HighContentionAvgWaitUs flag a lock as hot.
	HighContentionCount     = 100
	HighContentionAvgWaitUs = 1000
	// FalseSharingMinAccesses is the access count a line must exceed before
	// CPU spread is considered.
	FalseSharingMinAccesses = 100
)

var (
	// ErrDroppedEvent marks an event that was expected to be lost: queue
	// overflow or an exit/release without a matching start.
	ErrDroppedEvent = errors.New("event dropped")
	// ErrCapacityExceeded is returned when a bounded table has no room for a
	// new key. Existing entries are left untouched.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrBelowThreshold marks a measurement shorter than the configured
	// minimum duration. It never reaches the statistics tables.
	ErrBelowThreshold = errors.New("below minimum duration")
)

// RecordKind tags a raw probe record.
type RecordKind uint32

const (
	RecordSyscallEnter RecordKind = iota + 1
	RecordSyscallExit
	RecordLockWait
	RecordLockRelease
	RecordMemoryAccess
)

func (k RecordKind) String() string {
	switch k {
	case RecordSyscallEnter:
		return "syscall-enter"
	case RecordSyscallExit:
		return "syscall-exit"
	case RecordLockWait:
		return "lock-wait"
	case RecordLockRelease:
		return "lock-release"
	case RecordMemoryAccess:
		return "memory-access"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// Record is a single timestamped observation emitted by a producer. Only the
// fields relevant to Kind are meaningful: SyscallID for syscall records, Addr
// as the lock address for lock records and as the data address for memory
// accesses.
type Record struct {
	Kind        RecordKind
	PID         uint32
	TID         uint32
	CPU         uint32
	SyscallID   int32
	Addr        uint64
	TimestampNs uint64
}

// EventKind tags a derived event.
type EventKind uint8

const (
	EventSyscall EventKind = iota + 1
	EventLockWait
	EventLockRelease
)

func (k EventKind) String() string {
	switch k {
	case EventSyscall:
		return "SYSCALL"
	case EventLockWait:
		return "LOCK_WAIT"
	case EventLockRelease:
		return "LOCK"
	default:
		return "UNKNOWN"
	}
}

// Event is produced by the engine once a record completes a measurement.
// SyscallID is set for EventSyscall, LockAddr for the two lock kinds.
type Event struct {
	Kind       EventKind
	PID        uint32
	TID        uint32
	SyscallID  int32
	DurationNs uint64
	LockAddr   uint64
	WaitTimeNs uint64
}

// SyscallStat is the latency summary for one syscall id.
type SyscallStat struct {
	SyscallID     int32
	Count         uint64
	TotalDuration uint64
	MaxDuration   uint64
	MinDuration   uint64
}

// AvgDuration returns the mean duration in nanoseconds.
func (s SyscallStat) AvgDuration() uint64 {
	if s.Count == 0 {
		return 0
	}
	return s.TotalDuration / s.Count
}

// LockStat captures contention for one lock address.
type LockStat struct {
	LockAddr        uint64
	ContentionCount uint32
	TotalWaitTime   uint64
	MaxWaiters      uint32
	CurrentWaiters  uint32
}

// AvgWaitUs is the mean wait in whole microseconds.
func (s LockStat) AvgWaitUs() uint64 {
	if s.ContentionCount == 0 {
		return 0
	}
	return (s.TotalWaitTime / uint64(s.ContentionCount)) / 1000
}

// HighContention reports whether the lock crosses either hot-lock threshold.
func (s LockStat) HighContention() bool {
	return s.ContentionCount > HighContentionCount || s.AvgWaitUs() > HighContentionAvgWaitUs
}

// CacheLineStat tracks accesses to a single 64-byte line.
type CacheLineStat struct {
	LineAddr     uint64
	AccessCount  uint32
	CPUMask      uint16
	LastAccessNs uint64
}

// Counters summarises what the engine did with the records it was handed.
type Counters struct {
	Processed        uint64
	Filtered         uint64
	Dropped          uint64
	CapacityExceeded uint64
	EvictedLines     uint64
}
