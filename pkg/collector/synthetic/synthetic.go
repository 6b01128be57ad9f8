// Package synthetic runs small in-process workloads and reports what they do
// as probe records. It exercises the full pipeline without kernel support.
package synthetic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"go.uber.org/zap"

	"github.com/srodi/lockscope/pkg/filter"
	"github.com/srodi/lockscope/pkg/types"
)

// Workload names one synthetic scenario.
type Workload string

const (
	// WorkloadLocks has several workers fight over one mutex.
	WorkloadLocks Workload = "locks"
	// WorkloadFalseSharing has workers update adjacent counters on one cache line.
	WorkloadFalseSharing Workload = "false-sharing"
	// WorkloadPadded is WorkloadFalseSharing with every counter on its own line.
	WorkloadPadded Workload = "padded"
	// WorkloadSyscalls issues read, write and mmap-like calls.
	WorkloadSyscalls Workload = "syscalls"
)

// All lists every workload in the order Run executes them.
var All = []Workload{WorkloadSyscalls, WorkloadLocks, WorkloadFalseSharing, WorkloadPadded}

// ParseWorkload validates a workload name.
func ParseWorkload(s string) (Workload, error) {
	for _, w := range All {
		if string(w) == s {
			return w, nil
		}
	}
	return "", fmt.Errorf("unknown workload %q", s)
}

// Pusher is the non-blocking side of the event queue.
type Pusher interface {
	TryPush(r types.Record) bool
}

// Config sizes the workloads.
type Config struct {
	// BasePID is the PID reported for the first workload; later workloads
	// count up from it.
	BasePID    uint32
	Workers    int
	Iterations int
	// Hold is how long a lock holder keeps the mutex.
	Hold time.Duration
}

// DefaultConfig mirrors the sizes of the classic contention demos.
func DefaultConfig() Config {
	return Config{BasePID: 40000, Workers: 4, Iterations: 200, Hold: 20 * time.Microsecond}
}

// Generator emits records for the workloads it runs.
type Generator struct {
	cfg  Config
	gate *filter.Gate
	out  Pusher
	log  *zap.Logger
	base time.Time

	nextPID atomic.Uint32
	nextTID atomic.Uint32
	emitted atomic.Uint64
	gated   atomic.Uint64
	dropped atomic.Uint64
}

// New returns a generator writing to out. Records are checked against gate
// like the kernel producer does; a nil gate admits everything but PIDs 0 and 1.
func New(cfg Config, gate *filter.Gate, out Pusher, log *zap.Logger) *Generator {
	def := DefaultConfig()
	if cfg.BasePID <= 1 {
		cfg.BasePID = def.BasePID
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = def.Iterations
	}
	if cfg.Hold < 0 {
		cfg.Hold = 0
	}
	if gate == nil {
		gate = filter.NewGate(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	g := &Generator{cfg: cfg, gate: gate, out: out, log: log, base: time.Now()}
	g.nextPID.Store(cfg.BasePID)
	// thread ids live far above any process id we hand out
	g.nextTID.Store(cfg.BasePID + 10000)
	return g
}

// Run executes workloads one after another, all of them when none is given.
// It stops early when ctx is cancelled.
func (g *Generator) Run(ctx context.Context, workloads ...Workload) error {
	if len(workloads) == 0 {
		workloads = All
	}
	for _, w := range workloads {
		if err := ctx.Err(); err != nil {
			return err
		}
		pid := g.nextPID.Add(1) - 1
		start := time.Now()
		var err error
		switch w {
		case WorkloadLocks:
			err = g.locks(ctx, pid)
		case WorkloadFalseSharing:
			err = g.counters(ctx, pid, false)
		case WorkloadPadded:
			err = g.counters(ctx, pid, true)
		case WorkloadSyscalls:
			err = g.syscalls(ctx, pid)
		default:
			err = fmt.Errorf("unknown workload %q", w)
		}
		if err != nil {
			return fmt.Errorf("workload %s: %w", w, err)
		}
		g.log.Info("workload finished",
			zap.String("workload", string(w)),
			zap.Uint32("pid", pid),
			zap.Duration("took", time.Since(start)))
	}
	return nil
}

// Emitted returns how many records reached the queue.
func (g *Generator) Emitted() uint64 { return g.emitted.Load() }

// Dropped returns how many records the queue rejected.
func (g *Generator) Dropped() uint64 { return g.dropped.Load() }

// Gated returns how many records the PID gate refused.
func (g *Generator) Gated() uint64 { return g.gated.Load() }

func (g *Generator) now() uint64 {
	return uint64(time.Since(g.base).Nanoseconds())
}

func (g *Generator) tid() uint32 {
	return g.nextTID.Add(1)
}

func (g *Generator) emit(r types.Record) {
	if r.TimestampNs == 0 {
		r.TimestampNs = g.now()
	}
	if !g.gate.Admit(r) {
		g.gated.Add(1)
		return
	}
	if g.out.TryPush(r) {
		g.emitted.Add(1)
		return
	}
	g.dropped.Add(1)
}

func (g *Generator) syscall(pid, tid uint32, id int32, fn func() error) error {
	g.emit(types.Record{Kind: types.RecordSyscallEnter, PID: pid, TID: tid, SyscallID: id})
	err := fn()
	g.emit(types.Record{Kind: types.RecordSyscallExit, PID: pid, TID: tid, SyscallID: id})
	return err
}

// fan runs fn once per worker and joins their errors.
func (g *Generator) fan(fn func(worker int, tid uint32) error) error {
	var wg sync.WaitGroup
	errs := make([]error, g.cfg.Workers)
	for w := 0; w < g.cfg.Workers; w++ {
		wg.Add(1)
		go func(w int, tid uint32) {
			defer wg.Done()
			errs[w] = fn(w, tid)
		}(w, g.tid())
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (g *Generator) locks(ctx context.Context, pid uint32) error {
	var mu sync.Mutex
	shared := 0
	addr := uint64(uintptr(unsafe.Pointer(&mu)))

	err := g.fan(func(_ int, tid uint32) error {
		for i := 0; i < g.cfg.Iterations; i++ {
			if ctx.Err() != nil {
				return nil
			}
			g.emit(types.Record{Kind: types.RecordLockWait, PID: pid, TID: tid, Addr: addr})
			mu.Lock()
			shared++
			if g.cfg.Hold > 0 {
				time.Sleep(g.cfg.Hold)
			}
			mu.Unlock()
			g.emit(types.Record{Kind: types.RecordLockRelease, PID: pid, TID: tid, Addr: addr})
		}
		return nil
	})
	g.log.Debug("lock workload done", zap.Uint64("lock", addr), zap.Int("critical_sections", shared))
	return err
}

type packed struct {
	counters [8]uint64
}

type paddedCounter struct {
	v uint64
	_ [types.CacheLineSize - 8]byte
}

type padded struct {
	counters [8]paddedCounter
}

func (g *Generator) counters(ctx context.Context, pid uint32, pad bool) error {
	// mmap marks the process as a user process for the memory gate
	mainTID := g.tid()
	g.emit(types.Record{Kind: types.RecordSyscallEnter, PID: pid, TID: mainTID, SyscallID: types.SyscallMmap})
	g.emit(types.Record{Kind: types.RecordSyscallExit, PID: pid, TID: mainTID, SyscallID: types.SyscallMmap})

	var p packed
	var q padded
	if g.cfg.Workers > len(p.counters) {
		return fmt.Errorf("at most %d workers supported, got %d", len(p.counters), g.cfg.Workers)
	}
	return g.fan(func(w int, tid uint32) error {
		slot := &p.counters[w]
		if pad {
			slot = &q.counters[w].v
		}
		addr := uint64(uintptr(unsafe.Pointer(slot)))
		// workers stand in for distinct CPUs
		cpu := uint32(w % types.CPUMaskBits)
		for i := 0; i < g.cfg.Iterations; i++ {
			if ctx.Err() != nil {
				return nil
			}
			atomic.AddUint64(slot, 1)
			g.emit(types.Record{Kind: types.RecordMemoryAccess, PID: pid, TID: tid, CPU: cpu, Addr: addr})
		}
		return nil
	})
}

func (g *Generator) syscalls(ctx context.Context, pid uint32) error {
	f, err := os.CreateTemp("", "lockscope-synthetic-*")
	if err != nil {
		return fmt.Errorf("creating scratch file: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	buf := make([]byte, 4096)
	return g.fan(func(w int, tid uint32) error {
		// each worker owns a disjoint region of the file
		off := int64(w) * int64(len(buf))
		local := make([]byte, len(buf))
		for i := 0; i < g.cfg.Iterations; i++ {
			if ctx.Err() != nil {
				return nil
			}
			if err := g.syscall(pid, tid, types.SyscallWrite, func() error {
				_, err := f.WriteAt(buf, off)
				return err
			}); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			if err := g.syscall(pid, tid, types.SyscallRead, func() error {
				_, err := f.ReadAt(local, off)
				return err
			}); err != nil {
				return fmt.Errorf("read: %w", err)
			}
			if i%16 == 0 {
				_ = g.syscall(pid, tid, types.SyscallMmap, func() error {
					local = make([]byte, len(buf))
					return nil
				})
			}
		}
		return nil
	})
}
