// Package filter decides which processes producers may report on.
package filter

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"

	"github.com/srodi/lockscope/pkg/types"
)

// DefaultSystemPIDLimit is the PID below which a process counts as a system
// process for Options.ExcludeSystem.
const DefaultSystemPIDLimit = 1000

// DefaultUserCapacity bounds the user-process set of a Gate.
const DefaultUserCapacity = 1024

// Set is a concurrent set of PIDs.
type Set struct {
	mu    sync.RWMutex
	pids  map[uint32]struct{}
	limit int
}

// NewSet returns a set holding pids.
func NewSet(pids ...uint32) *Set {
	s := &Set{pids: make(map[uint32]struct{}, len(pids))}
	for _, pid := range pids {
		s.pids[pid] = struct{}{}
	}
	return s
}

// NewBoundedSet returns an empty set that holds at most limit PIDs.
func NewBoundedSet(limit int) *Set {
	return &Set{pids: make(map[uint32]struct{}), limit: limit}
}

// Add inserts pid and reports whether it was new. A bounded set that is full
// refuses new PIDs.
func (s *Set) Add(pid uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pids[pid]; ok {
		return false
	}
	if s.limit > 0 && len(s.pids) >= s.limit {
		return false
	}
	s.pids[pid] = struct{}{}
	return true
}

// Remove deletes pid.
func (s *Set) Remove(pid uint32) {
	s.mu.Lock()
	delete(s.pids, pid)
	s.mu.Unlock()
}

// Contains reports whether pid is in the set. A nil set is empty.
func (s *Set) Contains(pid uint32) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	_, ok := s.pids[pid]
	s.mu.RUnlock()
	return ok
}

// Len returns the set size.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pids)
}

// PIDs returns the members in ascending order.
func (s *Set) PIDs() []uint32 {
	s.mu.RLock()
	out := make([]uint32, 0, len(s.pids))
	for pid := range s.pids {
		out = append(out, pid)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Options describes the exclusion set.
type Options struct {
	Self   int
	Parent int
	// Exclude lists extra PIDs given by the user.
	Exclude []uint32
	// ExcludeSystem adds every live PID below SystemPIDLimit.
	ExcludeSystem  bool
	SystemPIDLimit uint32
	// ProcRoot is the procfs mount point, /proc when empty.
	ProcRoot string
}

// listPIDs allows tests to stub the /proc scan.
var listPIDs = func(root string) ([]uint32, error) {
	fs, err := procfs.NewFS(root)
	if err != nil {
		return nil, fmt.Errorf("opening procfs at %s: %w", root, err)
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	pids := make([]uint32, 0, len(procs))
	for _, p := range procs {
		if p.PID > 0 {
			pids = append(pids, uint32(p.PID))
		}
	}
	return pids, nil
}

// Build assembles the exclusion set: the profiler itself, its parent, the
// user exclusions and, when asked, the system processes alive right now. PIDs
// recycled after the scan are not tracked.
func Build(opts Options, log *zap.Logger) (*Set, error) {
	if log == nil {
		log = zap.NewNop()
	}
	set := NewSet()
	if opts.Self > 0 {
		set.Add(uint32(opts.Self))
	}
	if opts.Parent > 1 && opts.Parent != opts.Self {
		set.Add(uint32(opts.Parent))
	}
	for _, pid := range opts.Exclude {
		if pid > 0 {
			set.Add(pid)
		}
	}

	if opts.ExcludeSystem {
		root := opts.ProcRoot
		if root == "" {
			root = procfs.DefaultMountPoint
		}
		limit := opts.SystemPIDLimit
		if limit == 0 {
			limit = DefaultSystemPIDLimit
		}
		pids, err := listPIDs(root)
		if err != nil {
			return nil, err
		}
		added := 0
		for _, pid := range pids {
			if pid < limit && pid != uint32(opts.Self) && set.Add(pid) {
				added++
			}
		}
		log.Info("excluded system processes", zap.Int("count", added), zap.Uint32("below_pid", limit))
	}
	return set, nil
}

// MapWriter is the subset of *ebpf.Map used to publish the set to the
// in-kernel producer.
type MapWriter interface {
	Put(key, value interface{}) error
}

// Sync writes every PID of set into m. Inserts the map rejects, typically
// because it is full, are counted and logged rather than treated as fatal.
func Sync(set *Set, m MapWriter, log *zap.Logger) (written, rejected int) {
	if log == nil {
		log = zap.NewNop()
	}
	one := uint32(1)
	for _, pid := range set.PIDs() {
		if err := m.Put(pid, one); err != nil {
			rejected++
			log.Debug("pid filter insert rejected", zap.Uint32("pid", pid), zap.Error(err))
			continue
		}
		written++
	}
	if rejected > 0 {
		log.Warn("pid filter map is full, some exclusions are not enforced in kernel",
			zap.Int("written", written), zap.Int("rejected", rejected))
	}
	return written, rejected
}

// Gate is consulted by producers before a record is emitted.
type Gate struct {
	// Excluded processes are never reported.
	Excluded *Set
	// Users collects processes seen calling mmap; only their memory
	// accesses are reported. It holds at most DefaultUserCapacity PIDs and
	// later processes are not added once it is full.
	Users *Set
}

// NewGate returns a gate over excluded with an empty, bounded user-process
// set.
func NewGate(excluded *Set) *Gate {
	if excluded == nil {
		excluded = NewSet()
	}
	return &Gate{Excluded: excluded, Users: NewBoundedSet(DefaultUserCapacity)}
}

// Admit reports whether r may be emitted.
func (g *Gate) Admit(r types.Record) bool {
	// the idle task and init are never traced
	if r.PID <= 1 || g.Excluded.Contains(r.PID) {
		return false
	}
	switch r.Kind {
	case types.RecordSyscallEnter:
		if r.SyscallID == types.SyscallMmap {
			g.Users.Add(r.PID)
		}
	case types.RecordMemoryAccess:
		return g.Users.Contains(r.PID)
	}
	return true
}

// ParsePIDs converts CLI values into PIDs.
func ParsePIDs(values []string) ([]uint32, error) {
	out := make([]uint32, 0, len(values))
	for _, v := range values {
		pid, err := strconv.ParseUint(v, 10, 32)
		if err != nil || pid == 0 {
			return nil, fmt.Errorf("invalid pid %q", v)
		}
		out = append(out, uint32(pid))
	}
	return out, nil
}
