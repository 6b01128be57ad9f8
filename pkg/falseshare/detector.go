// Package falseshare flags cache lines that are hammered from more than one
// CPU, the typical signature of false sharing.
package falseshare

import (
	"fmt"
	"math/bits"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/srodi/lockscope/pkg/types"
)

// Suspect is a cache line classified as likely false sharing.
type Suspect struct {
	LineAddr    uint64
	AccessCount uint32
	CPUs        int
}

// Detector keeps per-line access counters in a bounded LRU.
type Detector struct {
	mu      sync.Mutex
	lines   *simplelru.LRU[uint64, *types.CacheLineStat]
	evicted atomic.Uint64
}

// NewDetector returns a detector that tracks at most capacity lines.
func NewDetector(capacity int) (*Detector, error) {
	if capacity <= 0 {
		capacity = types.DefaultCacheLineCapacity
	}
	d := &Detector{}
	lines, err := simplelru.NewLRU[uint64, *types.CacheLineStat](capacity, func(uint64, *types.CacheLineStat) {
		d.evicted.Add(1)
	})
	if err != nil {
		return nil, fmt.Errorf("creating cache line table: %w", err)
	}
	d.lines = lines
	return d, nil
}

// LineOf aligns addr down to its cache line.
func LineOf(addr uint64) uint64 {
	return addr &^ (types.CacheLineSize - 1)
}

// Trackable reports whether addr is a non-null user-space address.
func Trackable(addr uint64) bool {
	return addr != 0 && addr <= types.MaxUserAddr
}

// TrackMemoryAccess counts an access to addr from cpu. Null and kernel
// addresses are ignored. It reports whether the access was recorded.
func (d *Detector) TrackMemoryAccess(addr uint64, cpu uint32, now uint64) bool {
	if !Trackable(addr) {
		return false
	}
	line := LineOf(addr)

	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.lines.Get(line); ok {
		// CPUs beyond the mask width are not represented
		if cpu < types.CPUMaskBits {
			st.CPUMask |= 1 << cpu
		}
		st.AccessCount++
		st.LastAccessNs = now
		return true
	}
	d.lines.Add(line, &types.CacheLineStat{
		LineAddr:     line,
		AccessCount:  1,
		CPUMask:      1 << (cpu % types.CPUMaskBits),
		LastAccessNs: now,
	})
	return true
}

// Line returns a copy of the stats for the line containing addr without
// refreshing its recency.
func (d *Detector) Line(addr uint64) (types.CacheLineStat, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.lines.Peek(LineOf(addr))
	if !ok {
		return types.CacheLineStat{}, false
	}
	return *st, true
}

// Len returns the number of tracked lines.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lines.Len()
}

// Evicted returns how many lines were dropped under capacity pressure.
func (d *Detector) Evicted() uint64 {
	return d.evicted.Load()
}

// Lines returns a snapshot of every tracked line, least recently used first.
func (d *Detector) Lines() []types.CacheLineStat {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.CacheLineStat, 0, d.lines.Len())
	for _, st := range d.lines.Values() {
		out = append(out, *st)
	}
	return out
}

// IsSuspect applies the false-sharing heuristic to one line.
func IsSuspect(st types.CacheLineStat) bool {
	return st.AccessCount > types.FalseSharingMinAccesses && bits.OnesCount16(st.CPUMask) > 1
}

// Analyze returns the suspected false-sharing lines, busiest first.
func (d *Detector) Analyze() []Suspect {
	var out []Suspect
	for _, st := range d.Lines() {
		if !IsSuspect(st) {
			continue
		}
		out = append(out, Suspect{
			LineAddr:    st.LineAddr,
			AccessCount: st.AccessCount,
			CPUs:        bits.OnesCount16(st.CPUMask),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccessCount == out[j].AccessCount {
			return out[i].LineAddr < out[j].LineAddr
		}
		return out[i].AccessCount > out[j].AccessCount
	})
	return out
}
