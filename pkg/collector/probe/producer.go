// Package probe feeds kernel ring-buffer records into the event queue.
package probe

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/srodi/lockscope/pkg/filter"
	"github.com/srodi/lockscope/pkg/types"
)

const (
	// DefaultEventsMap is the ring buffer the BPF object writes records to.
	DefaultEventsMap = "events"
	// DefaultFilterMap is the hash map of PIDs the BPF object skips.
	DefaultFilterMap = "filter_pids"
)

// Config locates the compiled BPF object and the maps inside it.
type Config struct {
	ObjectPath string
	EventsMap  string
	FilterMap  string
}

func (c Config) withDefaults() Config {
	if c.EventsMap == "" {
		c.EventsMap = DefaultEventsMap
	}
	if c.FilterMap == "" {
		c.FilterMap = DefaultFilterMap
	}
	return c
}

// Pusher is the non-blocking side of the event queue.
type Pusher interface {
	TryPush(r types.Record) bool
}

// Stats counts what the producer did with ring-buffer samples.
type Stats struct {
	Read     uint64
	Short    uint64
	Unknown  uint64
	Gated    uint64
	Rejected uint64
	Pushed   uint64
}

// producer decodes samples, applies the PID gate and hands records on.
type producer struct {
	gate *filter.Gate
	out  Pusher
	log  *zap.Logger

	read     atomic.Uint64
	short    atomic.Uint64
	unknown  atomic.Uint64
	gated    atomic.Uint64
	rejected atomic.Uint64
	pushed   atomic.Uint64
}

func newProducer(gate *filter.Gate, out Pusher, log *zap.Logger) *producer {
	if log == nil {
		log = zap.NewNop()
	}
	if gate == nil {
		gate = filter.NewGate(nil)
	}
	return &producer{gate: gate, out: out, log: log}
}

func (p *producer) handle(raw []byte) {
	p.read.Add(1)
	r, err := Decode(raw)
	if err != nil {
		if errors.Is(err, ErrShortSample) {
			if n := p.short.Add(1); n == 1 {
				p.log.Warn("invalid event size", zap.Int("size", len(raw)), zap.Int("want", types.RecordSize))
			}
			return
		}
		p.unknown.Add(1)
		p.log.Debug("dropping record", zap.Error(err))
		return
	}
	if !p.gate.Admit(r) {
		p.gated.Add(1)
		return
	}
	if !p.out.TryPush(r) {
		p.rejected.Add(1)
		return
	}
	p.pushed.Add(1)
}

func (p *producer) stats() Stats {
	return Stats{
		Read:     p.read.Load(),
		Short:    p.short.Load(),
		Unknown:  p.unknown.Load(),
		Gated:    p.gated.Load(),
		Rejected: p.rejected.Load(),
		Pushed:   p.pushed.Load(),
	}
}
