//go:build linux
// +build linux

package probe

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/srodi/lockscope/pkg/filter"
)

// Collector owns the loaded BPF collection, its probe links and the
// ring-buffer reader.
type Collector struct {
	*producer
	coll   *ebpf.Collection
	links  []link.Link
	reader *ringbuf.Reader
}

// NewCollector loads the BPF object at cfg.ObjectPath, publishes the excluded
// PIDs into its filter map, attaches every program whose section names a
// hook and opens the events ring buffer.
func NewCollector(cfg Config, excluded *filter.Set, out Pusher, log *zap.Logger) (*Collector, error) {
	cfg = cfg.withDefaults()
	if cfg.ObjectPath == "" {
		return nil, errors.New("no BPF object given")
	}
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("removing memlock: %w", err)
	}

	spec, err := ebpf.LoadCollectionSpec(cfg.ObjectPath)
	if err != nil {
		return nil, fmt.Errorf("reading bpf object %s: %w", cfg.ObjectPath, err)
	}
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		var ve *ebpf.VerifierError
		if errors.As(err, &ve) {
			return nil, fmt.Errorf("verifier rejected program: %w", err)
		}
		return nil, fmt.Errorf("loading bpf objects: %w", err)
	}

	c := &Collector{producer: newProducer(filter.NewGate(excluded), out, log), coll: coll}

	if m, ok := coll.Maps[cfg.FilterMap]; ok && excluded != nil {
		written, rejected := filter.Sync(excluded, m, c.log)
		c.log.Info("published pid filter",
			zap.Int("written", written),
			zap.Int("rejected", rejected),
			zap.String("pids", describePIDs(excluded.PIDs(), 8)))
	}

	if err := c.attach(spec); err != nil {
		c.Close()
		return nil, err
	}

	events, ok := coll.Maps[cfg.EventsMap]
	if !ok {
		c.Close()
		return nil, fmt.Errorf("ring buffer %q not found in %s", cfg.EventsMap, cfg.ObjectPath)
	}
	c.reader, err = ringbuf.NewReader(events)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("creating ringbuf reader: %w", err)
	}
	return c, nil
}

func (c *Collector) attach(spec *ebpf.CollectionSpec) error {
	names := make([]string, 0, len(spec.Programs))
	for name := range spec.Programs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t, err := parseSection(spec.Programs[name].SectionName)
		if err != nil {
			return err
		}
		if t.kind == attachNone {
			c.log.Debug("program has no attach target", zap.String("program", name))
			continue
		}
		l, err := attachOne(t, c.coll.Programs[name])
		if err != nil {
			// missing symbols differ between kernels and libcs
			c.log.Warn("skipping probe", zap.String("program", name), zap.String("symbol", t.symbol), zap.Error(err))
			continue
		}
		c.links = append(c.links, l)
	}
	if len(c.links) == 0 {
		return errors.New("no probe could be attached")
	}
	c.log.Info("attached probes", zap.Int("count", len(c.links)))
	return nil
}

func attachOne(t target, prog *ebpf.Program) (link.Link, error) {
	switch t.kind {
	case attachKprobe:
		return link.Kprobe(t.symbol, prog, nil)
	case attachKretprobe:
		return link.Kretprobe(t.symbol, prog, nil)
	case attachTracepoint:
		return link.Tracepoint(t.group, t.symbol, prog, nil)
	case attachUprobe, attachUretprobe:
		ex, err := link.OpenExecutable(t.group)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", t.group, err)
		}
		if t.kind == attachUretprobe {
			return ex.Uretprobe(t.symbol, prog, nil)
		}
		return ex.Uprobe(t.symbol, prog, nil)
	default:
		return nil, fmt.Errorf("unsupported attach kind %d", t.kind)
	}
}

// Run reads the ring buffer until ctx is cancelled or the collector is
// closed. Interrupted reads are retried; any other read failure is returned.
func (c *Collector) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.reader.Close()
		case <-stop:
		}
	}()

	c.log.Info("started reading events")
	defer c.log.Info("stopped reading events")

	var rec ringbuf.Record
	for {
		if err := c.reader.ReadInto(&rec); err != nil {
			switch {
			case errors.Is(err, ringbuf.ErrClosed):
				return nil
			case errors.Is(err, unix.EINTR):
				continue
			default:
				return fmt.Errorf("reading ring buffer: %w", err)
			}
		}
		c.handle(rec.RawSample)
	}
}

// Stats returns the producer counters.
func (c *Collector) Stats() Stats {
	return c.stats()
}

// Close detaches the probes and releases the BPF resources.
func (c *Collector) Close() error {
	var err error
	if c.reader != nil {
		err = errors.Join(err, c.reader.Close())
	}
	for _, l := range c.links {
		err = errors.Join(err, l.Close())
	}
	c.links = nil
	if c.coll != nil {
		c.coll.Close()
	}
	return err
}
