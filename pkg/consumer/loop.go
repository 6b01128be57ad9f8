// Package consumer drains the event queue into the aggregation engine.
package consumer

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/srodi/lockscope/pkg/queue"
	"github.com/srodi/lockscope/pkg/types"
)

// DefaultPollTimeout bounds how long a poll blocks before the loop rechecks
// its stop condition.
const DefaultPollTimeout = 10 * time.Second

// Mode selects when results are rendered.
type Mode int

const (
	// ModeVerbose renders each event as soon as it is derived.
	ModeVerbose Mode = iota
	// ModeSummary renders nothing until Flush.
	ModeSummary
)

func (m Mode) String() string {
	if m == ModeSummary {
		return "summary"
	}
	return "verbose"
}

// ParseMode converts a config value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "verbose":
		return ModeVerbose, nil
	case "summary":
		return ModeSummary, nil
	default:
		return ModeVerbose, fmt.Errorf("unknown output mode %q (want verbose or summary)", s)
	}
}

// Source yields batches of records.
type Source interface {
	Poll(ctx context.Context, timeout time.Duration) ([]types.Record, error)
}

// Handler turns records into derived events.
type Handler interface {
	Handle(r types.Record) (types.Event, bool)
}

// Sink renders results.
type Sink interface {
	// Event renders one event in verbose mode.
	Event(ev types.Event)
	// Flush renders the accumulated reports.
	Flush() error
}

// Config tunes a Loop.
type Config struct {
	Mode        Mode
	PollTimeout time.Duration
}

// Stats describes what the loop has done so far.
type Stats struct {
	Polls      uint64
	Timeouts   uint64
	Interrupts uint64
	Records    uint64
	Rendered   uint64
}

// Loop is the single consumer of a Source.
type Loop struct {
	src     Source
	handler Handler
	sink    Sink
	cfg     Config
	log     *zap.Logger

	polls      atomic.Uint64
	timeouts   atomic.Uint64
	interrupts atomic.Uint64
	records    atomic.Uint64
	rendered   atomic.Uint64
}

// New wires a loop. A nil logger disables logging.
func New(src Source, handler Handler, sink Sink, cfg Config, log *zap.Logger) *Loop {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{src: src, handler: handler, sink: sink, cfg: cfg, log: log}
}

// Run polls until ctx is cancelled or the source is exhausted, returning nil
// in both cases. A poll failure other than a timeout or an interruption ends
// the loop and is returned.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Debug("consumer loop started",
		zap.Stringer("mode", l.cfg.Mode),
		zap.Duration("poll_timeout", l.cfg.PollTimeout))
	defer l.log.Debug("consumer loop stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		batch, err := l.src.Poll(ctx, l.cfg.PollTimeout)
		l.polls.Add(1)

		switch queue.Classify(err) {
		case queue.StatusOK:
		case queue.StatusTimeout:
			l.timeouts.Add(1)
			continue
		case queue.StatusInterrupted:
			l.interrupts.Add(1)
			continue
		case queue.StatusStopped:
			// a batch may still accompany the stop
			l.apply(batch)
			return nil
		default:
			return fmt.Errorf("polling events: %w", err)
		}
		l.apply(batch)
	}
}

func (l *Loop) apply(batch []types.Record) {
	for _, r := range batch {
		l.records.Add(1)
		ev, ok := l.handler.Handle(r)
		if !ok || l.cfg.Mode != ModeVerbose || l.sink == nil {
			continue
		}
		l.sink.Event(ev)
		l.rendered.Add(1)
	}
}

// Flush asks the sink to render its reports. Call it after Run returns.
func (l *Loop) Flush() error {
	if l.sink == nil {
		return nil
	}
	if err := l.sink.Flush(); err != nil {
		return fmt.Errorf("flushing reports: %w", err)
	}
	return nil
}

// Stats returns the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Polls:      l.polls.Load(),
		Timeouts:   l.timeouts.Load(),
		Interrupts: l.interrupts.Load(),
		Records:    l.records.Load(),
		Rendered:   l.rendered.Load(),
	}
}
