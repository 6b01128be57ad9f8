// Package metrics exposes the profiler's own counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/srodi/lockscope/pkg/consumer"
	"github.com/srodi/lockscope/pkg/types"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "lockscope"

// EngineSource is the engine's accounting view.
type EngineSource interface {
	Counters() types.Counters
	PendingStarts() int
}

// QueueSource is the event queue's occupancy view.
type QueueSource interface {
	Len() int
	Cap() int
	Dropped() uint64
}

// LoopSource is the consumer loop's progress view.
type LoopSource interface {
	Stats() consumer.Stats
}

// Sources names what to export. Nil members are skipped.
type Sources struct {
	Engine EngineSource
	Queue  QueueSource
	Loop   LoopSource
}

// Register adds function-backed collectors for every non-nil source to reg.
// Values are read at scrape time, so nothing has to be updated by hand.
func Register(reg prometheus.Registerer, namespace string, src Sources) error {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	var cs []prometheus.Collector
	counter := func(sub, name, help string, fn func() uint64) {
		cs = append(cs, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub, Name: name, Help: help,
		}, func() float64 { return float64(fn()) }))
	}
	gauge := func(sub, name, help string, fn func() int) {
		cs = append(cs, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: sub, Name: name, Help: help,
		}, func() float64 { return float64(fn()) }))
	}

	if e := src.Engine; e != nil {
		counter("engine", "records_processed_total", "Records applied by the aggregation engine",
			func() uint64 { return e.Counters().Processed })
		counter("engine", "records_filtered_total", "Measurements discarded by the minimum duration filter",
			func() uint64 { return e.Counters().Filtered })
		counter("engine", "records_unmatched_total", "Exits and releases without a matching start",
			func() uint64 { return e.Counters().Dropped })
		counter("engine", "records_rejected_total", "Records rejected because a table was full",
			func() uint64 { return e.Counters().CapacityExceeded })
		counter("engine", "cache_lines_evicted_total", "Cache lines evicted from the false sharing detector",
			func() uint64 { return e.Counters().EvictedLines })
		gauge("engine", "pending_starts", "Threads with an unmatched syscall or lock start",
			e.PendingStarts)
	}
	if q := src.Queue; q != nil {
		counter("queue", "dropped_total", "Records dropped because the queue was full",
			q.Dropped)
		gauge("queue", "depth", "Records waiting in the queue", q.Len)
		gauge("queue", "capacity", "Queue capacity in records", q.Cap)
	}
	if l := src.Loop; l != nil {
		counter("consumer", "polls_total", "Polls issued by the consumer loop",
			func() uint64 { return l.Stats().Polls })
		counter("consumer", "poll_timeouts_total", "Polls that returned without records",
			func() uint64 { return l.Stats().Timeouts })
		counter("consumer", "poll_interrupts_total", "Polls interrupted by a signal",
			func() uint64 { return l.Stats().Interrupts })
		counter("consumer", "events_rendered_total", "Events rendered in verbose mode",
			func() uint64 { return l.Stats().Rendered })
	}

	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("registering metric: %w", err)
		}
	}
	return nil
}

// Handler serves reg in the Prometheus exposition format under /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// Serve exposes reg on addr until ctx is done.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	srv := &http.Server{Addr: addr, Handler: Handler(reg), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("serving metrics", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("stopping metrics server: %w", err)
	}
	return nil
}
