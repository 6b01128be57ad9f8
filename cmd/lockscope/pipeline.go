package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/srodi/lockscope/pkg/config"
	"github.com/srodi/lockscope/pkg/consumer"
	"github.com/srodi/lockscope/pkg/engine"
	"github.com/srodi/lockscope/pkg/metrics"
	"github.com/srodi/lockscope/pkg/queue"
	"github.com/srodi/lockscope/pkg/report"
	"github.com/srodi/lockscope/pkg/ui"
)

// producerFunc fills the queue until ctx ends or it runs out of events.
type producerFunc func(ctx context.Context) error

// pipeline wires one producer to the queue, the consumer loop, the engine
// and the report printer.
type pipeline struct {
	cfg      config.Config
	log      *zap.Logger
	status   *ui.Printer
	queue    *queue.Queue
	engine   *engine.Engine
	loop     *consumer.Loop
	registry *prometheus.Registry
}

func newPipeline(cfg config.Config, out, statusOut io.Writer, log *zap.Logger) (*pipeline, error) {
	ec, err := cfg.Engine()
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(ec, log)
	if err != nil {
		return nil, err
	}
	q := queue.New(cfg.QueueSize)
	printer := report.NewPrinter(out, eng, report.Options{
		Summary:      cfg.Mode() == consumer.ModeSummary,
		ShowLocks:    cfg.ShowLocks,
		FalseSharing: cfg.DetectFalseSharing,
		TopK:         cfg.TopK,
	})
	loop := consumer.New(q, eng, printer, cfg.Loop(), log)

	p := &pipeline{
		cfg:    cfg,
		log:    log,
		status: ui.NewPrinter(statusOut),
		queue:  q,
		engine: eng,
		loop:   loop,
	}
	if cfg.MetricsAddr != "" {
		p.registry = prometheus.NewRegistry()
		if err := metrics.Register(p.registry, metrics.DefaultNamespace, metrics.Sources{Engine: eng, Queue: q, Loop: loop}); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// run drives produce and the consumer loop until ctx ends or the producer
// finishes and the queue drains, then renders the reports.
func (p *pipeline) run(ctx context.Context, produce producerFunc) error {
	prodCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if p.registry != nil {
		go func() {
			if err := metrics.Serve(prodCtx, p.cfg.MetricsAddr, p.registry, p.log); err != nil {
				p.log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	prodErr := make(chan error, 1)
	go func() {
		err := produce(prodCtx)
		p.queue.Close()
		prodErr <- err
	}()

	loopErr := p.loop.Run(ctx)
	cancel()
	perr := <-prodErr
	if errors.Is(perr, context.Canceled) {
		perr = nil
	}
	if perr != nil {
		perr = fmt.Errorf("producer: %w", perr)
	}

	p.status.Printf(ui.Info, "profiler stopping")
	flushErr := p.loop.Flush()
	p.summarize()
	return errors.Join(loopErr, perr, flushErr)
}

func (p *pipeline) summarize() {
	c := p.engine.Counters()
	st := p.loop.Stats()
	p.status.Printf(ui.Info, "%d records consumed in %d polls %s",
		st.Records, st.Polls, p.status.Dim(fmt.Sprintf("(%d timeouts, %d interrupts)", st.Timeouts, st.Interrupts)))
	if d := p.queue.Dropped(); d > 0 {
		p.status.Printf(ui.Warn, "queue overflow dropped %d records; raise --queue-size", d)
	}
	if c.CapacityExceeded > 0 {
		p.status.Printf(ui.Warn, "%d records rejected because a table was full", c.CapacityExceeded)
	}
	if n := p.engine.PendingStarts(); n > 0 {
		p.status.Printf(ui.Info, "%d threads left a start time pending", n)
	}
}
