package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srodi/lockscope/pkg/collector/synthetic"
	"github.com/srodi/lockscope/pkg/config"
	"github.com/srodi/lockscope/pkg/consumer"
	"github.com/srodi/lockscope/pkg/filter"
	"github.com/srodi/lockscope/pkg/ui"
)

type demoOptions struct {
	workloads  []string
	workers    int
	iterations int
	hold       time.Duration
}

func newDemoCmd(common *commonOptions) *cobra.Command {
	opts := &demoOptions{}
	def := synthetic.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run synthetic lock, false sharing and syscall workloads through the profiler",
		Long: `demo runs small in-process workloads that contend on a mutex, share or pad
cache lines and issue file syscalls, and reports them exactly like trace does.
It needs no kernel support. Summary output with lock and false sharing reports
is the default.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd, common, opts)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&opts.workloads, "workload", nil, "workloads to run: syscalls, locks, false-sharing, padded (default all)")
	f.IntVar(&opts.workers, "workers", def.Workers, "goroutines per workload")
	f.IntVar(&opts.iterations, "iterations", def.Iterations, "iterations per worker")
	f.DurationVar(&opts.hold, "hold", def.Hold, "how long the lock workload holds the mutex")
	return cmd
}

func demoDefaults() config.Config {
	cfg := config.Default()
	cfg.Output = consumer.ModeSummary.String()
	cfg.ShowLocks = true
	cfg.DetectFalseSharing = true
	return cfg
}

func runDemo(cmd *cobra.Command, common *commonOptions, opts *demoOptions) error {
	cfg, err := common.resolve(cmd, demoDefaults())
	if err != nil {
		return err
	}
	workloads := make([]synthetic.Workload, 0, len(opts.workloads))
	for _, name := range opts.workloads {
		w, err := synthetic.ParseWorkload(name)
		if err != nil {
			return err
		}
		workloads = append(workloads, w)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	stderr := cmd.ErrOrStderr()
	fmt.Fprint(stderr, ui.Banner(ui.ColorEnabled(os.Stderr)))

	p, err := newPipeline(cfg, cmd.OutOrStdout(), stderr, log)
	if err != nil {
		return err
	}
	gen := synthetic.New(synthetic.Config{
		Workers:    opts.workers,
		Iterations: opts.iterations,
		Hold:       opts.hold,
	}, filter.NewGate(filter.NewSet(cfg.Filter.ExcludePIDs...)), p.queue, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = p.run(ctx, func(ctx context.Context) error {
		return gen.Run(ctx, workloads...)
	})
	p.status.Printf(ui.Success, "synthetic workloads emitted %d records (%d gated, %d dropped)",
		gen.Emitted(), gen.Gated(), gen.Dropped())
	return err
}
