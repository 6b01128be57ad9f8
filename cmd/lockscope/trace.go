package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/srodi/lockscope/pkg/collector/probe"
	"github.com/srodi/lockscope/pkg/config"
	"github.com/srodi/lockscope/pkg/filter"
	"github.com/srodi/lockscope/pkg/ui"
)

type traceOptions struct {
	excludePIDs   []string
	excludeSystem bool
	object        string
}

func newTraceCmd(common *commonOptions) *cobra.Command {
	opts := &traceOptions{}
	cmd := &cobra.Command{
		Use:   "trace [flags] [-- command [args...]]",
		Short: "Trace the system with the eBPF producer",
		Long: `trace loads a compiled BPF object, attaches its probes and aggregates the
records it emits. With a command after --, tracing stops when the command
exits; otherwise it runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd, common, opts, args)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&opts.excludePIDs, "exclude-pid", nil, "PID to exclude from tracing (repeatable)")
	f.BoolVar(&opts.excludeSystem, "exclude-system", false, "exclude every process with a PID below 1000")
	f.StringVar(&opts.object, "object", "", "compiled BPF object to load")
	return cmd
}

func runTrace(cmd *cobra.Command, common *commonOptions, opts *traceOptions, args []string) error {
	cfg, err := common.resolve(cmd, config.Default())
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("exclude-pid") {
		pids, err := filter.ParsePIDs(opts.excludePIDs)
		if err != nil {
			return err
		}
		cfg.Filter.ExcludePIDs = append(cfg.Filter.ExcludePIDs, pids...)
	}
	if cmd.Flags().Changed("exclude-system") {
		cfg.Filter.ExcludeSystem = opts.excludeSystem
	}
	if opts.object != "" {
		cfg.Probe.Object = opts.object
	}
	if cfg.Probe.Object == "" {
		return errors.New("no BPF object given; pass --object or set probe.object in the config file")
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	stderr := cmd.ErrOrStderr()
	if ui.ColorEnabled(os.Stderr) {
		fmt.Fprint(stderr, ui.Banner(true))
	}

	excluded, err := filter.Build(cfg.FilterOptions(os.Getpid(), os.Getppid()), log)
	if err != nil {
		return fmt.Errorf("building pid filter: %w", err)
	}

	p, err := newPipeline(cfg, cmd.OutOrStdout(), stderr, log)
	if err != nil {
		return err
	}
	collector, err := probe.NewCollector(cfg.ProbeConfig(), excluded, p.queue, log)
	if err != nil {
		return fmt.Errorf("initializing probe collector: %w", err)
	}
	defer collector.Close()

	p.status.Printf(ui.Info, "profiler loaded")
	p.status.Printf(ui.Info, "false sharing detection: %s", enabled(cfg.DetectFalseSharing))
	p.status.Printf(ui.Info, "min duration: %d ns", cfg.MinDurationNs)
	p.status.Printf(ui.Info, "press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	produce := collector.Run
	if len(args) > 0 {
		produce = withChild(args, log, collector.Run)
	}
	err = p.run(ctx, produce)
	if st := collector.Stats(); st.Short > 0 || st.Rejected > 0 {
		p.status.Printf(ui.Warn, "producer: %d short samples, %d records rejected by the queue", st.Short, st.Rejected)
	}
	return err
}

// withChild starts the command in args and stops produce once it exits.
func withChild(args []string, log *zap.Logger, produce producerFunc) producerFunc {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		child := exec.CommandContext(ctx, args[0], args[1:]...)
		child.Stdin = os.Stdin
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		if err := child.Start(); err != nil {
			return fmt.Errorf("starting %s: %w", args[0], err)
		}
		log.Info("started child", zap.String("command", args[0]), zap.Int("pid", child.Process.Pid))

		done := make(chan error, 1)
		go func() {
			err := child.Wait()
			cancel()
			done <- err
		}()

		err := produce(ctx)
		// a failed producer takes the child down with it
		cancel()
		waitErr := <-done
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			log.Info("child exited", zap.Int("code", exitErr.ExitCode()))
			waitErr = nil
		}
		return errors.Join(err, waitErr)
	}
}

func enabled(on bool) string {
	if on {
		return "ENABLED"
	}
	return "DISABLED"
}
