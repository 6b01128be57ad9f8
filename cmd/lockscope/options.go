package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/srodi/lockscope/pkg/config"
	"github.com/srodi/lockscope/pkg/consumer"
	"github.com/srodi/lockscope/pkg/types"
)

// commonOptions are the flags shared by every subcommand. Flags given on
// the command line win over the config file.
type commonOptions struct {
	configPath     string
	minDuration    uint64
	summary        bool
	showLocks      bool
	falseSharing   bool
	topK           int
	maxWaitersRule string
	metricsAddr    string
	logLevel       string
	pollTimeout    time.Duration
	queueSize      int
}

func (o *commonOptions) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.configPath, "config", "", "path to a YAML configuration file")
	f.Uint64Var(&o.minDuration, "min-duration", types.DefaultMinDurationNs, "minimum syscall duration or lock wait to record, in nanoseconds")
	f.BoolVar(&o.summary, "summary", false, "print only the final statistics instead of every event")
	f.BoolVar(&o.showLocks, "show-locks", false, "print lock contention statistics on exit")
	f.BoolVar(&o.falseSharing, "detect-false-sharing", false, "track cache-line accesses and report suspected false sharing")
	f.IntVar(&o.topK, "topk", types.DefaultTopK, "number of syscalls to list in the summary")
	f.StringVar(&o.maxWaitersRule, "max-waiters-rule", "max", "how max waiters grows on later releases (max or additive)")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	f.StringVar(&o.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	f.DurationVar(&o.pollTimeout, "poll-timeout", consumer.DefaultPollTimeout, "how long one queue poll may block")
	f.IntVar(&o.queueSize, "queue-size", types.DefaultQueueSize, "event queue capacity in records")
}

// resolve loads the config file, if any, and applies the flags that were set.
func (o *commonOptions) resolve(cmd *cobra.Command, base config.Config) (config.Config, error) {
	cfg := base
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("min-duration") {
		cfg.MinDurationNs = o.minDuration
	}
	if changed("summary") {
		cfg.Output = consumer.ModeVerbose.String()
		if o.summary {
			cfg.Output = consumer.ModeSummary.String()
		}
	}
	if changed("show-locks") {
		cfg.ShowLocks = o.showLocks
	}
	if changed("detect-false-sharing") {
		cfg.DetectFalseSharing = o.falseSharing
	}
	if changed("topk") {
		cfg.TopK = o.topK
	}
	if changed("max-waiters-rule") {
		cfg.MaxWaitersRule = o.maxWaitersRule
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = o.metricsAddr
	}
	if changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if changed("poll-timeout") {
		cfg.PollTimeout = o.pollTimeout
	}
	if changed("queue-size") {
		cfg.QueueSize = o.queueSize
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.Sampling = nil
	return zc.Build()
}
