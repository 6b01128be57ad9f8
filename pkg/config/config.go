// Package config loads lockscope settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/srodi/lockscope/pkg/collector/probe"
	"github.com/srodi/lockscope/pkg/consumer"
	"github.com/srodi/lockscope/pkg/engine"
	"github.com/srodi/lockscope/pkg/filter"
	"github.com/srodi/lockscope/pkg/lock"
	"github.com/srodi/lockscope/pkg/types"
)

// Config is the file format. Zero values in a file keep the defaults.
type Config struct {
	MinDurationNs      uint64        `yaml:"min_duration_ns"`
	Output             string        `yaml:"output"`
	ShowLocks          bool          `yaml:"show_locks"`
	DetectFalseSharing bool          `yaml:"detect_false_sharing"`
	TopK               int           `yaml:"topk"`
	MaxWaitersRule     string        `yaml:"max_waiters_rule"`
	PollTimeout        time.Duration `yaml:"poll_timeout"`
	QueueSize          int           `yaml:"queue_size"`
	MetricsAddr        string        `yaml:"metrics_addr"`
	LogLevel           string        `yaml:"log_level"`

	Filter Filter `yaml:"filter"`
	Tables Tables `yaml:"tables"`
	Probe  Probe  `yaml:"probe"`
}

// Filter lists the processes never reported.
type Filter struct {
	ExcludePIDs    []uint32 `yaml:"exclude_pids"`
	ExcludeSystem  bool     `yaml:"exclude_system"`
	SystemPIDLimit uint32   `yaml:"system_pid_limit"`
	ProcRoot       string   `yaml:"proc_root"`
}

// Tables bounds the aggregation tables.
type Tables struct {
	Syscalls   int `yaml:"syscalls"`
	Starts     int `yaml:"starts"`
	Locks      int `yaml:"locks"`
	CacheLines int `yaml:"cache_lines"`
}

// Probe locates the compiled BPF object.
type Probe struct {
	Object    string `yaml:"object"`
	EventsMap string `yaml:"events_map"`
	FilterMap string `yaml:"filter_map"`
}

// Default returns the stock settings.
func Default() Config {
	return Config{
		MinDurationNs:  types.DefaultMinDurationNs,
		Output:         consumer.ModeVerbose.String(),
		TopK:           types.DefaultTopK,
		MaxWaitersRule: lock.RuleMax.String(),
		PollTimeout:    consumer.DefaultPollTimeout,
		QueueSize:      types.DefaultQueueSize,
		LogLevel:       "info",
		Filter: Filter{
			SystemPIDLimit: filter.DefaultSystemPIDLimit,
		},
		Tables: Tables{
			Syscalls:   types.DefaultSyscallCapacity,
			Starts:     types.DefaultStartCapacity,
			Locks:      types.DefaultLockCapacity,
			CacheLines: types.DefaultCacheLineCapacity,
		},
		Probe: Probe{
			EventsMap: probe.DefaultEventsMap,
			FilterMap: probe.DefaultFilterMap,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := consumer.ParseMode(c.Output); err != nil {
		return err
	}
	if _, err := lock.ParseRule(c.MaxWaitersRule); err != nil {
		return err
	}
	if c.TopK < 0 {
		return fmt.Errorf("topk must not be negative, got %d", c.TopK)
	}
	if c.PollTimeout < 0 {
		return fmt.Errorf("poll_timeout must not be negative, got %s", c.PollTimeout)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue_size must not be negative, got %d", c.QueueSize)
	}
	for _, tbl := range []struct {
		key string
		n   int
	}{
		{"syscalls", c.Tables.Syscalls},
		{"starts", c.Tables.Starts},
		{"locks", c.Tables.Locks},
		{"cache_lines", c.Tables.CacheLines},
	} {
		if tbl.n < 0 {
			return fmt.Errorf("tables.%s must not be negative, got %d", tbl.key, tbl.n)
		}
	}
	for _, pid := range c.Filter.ExcludePIDs {
		if pid == 0 {
			return errors.New("filter.exclude_pids must not contain 0")
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// Mode returns the output mode. Call Validate first.
func (c Config) Mode() consumer.Mode {
	m, _ := consumer.ParseMode(c.Output)
	return m
}

// Engine converts the settings into an engine configuration.
func (c Config) Engine() (engine.Config, error) {
	rule, err := lock.ParseRule(c.MaxWaitersRule)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		MinDurationNs:     c.MinDurationNs,
		SyscallCapacity:   c.Tables.Syscalls,
		StartCapacity:     c.Tables.Starts,
		LockCapacity:      c.Tables.Locks,
		CacheLineCapacity: c.Tables.CacheLines,
		MaxWaitersRule:    rule,
	}, nil
}

// Loop converts the settings into a consumer loop configuration.
func (c Config) Loop() consumer.Config {
	return consumer.Config{Mode: c.Mode(), PollTimeout: c.PollTimeout}
}

// FilterOptions builds the exclusion options for the given process and parent.
func (c Config) FilterOptions(self, parent int) filter.Options {
	return filter.Options{
		Self:           self,
		Parent:         parent,
		Exclude:        append([]uint32(nil), c.Filter.ExcludePIDs...),
		ExcludeSystem:  c.Filter.ExcludeSystem,
		SystemPIDLimit: c.Filter.SystemPIDLimit,
		ProcRoot:       c.Filter.ProcRoot,
	}
}

// ProbeConfig returns the BPF object settings.
func (c Config) ProbeConfig() probe.Config {
	return probe.Config{ObjectPath: c.Probe.Object, EventsMap: c.Probe.EventsMap, FilterMap: c.Probe.FilterMap}
}
