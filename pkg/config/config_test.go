package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srodi/lockscope/pkg/consumer"
	"github.com/srodi/lockscope/pkg/engine"
	"github.com/srodi/lockscope/pkg/lock"
	"github.com/srodi/lockscope/pkg/types"
)

func TestDefaultMatchesEngineDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	ec, err := cfg.Engine()
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultConfig(), ec)
	assert.Equal(t, consumer.ModeVerbose, cfg.Mode())
	assert.Equal(t, consumer.DefaultPollTimeout, cfg.Loop().PollTimeout)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lockscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
min_duration_ns: 0
output: summary
show_locks: true
max_waiters_rule: additive
poll_timeout: 250ms
filter:
  exclude_pids: [42, 43]
  exclude_system: true
tables:
  cache_lines: 16
probe:
  object: /opt/lockscope/lockscope.bpf.o
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.MinDurationNs)
	assert.Equal(t, consumer.ModeSummary, cfg.Mode())
	assert.True(t, cfg.ShowLocks)
	assert.Equal(t, 250*time.Millisecond, cfg.PollTimeout)
	assert.Equal(t, 16, cfg.Tables.CacheLines)
	assert.Equal(t, 1024, cfg.Tables.Locks, "unset keys keep defaults")

	ec, err := cfg.Engine()
	require.NoError(t, err)
	assert.Equal(t, lock.RuleAdditive, ec.MaxWaitersRule)

	opts := cfg.FilterOptions(100, 99)
	assert.Equal(t, []uint32{42, 43}, opts.Exclude)
	assert.True(t, opts.ExcludeSystem)
	assert.Equal(t, uint32(1000), opts.SystemPIDLimit)

	pc := cfg.ProbeConfig()
	assert.Equal(t, "/opt/lockscope/lockscope.bpf.o", pc.ObjectPath)
	assert.Equal(t, "events", pc.EventsMap)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsInvalidSettings(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key": "verbosity: 3\n",
		"bad output":  "output: loud\n",
		"bad rule":    "max_waiters_rule: sum\n",
		"zero pid":    "filter:\n  exclude_pids: [0]\n",
		"negative":    "topk: -1\n",
		"log level":   "log_level: trace\n",
		"syscalls":    "tables:\n  syscalls: -1\n",
		"starts":      "tables:\n  starts: -1\n",
		"locks":       "tables:\n  locks: -5\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestZeroTableSizesKeepBounds(t *testing.T) {
	cfg, err := Parse([]byte("tables: {syscalls: 0, starts: 0, locks: 0, cache_lines: 0}\n"))
	require.NoError(t, err)
	ec, err := cfg.Engine()
	require.NoError(t, err)
	e, err := engine.New(ec, nil)
	require.NoError(t, err)

	for id := int32(0); id < types.DefaultSyscallCapacity+10; id++ {
		e.Handle(types.Record{Kind: types.RecordSyscallEnter, PID: 2, TID: 2, SyscallID: id, TimestampNs: 0})
		e.Handle(types.Record{Kind: types.RecordSyscallExit, PID: 2, TID: 2, SyscallID: id, TimestampNs: 5_000})
	}
	assert.Len(t, e.SyscallStats(), types.DefaultSyscallCapacity)
	assert.Equal(t, uint64(10), e.Counters().CapacityExceeded)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
