package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/srodi/lockscope/pkg/config"
	"github.com/srodi/lockscope/pkg/consumer"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestDemoReportsAllSections(t *testing.T) {
	out, status, err := execute(t, "demo", "--iterations", "50", "--hold", "2us", "--log-level", "error")
	require.NoError(t, err)

	for _, want := range []string{
		"=== Syscall Statistics ===",
		"=== Lock Contention Statistics ===",
		"Total locks monitored: 1",
		"=== False Sharing Analysis ===",
		"Found 1 potential false sharing cases",
	} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, status, "synthetic workloads emitted")
}

func TestDemoSingleWorkloadVerbose(t *testing.T) {
	out, _, err := execute(t, "demo", "--workload", "locks", "--iterations", "5",
		"--summary=false", "--show-locks=false", "--detect-false-sharing=false", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "LOCK: pid=40000")
	assert.NotContains(t, out, "Lock Contention Statistics")
}

func TestDemoRejectsUnknownWorkload(t *testing.T) {
	_, _, err := execute(t, "demo", "--workload", "spin")
	assert.Error(t, err)
}

func TestTraceNeedsObject(t *testing.T) {
	_, _, err := execute(t, "trace", "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--object")
}

func TestTraceRejectsBadPID(t *testing.T) {
	_, _, err := execute(t, "trace", "--object", "x.o", "--exclude-pid", "abc")
	assert.Error(t, err)
}

func TestResolveFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lockscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_duration_ns: 5000\noutput: summary\ntopk: 3\n"), 0o600))

	opts := &commonOptions{}
	cmd := &cobra.Command{Use: "probe"}
	opts.register(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--topk", "7"}))

	cfg, err := opts.resolve(cmd, config.Default())
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), cfg.MinDurationNs)
	assert.Equal(t, consumer.ModeSummary, cfg.Mode())
	assert.Equal(t, 7, cfg.TopK)
}

func TestWithChildStopsProducerWhenChildExits(t *testing.T) {
	produce := withChild([]string{"sh", "-c", "exit 3"}, zap.NewNop(), func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- produce(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("producer kept running after the child exited")
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := newLogger("loud")
	assert.Error(t, err)
}
