package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/srodi/lockscope/pkg/falseshare"
	"github.com/srodi/lockscope/pkg/types"
)

type fakeSource struct {
	syscalls []types.SyscallStat
	locks    []types.LockStat
	suspects []falseshare.Suspect
	counters types.Counters
}

func (f fakeSource) SyscallStats() []types.SyscallStat { return f.syscalls }
func (f fakeSource) LockStats() []types.LockStat { return f.locks }
func (f fakeSource) FalseSharing() []falseshare.Suspect { return f.suspects }
func (f fakeSource) Counters() types.Counters { return f.counters }

func TestFormatEvent(t *testing.T) {
	cases := []struct {
		ev   types.Event
		want string
	}{
		{types.Event{Kind: types.EventSyscall, PID: 12, SyscallID: 1, DurationNs: 4500}, "SYSCALL: pid=12, syscall=1, duration=4500ns"},
		{types.Event{Kind: types.EventLockRelease, PID: 12, LockAddr: 0xbeef, WaitTimeNs: 2_999}, "LOCK: pid=12, lock=0xbeef, wait=2us"},
		{types.Event{Kind: types.EventLockWait, PID: 12, TID: 13, LockAddr: 0xbeef}, "LOCK_WAIT: pid=12, tid=13, lock=0xbeef"},
	}
	for _, tc := range cases {
		if got := FormatEvent(tc.ev); got != tc.want {
			t.Fatalf("expected %q, got %q", tc.want, got)
		}
	}
}

func TestFlushVerboseSkipsLocksUnlessAsked(t *testing.T) {
	src := fakeSource{
		syscalls: []types.SyscallStat{{SyscallID: types.SyscallRead, Count: 1, TotalDuration: 2000, MaxDuration: 2000, MinDuration: 2000}},
		locks:    []types.LockStat{{LockAddr: 0x10, ContentionCount: 1, TotalWaitTime: 5000, MaxWaiters: 1}},
	}
	var buf bytes.Buffer
	if err := NewPrinter(&buf, src, Options{}).Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "read") {
		t.Fatalf("syscall table missing:\n%s", out)
	}
	if strings.Contains(out, "Lock Contention") || strings.Contains(out, "False Sharing") {
		t.Fatalf("unexpected sections:\n%s", out)
	}

	buf.Reset()
	if err := NewPrinter(&buf, src, Options{ShowLocks: true}).Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !strings.Contains(buf.String(), "Total locks monitored: 1") {
		t.Fatalf("lock summary missing:\n%s", buf.String())
	}
}

func TestFlushSummaryIncludesEverythingEnabled(t *testing.T) {
	src := fakeSource{
		locks: []types.LockStat{
			{LockAddr: 0x10, ContentionCount: 200, TotalWaitTime: 200 * 1000, MaxWaiters: 4},
		},
		suspects: []falseshare.Suspect{{LineAddr: 0x4000, AccessCount: 150, CPUs: 2}},
		counters: types.Counters{Processed: 10, Filtered: 2},
	}
	var buf bytes.Buffer
	if err := NewPrinter(&buf, src, Options{Summary: true, FalseSharing: true}).Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"No syscalls recorded",
		"High contention locks: 1",
		"[!] Focus: lock 0x10",
		"0x4000",
		"Found 1 potential false sharing cases",
		"10 processed, 2 below threshold",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestFlushNoFalseSharing(t *testing.T) {
	var buf bytes.Buffer
	if err := NewPrinter(&buf, fakeSource{}, Options{Summary: true, FalseSharing: true}).Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !strings.Contains(buf.String(), "No obvious false sharing detected") ||
		!strings.Contains(buf.String(), "No lock contention events recorded") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestFlushReportsWriteError(t *testing.T) {
	if err := NewPrinter(failingWriter{}, fakeSource{}, Options{}).Flush(); err == nil {
		t.Fatalf("expected write error")
	}
}
