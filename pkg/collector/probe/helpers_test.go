package probe

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func TestParseSection(t *testing.T) {
	cases := []struct {
		section string
		want    target
	}{
		{"kprobe/do_futex", target{kind: attachKprobe, symbol: "do_futex"}},
		{"kretprobe/__x64_sys_read", target{kind: attachKretprobe, symbol: "__x64_sys_read"}},
		{"tracepoint/raw_syscalls/sys_enter", target{kind: attachTracepoint, group: "raw_syscalls", symbol: "sys_enter"}},
		{"uprobe//usr/lib/libc.so.6:pthread_mutex_lock", target{kind: attachUprobe, group: "/usr/lib/libc.so.6", symbol: "pthread_mutex_lock"}},
		{"uretprobe//lib/libc.so.6:pthread_mutex_lock", target{kind: attachUretprobe, group: "/lib/libc.so.6", symbol: "pthread_mutex_lock"}},
		{"kprobe", target{}},
		{"uprobe", target{}},
		{"xdp", target{}},
	}
	for _, tc := range cases {
		got, err := parseSection(tc.section)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.section, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %+v, got %+v", tc.section, tc.want, got)
		}
	}

	for _, bad := range []string{"tracepoint/sched", "uprobe//usr/lib/libc.so.6", "uprobe/:sym"} {
		if _, err := parseSection(bad); err == nil {
			t.Fatalf("%s: expected error", bad)
		}
	}
}

func TestCommForPIDReadsOnceAndCaches(t *testing.T) {
	t.Cleanup(func() { procReadFile = os.ReadFile })

	calls := 0
	procReadFile = func(path string) ([]byte, error) {
		calls++
		if strings.Contains(path, "/123/") {
			return []byte("worker\n"), nil
		}
		return nil, errors.New("boom")
	}

	cache := map[uint32]string{}
	if name := commForPID(123, cache); name != "worker" {
		t.Fatalf("expected worker, got %q", name)
	}
	if reused := commForPID(123, cache); reused != "worker" || calls != 1 {
		t.Fatalf("expected cached worker, got %q with %d reads", reused, calls)
	}
	if fallback := commForPID(456, cache); fallback != "pid-456" {
		t.Fatalf("expected fallback pid-456, got %q", fallback)
	}
	if idle := commForPID(0, cache); idle != "idle" {
		t.Fatalf("expected idle for pid 0, got %q", idle)
	}
}

func TestDescribePIDsTruncates(t *testing.T) {
	t.Cleanup(func() { procReadFile = os.ReadFile })
	procReadFile = func(string) ([]byte, error) { return []byte("sh"), nil }

	got := describePIDs([]uint32{1, 2, 3}, 2)
	if got != "1(sh) 2(sh) +1 more" {
		t.Fatalf("unexpected description %q", got)
	}
}
